// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// tagInfo holds parsed information from a `qm` struct tag.
type tagInfo struct {
	Name    string
	Default *string // nil if no default
}

// parseTag parses a qm struct tag like "name" or "name,default=foo".
func parseTag(tag string) tagInfo {
	parts := strings.Split(tag, ",")
	info := tagInfo{Name: parts[0]}
	for _, part := range parts[1:] {
		if val, ok := strings.CutPrefix(part, "default="); ok {
			info.Default = &val
		}
	}
	return info
}

// goTypeToArrowType maps a Go reflect.Type to an Arrow DataType. Pointer
// types become nullable columns.
func goTypeToArrowType(t reflect.Type) (arrow.DataType, bool, error) {
	nullable := false
	if t.Kind() == reflect.Ptr {
		nullable = true
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return arrow.BinaryTypes.String, nullable, nil
	case reflect.Int64, reflect.Int:
		return arrow.PrimitiveTypes.Int64, nullable, nil
	case reflect.Int32:
		return arrow.PrimitiveTypes.Int32, nullable, nil
	case reflect.Float64:
		return arrow.PrimitiveTypes.Float64, nullable, nil
	case reflect.Bool:
		return &arrow.BooleanType{}, nullable, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return arrow.BinaryTypes.Binary, nullable, nil
		}
		elemType, _, err := goTypeToArrowType(t.Elem())
		if err != nil {
			return nil, false, fmt.Errorf("list element: %w", err)
		}
		return arrow.ListOf(elemType), nullable, nil
	default:
		return nil, false, fmt.Errorf("unsupported Go type: %v (kind: %v)", t, t.Kind())
	}
}

// rowType returns the struct type behind a row or a slice of rows.
func rowType(t reflect.Type) (reflect.Type, bool) {
	many := false
	if t.Kind() == reflect.Slice {
		many = true
		t = t.Elem()
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t, many
}

// structToSchema builds an Arrow schema from a Go struct type using qm tags.
func structToSchema(t reflect.Type) (*arrow.Schema, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected struct type, got %v", t.Kind())
	}
	var fields []arrow.Field
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("qm")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)

		arrowType, nullable, err := goTypeToArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields = append(fields, arrow.Field{
			Name:     info.Name,
			Type:     arrowType,
			Nullable: nullable,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

// decodeRow reads one row of a record batch into a new value of the struct
// type target.
func decodeRow(batch arrow.RecordBatch, row int, target reflect.Type) (reflect.Value, error) {
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}
	result := reflect.New(target).Elem()

	for i := range target.NumField() {
		f := target.Field(i)
		tag := f.Tag.Get("qm")
		if tag == "" || tag == "-" {
			continue
		}
		info := parseTag(tag)

		colIdx := -1
		for ci := range batch.NumCols() {
			if batch.ColumnName(int(ci)) == info.Name {
				colIdx = int(ci)
				break
			}
		}
		if colIdx == -1 || batch.Column(colIdx).IsNull(row) {
			if info.Default != nil {
				if err := setFieldFromString(result.Field(i), f.Type, *info.Default); err != nil {
					return reflect.Value{}, fmt.Errorf("default for %s: %w", info.Name, err)
				}
			}
			continue
		}

		if err := setFieldFromArrow(result.Field(i), f.Type, batch.Column(colIdx), row); err != nil {
			return reflect.Value{}, fmt.Errorf("field %s: %w", info.Name, err)
		}
	}
	return result, nil
}

// deserializeParams reads the single request row into a Go struct.
func deserializeParams(batch arrow.RecordBatch, target reflect.Type) (reflect.Value, error) {
	if batch.NumRows() != 1 {
		return reflect.Value{}, fmt.Errorf("expected 1 parameter row, got %d", batch.NumRows())
	}
	return decodeRow(batch, 0, target)
}

// decodeRows appends every row of batch to the slice pointed to by out, or
// fills the struct pointed to by out from row 0.
func decodeRows(batch arrow.RecordBatch, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", out)
	}
	rv = rv.Elem()
	if rv.Kind() == reflect.Struct {
		if batch.NumRows() < 1 {
			return fmt.Errorf("expected a result row, got none")
		}
		v, err := decodeRow(batch, 0, rv.Type())
		if err != nil {
			return err
		}
		rv.Set(v)
		return nil
	}
	if rv.Kind() != reflect.Slice {
		return fmt.Errorf("decode target must point to a struct or slice, got %T", out)
	}
	for row := range int(batch.NumRows()) {
		v, err := decodeRow(batch, row, rv.Type().Elem())
		if err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		rv.Set(reflect.Append(rv, v))
	}
	return nil
}

// setFieldFromArrow sets a struct field value from an Arrow array at index idx.
func setFieldFromArrow(field reflect.Value, fieldType reflect.Type, col arrow.Array, idx int) error {
	isPtr := fieldType.Kind() == reflect.Ptr
	if isPtr {
		ptr := reflect.New(fieldType.Elem())
		if err := setFieldFromArrow(ptr.Elem(), fieldType.Elem(), col, idx); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch c := col.(type) {
	case *array.String:
		field.SetString(c.Value(idx))
	case *array.Int64:
		field.SetInt(c.Value(idx))
	case *array.Int32:
		field.SetInt(int64(c.Value(idx)))
	case *array.Float64:
		field.SetFloat(c.Value(idx))
	case *array.Boolean:
		field.SetBool(c.Value(idx))
	case *array.Binary:
		field.SetBytes(bytes.Clone(c.Value(idx)))
	case *array.List:
		return setListField(field, fieldType, c, idx)
	default:
		return fmt.Errorf("unsupported Arrow array type: %T", col)
	}
	return nil
}

func setListField(field reflect.Value, fieldType reflect.Type, listArr *array.List, idx int) error {
	start, end := listArr.ValueOffsets(idx)
	values := listArr.ListValues()
	length := int(end - start)

	slice := reflect.MakeSlice(fieldType, length, length)
	for j := range length {
		if err := setFieldFromArrow(slice.Index(j), fieldType.Elem(), values, int(start)+j); err != nil {
			return fmt.Errorf("list element [%d]: %w", j, err)
		}
	}
	field.Set(slice)
	return nil
}

// setFieldFromString sets a struct field from a string default value.
func setFieldFromString(field reflect.Value, fieldType reflect.Type, s string) error {
	if fieldType.Kind() == reflect.Ptr {
		ptr := reflect.New(fieldType.Elem())
		if err := setFieldFromString(ptr.Elem(), fieldType.Elem(), s); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}
	switch fieldType.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int64, reflect.Int, reflect.Int32:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing int default %q: %w", s, err)
		}
		field.SetInt(v)
	case reflect.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parsing float default %q: %w", s, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parsing bool default %q: %w", s, err)
		}
		field.SetBool(v)
	default:
		return fmt.Errorf("default value parsing not supported for %v", fieldType.Kind())
	}
	return nil
}

// encodeRows builds a record batch from a struct (one row) or a slice of
// structs (one row each). Columns follow schema, matched by qm tag.
func encodeRows(schema *arrow.Schema, value any) (arrow.RecordBatch, error) {
	mem := memory.NewGoAllocator()
	rv := reflect.ValueOf(value)
	var rows []reflect.Value
	if rv.Kind() == reflect.Slice {
		for i := range rv.Len() {
			rows = append(rows, reflect.Indirect(rv.Index(i)))
		}
	} else {
		rows = append(rows, reflect.Indirect(rv))
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for ci, f := range schema.Fields() {
		b := array.NewBuilder(mem, f.Type)
		for _, row := range rows {
			fv, ok := fieldByTag(row, row.Type(), f.Name)
			if !ok {
				b.AppendNull()
				continue
			}
			if err := appendToBuilder(b, f.Type, fv); err != nil {
				b.Release()
				return nil, fmt.Errorf("column %s: %w", f.Name, err)
			}
		}
		cols[ci] = b.NewArray()
		b.Release()
	}
	return array.NewRecordBatch(schema, cols, int64(len(rows))), nil
}

// fieldByTag finds a struct field value by qm tag name.
func fieldByTag(rv reflect.Value, rt reflect.Type, name string) (any, bool) {
	for i := range rt.NumField() {
		if parseTag(rt.Field(i).Tag.Get("qm")).Name == name {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// appendToBuilder appends a single value to an Arrow array builder.
func appendToBuilder(b array.Builder, dt arrow.DataType, value any) error {
	if value == nil {
		b.AppendNull()
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			b.AppendNull()
			return nil
		}
		value = rv.Elem().Interface()
	}

	switch dt.ID() {
	case arrow.STRING:
		b.(*array.StringBuilder).Append(fmt.Sprintf("%v", value))
	case arrow.INT64:
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		b.(*array.Int64Builder).Append(v)
	case arrow.INT32:
		v, err := toInt64(value)
		if err != nil {
			return err
		}
		b.(*array.Int32Builder).Append(int32(v))
	case arrow.FLOAT64:
		v, err := toFloat64(value)
		if err != nil {
			return err
		}
		b.(*array.Float64Builder).Append(v)
	case arrow.BOOL:
		b.(*array.BooleanBuilder).Append(value.(bool))
	case arrow.BINARY:
		b.(*array.BinaryBuilder).Append(value.([]byte))
	case arrow.LIST:
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder()
		elemRV := reflect.ValueOf(value)
		for i := range elemRV.Len() {
			if err := appendToBuilder(vb, dt.(*arrow.ListType).Elem(), elemRV.Index(i).Interface()); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported type in appendToBuilder: %v", dt)
	}
	return nil
}

// Numeric conversion helpers

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
