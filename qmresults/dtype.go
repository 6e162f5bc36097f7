package qmresults

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// legacyBool is the element tag older servers report for booleans. Current
// array readers only understand the canonical "|b1".
const legacyBool = "bool8"

var typestrRE = regexp.MustCompile(`^([<>|=])?([biufcSUV])(\d+)$`)

// dtypeNames maps numpy type names the server may report onto type strings.
var dtypeNames = map[string]string{
	"bool":       "|b1",
	"int8":       "|i1",
	"int16":      "<i2",
	"int32":      "<i4",
	"int64":      "<i8",
	"uint8":      "|u1",
	"uint16":     "<u2",
	"uint32":     "<u4",
	"uint64":     "<u8",
	"float32":    "<f4",
	"float64":    "<f8",
	"complex64":  "<c8",
	"complex128": "<c16",
}

// Dtype describes the element type of an [Array]: either a scalar numpy
// type string such as "<i8", or a packed record of named fields.
type Dtype struct {
	typestr string
	fields  []DtypeField
}

// DtypeField is one named member of a record dtype. Shape is the optional
// per-element sub-array shape.
type DtypeField struct {
	Name  string
	Type  *Dtype
	Shape []int
}

// ScalarDtype returns the scalar dtype for a numpy type string ("<f8",
// "|b1"), a numpy type name ("int64") or the legacy "bool8" tag.
func ScalarDtype(s string) (*Dtype, error) {
	if s == legacyBool {
		return &Dtype{typestr: legacyBool}, nil
	}
	if ts, ok := dtypeNames[s]; ok {
		s = ts
	}
	m := typestrRE.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("unsupported dtype %q", s)
	}
	order, kind := m[1], m[2]
	size, _ := strconv.Atoi(m[3])
	if size == 0 && kind != "S" && kind != "U" {
		return nil, fmt.Errorf("unsupported dtype %q", s)
	}
	if order == "" || order == "=" {
		order = "<"
	}
	if size == 1 && kind != "U" {
		order = "|"
	}
	return &Dtype{typestr: order + kind + m[3]}, nil
}

// MustScalarDtype is like ScalarDtype but panics on error. Intended for
// package-level fixtures.
func MustScalarDtype(s string) *Dtype {
	dt, err := ScalarDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// RecordDtype builds a record dtype from fields.
func RecordDtype(fields ...DtypeField) *Dtype {
	return &Dtype{fields: fields}
}

// IsRecord reports whether the dtype has named fields.
func (d *Dtype) IsRecord() bool { return d.typestr == "" }

// IsLegacy reports whether the dtype, or any nested field, still uses the
// legacy boolean tag.
func (d *Dtype) IsLegacy() bool {
	if d.typestr == legacyBool {
		return true
	}
	for _, f := range d.fields {
		if f.Type.IsLegacy() {
			return true
		}
	}
	return false
}

// Fields returns the record fields, or nil for a scalar dtype.
func (d *Dtype) Fields() []DtypeField { return d.fields }

// Field returns the named field and its byte offset within one element.
func (d *Dtype) Field(name string) (DtypeField, int, bool) {
	offset := 0
	for _, f := range d.fields {
		if f.Name == name {
			return f, offset, true
		}
		offset += f.size()
	}
	return DtypeField{}, 0, false
}

// Kind is the numpy kind character: 'b', 'i', 'u', 'f', 'c', 'S', 'U', or
// 'V' for records.
func (d *Dtype) Kind() byte {
	if d.IsRecord() {
		return 'V'
	}
	if d.typestr == legacyBool {
		return 'b'
	}
	return d.typestr[1]
}

// ByteOrder is '<', '>' or '|' for scalars and '|' for records.
func (d *Dtype) ByteOrder() byte {
	if d.IsRecord() || d.typestr == legacyBool {
		return '|'
	}
	return d.typestr[0]
}

// ItemSize is the size in bytes of one element.
func (d *Dtype) ItemSize() int {
	if d.IsRecord() {
		n := 0
		for _, f := range d.fields {
			n += f.size()
		}
		return n
	}
	if d.typestr == legacyBool {
		return 1
	}
	n, _ := strconv.Atoi(d.typestr[2:])
	if d.Kind() == 'U' {
		return n * 4
	}
	return n
}

func (f DtypeField) size() int {
	return f.Type.ItemSize() * shapeProduct(f.Shape)
}

// Canonical returns the dtype with every legacy boolean tag replaced by
// "|b1", recursing into record fields. The receiver is not modified.
func (d *Dtype) Canonical() *Dtype {
	if d.typestr == legacyBool {
		return &Dtype{typestr: "|b1"}
	}
	if !d.IsRecord() {
		return d
	}
	fields := make([]DtypeField, len(d.fields))
	for i, f := range d.fields {
		fields[i] = DtypeField{Name: f.Name, Type: f.Type.Canonical(), Shape: f.Shape}
	}
	return &Dtype{fields: fields}
}

// Equal reports structural equality.
func (d *Dtype) Equal(o *Dtype) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.typestr != o.typestr || len(d.fields) != len(o.fields) {
		return false
	}
	for i := range d.fields {
		a, b := d.fields[i], o.fields[i]
		if a.Name != b.Name || !a.Type.Equal(b.Type) || !equalInts(a.Shape, b.Shape) {
			return false
		}
	}
	return true
}

// Descr renders the dtype as the Python literal used for 'descr' in an NPY
// header.
func (d *Dtype) Descr() string {
	if !d.IsRecord() {
		return "'" + d.typestr + "'"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range d.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("('")
		b.WriteString(f.Name)
		b.WriteString("', ")
		b.WriteString(f.Type.Descr())
		if len(f.Shape) > 0 {
			b.WriteString(", ")
			b.WriteString(pyTuple(f.Shape))
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

func (d *Dtype) String() string { return d.Descr() }

// Descriptor renders the dtype in the server's JSON descriptor form, the
// inverse of ParseDtype.
func (d *Dtype) Descriptor() string {
	data, _ := json.Marshal(d.descriptorValue())
	return string(data)
}

func (d *Dtype) descriptorValue() any {
	if !d.IsRecord() {
		return d.typestr
	}
	out := make([]any, len(d.fields))
	for i, f := range d.fields {
		item := []any{f.Name, f.Type.descriptorValue()}
		if len(f.Shape) > 0 {
			item = append(item, map[string]any{"__tuple__": true, "items": f.Shape})
		}
		out[i] = item
	}
	return out
}

// ParseDtype parses the server's JSON dtype descriptor. A JSON string is a
// scalar type; an array of [name, type] or [name, type, shape] entries is a
// record. Objects of the form {"__tuple__": true, "items": [...]} stand for
// tuples wherever they appear.
func ParseDtype(descriptor string) (*Dtype, error) {
	var v any
	if err := json.Unmarshal([]byte(descriptor), &v); err != nil {
		// Older servers send the bare type string without JSON quoting.
		if dt, serr := ScalarDtype(strings.TrimSpace(descriptor)); serr == nil {
			return dt, nil
		}
		return nil, fmt.Errorf("parsing dtype descriptor %q: %w", descriptor, err)
	}
	dt, err := dtypeFromValue(unhintTuples(v))
	if err != nil {
		return nil, fmt.Errorf("dtype descriptor %q: %w", descriptor, err)
	}
	return dt, nil
}

// unhintTuples replaces tuple-hint objects by their items.
func unhintTuples(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["__tuple__"]; ok {
			items, _ := t["items"].([]any)
			return unhintTuples(items)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = unhintTuples(e)
		}
		return out
	}
	return v
}

// dtypeFromValue builds a dtype from a decoded descriptor: a string, or a
// list of field entries. It serves both the JSON and the NPY header forms.
func dtypeFromValue(v any) (*Dtype, error) {
	switch t := v.(type) {
	case string:
		return ScalarDtype(t)
	case []any:
		fields := make([]DtypeField, 0, len(t))
		for _, entry := range t {
			parts, ok := entry.([]any)
			if !ok || len(parts) < 2 || len(parts) > 3 {
				return nil, fmt.Errorf("malformed record field %v", entry)
			}
			name, ok := parts[0].(string)
			if !ok {
				return nil, fmt.Errorf("record field name %v is not a string", parts[0])
			}
			ft, err := dtypeFromValue(parts[1])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			var shape []int
			if len(parts) == 3 {
				shape, err = intsFromValue(parts[2])
				if err != nil {
					return nil, fmt.Errorf("field %q shape: %w", name, err)
				}
			}
			fields = append(fields, DtypeField{Name: name, Type: ft, Shape: shape})
		}
		return RecordDtype(fields...), nil
	}
	return nil, fmt.Errorf("unsupported dtype value %v", v)
}

// intsFromValue accepts a list of numbers or a single number.
func intsFromValue(v any) ([]int, error) {
	switch t := v.(type) {
	case []any:
		out := make([]int, len(t))
		for i, e := range t {
			n, err := intFromValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		n, err := intFromValue(v)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
}

func intFromValue(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	}
	return 0, fmt.Errorf("expected integer, got %v", v)
}

func shapeProduct(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pyTuple formats a shape the way Python prints a tuple.
func pyTuple(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.Itoa(shape[0]) + ",)"
	}
	parts := make([]string, len(shape))
	for i, s := range shape {
		parts[i] = strconv.Itoa(s)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
