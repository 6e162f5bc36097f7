package qmresults

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Array is a decoded, C-ordered n-dimensional array: a dtype, a shape and
// the raw element bytes. Arrays are immutable once built.
type Array struct {
	dtype *Dtype
	shape []int
	data  []byte
}

// NewArray wraps data as an array of the given dtype and shape. The data
// length must match exactly.
func NewArray(dt *Dtype, shape []int, data []byte) (*Array, error) {
	need := dt.ItemSize() * shapeProduct(shape)
	if len(data) != need {
		return nil, fmt.Errorf("array of shape %v and dtype %s needs %d bytes, got %d", shape, dt, need, len(data))
	}
	return &Array{dtype: dt, shape: append([]int(nil), shape...), data: data}, nil
}

// Dtype returns the element type.
func (a *Array) Dtype() *Dtype { return a.dtype }

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Ndim is the number of dimensions.
func (a *Array) Ndim() int { return len(a.shape) }

// Size is the total number of elements.
func (a *Array) Size() int { return shapeProduct(a.shape) }

// Bytes returns the raw element bytes. Callers must not modify them.
func (a *Array) Bytes() []byte { return a.data }

// Len is the length of the leading axis. A zero-dimensional record has the
// length of its field list; a zero-dimensional scalar has length 0.
func (a *Array) Len() int {
	if len(a.shape) > 0 {
		return a.shape[0]
	}
	if a.dtype.IsRecord() {
		return len(a.dtype.fields)
	}
	return 0
}

// Index selects position i along the leading axis. On a zero-dimensional
// record it selects field i.
func (a *Array) Index(i int) (*Array, error) {
	if len(a.shape) == 0 {
		if !a.dtype.IsRecord() {
			return nil, fmt.Errorf("cannot index a zero-dimensional %s", a.dtype)
		}
		if i < 0 || i >= len(a.dtype.fields) {
			return nil, fmt.Errorf("field index %d out of range for %s", i, a.dtype)
		}
		f := a.dtype.fields[i]
		sub, err := a.Field(f.Name)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	if i < 0 || i >= a.shape[0] {
		return nil, fmt.Errorf("index %d out of range for axis of length %d", i, a.shape[0])
	}
	rest := a.shape[1:]
	stride := a.dtype.ItemSize() * shapeProduct(rest)
	return &Array{dtype: a.dtype, shape: append([]int(nil), rest...), data: a.data[i*stride : (i+1)*stride]}, nil
}

// Field extracts a named field of a record array into a new array. The
// field's sub-shape is appended to the array shape.
func (a *Array) Field(name string) (*Array, error) {
	f, offset, ok := a.dtype.Field(name)
	if !ok {
		return nil, fmt.Errorf("no field %q in %s", name, a.dtype)
	}
	n := a.Size()
	size := f.size()
	item := a.dtype.ItemSize()
	out := make([]byte, 0, n*size)
	for e := 0; e < n; e++ {
		start := e*item + offset
		out = append(out, a.data[start:start+size]...)
	}
	shape := append(append([]int(nil), a.shape...), f.Shape...)
	return &Array{dtype: f.Type, shape: shape, data: out}, nil
}

// Item returns the only element of a one-element scalar array as a Go
// value. See [Array.Values] for the value types.
func (a *Array) Item() (any, error) {
	if a.Size() != 1 {
		return nil, fmt.Errorf("item() needs exactly one element, array has %d", a.Size())
	}
	vals, err := a.Values()
	if err != nil {
		return nil, err
	}
	return vals[0], nil
}

// Values decodes every element in row-major order. Booleans decode as
// bool, signed integers as int64, unsigned as uint64, floats as float64,
// complex numbers as complex128, byte strings as []byte, unicode strings as
// string, and records as map[string]any.
func (a *Array) Values() ([]any, error) {
	n := a.Size()
	item := a.dtype.ItemSize()
	out := make([]any, n)
	for e := 0; e < n; e++ {
		v, err := decodeElement(a.dtype, a.data[e*item:(e+1)*item])
		if err != nil {
			return nil, err
		}
		out[e] = v
	}
	return out, nil
}

// Int64s returns all elements converted to int64. Only boolean and integer
// dtypes are accepted.
func (a *Array) Int64s() ([]int64, error) {
	vals, err := a.Values()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case int64:
			out[i] = t
		case uint64:
			out[i] = int64(t)
		case bool:
			if t {
				out[i] = 1
			}
		default:
			return nil, fmt.Errorf("cannot read %s as int64", a.dtype)
		}
	}
	return out, nil
}

// Float64s returns all elements converted to float64. Boolean, integer and
// float dtypes are accepted.
func (a *Array) Float64s() ([]float64, error) {
	vals, err := a.Values()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case float64:
			out[i] = t
		case int64:
			out[i] = float64(t)
		case uint64:
			out[i] = float64(t)
		case bool:
			if t {
				out[i] = 1
			}
		default:
			return nil, fmt.Errorf("cannot read %s as float64", a.dtype)
		}
	}
	return out, nil
}

// Bools returns all elements of a boolean array.
func (a *Array) Bools() ([]bool, error) {
	if a.dtype.Kind() != 'b' {
		return nil, fmt.Errorf("cannot read %s as bool", a.dtype)
	}
	out := make([]bool, len(a.data))
	for i, c := range a.data {
		out[i] = c != 0
	}
	return out, nil
}

// Tolist converts the array to nested Go slices following its shape, with
// elements decoded as by [Array.Values]. A zero-dimensional array yields the
// element itself.
func (a *Array) Tolist() (any, error) {
	vals, err := a.Values()
	if err != nil {
		return nil, err
	}
	if len(a.shape) == 0 {
		return vals[0], nil
	}
	var build func(dim int, flat []any) any
	build = func(dim int, flat []any) any {
		n := a.shape[dim]
		out := make([]any, n)
		if dim == len(a.shape)-1 {
			copy(out, flat)
			return out
		}
		step := shapeProduct(a.shape[dim+1:])
		for i := 0; i < n; i++ {
			out[i] = build(dim+1, flat[i*step:(i+1)*step])
		}
		return out
	}
	return build(0, vals), nil
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(shape=%s, dtype=%s)", pyTuple(a.shape), a.dtype)
}

func byteOrder(dt *Dtype) binary.ByteOrder {
	if dt.ByteOrder() == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func decodeElement(dt *Dtype, b []byte) (any, error) {
	if dt.IsRecord() {
		rec := make(map[string]any, len(dt.fields))
		offset := 0
		for _, f := range dt.fields {
			size := f.size()
			sub := &Array{dtype: f.Type, shape: f.Shape, data: b[offset : offset+size]}
			v, err := sub.Tolist()
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
			offset += size
		}
		return rec, nil
	}
	order := byteOrder(dt)
	switch dt.Kind() {
	case 'b':
		return b[0] != 0, nil
	case 'i':
		switch len(b) {
		case 1:
			return int64(int8(b[0])), nil
		case 2:
			return int64(int16(order.Uint16(b))), nil
		case 4:
			return int64(int32(order.Uint32(b))), nil
		case 8:
			return int64(order.Uint64(b)), nil
		}
	case 'u':
		switch len(b) {
		case 1:
			return uint64(b[0]), nil
		case 2:
			return uint64(order.Uint16(b)), nil
		case 4:
			return uint64(order.Uint32(b)), nil
		case 8:
			return order.Uint64(b), nil
		}
	case 'f':
		switch len(b) {
		case 4:
			return float64(math.Float32frombits(order.Uint32(b))), nil
		case 8:
			return math.Float64frombits(order.Uint64(b)), nil
		}
	case 'c':
		switch len(b) {
		case 8:
			return complex(float64(math.Float32frombits(order.Uint32(b))), float64(math.Float32frombits(order.Uint32(b[4:])))), nil
		case 16:
			return complex(math.Float64frombits(order.Uint64(b)), math.Float64frombits(order.Uint64(b[8:]))), nil
		}
	case 'S':
		return []byte(strings.TrimRight(string(b), "\x00")), nil
	case 'U':
		var sb strings.Builder
		for i := 0; i+4 <= len(b); i += 4 {
			r := rune(order.Uint32(b[i:]))
			if r == 0 {
				break
			}
			if !utf8.ValidRune(r) {
				r = utf8.RuneError
			}
			sb.WriteRune(r)
		}
		return sb.String(), nil
	case 'V':
		return append([]byte(nil), b...), nil
	}
	return nil, fmt.Errorf("unsupported element type %s", dt)
}

// zipRecords interleaves two arrays with the same leading length into a
// record array with fields value and timestamp. Any trailing dimensions
// become field sub-shapes.
func zipRecords(values, timestamps *Array) (*Array, error) {
	if values.Ndim() == 0 || timestamps.Ndim() == 0 || values.Len() != timestamps.Len() {
		return nil, fmt.Errorf("cannot combine values %v with timestamps %v", values.shape, timestamps.shape)
	}
	n := values.Len()
	dt := RecordDtype(
		DtypeField{Name: "value", Type: values.dtype, Shape: values.shape[1:]},
		DtypeField{Name: "timestamp", Type: timestamps.dtype, Shape: timestamps.shape[1:]},
	)
	vs := len(values.data) / max(n, 1)
	ts := len(timestamps.data) / max(n, 1)
	out := make([]byte, 0, len(values.data)+len(timestamps.data))
	for i := 0; i < n; i++ {
		out = append(out, values.data[i*vs:(i+1)*vs]...)
		out = append(out, timestamps.data[i*ts:(i+1)*ts]...)
	}
	return &Array{dtype: dt, shape: []int{n}, data: out}, nil
}
