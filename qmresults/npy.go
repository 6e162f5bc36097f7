package qmresults

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// NPY framing constants.
const (
	npyMagic            = "\x93NUMPY"
	npyAlign            = 64
	npyGrowthAxisDigits = 21
)

// EncodeHeader produces a version 2.0 NPY header for a C-ordered array of
// the given shape and dtype. The legacy boolean tag is rewritten first, so
// the header is always readable by current consumers.
func EncodeHeader(shape []int, dt *Dtype) ([]byte, error) {
	if dt == nil {
		return nil, &FormatError{Message: "missing dtype"}
	}
	for _, s := range shape {
		if s < 0 {
			return nil, &FormatError{Message: fmt.Sprintf("negative dimension in shape %v", shape)}
		}
	}
	dt = dt.Canonical()

	var hdr strings.Builder
	hdr.WriteString("{'descr': ")
	hdr.WriteString(dt.Descr())
	hdr.WriteString(", 'fortran_order': False, 'shape': ")
	hdr.WriteString(pyTuple(shape))
	hdr.WriteString(", }")
	// Spare room so the leading axis can grow in place, as numpy writes it.
	if len(shape) > 0 {
		hdr.WriteString(strings.Repeat(" ", npyGrowthAxisDigits-len(strconv.Itoa(shape[0]))))
	}

	hlen := hdr.Len() + 1
	prefix := len(npyMagic) + 2 + 4
	pad := npyAlign - (prefix+hlen)%npyAlign
	if pad == npyAlign {
		pad = 0
	}

	out := make([]byte, 0, prefix+hlen+pad)
	out = append(out, npyMagic...)
	out = append(out, 2, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(hlen+pad))
	out = append(out, hdr.String()...)
	out = append(out, bytes.Repeat([]byte{' '}, pad)...)
	out = append(out, '\n')
	return out, nil
}

// Encode returns the complete NPY encoding of a.
func Encode(a *Array) ([]byte, error) {
	hdr, err := EncodeHeader(a.shape, a.dtype)
	if err != nil {
		return nil, err
	}
	return append(hdr, a.data...), nil
}

// Decode parses an NPY buffer. The returned array shares the payload bytes
// with b.
func Decode(b []byte) (*Array, error) {
	if len(b) < len(npyMagic)+2 || string(b[:len(npyMagic)]) != npyMagic {
		return nil, &FormatError{Message: "missing magic prefix"}
	}
	major := b[len(npyMagic)]
	pos := len(npyMagic) + 2
	var hlen int
	switch major {
	case 1:
		if len(b) < pos+2 {
			return nil, &FormatError{Message: "truncated header length"}
		}
		hlen = int(binary.LittleEndian.Uint16(b[pos:]))
		pos += 2
	case 2, 3:
		if len(b) < pos+4 {
			return nil, &FormatError{Message: "truncated header length"}
		}
		hlen = int(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
	default:
		return nil, &FormatError{Message: fmt.Sprintf("unsupported version %d.%d", major, b[len(npyMagic)+1])}
	}
	if len(b) < pos+hlen {
		return nil, &FormatError{Message: "truncated header"}
	}

	lit, err := parsePyLiteral(string(b[pos : pos+hlen]))
	if err != nil {
		return nil, &FormatError{Message: "header: " + err.Error()}
	}
	hdr, ok := lit.(map[string]any)
	if !ok {
		return nil, &FormatError{Message: "header is not a dict"}
	}
	if fo, _ := hdr["fortran_order"].(bool); fo {
		return nil, &FormatError{Message: "fortran order is not supported"}
	}
	dt, err := dtypeFromValue(hdr["descr"])
	if err != nil {
		return nil, &FormatError{Message: "descr: " + err.Error()}
	}
	shapeVal, ok := hdr["shape"].([]any)
	if !ok {
		return nil, &FormatError{Message: "missing shape"}
	}
	shape, err := intsFromValue(shapeVal)
	if err != nil {
		return nil, &FormatError{Message: "shape: " + err.Error()}
	}

	payload := b[pos+hlen:]
	need := dt.ItemSize() * shapeProduct(shape)
	if len(payload) < need {
		return nil, &FormatError{Message: fmt.Sprintf("payload has %d bytes, shape %v of %s needs %d", len(payload), shape, dt, need)}
	}
	return &Array{dtype: dt, shape: shape, data: payload[:need:need]}, nil
}

// parsePyLiteral parses the subset of Python literal syntax used by NPY
// headers: dicts, lists, tuples, quoted strings, integers, True, False and
// None. Tuples decode as []any like lists.
func parsePyLiteral(s string) (any, error) {
	p := &pyParser{src: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("trailing data at offset %d", p.pos)
	}
	return v, nil
}

type pyParser struct {
	src string
	pos int
}

func (p *pyParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *pyParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *pyParser) value() (any, error) {
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '[':
		return p.sequence('[', ']')
	case c == '(':
		return p.sequence('(', ')')
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.integer()
	case c == 0:
		return nil, fmt.Errorf("unexpected end of input")
	default:
		return p.ident()
	}
}

func (p *pyParser) dict() (any, error) {
	p.pos++ // {
	out := map[string]any{}
	for {
		if p.peek() == '}' {
			p.pos++
			return out, nil
		}
		k, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", k)
		}
		if p.peek() != ':' {
			return nil, fmt.Errorf("expected ':' at offset %d", p.pos)
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *pyParser) sequence(open, closing byte) (any, error) {
	p.pos++ // open
	out := []any{}
	for {
		if p.peek() == closing {
			p.pos++
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		switch p.peek() {
		case ',':
			p.pos++
		case closing:
		default:
			return nil, fmt.Errorf("expected ',' or '%c' after %c at offset %d", closing, open, p.pos)
		}
	}
}

func (p *pyParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, fmt.Errorf("unterminated string")
}

func (p *pyParser) integer() (any, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	// Python 2 era headers may carry long suffixes.
	end := p.pos
	if p.pos < len(p.src) && (p.src[p.pos] == 'L' || p.src[p.pos] == 'l') {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:end])
	if err != nil {
		return nil, fmt.Errorf("bad integer %q", p.src[start:end])
	}
	return n, nil
}

func (p *pyParser) ident() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	switch p.src[start:p.pos] {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected token at offset %d", start)
}
