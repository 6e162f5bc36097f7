package qmresults

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeDecodeInt64(t *testing.T) {
	a := mustArray(t, MustScalarDtype("<i8"), []int{4}, pack(t, int64(1), int64(-2), int64(3), int64(1<<40)))
	b, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff([]int{4}, got.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	vals, err := got.Int64s()
	if err != nil {
		t.Fatalf("Int64s: %v", err)
	}
	if diff := cmp.Diff([]int64{1, -2, 3, 1 << 40}, vals); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeFloat2D(t *testing.T) {
	a := mustArray(t, MustScalarDtype("<f8"), []int{2, 3}, pack(t, 0.5, 1.5, 2.5, 3.5, 4.5, 5.5))
	b, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	list, err := got.Tolist()
	if err != nil {
		t.Fatalf("Tolist: %v", err)
	}
	want := []any{[]any{0.5, 1.5, 2.5}, []any{3.5, 4.5, 5.5}}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRewritesLegacyBool(t *testing.T) {
	a := mustArray(t, MustScalarDtype("bool8"), []int{3}, []byte{1, 0, 1})
	b, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(b, []byte("'descr': '|b1'")) {
		t.Fatalf("header does not use |b1: %q", b)
	}
	if bytes.Contains(b, []byte("bool8")) {
		t.Fatalf("header still mentions bool8: %q", b)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Dtype().Equal(MustScalarDtype("|b1")) {
		t.Fatalf("expected |b1, got %s", got.Dtype())
	}
	bools, err := got.Bools()
	if err != nil {
		t.Fatalf("Bools: %v", err)
	}
	if diff := cmp.Diff([]bool{true, false, true}, bools); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeHeaderIsAligned(t *testing.T) {
	for _, shape := range [][]int{nil, {1}, {7, 3}, {123456, 2, 2}} {
		hdr, err := EncodeHeader(shape, MustScalarDtype("<f4"))
		if err != nil {
			t.Fatalf("EncodeHeader(%v): %v", shape, err)
		}
		if len(hdr)%64 != 0 {
			t.Fatalf("header for %v is %d bytes, not 64-aligned", shape, len(hdr))
		}
		if hdr[6] != 2 || hdr[7] != 0 {
			t.Fatalf("expected version 2.0, got %d.%d", hdr[6], hdr[7])
		}
		if hdr[len(hdr)-1] != '\n' {
			t.Fatalf("header for %v does not end in newline", shape)
		}
	}
}

func TestDecodeRecord(t *testing.T) {
	dt := RecordDtype(
		DtypeField{Name: "value", Type: MustScalarDtype("<f8")},
		DtypeField{Name: "timestamp", Type: MustScalarDtype("<i8")},
	)
	a := mustArray(t, dt, []int{2}, pack(t, 0.25, int64(10), 0.75, int64(20)))
	b, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Dtype().Equal(dt) {
		t.Fatalf("dtype mismatch: %s vs %s", got.Dtype(), dt)
	}
	ts, err := got.Field("timestamp")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	vals, _ := ts.Int64s()
	if diff := cmp.Diff([]int64{10, 20}, vals); diff != "" {
		t.Fatalf("timestamps mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"magic":     []byte("NOTNUMPY"),
		"truncated": []byte("\x93NUMPY\x02\x00\xff\x00\x00\x00{"),
		"version":   []byte("\x93NUMPY\x09\x00\x00\x00"),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(b); !errors.Is(err, ErrFormat) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestDecodeShortPayload(t *testing.T) {
	hdr, err := EncodeHeader([]int{3}, MustScalarDtype("<i8"))
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if _, err := Decode(append(hdr, make([]byte, 16)...)); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestDtypeDescriptorRoundTrip(t *testing.T) {
	cases := []*Dtype{
		MustScalarDtype("<i8"),
		MustScalarDtype("|b1"),
		RecordDtype(DtypeField{
			Name: "value",
			Type: RecordDtype(
				DtypeField{Name: "value", Type: MustScalarDtype("<f8")},
				DtypeField{Name: "timestamp", Type: MustScalarDtype("<i8")},
			),
		}),
		RecordDtype(DtypeField{Name: "trace", Type: MustScalarDtype("<i2"), Shape: []int{4}}),
	}
	for _, dt := range cases {
		got, err := ParseDtype(dt.Descriptor())
		if err != nil {
			t.Fatalf("ParseDtype(%s): %v", dt.Descriptor(), err)
		}
		if !got.Equal(dt) {
			t.Fatalf("round trip of %s gave %s", dt, got)
		}
	}
}

func TestParseDtypeLegacyAndBare(t *testing.T) {
	dt, err := ParseDtype(`"bool8"`)
	if err != nil {
		t.Fatalf("ParseDtype: %v", err)
	}
	if !dt.IsLegacy() || dt.ItemSize() != 1 {
		t.Fatalf("expected legacy one-byte bool, got %s", dt)
	}
	if !dt.Canonical().Equal(MustScalarDtype("|b1")) {
		t.Fatalf("canonical form is %s", dt.Canonical())
	}
	bare, err := ParseDtype("<f8")
	if err != nil {
		t.Fatalf("ParseDtype bare: %v", err)
	}
	if !bare.Equal(MustScalarDtype("float64")) {
		t.Fatalf("expected <f8, got %s", bare)
	}
}
