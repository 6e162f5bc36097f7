package qmresults

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFinalShape(t *testing.T) {
	cases := []struct {
		count int
		shape []int
		want  []int
	}{
		{3, []int{4}, []int{3, 4}},
		{7, []int{1}, []int{7}},
		{7, []int{3}, []int{7, 3}},
		{1, []int{2, 2}, []int{2, 2}},
		{1, nil, nil},
		{5, nil, []int{5}},
		{0, []int{1}, []int{0}},
	}
	for _, tc := range cases {
		got := FinalShape(tc.count, tc.shape)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("FinalShape(%d, %v) mismatch (-want +got):\n%s", tc.count, tc.shape, diff)
		}
	}
}

func TestAssembleCollapsesTrivialItemShape(t *testing.T) {
	h := NamedResultHeader{CountSoFar: 5, DtypeDescriptor: `"<i8"`, Shape: []int{1}}
	arr, err := Assemble(5, h, "job", pack(t, int64(0), int64(1), int64(2), int64(3), int64(4)))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if diff := cmp.Diff([]int{5}, arr.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleLegacyBool(t *testing.T) {
	h := NamedResultHeader{DtypeDescriptor: `"bool8"`}
	arr, err := Assemble(2, h, "job", []byte{0, 1})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !arr.Dtype().Equal(MustScalarDtype("|b1")) {
		t.Fatalf("expected |b1, got %s", arr.Dtype())
	}
}

func TestAssembleFailsOnDataloss(t *testing.T) {
	h := NamedResultHeader{DtypeDescriptor: "not a dtype", HasDataloss: true}
	buf := []byte{1, 2, 3}
	_, err := Assemble(3, h, "job-7", buf)
	if !errors.Is(err, ErrDataLoss) {
		t.Fatalf("expected DataLossError, got %v", err)
	}
	if err.Error() != "Data loss detected in data for job: job-7" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, buf); diff != "" {
		t.Fatalf("buffer was modified (-want +got):\n%s", diff)
	}
}

func TestAssembleRejectsShortBuffer(t *testing.T) {
	h := NamedResultHeader{DtypeDescriptor: `"<f8"`}
	if _, err := Assemble(2, h, "job", make([]byte, 8)); !errors.Is(err, ErrFormat) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}
