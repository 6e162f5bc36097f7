package qmresults

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPostprocessSingleScalar(t *testing.T) {
	logger, _ := captureLogger()
	arr := mustArray(t, MustScalarDtype("<i8"), []int{1, 1}, pack(t, int64(42)))
	got, err := postprocessSingle(logger, arr, false)
	if err != nil {
		t.Fatalf("postprocessSingle: %v", err)
	}
	v, err := got.Item()
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if v != int64(42) {
		t.Fatalf("expected 42, got %v", v)
	}
	if got.Ndim() != 0 {
		t.Fatalf("expected a scalar, got shape %v", got.Shape())
	}
}

func TestPostprocessSingleEmpty(t *testing.T) {
	logger, logs := captureLogger()
	arr := mustArray(t, MustScalarDtype("<i8"), []int{0}, nil)
	got, err := postprocessSingle(logger, arr, false)
	if err != nil {
		t.Fatalf("postprocessSingle: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if !strings.Contains(logs.String(), "Nothing to fetch: no results were found.") {
		t.Fatalf("missing warning, logs: %s", logs.String())
	}
}

func TestPostprocessSingleVector(t *testing.T) {
	logger, _ := captureLogger()
	arr := mustArray(t, MustScalarDtype("<i8"), []int{1, 3}, pack(t, int64(1), int64(2), int64(3)))
	got, err := postprocessSingle(logger, arr, false)
	if err != nil {
		t.Fatalf("postprocessSingle: %v", err)
	}
	vals, err := got.Int64s()
	if err != nil {
		t.Fatalf("Int64s: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, vals); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestPostprocessSingleZeroDim(t *testing.T) {
	logger, _ := captureLogger()
	arr := mustArray(t, MustScalarDtype("<f8"), nil, pack(t, 0.5))
	got, err := postprocessSingle(logger, arr, false)
	if err != nil {
		t.Fatalf("postprocessSingle: %v", err)
	}
	if got != arr {
		t.Fatalf("expected the array itself back")
	}
}

func TestPostprocessSingleFlatSkipsOuterIndex(t *testing.T) {
	logger, _ := captureLogger()
	arr := mustArray(t, MustScalarDtype("<i8"), []int{1}, pack(t, int64(7)))
	got, err := postprocessSingle(logger, arr, true)
	if err != nil {
		t.Fatalf("postprocessSingle: %v", err)
	}
	if v, _ := got.Item(); v != int64(7) {
		t.Fatalf("expected 7, got %v", v)
	}
}
