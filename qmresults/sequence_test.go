package qmresults

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testTimestampedDtype = RecordDtype(DtypeField{
	Name: "value",
	Type: RecordDtype(
		DtypeField{Name: "value", Type: MustScalarDtype("<f8")},
		DtypeField{Name: "timestamp", Type: MustScalarDtype("<i8")},
	),
})

func TestUnwrapTimestamped(t *testing.T) {
	arr := mustArray(t, testTimestampedDtype, []int{2}, pack(t, 0.5, int64(100), 1.5, int64(200)))
	got, err := unwrapTimestamped(arr)
	if err != nil {
		t.Fatalf("unwrapTimestamped: %v", err)
	}
	if diff := cmp.Diff([]int{2}, got.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	ts, err := got.Field("timestamp")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	vals, _ := ts.Int64s()
	if diff := cmp.Diff([]int64{100, 200}, vals); diff != "" {
		t.Fatalf("timestamps mismatch (-want +got):\n%s", diff)
	}
}

func TestUnwrapTimestampedSingleRow(t *testing.T) {
	arr := mustArray(t, testTimestampedDtype, []int{1, 3}, pack(t,
		0.1, int64(1), 0.2, int64(2), 0.3, int64(3)))
	got, err := unwrapTimestamped(arr)
	if err != nil {
		t.Fatalf("unwrapTimestamped: %v", err)
	}
	if diff := cmp.Diff([]int{3}, got.Shape()); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
}

func TestUnwrapLeavesOtherRecords(t *testing.T) {
	dt := RecordDtype(
		DtypeField{Name: "value", Type: MustScalarDtype("<f8")},
		DtypeField{Name: "timestamp", Type: MustScalarDtype("<i8")},
	)
	arr := mustArray(t, dt, []int{1}, pack(t, 0.5, int64(1)))
	got, err := unwrapTimestamped(arr)
	if err != nil {
		t.Fatalf("unwrapTimestamped: %v", err)
	}
	if got != arr {
		t.Fatalf("expected the array itself back")
	}
}

func TestZipRecords(t *testing.T) {
	values := mustArray(t, MustScalarDtype("<i8"), []int{3}, pack(t, int64(7), int64(8), int64(9)))
	ts := mustArray(t, MustScalarDtype("<i8"), []int{3}, pack(t, int64(100), int64(200), int64(300)))
	got, err := zipRecords(values, ts)
	if err != nil {
		t.Fatalf("zipRecords: %v", err)
	}
	list, err := got.Tolist()
	if err != nil {
		t.Fatalf("Tolist: %v", err)
	}
	want := []any{
		map[string]any{"value": int64(7), "timestamp": int64(100)},
		map[string]any{"value": int64(8), "timestamp": int64(200)},
		map[string]any{"value": int64(9), "timestamp": int64(300)},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestZipRecordsLengthMismatch(t *testing.T) {
	values := mustArray(t, MustScalarDtype("<i8"), []int{2}, pack(t, int64(1), int64(2)))
	ts := mustArray(t, MustScalarDtype("<i8"), []int{1}, pack(t, int64(1)))
	if _, err := zipRecords(values, ts); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}
