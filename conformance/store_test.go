package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Query-farm/qmresults/qmresults"
)

func TestStoreReadItems(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	data, n, err := s.ReadItems(ctx, DemoJobID, "counts", 3, 10)
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 items past offset 3, got %d", n)
	}
	if diff := cmp.Diff(Pack(int64(30), int64(40)), data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	_, n, err = s.ReadItems(ctx, DemoJobID, "counts", 9, 1)
	if err != nil || n != 0 {
		t.Fatalf("reading past the end = (%d, %v), want (0, nil)", n, err)
	}
}

func TestStoreHeaders(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	h, err := s.NamedHeader(ctx, RunningJobID, "counts", false)
	if err != nil {
		t.Fatalf("NamedHeader: %v", err)
	}
	want := qmresults.NamedResultHeader{CountSoFar: 2, DtypeDescriptor: int64Dtype.Descriptor(), Shape: []int{1}}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}

	h, err = s.NamedHeader(ctx, DemoJobID, "state", true)
	if err != nil {
		t.Fatalf("NamedHeader: %v", err)
	}
	flat, err := qmresults.ParseDtype(h.DtypeDescriptor)
	if err != nil {
		t.Fatalf("ParseDtype(%q): %v", h.DtypeDescriptor, err)
	}
	var names []string
	for _, f := range flat.Fields() {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"value_value", "value_timestamp"}, names); diff != "" {
		t.Fatalf("flat fields mismatch (-want +got):\n%s", diff)
	}
	if flat.ItemSize() != 16 {
		t.Fatalf("flattening changed the item size to %d", flat.ItemSize())
	}
}

func TestStoreErrors(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	if _, err := s.NamedHeader(ctx, DemoJobID, "nope", false); !errors.Is(err, qmresults.ErrSchema) {
		t.Errorf("unknown name: got %v, want SchemaError", err)
	}
	if _, err := s.JobState(ctx, "nope"); !errors.Is(err, qmresults.ErrRpc) {
		t.Errorf("unknown job: got %v, want RpcError", err)
	}
	if err := s.Append(DemoJobID, "counts", []byte{1, 2, 3}); err == nil {
		t.Errorf("partial item accepted")
	}
	if err := s.AddJob("dup", ResultSpec{Name: "a", Dtype: int64Dtype}, ResultSpec{Name: "a", Dtype: int64Dtype}); err == nil {
		t.Errorf("duplicate result accepted")
	}
}

func TestStoreJobStates(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()
	cases := map[string]qmresults.JobStreamingState{
		DemoJobID:    {JobID: DemoJobID, Done: true, Closed: true},
		RunningJobID: {JobID: RunningJobID},
		FailedJobID:  {JobID: FailedJobID, Closed: true},
		LossyJobID:   {JobID: LossyJobID, Done: true, Closed: true, HasDataloss: true},
	}
	for id, want := range cases {
		got, err := s.JobState(ctx, id)
		if err != nil {
			t.Fatalf("JobState(%s): %v", id, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("JobState(%s) mismatch (-want +got):\n%s", id, diff)
		}
	}
	if diff := cmp.Diff([]string{DemoJobID, FailedJobID, LossyJobID, RunningJobID}, s.Jobs()); diff != "" {
		t.Errorf("Jobs mismatch (-want +got):\n%s", diff)
	}
}
