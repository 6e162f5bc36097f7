package conformance

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Query-farm/qmresults/qmresults"
)

// Demo job IDs seeded by [NewDemoStore].
const (
	// DemoJobID is a finished job covering every result kind.
	DemoJobID = "demo"
	// RunningJobID is still producing: "counts" has 2 of 5 items.
	RunningJobID = "running"
	// FailedJobID was closed before finishing.
	FailedJobID = "failed"
	// LossyJobID finished with data loss on "counts".
	LossyJobID = "lossy"
)

var (
	int64Dtype   = qmresults.MustScalarDtype("<i8")
	float64Dtype = qmresults.MustScalarDtype("<f8")
	bool8Dtype   = qmresults.MustScalarDtype("bool8")

	// timestampedDtype is a value paired with the time it was recorded.
	timestampedDtype = qmresults.RecordDtype(qmresults.DtypeField{
		Name: "value",
		Type: qmresults.RecordDtype(
			qmresults.DtypeField{Name: "value", Type: float64Dtype},
			qmresults.DtypeField{Name: "timestamp", Type: int64Dtype},
		),
	})
)

// DemoResults declares the results of the demo job.
func DemoResults() []ResultSpec {
	return []ResultSpec{
		{Name: "counts", Dtype: int64Dtype, Shape: []int{1}, ExpectedCount: 5},
		{Name: "I", Dtype: float64Dtype, ExpectedCount: 4},
		{Name: "state", Dtype: timestampedDtype, ExpectedCount: 3},
		{Name: "avg", Dtype: float64Dtype, IsSingle: true, ExpectedCount: 1},
		{Name: "image", Dtype: float64Dtype, Shape: []int{2, 2}, ExpectedCount: 2},
		{Name: "adc", Dtype: int64Dtype, ExpectedCount: 3},
		{Name: "adc_timestamps", Dtype: int64Dtype, ExpectedCount: 3},
		{Name: "flags", Dtype: bool8Dtype, ExpectedCount: 4},
	}
}

// NewDemoStore returns a store seeded with the demo jobs.
func NewDemoStore() *Store {
	s := NewStore()
	if err := SeedDemo(s); err != nil {
		panic(fmt.Sprintf("conformance: seeding demo jobs: %v", err))
	}
	return s
}

// SeedDemo adds the demo jobs to s.
func SeedDemo(s *Store) error {
	if err := s.AddJob(DemoJobID, DemoResults()...); err != nil {
		return err
	}
	appends := []struct {
		name string
		data []byte
	}{
		{"counts", Pack(int64(0), int64(10), int64(20), int64(30), int64(40))},
		{"I", Pack(0.25, 0.5, 0.75, 1.0)},
		{"state", Pack(0.1, int64(1000), 0.2, int64(2000), 0.3, int64(3000))},
		{"avg", Pack(0.5)},
		{"image", Pack(1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0)},
		{"adc", Pack(int64(7), int64(8), int64(9))},
		{"adc_timestamps", Pack(int64(100), int64(200), int64(300))},
		{"flags", Pack(true, false, true, true)},
	}
	for _, a := range appends {
		if err := s.Append(DemoJobID, a.name, a.data); err != nil {
			return err
		}
	}
	if err := s.SetProgramMetadata(DemoJobID, qmresults.ProgramMetadata{
		Streams: map[string]qmresults.StreamMetadata{
			"counts": {Name: "counts", Iterations: []qmresults.IterationData{
				{Variable: "n", Shape: []int{5}, Values: []float64{0, 1, 2, 3, 4}},
			}},
			"image": {Name: "image", Iterations: []qmresults.IterationData{
				{Variable: "x", Shape: []int{2}},
				{Variable: "y", Shape: []int{2}},
			}},
		},
	}); err != nil {
		return err
	}
	if err := s.Finish(DemoJobID, true); err != nil {
		return err
	}

	counts := ResultSpec{Name: "counts", Dtype: int64Dtype, Shape: []int{1}, ExpectedCount: 5}

	if err := s.AddJob(RunningJobID, counts); err != nil {
		return err
	}
	if err := s.Append(RunningJobID, "counts", Pack(int64(1), int64(2))); err != nil {
		return err
	}

	if err := s.AddJob(FailedJobID, counts); err != nil {
		return err
	}
	if err := s.Append(FailedJobID, "counts", Pack(int64(1))); err != nil {
		return err
	}
	if err := s.SetProgramMetadata(FailedJobID, qmresults.ProgramMetadata{
		Errors: []qmresults.StreamMetadataError{{Message: "unsupported loop", Location: "line 12"}},
	}); err != nil {
		return err
	}
	if err := s.Finish(FailedJobID, false); err != nil {
		return err
	}

	if err := s.AddJob(LossyJobID, counts); err != nil {
		return err
	}
	if err := s.Append(LossyJobID, "counts", Pack(int64(1), int64(2), int64(3))); err != nil {
		return err
	}
	if err := s.MarkDataloss(LossyJobID, "counts"); err != nil {
		return err
	}
	return s.Finish(LossyJobID, true)
}

// Pack lays out values little-endian, back to back, as numpy stores them.
// Values must be fixed-size: int64, float64, bool and so on.
func Pack(values ...any) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(fmt.Sprintf("conformance: packing %T: %v", v, err))
		}
	}
	return buf.Bytes()
}
