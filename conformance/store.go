// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Query-farm/qmresults/qmresults"
)

// Store is an in-memory [qmresults.ResultSource]. It is safe for concurrent
// use; jobs can keep growing while clients read them.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

type job struct {
	order    []string
	results  map[string]*result
	state    qmresults.JobStreamingState
	metadata qmresults.ProgramMetadata
}

type result struct {
	schema        ResultSpec
	dtype         *qmresults.Dtype
	flatDesc      string
	itemSize      int
	data          []byte
	count         int
	dataloss      bool
	executionErrs bool
}

// ResultSpec declares one named result of a job.
type ResultSpec struct {
	Name     string
	Dtype    *qmresults.Dtype
	Shape    []int
	IsSingle bool
	// ExpectedCount is reported in the job schema; 0 means unknown.
	ExpectedCount int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{jobs: map[string]*job{}}
}

// AddJob registers a job with the given results, replacing any job with
// the same ID.
func (s *Store) AddJob(jobID string, specs ...ResultSpec) error {
	j := &job{
		results: make(map[string]*result, len(specs)),
		state:   qmresults.JobStreamingState{JobID: jobID},
	}
	for _, spec := range specs {
		if _, dup := j.results[spec.Name]; dup {
			return fmt.Errorf("duplicate result %q in job %s", spec.Name, jobID)
		}
		j.order = append(j.order, spec.Name)
		j.results[spec.Name] = &result{
			schema:   spec,
			dtype:    spec.Dtype,
			flatDesc: flatten(spec.Dtype).Descriptor(),
			itemSize: spec.Dtype.ItemSize() * product(spec.Shape),
		}
	}
	s.mu.Lock()
	s.jobs[jobID] = j
	s.mu.Unlock()
	return nil
}

// Append adds raw items to a result. data must hold a whole number of
// items.
func (s *Store) Append(jobID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.resultLocked(jobID, name)
	if err != nil {
		return err
	}
	if r.itemSize == 0 || len(data)%r.itemSize != 0 {
		return fmt.Errorf("%d bytes is not a whole number of %d-byte items of '%s'", len(data), r.itemSize, name)
	}
	r.data = append(r.data, data...)
	r.count += len(data) / r.itemSize
	return nil
}

// MarkDataloss flags a result as having lost data.
func (s *Store) MarkDataloss(jobID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.resultLocked(jobID, name)
	if err != nil {
		return err
	}
	r.dataloss = true
	s.jobs[jobID].state.HasDataloss = true
	return nil
}

// MarkExecutionErrors flags a result as produced by a run that hit
// runtime errors.
func (s *Store) MarkExecutionErrors(jobID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.resultLocked(jobID, name)
	if err != nil {
		return err
	}
	r.executionErrs = true
	return nil
}

// Finish ends a job's streaming. done=false means the job was canceled or
// failed.
func (s *Store) Finish(jobID string, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return unknownJob(jobID)
	}
	j.state.Done = done
	j.state.Closed = true
	return nil
}

// SetProgramMetadata sets what program analysis reported for a job.
func (s *Store) SetProgramMetadata(jobID string, meta qmresults.ProgramMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return unknownJob(jobID)
	}
	j.metadata = meta
	return nil
}

// Jobs lists the job IDs in sorted order.
func (s *Store) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func unknownJob(jobID string) error {
	return &qmresults.RpcError{Type: "ValueError", Message: fmt.Sprintf("unknown job: %s", jobID)}
}

func (s *Store) resultLocked(jobID, name string) (*result, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, unknownJob(jobID)
	}
	r, ok := j.results[name]
	if !ok {
		return nil, &qmresults.SchemaError{Message: fmt.Sprintf("Result named '%s' not found for job %s", name, jobID)}
	}
	return r, nil
}

func (s *Store) JobResultSchema(_ context.Context, jobID string) ([]*qmresults.ResultItemSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, unknownJob(jobID)
	}
	items := make([]*qmresults.ResultItemSchema, 0, len(j.order))
	for _, name := range j.order {
		r := j.results[name]
		items = append(items, &qmresults.ResultItemSchema{
			Name:            name,
			DtypeDescriptor: r.dtype.Descriptor(),
			Shape:           slices.Clone(r.schema.Shape),
			IsSingle:        r.schema.IsSingle,
			ExpectedCount:   r.schema.ExpectedCount,
		})
	}
	return items, nil
}

// NamedHeader reports the result's progress. Job state is carried too, for
// clients on the first-generation protocol.
func (s *Store) NamedHeader(_ context.Context, jobID, name string, flatStruct bool) (qmresults.NamedResultHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.resultLocked(jobID, name)
	if err != nil {
		return qmresults.NamedResultHeader{}, err
	}
	desc := r.dtype.Descriptor()
	if flatStruct {
		desc = r.flatDesc
	}
	st := s.jobs[jobID].state
	return qmresults.NamedResultHeader{
		CountSoFar:         r.count,
		DtypeDescriptor:    desc,
		Shape:              slices.Clone(r.schema.Shape),
		HasDataloss:        r.dataloss,
		HasExecutionErrors: r.executionErrs,
		Done:               st.Done,
		Closed:             st.Closed,
	}, nil
}

func (s *Store) JobState(_ context.Context, jobID string) (qmresults.JobStreamingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return qmresults.JobStreamingState{}, unknownJob(jobID)
	}
	return j.state, nil
}

func (s *Store) ProgramMetadata(_ context.Context, jobID string) (qmresults.ProgramMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return qmresults.ProgramMetadata{}, unknownJob(jobID)
	}
	return j.metadata, nil
}

// ReadItems copies out at most limit items from offset. Reading past the
// end returns what exists.
func (s *Store) ReadItems(_ context.Context, jobID, name string, offset, limit int) ([]byte, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.resultLocked(jobID, name)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 || limit < 0 {
		return nil, 0, &qmresults.RpcError{Type: "ValueError", Message: fmt.Sprintf("invalid range offset=%d limit=%d", offset, limit)}
	}
	from := min(offset, r.count)
	to := min(offset+limit, r.count)
	return slices.Clone(r.data[from*r.itemSize : to*r.itemSize]), to - from, nil
}

var _ qmresults.ResultSource = (*Store)(nil)

// flatten replaces nested record fields by their leaves, named
// outer_inner. The item layout is unchanged.
func flatten(dt *qmresults.Dtype) *qmresults.Dtype {
	if !dt.IsRecord() {
		return dt
	}
	var fields []qmresults.DtypeField
	for _, f := range dt.Fields() {
		if !f.Type.IsRecord() || len(f.Shape) > 0 {
			fields = append(fields, f)
			continue
		}
		for _, inner := range flatten(f.Type).Fields() {
			inner.Name = f.Name + "_" + inner.Name
			fields = append(fields, inner)
		}
	}
	return qmresults.RecordDtype(fields...)
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
