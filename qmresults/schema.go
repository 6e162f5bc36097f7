package qmresults

import (
	"fmt"
	"sync"
)

// ResultItemSchema is the server-declared schema of one named result. It is
// immutable once fetched.
type ResultItemSchema struct {
	Name            string
	DtypeDescriptor string
	// Shape is the per-item shape, excluding the leading count dimension.
	Shape []int
	// IsSingle is true for "save" results holding one value per run.
	IsSingle      bool
	ExpectedCount int

	once  sync.Once
	dtype *Dtype
	err   error
}

// Dtype parses the descriptor on first use and caches the result.
func (s *ResultItemSchema) Dtype() (*Dtype, error) {
	s.once.Do(func() {
		s.dtype, s.err = ParseDtype(s.DtypeDescriptor)
	})
	return s.dtype, s.err
}

// NamedResultHeader is the per-request state of one named result.
// HasDataloss, Done and Closed only ever move from false to true.
type NamedResultHeader struct {
	CountSoFar         int
	DtypeDescriptor    string
	Shape              []int
	HasDataloss        bool
	HasExecutionErrors bool
	// Done and Closed are only reported by first-generation servers, which
	// have no dedicated job state query.
	Done   bool
	Closed bool
}

// JobStreamingState is the overall streaming state of a job. Done signals
// successful completion; Closed without Done signals premature termination.
type JobStreamingState struct {
	JobID       string
	Done        bool
	Closed      bool
	HasDataloss bool
}

// IterationData describes one loop identified in the control program that
// feeds a stream.
type IterationData struct {
	Variable string    `json:"variable"`
	Shape    []int     `json:"shape"`
	Values   []float64 `json:"values,omitempty"`
}

// StreamMetadata holds what program analysis learned about a stream.
type StreamMetadata struct {
	Name       string          `json:"name"`
	Iterations []IterationData `json:"iterations"`
}

// ProgramMetadata is the per-job result of program analysis: stream
// metadata by name and any errors hit while extracting it.
type ProgramMetadata struct {
	Errors  []StreamMetadataError     `json:"errors"`
	Streams map[string]StreamMetadata `json:"streams"`
}

// Schema is the ordered, read-only registry of a job's result schemas.
type Schema struct {
	order []string
	items map[string]*ResultItemSchema
}

// NewSchema builds a registry, keeping the server's order. Duplicate names
// are rejected.
func NewSchema(items []*ResultItemSchema) (*Schema, error) {
	s := &Schema{items: make(map[string]*ResultItemSchema, len(items))}
	for _, it := range items {
		if _, dup := s.items[it.Name]; dup {
			return nil, &SchemaError{Message: fmt.Sprintf("duplicate result name '%s' in job schema", it.Name)}
		}
		s.items[it.Name] = it
		s.order = append(s.order, it.Name)
	}
	return s, nil
}

// Get returns the schema for name.
func (s *Schema) Get(name string) (*ResultItemSchema, bool) {
	it, ok := s.items[name]
	return it, ok
}

// Names returns the result names in server order.
func (s *Schema) Names() []string { return append([]string(nil), s.order...) }

// Len is the number of named results.
func (s *Schema) Len() int { return len(s.order) }
