package qmresults

import (
	"context"
	"slices"
)

// Chunk is one piece of result data: raw item bytes for a named result and
// how many items they hold. Older servers leave OutputName empty.
type Chunk struct {
	OutputName   string
	Data         []byte
	CountOfItems int
}

// ChunkStream is an in-order stream of chunks from one remote call. Recv
// returns io.EOF once the stream is exhausted. Close releases the
// underlying connection and may be called at any time.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

// Service is the remote result service for one job. Every call may block on
// the network and honours ctx.
type Service interface {
	JobID() string
	JobResultSchema(ctx context.Context) ([]*ResultItemSchema, error)
	NamedHeader(ctx context.Context, name string, flatStruct bool) (NamedResultHeader, error)
	// NamedHeaders needs CapMultipleStreamsFetching.
	NamedHeaders(ctx context.Context, flatStruct map[string]bool) (map[string]NamedResultHeader, error)
	// JobState needs CapJobStreamingState.
	JobState(ctx context.Context) (JobStreamingState, error)
	ProgramMetadata(ctx context.Context) (ProgramMetadata, error)
	NamedResult(ctx context.Context, name string, offset, limit int) (ChunkStream, error)
	// NamedResults needs CapMultipleStreamsFetching.
	NamedResults(ctx context.Context, ranges map[string]FetchRange) (ChunkStream, error)
}

// Capabilities is the set of protocol features a server advertises.
type Capabilities struct {
	set map[string]struct{}
}

// NewCapabilities builds a capability set.
func NewCapabilities(names ...string) Capabilities {
	c := Capabilities{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		c.set[n] = struct{}{}
	}
	return c
}

// Supports reports whether the named capability is advertised.
func (c Capabilities) Supports(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Names lists the advertised capabilities in sorted order.
func (c Capabilities) Names() []string {
	out := make([]string, 0, len(c.set))
	for n := range c.set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// sortedKeys returns map keys in a stable order so multi-name requests are
// deterministic on the wire.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
