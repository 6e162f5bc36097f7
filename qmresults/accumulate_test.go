package qmresults

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// sliceStream replays fixed chunks, then io.EOF or err.
type sliceStream struct {
	chunks []Chunk
	err    error
	closed atomic.Bool
}

func (s *sliceStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed.Store(true)
	return nil
}

// blockingStream never produces a chunk until closed.
type blockingStream struct {
	done   chan struct{}
	closed atomic.Bool
}

func (s *blockingStream) Recv() (Chunk, error) {
	<-s.done
	return Chunk{}, io.EOF
}

func (s *blockingStream) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

func TestAccumulateInterleaved(t *testing.T) {
	s := &sliceStream{chunks: []Chunk{
		{OutputName: "a", Data: []byte{1, 2}, CountOfItems: 2},
		{OutputName: "b", Data: []byte{9}, CountOfItems: 1},
		{OutputName: "a", Data: []byte{3}, CountOfItems: 1},
	}}
	got, err := Accumulate(context.Background(), []string{"a", "b"}, s)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	want := map[string]*Accumulated{
		"a": {Count: 3, Data: []byte{1, 2, 3}},
		"b": {Count: 1, Data: []byte{9}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("accumulated mismatch (-want +got):\n%s", diff)
	}
	if !s.closed.Load() {
		t.Fatalf("stream was not closed")
	}
}

func TestAccumulateUnnamedChunkGoesToSoleName(t *testing.T) {
	s := &sliceStream{chunks: []Chunk{{Data: []byte{5, 6}, CountOfItems: 2}}}
	got, err := Accumulate(context.Background(), []string{"counts"}, s)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if got["counts"].Count != 2 {
		t.Fatalf("expected 2 items, got %d", got["counts"].Count)
	}
}

func TestAccumulateRejectsUnrequestedName(t *testing.T) {
	s := &sliceStream{chunks: []Chunk{{OutputName: "c", Data: []byte{1}, CountOfItems: 1}}}
	_, err := Accumulate(context.Background(), []string{"a", "b"}, s)
	if !errors.Is(err, ErrDataFetching) {
		t.Fatalf("expected DataFetchingError, got %v", err)
	}
}

func TestAccumulateEmptyStream(t *testing.T) {
	got, err := Accumulate(context.Background(), []string{"a"}, &sliceStream{})
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if got["a"].Count != 0 || len(got["a"].Data) != 0 {
		t.Fatalf("expected nothing, got %+v", got["a"])
	}
}

func TestAccumulatePropagatesStreamError(t *testing.T) {
	boom := &DataFetchingError{Details: "boom"}
	s := &sliceStream{chunks: []Chunk{{OutputName: "a", Data: []byte{1}, CountOfItems: 1}}, err: boom}
	_, err := Accumulate(context.Background(), []string{"a"}, s)
	if !errors.Is(err, ErrDataFetching) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestAccumulateTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s := &blockingStream{done: make(chan struct{})}
	_, err := Accumulate(ctx, []string{"a"}, s)
	var te *TimeoutError
	if !errors.As(err, &te) || te.Kind != TimeoutNetwork {
		t.Fatalf("expected network timeout, got %v", err)
	}
	if !s.closed.Load() {
		t.Fatalf("stream was not closed")
	}
}
