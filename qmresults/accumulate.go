package qmresults

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// Accumulated is the data gathered for one named result during one fetch.
type Accumulated struct {
	Count int
	Data  []byte
}

type recvResult struct {
	chunk Chunk
	err   error
}

// Accumulate drains stream, routing each chunk by its output name into a
// per-name buffer and summing item counts. Chunks for one name are appended
// in arrival order; no order is assumed across names. A chunk without a name
// is accepted only when a single name was requested.
//
// If ctx ends first the call fails with a network TimeoutError and nothing
// gathered so far is returned. The stream is always closed.
func Accumulate(ctx context.Context, names []string, stream ChunkStream) (map[string]*Accumulated, error) {
	defer stream.Close()

	buffers := make(map[string]*bytes.Buffer, len(names))
	counts := make(map[string]int, len(names))
	for _, n := range names {
		buffers[n] = &bytes.Buffer{}
	}

	ch := make(chan recvResult)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			c, err := stream.Recv()
			select {
			case ch <- recvResult{chunk: c, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, networkTimeout("fetching results", ctx.Err())
		case r := <-ch:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					out := make(map[string]*Accumulated, len(names))
					for _, n := range names {
						out[n] = &Accumulated{Count: counts[n], Data: buffers[n].Bytes()}
					}
					return out, nil
				}
				return nil, r.err
			}
			name := r.chunk.OutputName
			if name == "" && len(names) == 1 {
				name = names[0]
			}
			buf, ok := buffers[name]
			if !ok {
				return nil, &DataFetchingError{Details: fmt.Sprintf("received data for unrequested result '%s'", r.chunk.OutputName)}
			}
			buf.Write(r.chunk.Data)
			counts[name] += r.chunk.CountOfItems
		}
	}
}

// networkTimeout converts a context error into the network timeout kind.
// Cancellation is passed through unchanged.
func networkTimeout(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Kind: TimeoutNetwork, Op: op, Err: err}
	}
	return err
}
