package qmresults

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const nothingToFetch = "Nothing to fetch: no results were found. Please wait until the results are ready."

// SingletonFetcher fetches a result that holds one value per run.
type SingletonFetcher struct {
	fetcherCore
}

var _ Fetcher = (*SingletonFetcher)(nil)

func newSingletonFetcher(core fetcherCore) (*SingletonFetcher, error) {
	if !core.schema.IsSingle {
		return nil, &SchemaError{Message: fmt.Sprintf("result '%s' holds many values, not a single one", core.schema.Name)}
	}
	return &SingletonFetcher{fetcherCore: core}, nil
}

// Fetch returns the single value. Any selector other than index 0 is
// ignored with a warning. A nil array with a nil error means no value has
// been saved yet.
func (f *SingletonFetcher) Fetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error) {
	if i, ok := sel.(Index); !ok || i != 0 {
		f.logger.Warn("Fetching single result will always return the single value", "stream", f.schema.Name)
	}
	o := buildFetchOptions(opts)
	arr, err := f.strictFetch(ctx, Index(0), o)
	if err != nil {
		return nil, err
	}
	return postprocessSingle(f.logger, arr, o.flat)
}

// FetchAll is Fetch(Index(0)).
func (f *SingletonFetcher) FetchAll(ctx context.Context, opts ...FetchOption) (*Array, error) {
	return f.Fetch(ctx, Index(0), opts...)
}

// StrictFetch returns the assembled array without unwrapping.
func (f *SingletonFetcher) StrictFetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error) {
	return f.strictFetch(ctx, sel, buildFetchOptions(opts))
}

// WaitForValues waits for the value to be saved. Only a count of 1 makes
// sense here.
func (f *SingletonFetcher) WaitForValues(ctx context.Context, count int, timeout time.Duration) error {
	if count != 1 {
		return fmt.Errorf("result '%s' holds a single value, cannot wait for %d", f.schema.Name, count)
	}
	return f.waitForValues(ctx, count, timeout)
}

// postprocessSingle strips the outer dimensions of a single-value result:
// a one-element result becomes that element.
func postprocessSingle(logger *slog.Logger, arr *Array, flat bool) (*Array, error) {
	if arr == nil {
		return nil, nil
	}
	if arr.Ndim() > 0 && arr.Len() == 0 {
		logger.Warn(nothingToFetch)
		return nil, nil
	}
	if arr.Ndim() == 0 && !arr.Dtype().IsRecord() {
		return arr, nil
	}
	data := arr
	if !flat {
		var err error
		if data, err = arr.Index(0); err != nil {
			return nil, err
		}
	}
	if data.Len() == 1 {
		return data.Index(0)
	}
	return data, nil
}
