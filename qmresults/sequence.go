package qmresults

import (
	"context"
	"fmt"
	"time"
)

// SequenceFetcher fetches a result that accumulates many values per run.
type SequenceFetcher struct {
	fetcherCore

	// timestamps is set when the job stores timestamps in a separate
	// "<name>_timestamps" result.
	timestamps *SequenceFetcher
}

var _ Fetcher = (*SequenceFetcher)(nil)

func newSequenceFetcher(core fetcherCore) (*SequenceFetcher, error) {
	if core.schema.IsSingle {
		return nil, &SchemaError{Message: fmt.Sprintf("result '%s' holds a single value, not a sequence", core.schema.Name)}
	}
	return &SequenceFetcher{fetcherCore: core}, nil
}

// Fetch returns the selected items. Timestamped values are unwrapped to a
// flat value/timestamp record.
func (f *SequenceFetcher) Fetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error) {
	o := buildFetchOptions(opts)
	if f.timestamps != nil {
		return f.fetchWithTimestamps(ctx, sel, o)
	}
	arr, err := f.strictFetch(ctx, sel, o)
	if err != nil {
		return nil, err
	}
	return unwrapTimestamped(arr)
}

// FetchAll is Fetch(All()).
func (f *SequenceFetcher) FetchAll(ctx context.Context, opts ...FetchOption) (*Array, error) {
	return f.Fetch(ctx, All(), opts...)
}

// StrictFetch returns the assembled array as is.
func (f *SequenceFetcher) StrictFetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error) {
	return f.strictFetch(ctx, sel, buildFetchOptions(opts))
}

// WaitForValues waits until at least count items are available.
func (f *SequenceFetcher) WaitForValues(ctx context.Context, count int, timeout time.Duration) error {
	return f.waitForValues(ctx, count, timeout)
}

// unwrapTimestamped turns a record of the form {value: {value, timestamp}}
// into its inner record. A single row of such a result collapses to 1-D.
func unwrapTimestamped(arr *Array) (*Array, error) {
	if arr == nil || !isTimestampedDtype(arr.Dtype()) {
		return arr, nil
	}
	inner, err := arr.Field("value")
	if err != nil {
		return nil, err
	}
	if inner.Ndim() > 1 && inner.Len() == 1 {
		return inner.Index(0)
	}
	return inner, nil
}

func isTimestampedDtype(dt *Dtype) bool {
	if !dt.IsRecord() || len(dt.Fields()) != 1 || dt.Fields()[0].Name != "value" {
		return false
	}
	inner := dt.Fields()[0].Type.Fields()
	return dt.Fields()[0].Type.IsRecord() && len(inner) == 2 &&
		inner[0].Name == "value" && inner[1].Name == "timestamp"
}
