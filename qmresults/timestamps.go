package qmresults

import "context"

// fetchWithTimestamps reads values and their companion timestamps result
// and zips them into value/timestamp records. The timestamps are read for
// exactly the span of values that came back.
func (f *SequenceFetcher) fetchWithTimestamps(ctx context.Context, sel Selector, o fetchOptions) (*Array, error) {
	flat := o
	flat.flat = true
	values, err := f.strictFetch(ctx, sel, flat)
	if err != nil {
		return nil, err
	}
	if o.flat {
		return values, nil
	}
	values = atLeast1D(values)

	start := 0
	switch s := sel.(type) {
	case Index:
		start = int(s)
	case Slice:
		if s.Start != nil {
			start = *s.Start
		}
	}
	ts, err := f.timestamps.strictFetch(ctx, Range(start, start+values.Len()), flat)
	if err != nil {
		return nil, err
	}
	return zipRecords(values, atLeast1D(ts))
}

// atLeast1D gives a zero-dimensional array a leading axis of length 1.
func atLeast1D(a *Array) *Array {
	if a.Ndim() > 0 {
		return a
	}
	return &Array{dtype: a.dtype, shape: []int{1}, data: a.data}
}
