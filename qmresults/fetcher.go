// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Fetcher fetches one named result of a job. The two implementations are
// [*SingletonFetcher] for results saved once per run and [*SequenceFetcher]
// for results saved many times.
type Fetcher interface {
	Name() string
	JobID() string
	ExpectedCount() int
	Dtype() (*Dtype, error)
	IsSingle() bool

	// Fetch returns the selected items with variant post-processing applied.
	Fetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error)
	// FetchAll fetches everything available right now.
	FetchAll(ctx context.Context, opts ...FetchOption) (*Array, error)
	// StrictFetch returns the selected items exactly as assembled.
	StrictFetch(ctx context.Context, sel Selector, opts ...FetchOption) (*Array, error)

	WaitForValues(ctx context.Context, count int, timeout time.Duration) error
	WaitForAllValues(ctx context.Context, timeout time.Duration) (bool, error)

	CountSoFar(ctx context.Context) (int, error)
	IsProcessing(ctx context.Context) (bool, error)
	HasDataloss(ctx context.Context) (bool, error)
	JobState(ctx context.Context) (JobStreamingState, error)
	StreamMetadata() (*StreamMetadata, error)

	isFetcher()
}

type fetchOptions struct {
	flat         bool
	noErrorCheck bool
	timeout      time.Duration
}

// FetchOption configures a single fetch.
type FetchOption func(*fetchOptions)

// WithFlatStruct asks the server for the flattened record layout.
func WithFlatStruct() FetchOption {
	return func(o *fetchOptions) { o.flat = true }
}

// WithoutErrorCheck suppresses the execution error log.
func WithoutErrorCheck() FetchOption {
	return func(o *fetchOptions) { o.noErrorCheck = true }
}

// WithTimeout bounds the network part of a fetch.
func WithTimeout(d time.Duration) FetchOption {
	return func(o *fetchOptions) { o.timeout = d }
}

func buildFetchOptions(opts []FetchOption) fetchOptions {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withCallTimeout applies the per-fetch timeout to ctx, if one was given.
func (o fetchOptions) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return ctx, func() {}
}

// fetcherCore holds what both fetcher variants share.
type fetcherCore struct {
	schema *ResultItemSchema
	svc    Service
	multi  *MultiFetcher
	logger *slog.Logger

	// stateFromService selects the job state strategy; it is fixed at
	// construction from the server's capabilities.
	stateFromService bool

	meta       *StreamMetadata
	metaErrors []StreamMetadataError
}

func (c *fetcherCore) Name() string           { return c.schema.Name }
func (c *fetcherCore) JobID() string          { return c.svc.JobID() }
func (c *fetcherCore) ExpectedCount() int     { return c.schema.ExpectedCount }
func (c *fetcherCore) Dtype() (*Dtype, error) { return c.schema.Dtype() }
func (c *fetcherCore) IsSingle() bool         { return c.schema.IsSingle }
func (c *fetcherCore) isFetcher()             {}

func (c *fetcherCore) header(ctx context.Context, flat bool) (NamedResultHeader, error) {
	h, err := c.svc.NamedHeader(ctx, c.schema.Name, flat)
	if err != nil {
		return NamedResultHeader{}, fmt.Errorf("header of '%s': %w", c.schema.Name, err)
	}
	return h, nil
}

// CountSoFar returns how many items the server holds right now.
func (c *fetcherCore) CountSoFar(ctx context.Context) (int, error) {
	h, err := c.header(ctx, false)
	if err != nil {
		return 0, err
	}
	return h.CountSoFar, nil
}

// HasDataloss reports whether the server dropped data for this result.
func (c *fetcherCore) HasDataloss(ctx context.Context) (bool, error) {
	h, err := c.header(ctx, false)
	if err != nil {
		return false, err
	}
	return h.HasDataloss, nil
}

// JobState returns the job's streaming state. Servers without a job state
// query report it through the result header instead.
func (c *fetcherCore) JobState(ctx context.Context) (JobStreamingState, error) {
	if c.stateFromService {
		return c.svc.JobState(ctx)
	}
	h, err := c.header(ctx, false)
	if err != nil {
		return JobStreamingState{}, err
	}
	return JobStreamingState{
		JobID:       c.svc.JobID(),
		Done:        h.Done,
		Closed:      h.Closed,
		HasDataloss: h.HasDataloss,
	}, nil
}

// IsProcessing is true while the job may still produce data.
func (c *fetcherCore) IsProcessing(ctx context.Context) (bool, error) {
	st, err := c.JobState(ctx)
	if err != nil {
		return false, err
	}
	return !st.Done && !st.Closed, nil
}

func (c *fetcherCore) waitForValues(ctx context.Context, count int, timeout time.Duration) error {
	return runUntil(ctx, fmt.Sprintf("result %s", c.schema.Name), timeout, func(ctx context.Context) (bool, error) {
		n, err := c.CountSoFar(ctx)
		if err != nil {
			return false, err
		}
		return n >= count, nil
	})
}

// WaitForAllValues blocks until the job stops. It reports true if the job
// finished and false if it was closed before finishing.
func (c *fetcherCore) WaitForAllValues(ctx context.Context, timeout time.Duration) (bool, error) {
	var st JobStreamingState
	err := runUntil(ctx, fmt.Sprintf("result %s", c.schema.Name), timeout, func(ctx context.Context) (bool, error) {
		var err error
		st, err = c.JobState(ctx)
		if err != nil {
			return false, err
		}
		return st.Done || st.Closed, nil
	})
	if err != nil {
		return false, err
	}
	if !st.Done {
		c.logger.Warn("Job failed or canceled, data processing has stopped, not all data is available.",
			"stream", c.schema.Name, "job_id", c.svc.JobID())
	}
	return st.Done, nil
}

// StreamMetadata returns what program analysis found for this result, or
// nil if nothing was found. Extraction errors are reported here, on access.
func (c *fetcherCore) StreamMetadata() (*StreamMetadata, error) {
	if len(c.metaErrors) > 0 {
		for _, e := range c.metaErrors {
			c.logger.Error(e.String(), "stream", c.schema.Name)
		}
		return nil, &InvalidStreamMetadataError{Errors: c.metaErrors}
	}
	return c.meta, nil
}

// strictFetch runs header, dataloss check, normalize, stream, accumulate and
// assemble for this result alone, or delegates to the multi fetcher.
func (c *fetcherCore) strictFetch(ctx context.Context, sel Selector, o fetchOptions) (*Array, error) {
	name := c.schema.Name
	ctx, cancel := o.withCallTimeout(ctx)
	defer cancel()

	if c.multi != nil {
		flat := FlatNone
		if o.flat {
			flat = FlatAll()
		}
		res, err := c.multi.strictFetch(ctx, map[string]Selector{name: sel}, flat, o)
		if err != nil {
			return nil, asNetworkTimeout("fetching "+name, err)
		}
		return res[name], nil
	}

	h, err := c.header(ctx, o.flat)
	if err != nil {
		return nil, asNetworkTimeout("fetching "+name, err)
	}
	logExecutionErrors(c.logger, c.svc.JobID(), name, h, o)
	if err := AssertNoDataloss(h, c.svc.JobID()); err != nil {
		return nil, err
	}
	r, err := Normalize(name, sel, h)
	if err != nil {
		return nil, err
	}
	if r.Len() == 0 {
		return Assemble(0, h, c.svc.JobID(), nil)
	}
	stream, err := c.svc.NamedResult(ctx, name, r.Start, r.Len())
	if err != nil {
		return nil, asNetworkTimeout("fetching "+name, err)
	}
	acc, err := Accumulate(ctx, []string{name}, stream)
	if err != nil {
		return nil, asNetworkTimeout("fetching "+name, err)
	}
	return Assemble(acc[name].Count, h, c.svc.JobID(), acc[name].Data)
}

// asNetworkTimeout turns a deadline that escaped a remote call into a
// network TimeoutError. Typed timeouts pass through.
func asNetworkTimeout(op string, err error) error {
	var te *TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Kind: TimeoutNetwork, Op: op, Err: err}
	}
	return err
}
