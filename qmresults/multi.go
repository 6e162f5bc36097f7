// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"context"
	"fmt"
	"log/slog"
)

// FlatStruct selects which results of a multi fetch use the flattened record
// layout.
type FlatStruct struct {
	all   bool
	names map[string]struct{}
}

// FlatNone requests the nested layout for every result.
var FlatNone = FlatStruct{}

// FlatAll requests the flattened layout for every result.
func FlatAll() FlatStruct { return FlatStruct{all: true} }

// FlatNames requests the flattened layout for the named results only.
func FlatNames(names ...string) FlatStruct {
	f := FlatStruct{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.names[n] = struct{}{}
	}
	return f
}

func (f FlatStruct) has(name string) bool {
	if f.all {
		return true
	}
	_, ok := f.names[name]
	return ok
}

// MultiFetcher fetches several results of one job with a single header call
// and a single data stream. It needs CapMultipleStreamsFetching.
type MultiFetcher struct {
	svc    Service
	schema *Schema
	logger *slog.Logger
}

func newMultiFetcher(svc Service, schema *Schema, logger *slog.Logger) *MultiFetcher {
	return &MultiFetcher{svc: svc, schema: schema, logger: loggerOrDefault(logger)}
}

// Fetch returns the selected items of each named result. Single-value
// results are unwrapped and map to nil while no value exists.
func (m *MultiFetcher) Fetch(ctx context.Context, items map[string]Selector, flat FlatStruct, opts ...FetchOption) (map[string]*Array, error) {
	res, err := m.StrictFetch(ctx, items, flat, opts...)
	if err != nil {
		return nil, err
	}
	for name, arr := range res {
		s, ok := m.schema.Get(name)
		if !ok || !s.IsSingle {
			continue
		}
		if res[name], err = postprocessSingle(m.logger, arr, flat.has(name)); err != nil {
			return nil, fmt.Errorf("result '%s': %w", name, err)
		}
	}
	return res, nil
}

// StrictFetch returns the assembled arrays as is.
func (m *MultiFetcher) StrictFetch(ctx context.Context, items map[string]Selector, flat FlatStruct, opts ...FetchOption) (map[string]*Array, error) {
	o := buildFetchOptions(opts)
	ctx, cancel := o.withCallTimeout(ctx)
	defer cancel()
	res, err := m.strictFetch(ctx, items, flat, o)
	if err != nil {
		return nil, asNetworkTimeout("fetching results", err)
	}
	return res, nil
}

func (m *MultiFetcher) strictFetch(ctx context.Context, items map[string]Selector, flat FlatStruct, o fetchOptions) (map[string]*Array, error) {
	jobID := m.svc.JobID()
	names := sortedKeys(items)

	flatByName := make(map[string]bool, len(names))
	for _, n := range names {
		flatByName[n] = flat.has(n)
	}
	headers, err := m.svc.NamedHeaders(ctx, flatByName)
	if err != nil {
		return nil, fmt.Errorf("headers of job %s: %w", jobID, err)
	}

	ranges := make(map[string]FetchRange, len(names))
	var requested []string
	for _, n := range names {
		h, ok := headers[n]
		if !ok {
			return nil, &SchemaError{Message: fmt.Sprintf("Result named '%s' not found for job %s", n, jobID)}
		}
		logExecutionErrors(m.logger, jobID, n, h, o)
		if err := AssertNoDataloss(h, jobID); err != nil {
			return nil, err
		}
		r, err := Normalize(n, items[n], h)
		if err != nil {
			return nil, err
		}
		ranges[n] = r
		if r.Len() > 0 {
			requested = append(requested, n)
		}
	}

	acc := map[string]*Accumulated{}
	if len(requested) > 0 {
		want := make(map[string]FetchRange, len(requested))
		for _, n := range requested {
			want[n] = ranges[n]
		}
		stream, err := m.svc.NamedResults(ctx, want)
		if err != nil {
			return nil, err
		}
		if acc, err = Accumulate(ctx, requested, stream); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*Array, len(names))
	for _, n := range names {
		a, ok := acc[n]
		if !ok {
			a = &Accumulated{}
		}
		if out[n], err = Assemble(a.Count, headers[n], jobID, a.Data); err != nil {
			return nil, fmt.Errorf("result '%s': %w", n, err)
		}
	}
	return out, nil
}

// logExecutionErrors reports runtime errors flagged on a result header.
// They do not fail the fetch.
func logExecutionErrors(logger *slog.Logger, jobID, name string, h NamedResultHeader, o fetchOptions) {
	if o.noErrorCheck || !h.HasExecutionErrors {
		return
	}
	logger.Error(fmt.Sprintf("Runtime errors were detected for stream named '%s'. "+
		"Please fetch the execution report using job.execution_report() for more information.", name),
		"job_id", jobID)
}
