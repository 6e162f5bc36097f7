// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrJobFailed is returned by a JobWaiter when the job terminated without
// completing.
var ErrJobFailed = errors.New("job failed or canceled")

// JobWaiter waits for a job to terminate through some channel other than
// the result streams, typically the job's own status API.
type JobWaiter interface {
	WaitForTermination(ctx context.Context, timeout time.Duration) error
}

type managerOptions struct {
	logger *slog.Logger
	waiter JobWaiter
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// WithLogger sets the logger used by the manager and its fetchers.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = l }
}

// WithJobWaiter makes WaitForAllValues wait on w instead of polling the
// result streams.
func WithJobWaiter(w JobWaiter) ManagerOption {
	return func(o *managerOptions) { o.waiter = w }
}

// Manager gives access to every named result of one job.
type Manager struct {
	svc      Service
	caps     Capabilities
	schema   *Schema
	fetchers map[string]Fetcher
	multi    *MultiFetcher
	logger   *slog.Logger
	waiter   JobWaiter
}

// NewManager loads the job's result schema and program metadata and builds
// one fetcher per named result.
func NewManager(ctx context.Context, svc Service, caps Capabilities, opts ...ManagerOption) (*Manager, error) {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		svc:      svc,
		caps:     caps,
		fetchers: make(map[string]Fetcher),
		logger:   loggerOrDefault(o.logger),
		waiter:   o.waiter,
	}

	items, err := svc.JobResultSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("result schema of job %s: %w", svc.JobID(), err)
	}
	if m.schema, err = NewSchema(items); err != nil {
		return nil, err
	}

	meta, err := svc.ProgramMetadata(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn(fmt.Sprintf("Failed to fetch program metadata for job: %s", svc.JobID()), "err", err)
		meta = ProgramMetadata{}
	}

	if caps.Supports(CapMultipleStreamsFetching) {
		m.multi = newMultiFetcher(svc, m.schema, m.logger)
	}

	for _, name := range m.schema.Names() {
		s, _ := m.schema.Get(name)
		core := fetcherCore{
			schema:           s,
			svc:              svc,
			multi:            m.multi,
			logger:           m.logger,
			stateFromService: caps.Supports(CapJobStreamingState),
			metaErrors:       meta.Errors,
		}
		if sm, ok := meta.Streams[name]; ok {
			core.meta = &sm
		}
		var f Fetcher
		if s.IsSingle {
			f, err = newSingletonFetcher(core)
		} else {
			f, err = newSequenceFetcher(core)
		}
		if err != nil {
			return nil, err
		}
		m.fetchers[name] = f
	}

	for name, f := range m.fetchers {
		seq, ok := f.(*SequenceFetcher)
		if !ok {
			continue
		}
		if ts, ok := m.fetchers[name+"_timestamps"].(*SequenceFetcher); ok {
			seq.timestamps = ts
		}
	}
	return m, nil
}

// Get returns the fetcher for name.
func (m *Manager) Get(name string) (Fetcher, bool) {
	f, ok := m.fetchers[name]
	return f, ok
}

// GetOr returns the fetcher for name, or def if there is none.
func (m *Manager) GetOr(name string, def Fetcher) Fetcher {
	if f, ok := m.fetchers[name]; ok {
		return f
	}
	return def
}

func (m *Manager) Contains(name string) bool {
	_, ok := m.fetchers[name]
	return ok
}

// Keys lists result names in schema order.
func (m *Manager) Keys() []string { return m.schema.Names() }

// All iterates the fetchers in schema order.
func (m *Manager) All() iter.Seq2[string, Fetcher] {
	return func(yield func(string, Fetcher) bool) {
		for _, name := range m.schema.Names() {
			if !yield(name, m.fetchers[name]) {
				return
			}
		}
	}
}

func (m *Manager) Len() int { return len(m.fetchers) }

// Multi returns the multi fetcher, if the server supports one.
func (m *Manager) Multi() (*MultiFetcher, bool) { return m.multi, m.multi != nil }

// IsProcessing reports whether the job may still produce data. A job with
// no results is never processing.
func (m *Manager) IsProcessing(ctx context.Context) (bool, error) {
	names := m.schema.Names()
	if len(names) == 0 {
		return false, nil
	}
	return m.fetchers[names[0]].IsProcessing(ctx)
}

// WaitForAllValues blocks until the job terminates. It reports true if every
// result is complete and false if the job stopped early.
func (m *Manager) WaitForAllValues(ctx context.Context, timeout time.Duration) (bool, error) {
	const stopped = "Job failed or canceled, data processing has stopped, not all data is available."
	if m.waiter != nil {
		err := m.waiter.WaitForTermination(ctx, effectiveTimeout(timeout))
		if errors.Is(err, ErrJobFailed) {
			m.logger.Warn(stopped, "job_id", m.svc.JobID())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}

	var allDone, anyClosed bool
	err := runUntil(ctx, fmt.Sprintf("job %s", m.svc.JobID()), timeout, func(ctx context.Context) (bool, error) {
		states, err := m.jobStates(ctx)
		if err != nil {
			return false, err
		}
		allDone, anyClosed = true, false
		for _, st := range states {
			allDone = allDone && st.Done
			anyClosed = anyClosed || (st.Closed && !st.Done)
		}
		return allDone || anyClosed, nil
	})
	if err != nil {
		return false, err
	}
	if anyClosed {
		m.logger.Warn(stopped, "job_id", m.svc.JobID())
		return false, nil
	}
	return true, nil
}

// jobStates queries every fetcher's job state concurrently.
func (m *Manager) jobStates(ctx context.Context) ([]JobStreamingState, error) {
	names := m.schema.Names()
	states := make([]JobStreamingState, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		f := m.fetchers[name]
		g.Go(func() error {
			st, err := f.JobState(ctx)
			if err != nil {
				return err
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// FetchRequest describes a FetchResults call. Items and Item are mutually
// exclusive; with neither, every item of each result is fetched.
type FetchRequest struct {
	WaitUntilDone bool
	Timeout       time.Duration
	// Names limits the results fetched. It is ignored when Items is set.
	Names []string
	Items map[string]Selector
	Item  Selector
}

// FetchResults fetches several results at once, optionally waiting for the
// job to terminate first. A positive Timeout bounds the wait and each
// fetch. Single-value results without a value are left out of the map.
func (m *Manager) FetchResults(ctx context.Context, req FetchRequest) (map[string]*Array, error) {
	if req.Items != nil && req.Item != nil {
		return nil, &SchemaError{Message: "only one of items and item can be given"}
	}

	var names []string
	switch {
	case req.Items != nil:
		names = sortedKeys(req.Items)
	case req.Names != nil:
		names = req.Names
	default:
		names = m.schema.Names()
	}
	var unknown []string
	for _, n := range names {
		if !m.Contains(n) {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return nil, &SchemaError{Message: fmt.Sprintf("Unknown stream names: [%s]", strings.Join(unknown, ", "))}
	}

	items := make(map[string]Selector, len(names))
	for _, n := range names {
		switch {
		case req.Items != nil:
			items[n] = req.Items[n]
		case req.Item != nil:
			items[n] = req.Item
		case m.fetchers[n].IsSingle():
			items[n] = Index(0)
		default:
			items[n] = All()
		}
	}

	if req.WaitUntilDone {
		if _, err := m.WaitForAllValues(ctx, req.Timeout); err != nil {
			return nil, err
		}
	}

	var opts []FetchOption
	if req.Timeout > 0 {
		opts = append(opts, WithTimeout(req.Timeout))
	}
	if m.multi != nil {
		res, err := m.multi.Fetch(ctx, items, FlatNone, opts...)
		if err != nil {
			return nil, err
		}
		for n, a := range res {
			if a == nil {
				delete(res, n)
			}
		}
		return res, nil
	}

	out := make(map[string]*Array, len(names))
	for _, n := range names {
		a, err := m.fetchers[n].Fetch(ctx, items[n], opts...)
		if err != nil {
			return nil, fmt.Errorf("result '%s': %w", n, err)
		}
		if a == nil {
			m.logger.Warn(fmt.Sprintf("Failed to fetch results for stream '%s'", n), "job_id", m.svc.JobID())
			continue
		}
		out[n] = a
	}
	return out, nil
}
