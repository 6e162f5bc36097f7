// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark holds fixtures for measuring result reconstruction
// over HTTP.
package benchmark

import (
	"fmt"
	"net/http/httptest"

	"github.com/Query-farm/qmresults/conformance"
	"github.com/Query-farm/qmresults/qmresults"
)

// JobID is the job every fixture store holds.
const JobID = "bench"

// Result names in the fixture job.
const (
	Scalars = "scalars" // float64 items, no per-item shape
	Traces  = "traces"  // int64 items of shape (16,)
)

// NewStore returns a finished job with n items in each result.
func NewStore(n int) (*conformance.Store, error) {
	s := conformance.NewStore()
	f8 := qmresults.MustScalarDtype("<f8")
	i8 := qmresults.MustScalarDtype("<i8")
	if err := s.AddJob(JobID,
		conformance.ResultSpec{Name: Scalars, Dtype: f8, ExpectedCount: n},
		conformance.ResultSpec{Name: Traces, Dtype: i8, Shape: []int{16}, ExpectedCount: n},
	); err != nil {
		return nil, err
	}

	scalars := make([]any, n)
	traces := make([]any, 0, n*16)
	for i := range n {
		scalars[i] = float64(i) / 2
		for j := range 16 {
			traces = append(traces, int64(i*16+j))
		}
	}
	if err := s.Append(JobID, Scalars, conformance.Pack(scalars...)); err != nil {
		return nil, err
	}
	if err := s.Append(JobID, Traces, conformance.Pack(traces...)); err != nil {
		return nil, err
	}
	if err := s.Finish(JobID, true); err != nil {
		return nil, err
	}
	return s, nil
}

// StartServer serves src over a local HTTP test server. legacy selects the
// first-generation protocol; pieceSize tunes chunk streaming.
func StartServer(src qmresults.ResultSource, legacy bool, pieceSize int) *httptest.Server {
	server := qmresults.NewServer()
	server.SetServerID(fmt.Sprintf("bench-legacy=%t", legacy))
	if pieceSize > 0 {
		server.SetPieceSize(pieceSize)
	}
	var opts []qmresults.SourceOption
	if legacy {
		opts = append(opts, qmresults.WithLegacyProtocol())
	}
	qmresults.RegisterResultSource(server, src, opts...)
	return httptest.NewServer(qmresults.NewHttpServer(server))
}
