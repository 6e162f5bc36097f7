// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"context"
	"net/http"

	"github.com/apache/arrow-go/v18/arrow"
)

// Method type string constants for DispatchInfo.MethodType and
// CallInfo.MethodType.
const (
	DispatchMethodUnary  = "unary"
	DispatchMethodStream = "stream"
)

// DispatchHook provides observability callpoints around server dispatch.
// Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by a start callback and passed back
// to the matching end callback.
type HookToken interface{}

// DispatchInfo carries method metadata passed to server hooks.
type DispatchInfo struct {
	Method            string            // remote method name
	MethodType        string            // DispatchMethodUnary or DispatchMethodStream
	ServerID          string            // server identifier
	RequestID         string            // client-supplied request identifier
	TransportMetadata map[string]string // HTTP headers of interest plus remote_addr and user_agent
}

// CallHook provides observability callpoints around client calls. For
// streaming calls OnCallEnd runs when the stream is closed.
type CallHook interface {
	OnCallStart(ctx context.Context, info CallInfo) (context.Context, HookToken)
	OnCallEnd(ctx context.Context, token HookToken, info CallInfo, stats *CallStatistics, err error)
}

// CallInfo carries method metadata passed to client hooks. Header holds the
// outgoing request headers; hooks may add to it, e.g. for trace propagation.
type CallInfo struct {
	Method     string
	MethodType string
	JobID      string
	RequestID  string
	URL        string
	Header     http.Header
}

// CallStatistics holds per-call I/O counters. On the client, output counts
// what was received; chunk and data byte totals are only set for streams.
type CallStatistics struct {
	InputBatches  int64
	OutputBatches int64
	InputRows     int64
	OutputRows    int64
	InputBytes    int64
	OutputBytes   int64
	Chunks        int64
	DataBytes     int64
}

// RecordInput records one input batch with the given row count and buffer size.
func (s *CallStatistics) RecordInput(numRows, bufferBytes int64) {
	s.InputBatches++
	s.InputRows += numRows
	s.InputBytes += bufferBytes
}

// RecordOutput records one output batch with the given row count and buffer size.
func (s *CallStatistics) RecordOutput(numRows, bufferBytes int64) {
	s.OutputBatches++
	s.OutputRows += numRows
	s.OutputBytes += bufferBytes
}

// RecordChunk records one assembled chunk of result data.
func (s *CallStatistics) RecordChunk(dataBytes int) {
	s.Chunks++
	s.DataBytes += int64(dataBytes)
}

// batchBufferSize returns the total top-level buffer size in bytes across all
// columns in a record batch.
func batchBufferSize(batch arrow.RecordBatch) int64 {
	var total int64
	for i := int64(0); i < batch.NumCols(); i++ {
		col := batch.Column(int(i))
		for _, buf := range col.Data().Buffers() {
			if buf != nil {
				total += int64(buf.Len())
			}
		}
	}
	return total
}
