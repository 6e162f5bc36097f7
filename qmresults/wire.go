// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"fmt"
	"io"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

// Request represents a parsed request from the wire.
type Request struct {
	Method    string
	Version   string
	RequestID string
	LogLevel  string
	Batch     arrow.RecordBatch
	Metadata  map[string]string
}

// ReadRequest reads one complete IPC stream from the reader and extracts
// the method name, version, and parameter values from the first batch.
func ReadRequest(r io.Reader) (*Request, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}

	batch := reader.RecordBatch()
	batch.Retain()

	var meta arrow.Metadata
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		meta = rb.Metadata()
	}

	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    "ProtocolError",
			Message: "Missing 'qm.method' in request batch custom_metadata",
		}
	}

	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    "VersionError",
			Message: "Missing 'qm.request_version' in request batch custom_metadata",
		}
	}
	if version != ProtocolVersion {
		batch.Release()
		return nil, &RpcError{
			Type:    "VersionError",
			Message: fmt.Sprintf("Unsupported request version %q, expected %q", version, ProtocolVersion),
		}
	}

	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		batch.Release()
		return nil, &RpcError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("Expected 1 row in request batch, got %d", batch.NumRows()),
		}
	}

	requestID, _ := meta.GetValue(MetaRequestID)
	logLevel, _ := meta.GetValue(MetaLogLevel)

	for reader.Next() {
		// drain to EOS
	}

	metaMap := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		metaMap[meta.Keys()[i]] = meta.Values()[i]
	}

	return &Request{
		Method:    method,
		Version:   version,
		RequestID: requestID,
		LogLevel:  logLevel,
		Batch:     batch,
		Metadata:  metaMap,
	}, nil
}

// writeRequest writes a complete request IPC stream: one parameter row
// carrying the method, version, request ID and log level.
func writeRequest(w io.Writer, method, requestID string, logLevel LogLevel, params any) error {
	schema, err := structToSchema(reflect.TypeOf(params))
	if err != nil {
		return fmt.Errorf("request schema for %s: %w", method, err)
	}
	batch, err := encodeRows(schema, params)
	if err != nil {
		return fmt.Errorf("request params for %s: %w", method, err)
	}
	defer batch.Release()

	meta := arrow.NewMetadata(
		[]string{MetaMethod, MetaRequestVersion, MetaRequestID, MetaLogLevel},
		[]string{method, ProtocolVersion, requestID, string(logLevel)},
	)
	withMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), batch.NumRows(), meta)
	defer withMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(withMeta); err != nil {
		return err
	}
	return writer.Close()
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = makeEmptyArray(mem, f.Type)
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// makeEmptyArray creates a zero-length array of the given type.
func makeEmptyArray(mem memory.Allocator, dt arrow.DataType) arrow.Array {
	builder := array.NewBuilder(mem, dt)
	defer builder.Release()
	return builder.NewArray()
}

// writeMetaBatch writes a zero-row batch that carries only metadata.
func writeMetaBatch(w *ipc.Writer, schema *arrow.Schema, keys, vals []string, serverID, requestID string) error {
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}

	batch := emptyBatch(schema)
	defer batch.Release()

	withMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0, arrow.NewMetadata(keys, vals))
	defer withMeta.Release()

	return w.Write(withMeta)
}

// writeLogBatch writes a zero-row batch with log metadata.
func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}

	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

// writeErrorBatch writes a zero-row batch with EXCEPTION-level metadata.
func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID, requestID string, debug bool) error {
	keys := []string{MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(LogException), err.Error(), buildErrorExtra(err, debug)}
	return writeMetaBatch(w, schema, keys, vals, serverID, requestID)
}

// WriteUnaryResponse writes a complete IPC stream containing log batches
// followed by a result batch.
func WriteUnaryResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage,
	result arrow.RecordBatch, serverID, requestID string) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()

	for _, logMsg := range logs {
		if err := writeLogBatch(writer, schema, logMsg, serverID, requestID); err != nil {
			return fmt.Errorf("writing log batch: %w", err)
		}
	}
	return writer.Write(result)
}

// WriteErrorResponse writes a complete IPC stream of logs followed by an
// error batch.
func WriteErrorResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage, err error, serverID, requestID string, debug bool) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()

	for _, logMsg := range logs {
		if werr := writeLogBatch(writer, schema, logMsg, serverID, requestID); werr != nil {
			return fmt.Errorf("writing log batch: %w", werr)
		}
	}
	return writeErrorBatch(writer, schema, err, serverID, requestID, debug)
}

// logBatch reports whether batch is a log or error batch, returning the
// message it carries.
func logBatch(batch arrow.RecordBatch) (LogMessage, string, bool) {
	rb, ok := batch.(arrow.RecordBatchWithMetadata)
	if !ok || batch.NumRows() != 0 {
		return LogMessage{}, "", false
	}
	meta := rb.Metadata()
	level, ok := meta.GetValue(MetaLogLevel)
	if !ok {
		return LogMessage{}, "", false
	}
	msg, _ := meta.GetValue(MetaLogMessage)
	extra, _ := meta.GetValue(MetaLogExtra)
	lm := LogMessage{Level: LogLevel(level), Message: msg}
	if extra != "" && LogLevel(level) != LogException {
		_ = json.Unmarshal([]byte(extra), &lm.Extras)
	}
	return lm, extra, true
}
