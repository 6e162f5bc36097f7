// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// MethodType identifies how a registered method is dispatched.
type MethodType int

const (
	// MethodUnary identifies a request-response method.
	MethodUnary MethodType = iota
	// MethodChunkStream identifies a method that streams result chunks.
	MethodChunkStream
)

// methodInfo stores the registration details for one method.
type methodInfo struct {
	Name         string
	Type         MethodType
	ParamsType   reflect.Type
	ResultType   reflect.Type
	ParamsSchema *arrow.Schema
	ResultSchema *arrow.Schema
	Handler      reflect.Value
}

// Server dispatches incoming requests to registered methods.
type Server struct {
	methods      map[string]*methodInfo
	capabilities []string
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	debugErrors  bool
	chunked      bool
	pieceSize    int
}

// NewServer creates a new server.
func NewServer() *Server {
	return &Server{
		methods: make(map[string]*methodInfo),
	}
}

// SetServerID sets a server identifier included in response metadata.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetDebugErrors controls whether error responses include stack traces.
func (s *Server) SetDebugErrors(enabled bool) {
	s.debugErrors = enabled
}

// Advertise adds capabilities reported by __describe__. Advertising
// CapChunkStreaming also switches result streams to pieces and summaries.
func (s *Server) Advertise(caps ...string) {
	for _, c := range caps {
		if !slices.Contains(s.capabilities, c) {
			s.capabilities = append(s.capabilities, c)
		}
		if c == CapChunkStreaming {
			s.chunked = true
		}
	}
	slices.Sort(s.capabilities)
}

// Capabilities lists the advertised capabilities.
func (s *Server) Capabilities() []string { return slices.Clone(s.capabilities) }

// SetPieceSize sets the largest data piece sent under chunk streaming.
func (s *Server) SetPieceSize(n int) { s.pieceSize = n }

// Unary registers a request-response method. P must be a struct with `qm`
// tags. R is a struct, sent as one row, or a slice of structs, one row each.
func Unary[P any, R any](s *Server, name string, handler func(context.Context, *CallContext, P) (R, error)) {
	var p P
	var r R
	paramsType := reflect.TypeOf(p)
	resultType := reflect.TypeOf(r)

	paramsSchema, err := structToSchema(paramsType)
	if err != nil {
		panic(fmt.Sprintf("qmresults: registering %q: invalid params type %T: %v", name, p, err))
	}
	rowT, _ := rowType(resultType)
	resultSchema, err := structToSchema(rowT)
	if err != nil {
		panic(fmt.Sprintf("qmresults: registering %q: invalid result type %T: %v", name, r, err))
	}

	s.methods[name] = &methodInfo{
		Name:         name,
		Type:         MethodUnary,
		ParamsType:   paramsType,
		ResultType:   resultType,
		ParamsSchema: paramsSchema,
		ResultSchema: resultSchema,
		Handler:      reflect.ValueOf(handler),
	}
}

// StreamMethod registers a method that streams result chunks through a
// [ChunkWriter].
func StreamMethod[P any](s *Server, name string, handler func(context.Context, *CallContext, P, *ChunkWriter) error) {
	var p P
	paramsType := reflect.TypeOf(p)
	paramsSchema, err := structToSchema(paramsType)
	if err != nil {
		panic(fmt.Sprintf("qmresults: registering %q: invalid params type %T: %v", name, p, err))
	}

	s.methods[name] = &methodInfo{
		Name:         name,
		Type:         MethodChunkStream,
		ParamsType:   paramsType,
		ParamsSchema: paramsSchema,
		ResultSchema: chunkSchema,
		Handler:      reflect.ValueOf(handler),
	}
}

// hookStart runs the dispatch hook's start callback, if any. A panicking
// hook is logged and ignored.
func (s *Server) hookStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken, bool) {
	if s.dispatchHook == nil {
		return ctx, nil, false
	}
	var token HookToken
	active := false
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch hook start panic", "err", rv)
			}
		}()
		var hookCtx context.Context
		hookCtx, token = s.dispatchHook.OnDispatchStart(ctx, info)
		if hookCtx != nil {
			ctx = hookCtx
		}
		active = true
	}()
	return ctx, token, active
}

func (s *Server) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("dispatch hook end panic", "err", rv)
		}
	}()
	s.dispatchHook.OnDispatchEnd(ctx, token, info, stats, err)
}

// callHandler invokes a registered handler, turning a panic into an error.
func callHandler(handler reflect.Value, args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = &RpcError{Type: "RuntimeError", Message: fmt.Sprintf("%v", rv)}
		}
	}()
	return handler.Call(args), nil
}

// serveUnary dispatches a unary method and returns the encoded response.
// handlerErr is the application error, reported to hooks and mapped to an
// HTTP status by the transport.
func (s *Server) serveUnary(ctx context.Context, req *Request, info *methodInfo, stats *CallStatistics) (body []byte, handlerErr error) {
	var buf bytes.Buffer

	params, err := deserializeParams(req.Batch, info.ParamsType)
	if err != nil {
		handlerErr = &RpcError{Type: "TypeError", Message: fmt.Sprintf("parameter deserialization: %v", err)}
		_ = WriteErrorResponse(&buf, info.ResultSchema, nil, handlerErr, s.serverID, req.RequestID, s.debugErrors)
		return buf.Bytes(), handlerErr
	}
	stats.RecordInput(req.Batch.NumRows(), batchBufferSize(req.Batch))

	callCtx := newCallContext(ctx, s, req)
	results, callErr := callHandler(info.Handler, []reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(callCtx),
		params,
	})
	if callErr == nil && !results[1].IsNil() {
		callErr = results[1].Interface().(error)
	}

	logs := callCtx.drainLogs()
	if callErr != nil {
		if err := WriteErrorResponse(&buf, info.ResultSchema, logs, callErr, s.serverID, req.RequestID, s.debugErrors); err != nil {
			slog.Error("failed to write error response", "err", err)
		}
		return buf.Bytes(), callErr
	}

	resultBatch, err := encodeRows(info.ResultSchema, results[0].Interface())
	if err != nil {
		handlerErr = &RpcError{Type: "SerializationError", Message: fmt.Sprintf("result serialization: %v", err)}
		_ = WriteErrorResponse(&buf, info.ResultSchema, logs, handlerErr, s.serverID, req.RequestID, s.debugErrors)
		return buf.Bytes(), handlerErr
	}
	defer resultBatch.Release()

	stats.RecordOutput(resultBatch.NumRows(), batchBufferSize(resultBatch))
	if err := WriteUnaryResponse(&buf, info.ResultSchema, logs, resultBatch, s.serverID, req.RequestID); err != nil {
		return nil, &RpcError{Type: "SerializationError", Message: fmt.Sprintf("writing response: %v", err)}
	}
	return buf.Bytes(), nil
}

// serveStream dispatches a chunk stream method straight to w. Errors are
// reported inside the stream, so the response status is always success.
func (s *Server) serveStream(ctx context.Context, w io.Writer, flush func(), req *Request, info *methodInfo, stats *CallStatistics) error {
	callCtx := newCallContext(ctx, s, req)
	cw := newChunkWriter(w, flush, callCtx, stats, s.chunked, s.pieceSize)

	params, err := deserializeParams(req.Batch, info.ParamsType)
	if err != nil {
		handlerErr := &RpcError{Type: "TypeError", Message: fmt.Sprintf("parameter deserialization: %v", err)}
		cw.finish(handlerErr, s.debugErrors)
		return handlerErr
	}
	stats.RecordInput(req.Batch.NumRows(), batchBufferSize(req.Batch))

	results, callErr := callHandler(info.Handler, []reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(callCtx),
		params,
		reflect.ValueOf(cw),
	})
	if callErr == nil && !results[0].IsNil() {
		callErr = results[0].Interface().(error)
	}
	cw.finish(callErr, s.debugErrors)
	return callErr
}

// describeRow is one registered method in a __describe__ response.
type describeRow struct {
	Name       string `qm:"name"`
	MethodType string `qm:"method_type"`
}

// writeDescribe writes the __describe__ response: one row per method, with
// the capabilities in the batch metadata.
func (s *Server) writeDescribe(w io.Writer, requestID string) error {
	rows := make([]describeRow, 0, len(s.methods))
	for _, name := range s.availableMethods() {
		rows = append(rows, describeRow{Name: name, MethodType: methodTypeString(s.methods[name].Type)})
	}
	schema, err := structToSchema(reflect.TypeOf(describeRow{}))
	if err != nil {
		return err
	}
	batch, err := encodeRows(schema, rows)
	if err != nil {
		return err
	}
	defer batch.Release()

	keys := []string{MetaCapabilities}
	vals := []string{joinCapabilities(s.capabilities)}
	if s.serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, s.serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	withMeta := newBatchWithMetadata(batch, keys, vals)
	defer withMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()
	return writer.Write(withMeta)
}

func methodTypeString(t MethodType) string {
	if t == MethodUnary {
		return DispatchMethodUnary
	}
	return DispatchMethodStream
}

func (s *Server) availableMethods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
