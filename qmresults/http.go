package qmresults

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/klauspost/compress/zstd"
)

const (
	arrowContentType = "application/vnd.apache.arrow.stream"
	encodingZstd     = "zstd"
	defaultPrefix    = "/qm"
)

// propagatedHeaders are copied into DispatchInfo.TransportMetadata.
var propagatedHeaders = []string{"traceparent", "tracestate", "baggage"}

// zstdEncoder compresses whole unary bodies; EncodeAll is safe for
// concurrent use.
var zstdEncoder, _ = zstd.NewWriter(nil)

// HttpServer serves requests over HTTP: every method is a POST to
// {prefix}/{method}.
type HttpServer struct {
	server *Server
	prefix string
	mux    *http.ServeMux
}

// NewHttpServer creates an HTTP handler for server under the /qm prefix.
func NewHttpServer(server *Server) *HttpServer {
	return NewHttpServerWithPrefix(server, defaultPrefix)
}

// NewHttpServerWithPrefix creates an HTTP handler with a custom path prefix.
func NewHttpServerWithPrefix(server *Server, prefix string) *HttpServer {
	h := &HttpServer{
		server: server,
		prefix: strings.TrimSuffix(prefix, "/"),
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}", h.prefix), h.handle)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{$}", h.prefix), h.handleLandingPage)
	if h.prefix != "" {
		h.mux.HandleFunc("GET "+h.prefix, h.handleLandingPage)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HttpServer) handle(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")

	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, r, http.StatusUnsupportedMediaType,
			fmt.Errorf("unsupported content type: %s", ct), nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, err, nil)
		return
	}
	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, r, http.StatusBadRequest, err, nil)
		return
	}
	defer req.Batch.Release()

	if req.Method != method {
		h.writeHttpError(w, r, http.StatusBadRequest, &RpcError{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("request names method '%s' but was posted to '%s'", req.Method, method),
		}, nil)
		return
	}

	if method == methodDescribe {
		var buf bytes.Buffer
		if err := h.server.writeDescribe(&buf, req.RequestID); err != nil {
			h.writeHttpError(w, r, http.StatusInternalServerError, err, nil)
			return
		}
		h.writeArrow(w, r, http.StatusOK, buf.Bytes())
		return
	}

	info, ok := h.server.methods[method]
	if !ok {
		h.writeHttpError(w, r, http.StatusNotFound,
			&RpcError{Type: "NotImplementedError", Message: fmt.Sprintf("Unknown method: '%s'", method)}, nil)
		return
	}

	dispatchInfo := DispatchInfo{
		Method:            method,
		MethodType:        methodTypeString(info.Type),
		ServerID:          h.server.serverID,
		RequestID:         req.RequestID,
		TransportMetadata: transportMetadata(r),
	}
	ctx, token, hookActive := h.server.hookStart(r.Context(), dispatchInfo)
	stats := &CallStatistics{}

	var handlerErr error
	switch info.Type {
	case MethodUnary:
		var out []byte
		out, handlerErr = h.server.serveUnary(ctx, req, info, stats)
		if out == nil {
			h.writeHttpError(w, r, http.StatusInternalServerError, handlerErr, info.ResultSchema)
		} else {
			h.writeArrow(w, r, statusFor(handlerErr), out)
		}
	case MethodChunkStream:
		out, flush, done := h.streamWriter(w, r)
		handlerErr = h.server.serveStream(ctx, out, flush, req, info, stats)
		done()
	}

	if hookActive {
		h.server.hookEnd(ctx, token, dispatchInfo, stats, handlerErr)
	}
}

// streamWriter prepares a streaming response. The returned flush pushes
// everything written so far to the client; done ends the body.
func (h *HttpServer) streamWriter(w http.ResponseWriter, r *http.Request) (io.Writer, func(), func()) {
	w.Header().Set("Content-Type", arrowContentType)
	flusher, _ := w.(http.Flusher)
	flushHTTP := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if !acceptsZstd(r) {
		w.WriteHeader(http.StatusOK)
		return w, flushHTTP, func() {}
	}

	w.Header().Set("Content-Encoding", encodingZstd)
	w.WriteHeader(http.StatusOK)
	enc, err := zstd.NewWriter(w)
	if err != nil {
		slog.Error("failed to create zstd writer", "err", err)
		return w, flushHTTP, func() {}
	}
	flush := func() {
		if err := enc.Flush(); err != nil {
			slog.Debug("zstd flush failed", "err", err)
		}
		flushHTTP()
	}
	done := func() {
		if err := enc.Close(); err != nil {
			slog.Debug("zstd close failed", "err", err)
		}
		flushHTTP()
	}
	return enc, flush, done
}

// transportMetadata collects the request attributes hooks may use.
func transportMetadata(r *http.Request) map[string]string {
	md := map[string]string{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}
	for _, k := range propagatedHeaders {
		if v := r.Header.Get(k); v != "" {
			md[k] = v
		}
	}
	return md
}

func acceptsZstd(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if name == encodingZstd {
			return true
		}
	}
	return false
}

// statusFor maps a handler error to an HTTP status.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch exceptionType(err) {
	case "TypeError", "ValueError":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *HttpServer) writeHttpError(w http.ResponseWriter, r *http.Request, statusCode int, err error, schema *arrow.Schema) {
	if schema == nil {
		schema = arrow.NewSchema(nil, nil)
	}
	var buf bytes.Buffer
	_ = WriteErrorResponse(&buf, schema, nil, err, h.server.serverID, "", h.server.debugErrors)
	h.writeArrow(w, r, statusCode, buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, r *http.Request, statusCode int, data []byte) {
	w.Header().Set("Content-Type", arrowContentType)
	if acceptsZstd(r) {
		data = zstdEncoder.EncodeAll(data, nil)
		w.Header().Set("Content-Encoding", encodingZstd)
	}
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
