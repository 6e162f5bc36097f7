// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package qmresults

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Client talks to a result server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	logLevel   LogLevel
	hook       CallHook
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every call.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientLogger sets the logger that server log messages are re-emitted on.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithCallTimeout bounds each remote call. Streams are bounded from the
// request until they are closed.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogLevel sets the lowest server log level the client asks for.
func WithClientLogLevel(l LogLevel) ClientOption {
	return func(c *Client) { c.logLevel = l }
}

// WithCallHook installs a hook around every call.
func WithCallHook(h CallHook) ClientOption {
	return func(c *Client) { c.hook = h }
}

// NewClient creates a client for the server whose methods live under
// baseURL, e.g. "http://localhost:8080/qm".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		logLevel:   LogInfo,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = loggerOrDefault(c.logger)
	c.timeout = effectiveTimeout(c.timeout)
	return c
}

// SetCallHook installs a hook around every call.
func (c *Client) SetCallHook(h CallHook) { c.hook = h }

// Describe asks the server for its methods and capabilities.
func (c *Client) Describe(ctx context.Context) (*Description, error) {
	d := &Description{Methods: map[string]string{}, Capabilities: NewCapabilities()}
	err := c.unary(ctx, methodDescribe, "", struct{}{}, d.applyDescribeBatch)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Capabilities returns what the server advertises. A server that cannot
// describe itself advertises nothing.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	d, err := c.Describe(ctx)
	var ce *ConnectionError
	if errors.As(err, &ce) && ce.Unimplemented {
		return NewCapabilities(), nil
	}
	if err != nil {
		return Capabilities{}, err
	}
	return d.Capabilities, nil
}

// Job returns the Service for one job.
func (c *Client) Job(jobID string) *JobService {
	return &JobService{c: c, jobID: jobID}
}

// call is one in-flight remote call and its hook state.
type call struct {
	c          *Client
	ctx        context.Context
	info       CallInfo
	token      HookToken
	hookActive bool
	stats      CallStatistics
	endOnce    sync.Once
}

func (cl *call) end(err error) {
	cl.endOnce.Do(func() {
		if !cl.hookActive {
			return
		}
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("call hook end panic", "err", rv)
			}
		}()
		cl.c.hook.OnCallEnd(cl.ctx, cl.token, cl.info, &cl.stats, err)
	})
}

// post sends a request and returns the response once its status has been
// checked. The caller owns the response body.
func (c *Client) post(ctx context.Context, method, methodType, jobID string, params any) (*call, *http.Response, error) {
	cl := &call{c: c, ctx: ctx, info: CallInfo{
		Method:     method,
		MethodType: methodType,
		JobID:      jobID,
		RequestID:  uuid.NewString(),
		URL:        c.baseURL + "/" + method,
		Header:     http.Header{},
	}}
	if c.hook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					slog.Error("call hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, cl.token = c.hook.OnCallStart(ctx, cl.info)
			if hookCtx != nil {
				cl.ctx = hookCtx
			}
			cl.hookActive = true
		}()
	}

	var body bytes.Buffer
	if err := writeRequest(&body, method, cl.info.RequestID, c.logLevel, params); err != nil {
		return cl, nil, err
	}
	cl.stats.RecordInput(1, int64(body.Len()))

	req, err := http.NewRequestWithContext(cl.ctx, http.MethodPost, cl.info.URL, &body)
	if err != nil {
		return cl, nil, &ConnectionError{Op: method, Err: err}
	}
	for k, vs := range cl.info.Header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", arrowContentType)
	req.Header.Set("Accept-Encoding", encodingZstd)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cl, nil, transportError(cl.ctx, method, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return cl, nil, &ConnectionError{Op: method, Unimplemented: true, Err: fmt.Errorf("server answered %s", resp.Status)}
	}
	if ct := resp.Header.Get("Content-Type"); ct != arrowContentType {
		resp.Body.Close()
		return cl, nil, &ConnectionError{Op: method, Err: fmt.Errorf("unexpected %s response with content type %q", resp.Status, ct)}
	}
	return cl, resp, nil
}

// transportError classifies a failure to talk to the server.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Kind: TimeoutNetwork, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ConnectionError{Op: op, Err: err}
}

// responseBody undoes any content encoding of resp.
func responseBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != encodingZstd {
		return resp.Body, nil
	}
	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &zstdBody{Decoder: dec, raw: resp.Body}, nil
}

type zstdBody struct {
	*zstd.Decoder
	raw io.Closer
}

func (z *zstdBody) Close() error {
	z.Decoder.Close()
	return z.raw.Close()
}

// unary performs a request-response call, passing every data batch to
// onBatch. Server log batches are re-emitted on the client logger.
func (c *Client) unary(ctx context.Context, method, jobID string, params any, onBatch func(arrow.RecordBatch) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cl, resp, err := c.post(ctx, method, DispatchMethodUnary, jobID, params)
	defer func() { cl.end(err) }()
	if err != nil {
		return err
	}
	body, err := responseBody(resp)
	if err != nil {
		return &ConnectionError{Op: method, Err: err}
	}
	defer body.Close()

	reader, err := ipc.NewReader(body)
	if err != nil {
		return transportError(cl.ctx, method, err)
	}
	defer reader.Release()

	var remoteErr error
	for reader.Next() {
		batch := reader.RecordBatch()
		cl.stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
		if msg, extra, ok := logBatch(batch); ok {
			if msg.Level == LogException {
				if remoteErr == nil {
					remoteErr = decodeRemoteError(method, msg.Message, extra, cl.info.RequestID)
				}
				continue
			}
			msg.emit(cl.ctx, c.logger, method)
			continue
		}
		if remoteErr != nil {
			continue
		}
		if err := onBatch(batch); err != nil {
			return fmt.Errorf("decoding %s response: %w", method, err)
		}
	}
	if remoteErr != nil {
		return remoteErr
	}
	if err := reader.Err(); err != nil {
		return transportError(cl.ctx, method, err)
	}
	return nil
}

// decodeInto returns an onBatch callback that decodes rows into out, a
// pointer to a struct or to a slice of structs.
func decodeInto(out any) func(arrow.RecordBatch) error {
	return func(batch arrow.RecordBatch) error { return decodeRows(batch, out) }
}

// stream opens a chunk stream call. The call stays open, and its hook
// unfinished, until the returned stream is closed.
func (c *Client) stream(ctx context.Context, method, jobID string, params any) (ChunkStream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	cl, resp, err := c.post(ctx, method, DispatchMethodStream, jobID, params)
	if err != nil {
		cancel()
		cl.end(err)
		return nil, err
	}
	body, err := responseBody(resp)
	if err != nil {
		cancel()
		err = &ConnectionError{Op: method, Err: err}
		cl.end(err)
		return nil, err
	}
	reader, err := ipc.NewReader(body)
	if err != nil {
		body.Close()
		cancel()
		err = transportError(cl.ctx, method, err)
		cl.end(err)
		return nil, err
	}
	return &clientChunkStream{
		c:       c,
		call:    cl,
		cancel:  cancel,
		body:    body,
		reader:  reader,
		pending: map[string][]byte{},
	}, nil
}

// clientChunkStream reassembles chunk rows into whole chunks. Pieces of a
// result are concatenated until its summary row arrives.
type clientChunkStream struct {
	c       *Client
	call    *call
	cancel  context.CancelFunc
	body    io.Closer
	reader  *ipc.Reader
	rows    []chunkRow
	pending map[string][]byte
	err     error
	once    sync.Once
}

func (s *clientChunkStream) Recv() (Chunk, error) {
	method := s.call.info.Method
	for {
		if s.err != nil {
			return Chunk{}, s.err
		}
		for len(s.rows) > 0 {
			row := s.rows[0]
			s.rows = s.rows[1:]
			if !row.Summary {
				s.pending[row.OutputName] = append(s.pending[row.OutputName], row.Data...)
				continue
			}
			data := row.Data
			if p, ok := s.pending[row.OutputName]; ok {
				data = append(p, row.Data...)
				delete(s.pending, row.OutputName)
			}
			s.call.stats.RecordChunk(len(data))
			return Chunk{OutputName: row.OutputName, Data: data, CountOfItems: int(row.CountOfItems)}, nil
		}

		if !s.reader.Next() {
			switch {
			case s.reader.Err() != nil:
				s.err = transportError(s.call.ctx, method, s.reader.Err())
			case len(s.pending) > 0:
				s.err = &DataFetchingError{Details: fmt.Sprintf("stream ended inside result '%s'", sortedKeys(s.pending)[0])}
			default:
				s.err = io.EOF
			}
			continue
		}
		batch := s.reader.RecordBatch()
		s.call.stats.RecordOutput(batch.NumRows(), batchBufferSize(batch))
		if msg, extra, ok := logBatch(batch); ok {
			if msg.Level == LogException {
				s.err = decodeRemoteError(method, msg.Message, extra, s.call.info.RequestID)
			} else {
				msg.emit(s.call.ctx, s.c.logger, method)
			}
			continue
		}
		var rows []chunkRow
		if err := decodeRows(batch, &rows); err != nil {
			s.err = &DataFetchingError{Details: fmt.Sprintf("malformed chunk batch: %v", err)}
			continue
		}
		s.rows = rows
	}
}

func (s *clientChunkStream) Close() error {
	var err error
	s.once.Do(func() {
		s.reader.Release()
		err = s.body.Close()
		s.cancel()
		endErr := s.err
		if endErr == io.EOF {
			endErr = nil
		}
		s.call.end(endErr)
	})
	return err
}

// JobService is the HTTP-backed Service for one job.
type JobService struct {
	c     *Client
	jobID string
}

var _ Service = (*JobService)(nil)

func (j *JobService) JobID() string { return j.jobID }

func (j *JobService) JobResultSchema(ctx context.Context) ([]*ResultItemSchema, error) {
	var rows []schemaRow
	if err := j.c.unary(ctx, methodJobResultSchema, j.jobID, jobParams{JobID: j.jobID}, decodeInto(&rows)); err != nil {
		return nil, err
	}
	items := make([]*ResultItemSchema, len(rows))
	for i, r := range rows {
		items[i] = &ResultItemSchema{
			Name:            r.Name,
			DtypeDescriptor: r.Dtype,
			Shape:           r.Shape,
			IsSingle:        r.IsSingle,
			ExpectedCount:   int(r.ExpectedCount),
		}
	}
	return items, nil
}

func (j *JobService) NamedHeader(ctx context.Context, name string, flatStruct bool) (NamedResultHeader, error) {
	var rows []headerRow
	p := namedHeaderParams{JobID: j.jobID, Name: name, FlatStruct: flatStruct}
	if err := j.c.unary(ctx, methodNamedHeader, j.jobID, p, decodeInto(&rows)); err != nil {
		return NamedResultHeader{}, err
	}
	if len(rows) != 1 {
		return NamedResultHeader{}, &DataFetchingError{Details: fmt.Sprintf("expected one header for '%s', got %d", name, len(rows))}
	}
	return rows[0].header(), nil
}

// NamedHeaders returns headers keyed by name. Names the job does not have
// are absent from the result.
func (j *JobService) NamedHeaders(ctx context.Context, flatStruct map[string]bool) (map[string]NamedResultHeader, error) {
	p := namedHeadersParams{JobID: j.jobID, Names: sortedKeys(flatStruct)}
	for _, name := range p.Names {
		p.FlatStruct = append(p.FlatStruct, flatStruct[name])
	}
	var rows []headerRow
	if err := j.c.unary(ctx, methodNamedHeaders, j.jobID, p, decodeInto(&rows)); err != nil {
		return nil, err
	}
	out := make(map[string]NamedResultHeader, len(rows))
	for _, r := range rows {
		out[r.Name] = r.header()
	}
	return out, nil
}

func (j *JobService) JobState(ctx context.Context) (JobStreamingState, error) {
	var rows []jobStateRow
	if err := j.c.unary(ctx, methodJobState, j.jobID, jobParams{JobID: j.jobID}, decodeInto(&rows)); err != nil {
		return JobStreamingState{}, err
	}
	if len(rows) != 1 {
		return JobStreamingState{}, &DataFetchingError{Details: fmt.Sprintf("expected one job state row, got %d", len(rows))}
	}
	r := rows[0]
	return JobStreamingState{JobID: j.jobID, Done: r.Done, Closed: r.Closed, HasDataloss: r.HasDataloss}, nil
}

func (j *JobService) ProgramMetadata(ctx context.Context) (ProgramMetadata, error) {
	var rows []programMetadataRow
	if err := j.c.unary(ctx, methodProgramMetadata, j.jobID, jobParams{JobID: j.jobID}, decodeInto(&rows)); err != nil {
		return ProgramMetadata{}, err
	}
	var meta ProgramMetadata
	if len(rows) == 0 || rows[0].Metadata == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(rows[0].Metadata), &meta); err != nil {
		return ProgramMetadata{}, &DataFetchingError{Details: fmt.Sprintf("program metadata: %v", err)}
	}
	return meta, nil
}

func (j *JobService) NamedResult(ctx context.Context, name string, offset, limit int) (ChunkStream, error) {
	p := namedResultParams{JobID: j.jobID, Name: name, Offset: int64(offset), Limit: int64(limit)}
	return j.c.stream(ctx, methodNamedResult, j.jobID, p)
}

// NamedResults streams several ranges in one call. The wire carries
// inclusive upper bounds.
func (j *JobService) NamedResults(ctx context.Context, ranges map[string]FetchRange) (ChunkStream, error) {
	p := namedResultsParams{JobID: j.jobID, Names: sortedKeys(ranges)}
	for _, name := range p.Names {
		r := ranges[name]
		p.RangeFrom = append(p.RangeFrom, int64(r.Start))
		p.RangeTo = append(p.RangeTo, int64(r.Stop-1))
	}
	return j.c.stream(ctx, methodNamedResults, j.jobID, p)
}
