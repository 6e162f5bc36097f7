package qmresults_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Query-farm/qmresults/conformance"
	"github.com/Query-farm/qmresults/qmresults"
)

// plainTransport refuses compressed responses.
type plainTransport struct{}

func (plainTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Del("Accept-Encoding")
	return http.DefaultTransport.RoundTrip(r)
}

type serverSetup struct {
	name      string
	legacy    bool
	zstd      bool
	pieceSize int
}

var setups = []serverSetup{
	{name: "chunked", zstd: true},
	{name: "chunked/plain/small pieces", pieceSize: 8},
	{name: "legacy", legacy: true, zstd: true},
	{name: "legacy/plain", legacy: true, pieceSize: 8},
}

func startDemo(t *testing.T, s serverSetup) *qmresults.Client {
	t.Helper()
	server := qmresults.NewServer()
	server.SetServerID("test-" + s.name)
	if s.pieceSize > 0 {
		server.SetPieceSize(s.pieceSize)
	}
	var opts []qmresults.SourceOption
	if s.legacy {
		opts = append(opts, qmresults.WithLegacyProtocol())
	}
	qmresults.RegisterResultSource(server, conformance.NewDemoStore(), opts...)
	ts := httptest.NewServer(qmresults.NewHttpServer(server))
	t.Cleanup(ts.Close)

	hc := ts.Client()
	if !s.zstd {
		hc = &http.Client{Transport: plainTransport{}}
	}
	return qmresults.NewClient(ts.URL+"/qm", qmresults.WithHTTPClient(hc), qmresults.WithCallTimeout(10*time.Second))
}

func openJob(t *testing.T, c *qmresults.Client, jobID string) *qmresults.Manager {
	t.Helper()
	ctx := context.Background()
	caps, err := c.Capabilities(ctx)
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	m, err := qmresults.NewManager(ctx, c.Job(jobID), caps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func fetch(t *testing.T, m *qmresults.Manager, name string, sel qmresults.Selector) *qmresults.Array {
	t.Helper()
	f, ok := m.Get(name)
	if !ok {
		t.Fatalf("no result %q", name)
	}
	arr, err := f.Fetch(context.Background(), sel)
	if err != nil {
		t.Fatalf("Fetch(%s, %s): %v", name, sel, err)
	}
	return arr
}

func TestDemoJob(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			c := startDemo(t, s)
			m := openJob(t, c, conformance.DemoJobID)
			_, hasMulti := m.Multi()
			if hasMulti == s.legacy {
				t.Fatalf("multi fetcher present=%v on legacy=%v server", hasMulti, s.legacy)
			}

			counts := fetch(t, m, "counts", qmresults.All())
			if diff := cmp.Diff([]int{5}, counts.Shape()); diff != "" {
				t.Errorf("counts shape (-want +got):\n%s", diff)
			}
			ints, _ := counts.Int64s()
			if diff := cmp.Diff([]int64{0, 10, 20, 30, 40}, ints); diff != "" {
				t.Errorf("counts (-want +got):\n%s", diff)
			}

			part := fetch(t, m, "I", qmresults.Range(1, 3))
			floats, _ := part.Float64s()
			if diff := cmp.Diff([]float64{0.5, 0.75}, floats); diff != "" {
				t.Errorf("I[1:3] (-want +got):\n%s", diff)
			}

			last := fetch(t, m, "I", qmresults.Index(3))
			if v, _ := last.Item(); v != 1.0 {
				t.Errorf("I[3] = %v, want 1", v)
			}

			avg := fetch(t, m, "avg", qmresults.Index(0))
			if v, _ := avg.Item(); v != 0.5 {
				t.Errorf("avg = %v, want 0.5", v)
			}

			image := fetch(t, m, "image", qmresults.All())
			if diff := cmp.Diff([]int{2, 2, 2}, image.Shape()); diff != "" {
				t.Errorf("image shape (-want +got):\n%s", diff)
			}
			floats, _ = image.Float64s()
			if diff := cmp.Diff([]float64{1, 2, 3, 4, 5, 6, 7, 8}, floats); diff != "" {
				t.Errorf("image (-want +got):\n%s", diff)
			}

			state, _ := fetch(t, m, "state", qmresults.All()).Tolist()
			wantState := []any{
				map[string]any{"value": 0.1, "timestamp": int64(1000)},
				map[string]any{"value": 0.2, "timestamp": int64(2000)},
				map[string]any{"value": 0.3, "timestamp": int64(3000)},
			}
			if diff := cmp.Diff(wantState, state); diff != "" {
				t.Errorf("state (-want +got):\n%s", diff)
			}

			adc, _ := fetch(t, m, "adc", qmresults.From(1)).Tolist()
			wantADC := []any{
				map[string]any{"value": int64(8), "timestamp": int64(200)},
				map[string]any{"value": int64(9), "timestamp": int64(300)},
			}
			if diff := cmp.Diff(wantADC, adc); diff != "" {
				t.Errorf("adc (-want +got):\n%s", diff)
			}

			flags := fetch(t, m, "flags", qmresults.All())
			bools, _ := flags.Bools()
			if diff := cmp.Diff([]bool{true, false, true, true}, bools); diff != "" {
				t.Errorf("flags (-want +got):\n%s", diff)
			}

			done, err := m.WaitForAllValues(context.Background(), time.Second)
			if err != nil || !done {
				t.Errorf("WaitForAllValues = (%v, %v), want (true, nil)", done, err)
			}
		})
	}
}

func TestFetchResultsOverHTTP(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			m := openJob(t, startDemo(t, s), conformance.DemoJobID)
			got, err := m.FetchResults(context.Background(), qmresults.FetchRequest{
				WaitUntilDone: true,
				Timeout:       5 * time.Second,
				Names:         []string{"counts", "avg", "I"},
			})
			if err != nil {
				t.Fatalf("FetchResults: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 results, got %d", len(got))
			}
			ints, _ := got["counts"].Int64s()
			if diff := cmp.Diff([]int64{0, 10, 20, 30, 40}, ints); diff != "" {
				t.Errorf("counts (-want +got):\n%s", diff)
			}
			if v, _ := got["avg"].Item(); v != 0.5 {
				t.Errorf("avg = %v, want 0.5", v)
			}
		})
	}
}

func TestMultiFetch(t *testing.T) {
	m := openJob(t, startDemo(t, setups[1]), conformance.DemoJobID)
	multi, ok := m.Multi()
	if !ok {
		t.Fatalf("expected a multi fetcher")
	}
	got, err := multi.Fetch(context.Background(), map[string]qmresults.Selector{
		"counts": qmresults.Range(1, 3),
		"I":      qmresults.Index(0),
		"image":  qmresults.Range(1, 1),
	}, qmresults.FlatNone)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ints, _ := got["counts"].Int64s()
	if diff := cmp.Diff([]int64{10, 20}, ints); diff != "" {
		t.Errorf("counts (-want +got):\n%s", diff)
	}
	if v, _ := got["I"].Item(); v != 0.25 {
		t.Errorf("I[0] = %v, want 0.25", v)
	}
	if n := got["image"].Len(); n != 0 {
		t.Errorf("image[1:1] has %d items, want 0", n)
	}
}

func TestLossyJob(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			m := openJob(t, startDemo(t, s), conformance.LossyJobID)
			f, _ := m.Get("counts")
			_, err := f.FetchAll(context.Background())
			if !errors.Is(err, qmresults.ErrDataLoss) {
				t.Fatalf("expected data loss, got %v", err)
			}
		})
	}
}

func TestFailedJob(t *testing.T) {
	m := openJob(t, startDemo(t, setups[0]), conformance.FailedJobID)
	done, err := m.WaitForAllValues(context.Background(), time.Second)
	if err != nil || done {
		t.Fatalf("WaitForAllValues = (%v, %v), want (false, nil)", done, err)
	}
	f, _ := m.Get("counts")
	if _, err := f.StreamMetadata(); !errors.Is(err, qmresults.ErrInvalidStreamMetadata) {
		t.Fatalf("expected invalid stream metadata, got %v", err)
	}
	processing, err := f.IsProcessing(context.Background())
	if err != nil || processing {
		t.Fatalf("IsProcessing = (%v, %v), want (false, nil)", processing, err)
	}
}

func TestRunningJob(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			m := openJob(t, startDemo(t, s), conformance.RunningJobID)
			f, _ := m.Get("counts")
			if err := f.WaitForValues(context.Background(), 2, time.Second); err != nil {
				t.Fatalf("WaitForValues(2): %v", err)
			}
			err := f.WaitForValues(context.Background(), 5, 50*time.Millisecond)
			var te *qmresults.TimeoutError
			if !errors.As(err, &te) || te.Kind != qmresults.TimeoutWait {
				t.Fatalf("expected wait timeout, got %v", err)
			}
			processing, err := m.IsProcessing(context.Background())
			if err != nil || !processing {
				t.Fatalf("IsProcessing = (%v, %v), want (true, nil)", processing, err)
			}
		})
	}
}

func TestStreamMetadataOverHTTP(t *testing.T) {
	m := openJob(t, startDemo(t, setups[0]), conformance.DemoJobID)
	f, _ := m.Get("counts")
	meta, err := f.StreamMetadata()
	if err != nil {
		t.Fatalf("StreamMetadata: %v", err)
	}
	if meta == nil || len(meta.Iterations) != 1 || meta.Iterations[0].Variable != "n" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestLegacyServerLacksJobState(t *testing.T) {
	c := startDemo(t, setups[2])
	_, err := c.Job(conformance.DemoJobID).JobState(context.Background())
	var ce *qmresults.ConnectionError
	if !errors.As(err, &ce) || !ce.Unimplemented {
		t.Fatalf("expected unimplemented ConnectionError, got %v", err)
	}
	caps, err := c.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps.Supports(qmresults.CapJobStreamingState) {
		t.Fatalf("legacy server advertises job state")
	}
}

func TestUnknownResultName(t *testing.T) {
	c := startDemo(t, setups[0])
	_, err := c.Job(conformance.DemoJobID).NamedHeader(context.Background(), "nope", false)
	if !errors.Is(err, qmresults.ErrSchema) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	c := startDemo(t, setups[0])
	d, err := c.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.ServerID != "test-chunked" {
		t.Errorf("server id = %q", d.ServerID)
	}
	for _, name := range []string{qmresults.CapMultipleStreamsFetching, qmresults.CapJobStreamingState, qmresults.CapChunkStreaming} {
		if !d.Capabilities.Supports(name) {
			t.Errorf("capability %s missing", name)
		}
	}
}

// stallSource holds back item reads until the request is abandoned.
type stallSource struct {
	*conformance.Store
}

func (s stallSource) ReadItems(ctx context.Context, jobID, name string, offset, limit int) ([]byte, int, error) {
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	return s.Store.ReadItems(ctx, jobID, name, offset, limit)
}

func TestFetchResultsTimeoutOverHTTP(t *testing.T) {
	for _, s := range []serverSetup{setups[0], setups[2]} {
		t.Run(s.name, func(t *testing.T) {
			server := qmresults.NewServer()
			var opts []qmresults.SourceOption
			if s.legacy {
				opts = append(opts, qmresults.WithLegacyProtocol())
			}
			qmresults.RegisterResultSource(server, stallSource{conformance.NewDemoStore()}, opts...)
			ts := httptest.NewServer(qmresults.NewHttpServer(server))
			t.Cleanup(ts.Close)
			m := openJob(t, qmresults.NewClient(ts.URL+"/qm"), conformance.DemoJobID)

			start := time.Now()
			_, err := m.FetchResults(context.Background(), qmresults.FetchRequest{
				Names:   []string{"counts"},
				Timeout: 100 * time.Millisecond,
			})
			var te *qmresults.TimeoutError
			if !errors.As(err, &te) || te.Kind != qmresults.TimeoutNetwork {
				t.Fatalf("expected network timeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("fetch ran for %v despite the timeout", elapsed)
			}
		})
	}
}

func TestIndexedValuePairsWithItsTimestamp(t *testing.T) {
	m := openJob(t, startDemo(t, setups[0]), conformance.DemoJobID)
	got, _ := fetch(t, m, "adc", qmresults.Index(2)).Tolist()
	want := []any{map[string]any{"value": int64(9), "timestamp": int64(300)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("adc[2] (-want +got):\n%s", diff)
	}
}
