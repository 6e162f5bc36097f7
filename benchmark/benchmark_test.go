package benchmark

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Query-farm/qmresults/qmresults"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newManager(b *testing.B, url string) *qmresults.Manager {
	b.Helper()
	ctx := context.Background()
	client := qmresults.NewClient(url+"/qm", qmresults.WithClientLogger(quietLogger()))
	caps, err := client.Capabilities(ctx)
	if err != nil {
		b.Fatalf("capabilities: %v", err)
	}
	mgr, err := qmresults.NewManager(ctx, client.Job(JobID), caps, qmresults.WithLogger(quietLogger()))
	if err != nil {
		b.Fatalf("manager: %v", err)
	}
	return mgr
}

func benchmarkFetch(b *testing.B, legacy bool, pieceSize int, name string) {
	store, err := NewStore(4096)
	if err != nil {
		b.Fatalf("store: %v", err)
	}
	srv := StartServer(store, legacy, pieceSize)
	defer srv.Close()
	mgr := newManager(b, srv.URL)
	f, _ := mgr.Get(name)

	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		arr, err := f.FetchAll(ctx)
		if err != nil {
			b.Fatalf("fetch: %v", err)
		}
		b.SetBytes(int64(len(arr.Bytes())))
	}
}

func BenchmarkFetchScalarsChunked(b *testing.B) { benchmarkFetch(b, false, 0, Scalars) }
func BenchmarkFetchScalarsLegacy(b *testing.B)  { benchmarkFetch(b, true, 0, Scalars) }
func BenchmarkFetchTracesChunked(b *testing.B)  { benchmarkFetch(b, false, 0, Traces) }
func BenchmarkFetchTracesSmallPieces(b *testing.B) {
	benchmarkFetch(b, false, 4<<10, Traces)
}

func BenchmarkFetchResultsMulti(b *testing.B) {
	store, err := NewStore(4096)
	if err != nil {
		b.Fatalf("store: %v", err)
	}
	srv := StartServer(store, false, 0)
	defer srv.Close()
	mgr := newManager(b, srv.URL)

	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		res, err := mgr.FetchResults(ctx, qmresults.FetchRequest{})
		if err != nil {
			b.Fatalf("fetch results: %v", err)
		}
		if len(res) != 2 {
			b.Fatalf("expected 2 results, got %d", len(res))
		}
	}
}

func BenchmarkAssemble(b *testing.B) {
	store, err := NewStore(4096)
	if err != nil {
		b.Fatalf("store: %v", err)
	}
	ctx := context.Background()
	h, err := store.NamedHeader(ctx, JobID, Traces, false)
	if err != nil {
		b.Fatalf("header: %v", err)
	}
	data, count, err := store.ReadItems(ctx, JobID, Traces, 0, h.CountSoFar)
	if err != nil {
		b.Fatalf("read: %v", err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := qmresults.Assemble(count, h, JobID, data); err != nil {
			b.Fatalf("assemble: %v", err)
		}
	}
}
