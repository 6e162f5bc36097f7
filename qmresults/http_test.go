package qmresults_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Query-farm/qmresults/conformance"
	"github.com/Query-farm/qmresults/qmresults"
)

func TestLandingPage(t *testing.T) {
	server := qmresults.NewServer()
	server.SetServerID("pages")
	qmresults.RegisterResultSource(server, conformance.NewStore())
	ts := httptest.NewServer(qmresults.NewHttpServer(server))
	defer ts.Close()

	for _, path := range []string{"/qm", "/qm/"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		page := string(body)
		for _, want := range []string{"get_named_results", "job_id", qmresults.CapChunkStreaming, "pages"} {
			if !strings.Contains(page, want) {
				t.Errorf("GET %s: page lacks %q", path, want)
			}
		}
	}
}

func TestPostRequiresArrowBody(t *testing.T) {
	server := qmresults.NewServer()
	qmresults.RegisterResultSource(server, conformance.NewStore())
	ts := httptest.NewServer(qmresults.NewHttpServer(server))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/qm/get_job_state", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want 415", resp.StatusCode)
	}
}
