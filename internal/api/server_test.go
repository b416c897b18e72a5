package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/rollout/internal/engine"
	"github.com/seantiz/rollout/internal/workunit"
	"github.com/seantiz/rollout/pkg/objstore"
)

// gatedUnit blocks every invocation until release is closed, then emits the
// configured log lines and returns a one-step rollout.
type gatedUnit struct {
	release chan struct{}
	once    sync.Once
	lines   []string
}

func newGatedUnit(lines ...string) *gatedUnit {
	return &gatedUnit{release: make(chan struct{}), lines: lines}
}

func (g *gatedUnit) Run(ctx context.Context, inv *workunit.Invocation) (*workunit.Output, error) {
	<-g.release
	for _, l := range g.lines {
		inv.Logf("%s", l)
	}
	return workunit.Rollout([]any{inv.Payload.String("prompt")}, 1), nil
}

func (g *gatedUnit) Kind() string { return "gated" }

func (g *gatedUnit) open() { g.once.Do(func() { close(g.release) }) }

func newTestServerWith(t *testing.T, unit any, s objstore.Store) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(workunit.MustNew(unit), s, logger, engine.Options{})
	t.Cleanup(eng.Wait)
	return NewServer(":0", eng, logger)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, func(p workunit.Payload) (*workunit.Output, error) {
		return workunit.Rollout([]any{p.String("prompt")}, 1), nil
	}, objstore.NewMemoryStore())
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t)
	var reqID string
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		reqID = middleware.GetReqID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	req.Header.Set("X-Request-Id", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if reqID != "req-123" {
		t.Errorf("request id = %q, want %q", reqID, "req-123")
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/invocations", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /invocations: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}
