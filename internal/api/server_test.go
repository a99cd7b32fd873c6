package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/dsplatform/internal/engine"
	"github.com/seantiz/dsplatform/internal/registry"
	"github.com/seantiz/dsplatform/internal/runtime/fake"
	"github.com/seantiz/dsplatform/internal/store"
)

var allImages = []string{"grafana/k6:0.54.0", "gaiaadm/pumba:0.10.0", "gaiadocker/iproute2"}

// testClock is a settable clock so TTL expiry can be driven from tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	rt      *fake.Runtime
	eng     *engine.Engine
	journal *store.SQLiteStore
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, fake.WithImages(allImages...))
}

// newTestEnvWith builds an environment whose fake runtime is configured by
// exactly rtOpts.
func newTestEnvWith(t *testing.T, rtOpts ...fake.Option) *testEnv {
	t.Helper()

	journal, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	rt := fake.New(rtOpts...)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := engine.DefaultOptions()
	opts.Now = clock.Now

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(rt, registry.New(), logger, opts, journal)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		eng.Shutdown(ctx)
	})

	srv := NewServer(":0", eng, journal, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, rt: rt, eng: eng, journal: journal, clock: clock}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	var seen string
	env.srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	})

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/test", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", seen)
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	resp := env.get(t, "/panic")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/traffic/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	journal, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer journal.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(fake.New(), registry.New(), logger, engine.DefaultOptions())
	srv := NewServer("127.0.0.1:0", eng, journal, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
