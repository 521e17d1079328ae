package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/config"
	"github.com/CWD273/cwiptvm3/internal/discovery"
	"github.com/CWD273/cwiptvm3/internal/scanner"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(newFakeService()), http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newTestServer(svc)
	require.Equal(t, http.StatusServiceUnavailable, serve(srv, http.MethodGet, "/readyz").Code)

	svc.setReady(true)
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/readyz").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeService())
	serve(srv, http.MethodGet, "/stream/missing")
	rec := serve(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "cwiptv_redirects_total")
}

func TestServer_StreamRedirect(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.entries["news.one"] = cache.Entry{ChannelID: "news.one", URL: "http://s07.cdn.example.tv/n1.m3u8"}
	srv := newTestServer(svc)

	for _, path := range []string{"/stream/news.one", "/stream/news.one.m3u8", "/stream/news.one.ts"} {
		rec := serve(srv, http.MethodGet, path)
		require.Equal(t, http.StatusFound, rec.Code, path)
		require.Equal(t, "http://s07.cdn.example.tv/n1.m3u8", rec.Header().Get("Location"), path)
	}

	rec := serve(srv, http.MethodGet, "/stream/sport.two")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "error")
}

func TestStreamID(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"news.one":      "news.one",
		"news.one.m3u8": "news.one",
		"news.one.ts":   "news.one",
		"a.ts.m3u8":     "a.ts",
		"":              "",
	}
	for in, want := range tests {
		assert.Equal(t, want, streamID(in), in)
	}
}

func TestServer_Playlist(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.entries["news.one"] = cache.Entry{
		ChannelID:  "news.one",
		URL:        "http://a/1",
		Name:       "News One",
		GroupTitle: "News",
		LogoURL:    "http://img.example.net/n1.png",
	}
	svc.entries["sport two"] = cache.Entry{ChannelID: "sport two", URL: "http://b/2"}

	rec := serve(newTestServer(svc), http.MethodGet, "/playlist.m3u")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "audio/x-mpegurl", rec.Header().Get("Content-Type"))
	want := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"news.one\" tvg-name=\"News One\" tvg-logo=\"http://img.example.net/n1.png\" group-title=\"News\", News One\n" +
		"http://example.com/stream/news.one\n" +
		"#EXTINF:-1 tvg-id=\"sport two\" tvg-name=\"sport two\", sport two\n" +
		"http://example.com/stream/sport%20two\n"
	require.Equal(t, want, rec.Body.String())
}

func TestServer_PlaylistUsesPublicBaseURL(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.entries["news.one"] = cache.Entry{ChannelID: "news.one", URL: "http://a/1"}
	cfg := testConfig()
	cfg.Server.PublicBaseURL = "https://tv.example.org/"

	rec := serve(NewServer(svc, cfg, zap.NewNop()), http.MethodGet, "/playlist.m3u")
	require.Contains(t, rec.Body.String(), "https://tv.example.org/stream/news.one\n")
}

func TestServer_ListAndGetChannels(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newTestServer(svc)

	rec := serve(srv, http.MethodGet, "/v1/channels")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"channels":[]}`, rec.Body.String())

	checked := time.Date(2026, 4, 12, 8, 0, 0, 0, time.UTC)
	svc.entries["news.one"] = cache.Entry{ChannelID: "news.one", URL: "http://a/1", Source: "origin", CheckedAt: checked}

	rec = serve(srv, http.MethodGet, "/v1/channels")
	var body struct {
		Channels []cache.Entry `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Channels, 1)
	assert.Equal(t, "origin", body.Channels[0].Source)

	rec = serve(srv, http.MethodGet, "/v1/channels/news.one")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"url":"http://a/1"`)

	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/channels/nope").Code)
}

func TestServer_RefreshChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "ok", status: http.StatusOK},
		{name: "unknown", err: fmt.Errorf("%w: x", scanner.ErrUnknownChannel), status: http.StatusNotFound},
		{name: "busy", err: scanner.ErrCycleInProgress, status: http.StatusConflict},
		{name: "dead", err: fmt.Errorf("refresh x: %w", discovery.ErrNoWorkingStream), status: http.StatusBadGateway},
		{name: "other", err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := newFakeService()
			svc.refreshErr = tc.err
			rec := serve(newTestServer(svc), http.MethodPost, "/v1/channels/news.one/refresh")
			require.Equal(t, tc.status, rec.Code)
			if tc.err == nil {
				require.Contains(t, rec.Body.String(), `"channel_id":"news.one"`)
			}
		})
	}
}

func TestServer_TriggerScan(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newTestServer(svc)

	rec := serve(srv, http.MethodPost, "/v1/scan")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"status":"started"}`, rec.Body.String())

	svc.triggerErr = scanner.ErrCycleInProgress
	require.Equal(t, http.StatusConflict, serve(srv, http.MethodPost, "/v1/scan").Code)
}

func TestServer_LastReport(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newTestServer(svc)
	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/v1/scan/last").Code)

	svc.last = &scanner.Report{CycleID: "cycle-7", Outcome: scanner.OutcomeOK, Working: 3}
	rec := serve(srv, http.MethodGet, "/v1/scan/last")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cycle_id":"cycle-7"`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := NewServer(newFakeService(), cfg, zap.NewNop())

	require.Equal(t, http.StatusForbidden, serve(srv, http.MethodGet, "/v1/channels").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/channels", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/v1/channels?api_key=secret").Code)
	// Players cannot send keys; redirects stay open.
	require.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/stream/news.one").Code)
	require.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/healthz").Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(newFakeService()), http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	newTestServer(newFakeService()).Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeService struct {
	mu         sync.Mutex
	ready      bool
	entries    map[string]cache.Entry
	refreshErr error
	triggerErr error
	last       *scanner.Report
}

func newFakeService() *fakeService {
	return &fakeService{entries: make(map[string]cache.Entry)}
}

func (f *fakeService) setReady(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = v
}

func (f *fakeService) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeService) Lookup(id string) (cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return cache.Entry{}, cache.ErrNotFound
	}
	return e, nil
}

func (f *fakeService) Entries() []cache.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cache.Snapshot(f.entries).Sorted()
}

func (f *fakeService) Refresh(_ context.Context, id string) (cache.Entry, error) {
	if f.refreshErr != nil {
		return cache.Entry{}, f.refreshErr
	}
	return cache.Entry{ChannelID: id, URL: "http://fresh/" + id, Source: "advertised"}, nil
}

func (f *fakeService) Trigger() error {
	return f.triggerErr
}

func (f *fakeService) LastReport() (scanner.Report, bool) {
	if f.last == nil {
		return scanner.Report{}, false
	}
	return *f.last, true
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Scanner: config.ScannerConfig{Concurrency: 1, CycleTimeout: time.Minute},
	}
}

func newTestServer(svc Service) *Server {
	return NewServer(svc, testConfig(), zap.NewNop())
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
