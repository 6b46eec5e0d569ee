package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predatorx7/logpulse/pkg/auth"
	"github.com/predatorx7/logpulse/pkg/source"
	"github.com/predatorx7/logpulse/pkg/source/file"
	"github.com/predatorx7/logpulse/pkg/stream"
	"github.com/predatorx7/logpulse/pkg/tail"
)

type fixture struct {
	dir     string
	hub     *stream.Hub
	handler http.Handler
}

func newFixture(t *testing.T, mode auth.Mode) *fixture {
	t.Helper()
	dir := t.TempDir()
	appDir := filepath.Join(dir, "app")
	require.NoError(t, os.Mkdir(appDir, 0o755))

	app, err := file.NewSource("app", appDir)
	require.NoError(t, err)
	gone, err := file.NewSource("gone", filepath.Join(dir, "missing"))
	require.NoError(t, err)
	reg, err := source.NewRegistry(
		[]source.LogSource{app, gone},
		[]source.Group{{Name: "Applications", Sources: []string{"app"}}, {Name: "System", Sources: []string{"gone"}}},
	)
	require.NoError(t, err)

	gate, err := auth.NewGate(mode, "secret", zerolog.Nop())
	require.NoError(t, err)
	hub := stream.NewHub(tail.Options{PollInterval: 10 * time.Millisecond}, nil, zerolog.Nop())
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })

	return &fixture{dir: appDir, hub: hub, handler: New(reg, hub, gate, zerolog.Nop()).Router()}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestSourcesAndGroups(t *testing.T) {
	f := newFixture(t, auth.ModeNone)

	rec := f.get(t, "/logs/sources")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["app","gone"]`, rec.Body.String())

	rec = f.get(t, "/logs/groups")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"Applications":["app"],"System":["gone"]}`, rec.Body.String())
}

func TestGetLogs(t *testing.T) {
	f := newFixture(t, auth.ModeNone)
	f.write(t, "b.log", "x\n")
	f.write(t, "a.log", "x\n")
	f.write(t, "notes.txt", "x\n")

	tests := []struct {
		name   string
		target string
		code   int
		body   string
	}{
		{"listing", "/logs/get_logs?source=app", http.StatusOK, `["a.log","b.log"]`},
		{"dir alias", "/logs/get_logs?dir=app", http.StatusOK, `["a.log","b.log"]`},
		{"missing source", "/logs/get_logs", http.StatusBadRequest, `{"error":"missing source parameter"}`},
		{"unknown source", "/logs/get_logs?source=nope", http.StatusBadRequest, `{"error":"no log source named \"nope\""}`},
		{"unavailable root", "/logs/get_logs?source=gone", http.StatusNotFound, `{"error":"log source \"gone\" is unavailable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.target)
			assert.Equal(t, tt.code, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestGetLogs_Empty(t *testing.T) {
	f := newFixture(t, auth.ModeNone)
	rec := f.get(t, "/logs/get_logs?source=app")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDownload(t *testing.T) {
	f := newFixture(t, auth.ModeNone)
	f.write(t, "app.log", "one\ntwo\n")

	rec := f.get(t, "/logs/download?source=app&log=app.log")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "one\ntwo\n", rec.Body.String())
	assert.Equal(t, "attachment; filename=app.log", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = f.get(t, "/logs/download?source=app&log=../app/app.log")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get(t, "/logs/download?source=app")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"missing log parameter"}`, rec.Body.String())
}

func TestStream_Errors(t *testing.T) {
	f := newFixture(t, auth.ModeNone)

	rec := f.get(t, "/logs/stream?source=app&log=missing.log")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")

	rec = f.get(t, "/logs/stream?source=gone&log=x.log")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStream_BacklogAndLive(t *testing.T) {
	f := newFixture(t, auth.ModeNone)
	var content strings.Builder
	for i := 1; i <= 120; i++ {
		fmt.Fprintf(&content, "line %d\n", i)
	}
	path := f.write(t, "app.log", content.String())

	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/stream?source=app&log=app.log", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	events := make(chan string, 256)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				events <- data
			}
		}
		close(events)
	}()
	next := func() string {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream ended early")
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	for i := 21; i <= 120; i++ {
		assert.Equal(t, fmt.Sprintf("line %d", i), next())
	}

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("fresh\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())
	assert.Equal(t, "fresh", next())

	assert.Eventually(t, func() bool { return f.hub.Stats().Active == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.Eventually(t, func() bool { return f.hub.Stats().Active == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(101), f.hub.Stats().LinesSent)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, auth.ModeAPIKey)

	rec := f.get(t, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	for _, key := range []string{"uptime", "active_streams", "streams_opened", "lines_sent", "stream_errors"} {
		assert.Contains(t, body, key)
	}
}

func TestAuthGate(t *testing.T) {
	f := newFixture(t, auth.ModeAPIKey)

	rec := f.get(t, "/logs/sources")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	key := auth.IssueAPIKey("dashboard", []byte("secret"))
	rec = f.get(t, "/logs/sources?api_key="+key)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/logs/groups", nil)
	req.Header.Set(auth.HeaderAPIKey, key)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
