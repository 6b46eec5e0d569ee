package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoClient() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := ClientID(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNone, m)

	m, err = ParseMode("apikey")
	require.NoError(t, err)
	assert.Equal(t, ModeAPIKey, m)

	_, err = ParseMode("basic")
	assert.Error(t, err)
}

func TestGate_None(t *testing.T) {
	g, err := NewGate(ModeNone, "", zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	g.Middleware(echoClient()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/sources", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestGate_APIKey(t *testing.T) {
	_, err := NewGate(ModeAPIKey, "", zerolog.Nop())
	require.Error(t, err)

	g, err := NewGate(ModeAPIKey, "secret", zerolog.Nop())
	require.NoError(t, err)
	h := g.Middleware(echoClient())
	key := IssueAPIKey("dashboard", []byte("secret"))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/logs/sources", nil)
		req.Header.Set(HeaderAPIKey, key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dashboard", rec.Body.String())
	})

	t.Run("query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/logs/stream?api_key="+key, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dashboard", rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/sources", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"missing api key"}`, rec.Body.String())
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/logs/sources", nil)
		req.Header.Set(HeaderAPIKey, IssueAPIKey("dashboard", []byte("other")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"invalid api key"}`, rec.Body.String())
	})
}
