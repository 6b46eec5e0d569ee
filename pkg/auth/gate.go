package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const (
	HeaderAPIKey = "X-API-Key"
	// QueryAPIKey carries the key for clients that cannot set headers,
	// such as a browser EventSource.
	QueryAPIKey = "api_key"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeAPIKey Mode = "apikey"
)

// ParseMode validates a configured mode name. Empty means ModeNone.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeAPIKey:
		return ModeAPIKey, nil
	}
	return "", fmt.Errorf("unknown auth mode %q", s)
}

type clientKey struct{}

// ClientID returns the verified client id attached by the gate.
func ClientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientKey{}).(string)
	return id, ok
}

// Gate rejects requests without a valid API key when running in ModeAPIKey.
type Gate struct {
	mode   Mode
	secret []byte
	log    zerolog.Logger
}

func NewGate(mode Mode, secret string, log zerolog.Logger) (*Gate, error) {
	if mode == ModeAPIKey && secret == "" {
		return nil, errors.New("auth mode apikey requires a secret")
	}
	return &Gate{
		mode:   mode,
		secret: []byte(secret),
		log:    log.With().Str("component", "auth").Logger(),
	}, nil
}

// Mode returns the configured mode.
func (g *Gate) Mode() Mode { return g.mode }

// Middleware wraps next with the gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	if g.mode == ModeNone {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			key = r.URL.Query().Get(QueryAPIKey)
		}

		clientID, err := VerifyAPIKey(key, g.secret)
		if err != nil {
			g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("rejected request")
			unauthorized(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), clientKey{}, clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	msg := "invalid api key"
	if errors.Is(err, ErrMissingKey) {
		msg = "missing api key"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
