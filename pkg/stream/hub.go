package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/predatorx7/logpulse/pkg/tail"
)

// ErrShuttingDown is returned by Open once Shutdown has started.
var ErrShuttingDown = errors.New("stream hub shutting down")

// Waker hands out early wake-up channels for a path.
type Waker interface {
	Subscribe(path string) (<-chan struct{}, func(), error)
}

// Stats is a snapshot of the hub's counters.
type Stats struct {
	Active    int    `json:"active_streams"`
	Opened    uint64 `json:"streams_opened"`
	LinesSent uint64 `json:"lines_sent"`
	Failed    uint64 `json:"stream_errors"`
}

// Hub tracks live sessions so they can be counted and cancelled together.
// Sessions never share readers; the hub only keeps the bookkeeping.
type Hub struct {
	opts  tail.Options
	waker Waker
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	openedCount, linesCount, failedCount atomic.Uint64
}

// NewHub creates a hub. waker may be nil, in which case readers only poll.
func NewHub(opts tail.Options, waker Waker, log zerolog.Logger) *Hub {
	return &Hub{
		opts:     opts,
		waker:    waker,
		log:      log.With().Str("component", "hub").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Open starts a registered session on path.
func (h *Hub) Open(ctx context.Context, path string) (*Session, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	opts := h.opts
	opts.Logger = h.log
	unsubscribe := func() {}
	if h.waker != nil {
		wake, cancel, err := h.waker.Subscribe(path)
		if err != nil {
			h.log.Debug().Err(err).Str("path", path).Msg("change notifications unavailable, polling only")
		} else {
			opts.Wake = wake
			unsubscribe = cancel
		}
	}

	s, err := open(ctx, path, opts, func() { h.linesCount.Add(1) })
	if err != nil {
		unsubscribe()
		h.failedCount.Add(1)
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Cancel()
		<-s.Done()
		unsubscribe()
		return nil, ErrShuttingDown
	}
	h.sessions[s.id] = s
	h.mu.Unlock()
	h.openedCount.Add(1)

	go func() {
		<-s.Done()
		unsubscribe()
		if s.err != nil {
			h.failedCount.Add(1)
		}
		h.mu.Lock()
		delete(h.sessions, s.id)
		h.mu.Unlock()
	}()
	return s, nil
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	active := len(h.sessions)
	h.mu.Unlock()
	return Stats{
		Active:    active,
		Opened:    h.openedCount.Load(),
		LinesSent: h.linesCount.Load(),
		Failed:    h.failedCount.Load(),
	}
}

// Shutdown refuses new sessions, cancels the live ones and waits until each
// has released its file or ctx ends.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	h.log.Info().Int("sessions", len(live)).Msg("cancelling streams")
	for _, s := range live {
		s.Cancel()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
