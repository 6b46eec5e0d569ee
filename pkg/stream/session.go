// Package stream turns tail readers into cancellable per-subscriber
// sessions and frames their lines as server-sent events.
package stream

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/predatorx7/logpulse/pkg/tail"
)

// lineBuffer bounds how far a session's reader may run ahead of its consumer.
const lineBuffer = 64

var framePrefix = []byte("data: ")

// Frame wraps one line as a single event-stream record.
func Frame(line string) []byte {
	b := make([]byte, 0, len(framePrefix)+len(line)+2)
	b = append(b, framePrefix...)
	b = append(b, line...)
	return append(b, '\n', '\n')
}

// Session owns one tail.Reader running on its own goroutine: the backlog
// first, then the live tail.
type Session struct {
	id     string
	path   string
	log    zerolog.Logger
	lines  chan string
	err    error
	cancel context.CancelFunc
	done   chan struct{}
	onLine func()
}

// Open starts a session on path. The file is opened before Open returns so
// an unreadable file is reported to the caller instead of mid-stream.
func Open(ctx context.Context, path string, opts tail.Options) (*Session, error) {
	return open(ctx, path, opts, nil)
}

func open(ctx context.Context, path string, opts tail.Options, onLine func()) (*Session, error) {
	id := uuid.NewString()
	opts.Logger = opts.Logger.With().Str("session", id).Logger()

	r, err := tail.Open(path, opts)
	if err != nil {
		opts.Logger.Error().Err(err).Str("path", path).Msg("failed to open stream")
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     id,
		path:   path,
		log:    opts.Logger.With().Str("component", "session").Logger(),
		lines:  make(chan string, lineBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		onLine: onLine,
	}
	go s.run(ctx, r)
	return s, nil
}

func (s *Session) run(ctx context.Context, r *tail.Reader) {
	defer close(s.done)
	defer close(s.lines)
	defer func() {
		if err := r.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing tailed file")
		}
	}()

	send := func(line string) error {
		select {
		case s.lines <- line:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	backlog, err := r.Backlog()
	if err != nil {
		s.fail(err)
		return
	}
	s.log.Debug().Int("backlog", len(backlog)).Msg("session started")
	for _, line := range backlog {
		if send(line) != nil {
			return
		}
	}

	err = r.Follow(ctx, send)
	if ctx.Err() != nil {
		s.log.Debug().Msg("session cancelled")
		return
	}
	s.fail(err)
}

func (s *Session) fail(err error) {
	s.err = err
	s.log.Error().Err(err).Msg("session ended with error")
}

// ID returns the session identifier used in diagnostics.
func (s *Session) ID() string { return s.id }

// Path returns the tailed file path.
func (s *Session) Path() string { return s.path }

// Next blocks for the next line. It returns io.EOF once the session was
// cancelled, or the read error (wrapping tail.ErrStreamIO) that ended it.
func (s *Session) Next() (string, error) {
	line, ok := <-s.lines
	if !ok {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.onLine != nil {
		s.onLine()
	}
	return line, nil
}

// Cancel stops the session. Any poll wait in progress returns at once and
// the file handle is closed before Done is closed. Safe to call repeatedly.
func (s *Session) Cancel() { s.cancel() }

// Done is closed after the session's goroutine exited and released its file.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any, once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// IsStreamIO reports whether err ended a session because of a read failure.
func IsStreamIO(err error) bool {
	return errors.Is(err, tail.ErrStreamIO)
}
