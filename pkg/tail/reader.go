// Package tail reads the most recent lines of a growing log file and then
// follows it, reopening the file when it shrinks underneath the reader.
package tail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

const (
	DefaultBacklogLines = 100
	DefaultBlockSize    = 1024
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrStreamIO marks a read failure that ends a tail. "No new data yet" is
// never reported as an error.
var ErrStreamIO = errors.New("stream i/o error")

// Options controls a Reader. Zero values select the defaults; a negative
// BacklogLines disables the initial window.
type Options struct {
	BacklogLines int
	BlockSize    int
	PollInterval time.Duration
	// Wake, when set, cuts a poll wait short. The poll timer always runs.
	Wake   <-chan struct{}
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BacklogLines == 0 {
		o.BacklogLines = DefaultBacklogLines
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Reader tails a single file. It is not safe for concurrent use; each
// subscriber owns its own Reader.
type Reader struct {
	path string
	opts Options
	log  zerolog.Logger

	f       *os.File
	br      *bufio.Reader
	offset  int64
	pending []byte
}

// ioError wraps err in ErrStreamIO. Errors from the os package already name
// the operation and path, so they are not repeated.
func ioError(op, path string, err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w: %w", ErrStreamIO, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrStreamIO, op, path, err)
}

// Open opens path for tailing.
func Open(path string, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError("open", path, err)
	}
	return &Reader{
		path: path,
		opts: opts,
		log:  opts.Logger.With().Str("component", "tail").Str("path", path).Logger(),
		f:    f,
		br:   bufio.NewReader(f),
	}, nil
}

// Path returns the tailed path.
func (r *Reader) Path() string { return r.path }

// Offset returns the byte offset of the next unread byte.
func (r *Reader) Offset() int64 { return r.offset }

// Close releases the file handle. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Backlog returns up to BacklogLines of the most recent lines, oldest first,
// and leaves the read cursor at the size the file had when the scan started.
// The file is scanned backwards in BlockSize steps so large files are never
// read in full.
func (r *Reader) Backlog() ([]string, error) {
	if r.f == nil {
		return nil, fmt.Errorf("%w: %s: reader closed", ErrStreamIO, r.path)
	}
	info, err := r.f.Stat()
	if err != nil {
		return nil, ioError("stat", r.path, err)
	}
	size := info.Size()

	var window []byte
	if r.opts.BacklogLines > 0 {
		window, err = r.scanBack(size)
		if err != nil {
			return nil, err
		}
	}

	lines := splitLines(window, int64(len(window)) < size)
	if r.opts.BacklogLines > 0 && len(lines) > r.opts.BacklogLines {
		lines = lines[len(lines)-r.opts.BacklogLines:]
	}

	if _, err := r.f.Seek(size, io.SeekStart); err != nil {
		return nil, ioError("seek", r.path, err)
	}
	r.br.Reset(r.f)
	r.offset = size
	r.pending = r.pending[:0]

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = decode(l)
	}
	r.log.Debug().
		Int("lines", len(out)).
		Str("size", humanize.Bytes(uint64(size))).
		Int("scanned", len(window)).
		Msg("initial window read")
	return out, nil
}

// scanBack grows a window backwards from size until it holds BacklogLines
// complete lines or reaches the start of the file.
func (r *Reader) scanBack(size int64) ([]byte, error) {
	var (
		window     []byte
		seekOffset int64
		newlines   int
		block      = int64(r.opts.BlockSize)
	)
	for seekOffset < size {
		step := min(size-seekOffset, block)
		chunk := make([]byte, step)
		n, err := r.f.ReadAt(chunk, size-seekOffset-step)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, ioError("read", r.path, err)
		}
		chunk = chunk[:n]
		seekOffset += step
		newlines += bytes.Count(chunk, []byte{'\n'})
		window = append(chunk, window...)

		if completeLines(window, newlines, seekOffset < size) >= r.opts.BacklogLines {
			break
		}
	}
	return window, nil
}

// completeLines counts the lines splitLines would return for window.
func completeLines(window []byte, newlines int, partialHead bool) int {
	if len(window) == 0 {
		return 0
	}
	n := newlines + 1
	if window[len(window)-1] == '\n' {
		n--
	}
	if partialHead {
		n--
	}
	return n
}

// splitLines splits on '\n' and strips a trailing '\r'. When partialHead is
// set the first fragment may be the tail of an earlier line and is dropped.
func splitLines(window []byte, partialHead bool) [][]byte {
	if len(window) == 0 {
		return nil
	}
	parts := bytes.Split(window, []byte{'\n'})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	if partialHead && len(parts) > 0 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = bytes.TrimSuffix(p, []byte{'\r'})
	}
	return parts
}

// Follow emits every complete line appended after the current offset until
// ctx is done, emit fails or a read fails. It never returns nil.
func (r *Reader) Follow(ctx context.Context, emit func(string) error) error {
	timer := time.NewTimer(r.opts.PollInterval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, ok, err := r.readLine()
		if err != nil {
			r.log.Error().Err(err).Int64("offset", r.offset).Msg("tail read failed")
			return err
		}
		if ok {
			if err := emit(line); err != nil {
				return err
			}
			continue
		}

		if err := r.checkShrink(); err != nil {
			r.log.Error().Err(err).Msg("tail reopen failed")
			return err
		}

		timer.Reset(r.opts.PollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-r.opts.Wake:
		}
	}
}

// readLine returns the next complete line. ok is false when only a partial
// line (or nothing) is available yet.
func (r *Reader) readLine() (line string, ok bool, err error) {
	if r.f == nil {
		return "", false, nil
	}
	chunk, err := r.br.ReadBytes('\n')
	r.pending = append(r.pending, chunk...)
	r.offset += int64(len(chunk))

	switch {
	case err == nil:
		raw := bytes.TrimSuffix(r.pending[:len(r.pending)-1], []byte{'\r'})
		line = decode(raw)
		r.pending = r.pending[:0]
		return line, true, nil
	case errors.Is(err, io.EOF):
		return "", false, nil
	default:
		return "", false, ioError("read", r.path, err)
	}
}

// checkShrink reopens the path when it is now smaller than the read offset,
// which is how truncation and replacement by a fresh file show up. A path
// that is momentarily missing is left alone until a later poll.
func (r *Reader) checkShrink() error {
	info, err := os.Stat(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug().Msg("tailed path missing, waiting")
			return nil
		}
		return ioError("stat", r.path, err)
	}
	if r.f != nil && info.Size() >= r.offset {
		return nil
	}

	prev := r.offset
	if err := r.Close(); err != nil {
		r.log.Warn().Err(err).Msg("closing rotated file")
	}
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug().Msg("tailed path vanished during reopen, waiting")
			return nil
		}
		return ioError("reopen", r.path, err)
	}
	r.f = f
	r.br.Reset(f)
	r.offset = 0
	r.pending = r.pending[:0]
	r.log.Info().
		Int64("previous_offset", prev).
		Int64("size", info.Size()).
		Msg("file shrank, reopened from start")
	return nil
}
