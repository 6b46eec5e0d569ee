package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/predatorx7/logpulse/pkg/source"
)

// DefaultSuffix is the file name suffix recognized as a log file.
const DefaultSuffix = ".log"

// Source is a LogSource backed by a local directory.
type Source struct {
	tag    string
	root   string
	suffix string
	log    zerolog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithSuffix overrides the recognized log suffix.
func WithSuffix(suffix string) Option {
	return func(s *Source) {
		if suffix != "" {
			s.suffix = suffix
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Source) { s.log = log }
}

// NewSource creates a directory source. The root does not have to exist yet;
// listing reports it as unavailable until it does.
func NewSource(tag, root string, opts ...Option) (*Source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root for %q: %w", tag, err)
	}
	s := &Source{
		tag:    tag,
		root:   abs,
		suffix: DefaultSuffix,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With().Str("component", "source").Str("source", tag).Logger()
	s.log.Debug().Str("root", abs).Msg("log source initialized")
	return s, nil
}

func (s *Source) Tag() string { return s.tag }

// Root returns the absolute directory listed by the source.
func (s *Source) Root() string { return s.root }

// List returns the log file names directly under the root, sorted by name.
func (s *Source) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Error().Err(err).Str("root", s.root).Msg("failed to list log directory")
		return nil, fmt.Errorf("%w: %s: %w", source.ErrSourceUnavailable, s.tag, err)
	}

	// ReadDir already sorts by name.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), s.suffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	s.log.Debug().Int("count", len(names)).Msg("listed log files")
	return names, nil
}

// Resolve returns the absolute path of name if it is in the current listing.
func (s *Source) Resolve(ctx context.Context, name string) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n == name {
			return filepath.Join(s.root, n), nil
		}
	}
	s.log.Warn().Str("log", name).Msg("requested log file is not in listing")
	return "", fmt.Errorf("log file %q in %s: %w", name, s.tag, source.ErrNotFound)
}

var _ source.LogSource = (*Source)(nil)
