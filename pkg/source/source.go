package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrSourceUnavailable is returned when a source root cannot be listed.
	ErrSourceUnavailable = errors.New("log source unavailable")
	// ErrNotFound is returned for an unknown source tag or log file name.
	ErrNotFound = errors.New("not found")
)

// LogSource lists and resolves the log files of one source.
// Implementations must re-evaluate Resolve against the current listing on
// every call; files rotate.
type LogSource interface {
	Tag() string
	List(ctx context.Context) ([]string, error)
	Resolve(ctx context.Context, name string) (string, error)
}

// Group is a named, ordered set of source tags shown together.
type Group struct {
	Name    string   `json:"name"`
	Sources []string `json:"sources"`
}

// Registry maps tags to sources. It is built once and never mutated.
type Registry struct {
	sources map[string]LogSource
	tags    []string
	groups  []Group
}

// NewRegistry builds a registry. Tags must be unique and every group must
// only reference registered tags.
func NewRegistry(sources []LogSource, groups []Group) (*Registry, error) {
	r := &Registry{
		sources: make(map[string]LogSource, len(sources)),
		tags:    make([]string, 0, len(sources)),
	}
	for _, s := range sources {
		tag := s.Tag()
		if tag == "" {
			return nil, errors.New("log source with empty tag")
		}
		if _, dup := r.sources[tag]; dup {
			return nil, fmt.Errorf("duplicate log source tag %q", tag)
		}
		r.sources[tag] = s
		r.tags = append(r.tags, tag)
	}
	sort.Strings(r.tags)

	for _, g := range groups {
		for _, tag := range g.Sources {
			if _, ok := r.sources[tag]; !ok {
				return nil, fmt.Errorf("group %q references unknown source %q", g.Name, tag)
			}
		}
		r.groups = append(r.groups, Group{Name: g.Name, Sources: append([]string(nil), g.Sources...)})
	}
	return r, nil
}

// Get returns the source registered under tag.
func (r *Registry) Get(tag string) (LogSource, error) {
	s, ok := r.sources[tag]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", tag, ErrNotFound)
	}
	return s, nil
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	return append([]string(nil), r.tags...)
}

// Groups returns the configured groups in configuration order.
func (r *Registry) Groups() []Group {
	out := make([]Group, len(r.groups))
	for i, g := range r.groups {
		out[i] = Group{Name: g.Name, Sources: append([]string(nil), g.Sources...)}
	}
	return out
}
