package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/predatorx7/logpulse/pkg/config"
	"github.com/predatorx7/logpulse/pkg/source"
	"github.com/predatorx7/logpulse/pkg/source/file"
)

// buildRegistry creates one directory source per configured tag.
func buildRegistry(cfg *config.Config, log zerolog.Logger) (*source.Registry, map[string]*file.Source, error) {
	dirs := make(map[string]*file.Source, len(cfg.Sources))
	sources := make([]source.LogSource, 0, len(cfg.Sources))
	for _, tag := range cfg.Tags() {
		src, err := file.NewSource(tag, cfg.Sources[tag], file.WithSuffix(cfg.Tail.Suffix), file.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		dirs[tag] = src
		sources = append(sources, src)
	}
	reg, err := source.NewRegistry(sources, cfg.Groups)
	if err != nil {
		return nil, nil, fmt.Errorf("building source registry: %w", err)
	}
	return reg, dirs, nil
}
