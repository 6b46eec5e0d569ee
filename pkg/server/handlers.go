package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"

	"github.com/predatorx7/logpulse/pkg/source"
	"github.com/predatorx7/logpulse/pkg/stream"
)

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Tags())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := make(map[string][]string)
	for _, g := range s.registry.Groups() {
		groups[g.Name] = g.Sources
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	src, ok := s.source(w, r)
	if !ok {
		return
	}
	names, err := src.List(r.Context())
	if err != nil {
		s.writeSourceError(w, src.Tag(), err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	path, name, ok := s.logPath(w, r)
	if !ok {
		return
	}

	sess, err := s.hub.Open(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrShuttingDown):
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		default:
			writeError(w, http.StatusNotFound, fmt.Sprintf("log file %q could not be opened", name))
		}
		return
	}
	defer func() {
		sess.Cancel()
		<-sess.Done()
	}()

	log := s.log.With().Str("session", sess.ID()).Str("log", name).Logger()
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("response does not support streaming")
		return
	}
	log.Info().Str("path", path).Msg("stream started")

	for {
		line, err := sess.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Msg("stream closed")
			} else {
				log.Error().Err(err).Msg("stream failed")
			}
			return
		}
		if _, err := w.Write(stream.Frame(line)); err != nil {
			log.Debug().Err(err).Msg("client write failed")
			return
		}
		if err := rc.Flush(); err != nil {
			log.Debug().Err(err).Msg("client flush failed")
			return
		}
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, name, ok := s.logPath(w, r)
	if !ok {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("failed to open log for download")
		writeError(w, http.StatusNotFound, fmt.Sprintf("log file %q could not be opened", name))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("failed to stat log for download")
		writeError(w, http.StatusNotFound, fmt.Sprintf("log file %q could not be opened", name))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// source resolves the source tag from the query. The original clients send
// it as "dir"; both names are accepted.
func (s *Server) source(w http.ResponseWriter, r *http.Request) (source.LogSource, bool) {
	q := r.URL.Query()
	tag := q.Get("source")
	if tag == "" {
		tag = q.Get("dir")
	}
	if tag == "" {
		writeError(w, http.StatusBadRequest, "missing source parameter")
		return nil, false
	}
	src, err := s.registry.Get(tag)
	if err != nil {
		s.log.Warn().Str("source", tag).Msg("unknown source requested")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no log source named %q", tag))
		return nil, false
	}
	return src, true
}

func (s *Server) logPath(w http.ResponseWriter, r *http.Request) (path, name string, ok bool) {
	src, ok := s.source(w, r)
	if !ok {
		return "", "", false
	}
	name = r.URL.Query().Get("log")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing log parameter")
		return "", "", false
	}
	path, err := src.Resolve(r.Context(), name)
	if err != nil {
		s.writeSourceError(w, src.Tag(), err)
		return "", "", false
	}
	return path, name, true
}

func (s *Server) writeSourceError(w http.ResponseWriter, tag string, err error) {
	switch {
	case errors.Is(err, source.ErrNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, source.ErrSourceUnavailable):
		writeError(w, http.StatusNotFound, fmt.Sprintf("log source %q is unavailable", tag))
	default:
		s.log.Error().Err(err).Str("source", tag).Msg("unexpected source error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
