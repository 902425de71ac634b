// Package server exposes the event pipeline over HTTP: ingestion, lookup,
// search, stats, reference lists, and an SSE stream of created events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/errsight/errsight/internal/model"
	"github.com/errsight/errsight/internal/service"
)

// Server binds the application service to HTTP routes and the SSE hub.
type Server struct {
	svc    *service.Service
	hub    *hub
	logger *slog.Logger
}

// New returns a Server with no service attached yet. The Server is also the
// service's Notifier, so construct it first, pass it to service.Options, and
// then Attach the service before serving.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{hub: newHub(), logger: logger}
}

// Attach binds the application service the handlers delegate to.
func (s *Server) Attach(svc *service.Service) {
	s.svc = svc
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleCreate)
	mux.HandleFunc("GET /v1/events", s.handleSearch)
	mux.HandleFunc("GET /v1/events/stats", s.handleStats)
	mux.HandleFunc("GET /v1/events/stream", s.handleStream)
	mux.HandleFunc("GET /v1/events/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/meta/subjects", s.handleSubjects)
	mux.HandleFunc("GET /v1/meta/categories", s.handleCategories)
	mux.HandleFunc("GET /v1/meta/urls", s.handleURLs)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var c model.EventCreate
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	event, err := s.svc.Create(r.Context(), &c)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	event, err := s.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.svc.Search(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.svc.Stats(r.Context(), filter)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	s.respondList(w, r, s.svc.Subjects)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.respondList(w, r, s.svc.Categories)
}

func (s *Server) handleURLs(w http.ResponseWriter, r *http.Request) {
	s.respondList(w, r, s.svc.SourceURLs)
}

func (s *Server) respondList(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]string, error)) {
	values, err := list(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// parseFilter builds a Filter from query parameters. Time bounds are
// RFC 3339; page and page_size must be positive integers.
func parseFilter(q url.Values) (model.Filter, error) {
	var f model.Filter

	if v := q.Get("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid start: %v", err)
		}
		f.Start = &ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid end: %v", err)
		}
		f.End = &ts
	}
	f.SubjectID = q.Get("subject")
	f.Category = q.Get("category")
	f.URLSubstring = q.Get("url")
	f.FreeText = q.Get("keyword")

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid page %q", v)
		}
		f.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid page_size %q", v)
		}
		f.PageSize = n
	}
	f.SortField = q.Get("sort")
	if f.SortField != "" {
		f.SortDesc = q.Get("sort_dir") != "asc"
	}
	return f, nil
}

// respondError maps service errors to HTTP statuses.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		fields := make([]map[string]string, len(verr.Errors))
		for i, fe := range verr.Errors {
			fields[i] = map[string]string{"field": fe.Field, "message": fe.Message}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return
	}

	var nf *service.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, nf.Error())
		return
	}

	var dep *service.DependencyError
	if errors.As(err, &dep) {
		s.logger.Error("dependency failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, dep.Dependency+" unavailable")
		return
	}

	s.logger.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
