// Package errortracker implements the error deduplication service:
// fingerprint-grouped ingest, a per-group occurrence ring, resolve/reopen
// lifecycle, alert dispatch on new or reopened groups, and retention.
package errortracker

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/monlight/errortracker/internal/store"
	"github.com/hazyhaar/monlight/shield"
)

// timeLayout is the wire timestamp format: UTC ISO-8601 with a Z suffix.
const timeLayout = "2006-01-02T15:04:05Z"

// maxListLimit is the hard ceiling on GET /api/errors pagination.
const maxListLimit = 200

// Service wires the store, the alert dispatcher and the HTTP handlers.
type Service struct {
	store  *store.Store
	alerts *Dispatcher
	logger *slog.Logger
	now    func() time.Time
}

// New creates the Service. alerts may be nil when alerting is not
// configured; dispatch is skipped.
func New(db *sql.DB, alerts *Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store.New(db),
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterHTTP mounts the API routes. Gate middleware (auth, rate limit,
// body cap) is applied by the caller.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/api/errors", s.handleIngest)
	r.Get("/api/errors", s.handleList)
	r.Get("/api/errors/{id}", s.handleGet)
	r.Post("/api/errors/{id}/resolve", s.handleResolve)
	r.Get("/api/projects", s.handleProjects)
	r.Get("/api/stats", s.handleStats)
}

type ingestRequest struct {
	Project        string         `json:"project"`
	Environment    string         `json:"environment"`
	ExceptionType  string         `json:"exception_type"`
	Message        string         `json:"message"`
	Traceback      string         `json:"traceback"`
	Timestamp      string         `json:"timestamp"`
	RequestURL     *string        `json:"request_url"`
	RequestMethod  *string        `json:"request_method"`
	RequestHeaders map[string]any `json:"request_headers"`
	UserID         *string        `json:"user_id"`
	Extra          map[string]any `json:"extra"`
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Project == "" || req.ExceptionType == "" || req.Message == "" {
		shield.WriteDetail(w, http.StatusBadRequest, "project, exception_type and message are required")
		return
	}

	ts := req.Timestamp
	if ts == "" {
		ts = s.now().UTC().Format(timeLayout)
	}

	in := &store.IngestInput{
		Fingerprint:   Fingerprint(req.Project, req.ExceptionType, req.Message, req.Traceback),
		Project:       req.Project,
		Environment:   req.Environment,
		ExceptionType: req.ExceptionType,
		Message:       req.Message,
		Traceback:     req.Traceback,
		Timestamp:     ts,
		RequestURL:    req.RequestURL,
		RequestMethod: req.RequestMethod,
		UserID:        req.UserID,
	}
	if req.RequestHeaders != nil {
		in.RequestHeaders = marshalText(req.RequestHeaders)
	}
	if req.Extra != nil {
		in.Extra = marshalText(req.Extra)
	}

	res, err := s.store.Ingest(r.Context(), in)
	if err != nil {
		s.logger.Error("ingest failed", "fingerprint", in.Fingerprint, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Alert on new or reopened groups, never on plain increments. The
	// dispatcher queue decouples this from the response.
	if s.alerts != nil && res.Status != "incremented" {
		alert := &Alert{
			GroupID:       res.ID,
			Project:       req.Project,
			Environment:   req.Environment,
			ExceptionType: req.ExceptionType,
			Message:       req.Message,
			FirstSeen:     ts,
			Traceback:     req.Traceback,
			Reopened:      res.Status == "reopened",
		}
		if req.RequestURL != nil {
			alert.RequestURL = *req.RequestURL
		}
		if req.RequestMethod != nil {
			alert.RequestMethod = *req.RequestMethod
		}
		s.alerts.Enqueue(alert)
	}

	switch res.Status {
	case "created":
		shield.WriteJSON(w, http.StatusCreated, map[string]any{
			"status": "created", "id": res.ID, "fingerprint": res.Fingerprint,
		})
	default:
		shield.WriteJSON(w, http.StatusOK, map[string]any{
			"status": res.Status, "id": res.ID, "count": res.Count,
		})
	}
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.ListFilter{
		Project:     q.Get("project"),
		Environment: q.Get("environment"),
		Limit:       queryInt(r, "limit", 50),
		Offset:      queryInt(r, "offset", 0),
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	switch q.Get("resolved") {
	case "", "false", "0":
		f.Resolved = false
	case "true", "1":
		f.Resolved = true
	default:
		shield.WriteDetail(w, http.StatusBadRequest, "resolved must be true or false")
		return
	}

	groups, err := s.store.List(r.Context(), f)
	if err != nil {
		s.logger.Error("list errors failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if groups == nil {
		groups = []*store.Group{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"errors": groups})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid error id")
		return
	}

	g, occs, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get error failed", "id", id, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if g == nil {
		shield.WriteDetail(w, http.StatusNotFound, "Error not found")
		return
	}
	if occs == nil {
		occs = []*store.Occurrence{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{
		"error": g, "occurrences": occs,
	})
}

func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid error id")
		return
	}

	found, err := s.store.Resolve(r.Context(), id, s.now().UTC().Format(timeLayout))
	if err != nil {
		s.logger.Error("resolve failed", "id", id, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		shield.WriteDetail(w, http.StatusNotFound, "Error not found")
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"status": "resolved", "id": id})
}

func (s *Service) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.Projects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if projects == nil {
		projects = []string{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if stats == nil {
		stats = []*store.ProjectStats{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func marshalText(v map[string]any) *string {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
