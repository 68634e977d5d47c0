// Package browserrelay implements the browser ingestion gateway: the DSN
// key plane, source-map storage, stack rewriting, and forwarding of
// browser errors and metrics to the upstream services.
package browserrelay

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/monlight/browserrelay/internal/store"
	"github.com/hazyhaar/monlight/idgen"
	"github.com/hazyhaar/monlight/shield"
	"github.com/hazyhaar/monlight/sourcemap"
)

// timeLayout is the wire timestamp format: UTC ISO-8601 with a Z suffix.
const timeLayout = "2006-01-02T15:04:05Z"

// maxMapBytes caps one uploaded source map.
const maxMapBytes = 5 << 20

// adminBodyBytes caps every admin request body except the map upload.
const adminBodyBytes = 64 << 10

// Service wires the store, the upstream client and the HTTP handlers.
type Service struct {
	store    *store.Store
	upstream *Upstream
	logger   *slog.Logger
	newKey   idgen.Generator
	now      func() time.Time
}

// New creates the Service.
func New(db *sql.DB, upstream *Upstream, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store.New(db),
		upstream: upstream,
		logger:   logger,
		newKey:   idgen.Hex(16),
		now:      time.Now,
	}
}

// DSNResolver adapts the key table for shield.RequireDSNKey.
func (s *Service) DSNResolver() shield.DSNResolver {
	return func(r *http.Request, publicKey string) (string, bool, error) {
		return s.store.LookupProject(r.Context(), publicKey)
	}
}

// RegisterAdminHTTP mounts the admin routes behind their body caps; the
// map upload alone admits up to maxMapBytes. The caller applies the admin
// API key gate.
func (s *Service) RegisterAdminHTTP(r chi.Router) {
	small := shield.MaxBody(adminBodyBytes)
	r.With(small).Post("/api/dsn-keys", s.handleCreateDSNKey)
	r.With(small).Get("/api/dsn-keys", s.handleListDSNKeys)
	r.With(small).Delete("/api/dsn-keys/{id}", s.handleDeactivateDSNKey)
	r.With(shield.MaxBody(maxMapBytes)).Post("/api/source-maps", s.handleUploadSourceMap)
	r.With(small).Get("/api/source-maps", s.handleListSourceMaps)
	r.With(small).Delete("/api/source-maps/{id}", s.handleDeleteSourceMap)
}

// RegisterBrowserHTTP mounts the browser-facing routes. The caller applies
// CORS and the DSN key gate; the explicit OPTIONS routes exist so
// preflights reach the CORS middleware.
func (s *Service) RegisterBrowserHTTP(r chi.Router) {
	r.Post("/api/browser/errors", s.handleBrowserError)
	r.Post("/api/browser/metrics", s.handleBrowserMetrics)
	noContent := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	r.Options("/api/browser/errors", noContent)
	r.Options("/api/browser/metrics", noContent)
}

func (s *Service) handleCreateDSNKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project string `json:"project"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Project == "" {
		shield.WriteDetail(w, http.StatusBadRequest, "project is required")
		return
	}

	key, err := s.store.CreateDSNKey(r.Context(), s.newKey(), req.Project,
		s.now().UTC().Format(timeLayout))
	if err != nil {
		s.logger.Error("create dsn key failed", "project", req.Project, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	shield.WriteJSON(w, http.StatusCreated, key)
}

func (s *Service) handleListDSNKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListDSNKeys(r.Context())
	if err != nil {
		s.logger.Error("list dsn keys failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if keys == nil {
		keys = []*store.DSNKey{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"dsn_keys": keys})
}

func (s *Service) handleDeactivateDSNKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid key id")
		return
	}
	found, err := s.store.DeactivateDSNKey(r.Context(), id)
	if err != nil {
		s.logger.Error("deactivate dsn key failed", "id", id, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		shield.WriteDetail(w, http.StatusNotFound, "DSN key not found")
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"status": "deactivated", "id": id})
}

type sourceMapUpload struct {
	Project    string `json:"project"`
	Release    string `json:"release"`
	FileURL    string `json:"file_url"`
	MapContent string `json:"map_content"`
}

func (s *Service) handleUploadSourceMap(w http.ResponseWriter, r *http.Request) {
	var req sourceMapUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Project == "" || req.Release == "" || req.FileURL == "" || req.MapContent == "" {
		shield.WriteDetail(w, http.StatusBadRequest, "project, release, file_url and map_content are required")
		return
	}
	if len(req.MapContent) > maxMapBytes {
		shield.WriteDetail(w, http.StatusRequestEntityTooLarge, "Source map too large")
		return
	}
	if err := sourcemap.Validate([]byte(req.MapContent)); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid source map")
		return
	}

	id, err := s.store.UpsertSourceMap(r.Context(), &store.SourceMap{
		Project:   req.Project,
		Release:   req.Release,
		FileURL:   req.FileURL,
		Content:   req.MapContent,
		CreatedAt: s.now().UTC().Format(timeLayout),
	})
	if err != nil {
		s.logger.Error("source map upsert failed", "file_url", req.FileURL, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	shield.WriteJSON(w, http.StatusCreated, map[string]any{
		"id": id, "project": req.Project, "release": req.Release, "file_url": req.FileURL,
	})
}

func (s *Service) handleListSourceMaps(w http.ResponseWriter, r *http.Request) {
	maps, err := s.store.ListSourceMaps(r.Context())
	if err != nil {
		s.logger.Error("list source maps failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if maps == nil {
		maps = []*store.SourceMap{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"source_maps": maps})
}

func (s *Service) handleDeleteSourceMap(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid source map id")
		return
	}
	found, err := s.store.DeleteSourceMap(r.Context(), id)
	if err != nil {
		s.logger.Error("delete source map failed", "id", id, "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !found {
		shield.WriteDetail(w, http.StatusNotFound, "Source map not found")
		return
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

type browserError struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Stack       string         `json:"stack"`
	URL         string         `json:"url"`
	UserAgent   string         `json:"user_agent"`
	SessionID   string         `json:"session_id"`
	Release     string         `json:"release"`
	Timestamp   string         `json:"timestamp"`
	Environment string         `json:"environment"`
	Context     map[string]any `json:"context"`
}

func (s *Service) handleBrowserError(w http.ResponseWriter, r *http.Request) {
	var req browserError
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Type == "" || req.Message == "" || req.Stack == "" {
		shield.WriteDetail(w, http.StatusBadRequest, "type, message and stack are required")
		return
	}
	project := shield.Project(r.Context())

	traceback := req.Stack
	if req.Release != "" {
		traceback = rewriteStack(req.Stack, s.requestResolver(r, project, req.Release))
	}

	env := req.Environment
	if env == "" {
		env = "prod"
	}
	payload := map[string]any{
		"project":        project,
		"exception_type": req.Type,
		"message":        req.Message,
		"traceback":      traceback,
		"environment":    env,
		"request_url":    req.URL,
		"request_method": "BROWSER",
		"extra": map[string]any{
			"user_agent": req.UserAgent,
			"session_id": req.SessionID,
			"release":    req.Release,
			"timestamp":  req.Timestamp,
			"context":    req.Context,
		},
	}

	status, body, err := s.upstream.PostError(r.Context(), payload)
	if err != nil || status < 200 || status > 299 {
		if err != nil {
			s.logger.Warn("error tracker forward failed", "error", err)
		} else {
			s.logger.Warn("error tracker rejected forward", "status", status)
		}
		shield.WriteDetail(w, http.StatusBadGateway, "Upstream error")
		return
	}

	// Mirror the upstream response (201 created / 200 incremented).
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// requestResolver loads and parses source maps on demand, caching per
// request so repeated frames from the same file hit the database once.
func (s *Service) requestResolver(r *http.Request, project, release string) mapResolver {
	cache := make(map[string]*sourcemap.Consumer)
	return func(path string) *sourcemap.Consumer {
		if c, seen := cache[path]; seen {
			return c
		}
		cache[path] = nil
		content, ok, err := s.store.GetSourceMapContent(r.Context(), project, release, path)
		if err != nil {
			s.logger.Warn("source map load failed", "file_url", path, "error", err)
			return nil
		}
		if !ok {
			return nil
		}
		c, err := sourcemap.Parse([]byte(content))
		if err != nil {
			s.logger.Warn("stored source map unparseable", "file_url", path, "error", err)
			return nil
		}
		cache[path] = c
		return c
	}
}

type browserMetrics struct {
	Metrics []struct {
		Name      string         `json:"name"`
		Type      string         `json:"type"`
		Value     *float64       `json:"value"`
		Labels    map[string]any `json:"labels"`
		Timestamp string         `json:"timestamp"`
	} `json:"metrics"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

func (s *Service) handleBrowserMetrics(w http.ResponseWriter, r *http.Request) {
	var req browserMetrics
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shield.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.Metrics) == 0 {
		shield.WriteDetail(w, http.StatusBadRequest, "metrics is required")
		return
	}
	project := shield.Project(r.Context())

	page := ""
	if req.URL != "" {
		if u, err := url.Parse(req.URL); err == nil {
			page = u.Path
		}
	}

	enriched := make([]map[string]any, 0, len(req.Metrics))
	for i, m := range req.Metrics {
		if m.Name == "" || m.Type == "" || m.Value == nil {
			shield.WriteDetail(w, http.StatusBadRequest,
				"metrics["+strconv.Itoa(i)+"]: name, type and value are required")
			return
		}
		labels := make(map[string]any, len(m.Labels)+3)
		for k, v := range m.Labels {
			labels[k] = v
		}
		labels["project"] = project
		labels["source"] = "browser"
		if page != "" {
			labels["page"] = page
		}
		point := map[string]any{
			"name":   m.Name,
			"type":   m.Type,
			"value":  *m.Value,
			"labels": labels,
		}
		if m.Timestamp != "" {
			point["timestamp"] = m.Timestamp
		}
		enriched = append(enriched, point)
	}

	status, _, err := s.upstream.PostMetrics(r.Context(), map[string]any{"metrics": enriched})
	if err != nil || status < 200 || status > 299 {
		if err != nil {
			s.logger.Warn("metrics forward failed", "error", err)
		} else {
			s.logger.Warn("metrics collector rejected forward", "status", status)
		}
		shield.WriteDetail(w, http.StatusBadGateway, "Upstream error")
		return
	}
	shield.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted", "count": len(enriched),
	})
}
