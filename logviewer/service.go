// Package logviewer implements the container log service: searchable
// storage over the tail pipeline, and live streaming to SSE clients.
package logviewer

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/monlight/logviewer/internal/store"
	"github.com/hazyhaar/monlight/shield"
)

const (
	// maxQueryLimit is the hard ceiling on GET /api/logs pagination.
	maxQueryLimit = 500
	// defaultQueryLimit applies when the client sends no limit.
	defaultQueryLimit = 100

	// heartbeatEvery keeps idle SSE connections from being reaped by
	// intermediaries.
	heartbeatEvery = 15 * time.Second
	// sessionCap bounds one tail session; clients reconnect after it.
	sessionCap = 30 * time.Minute
)

// Service wires the store, the tail hub and the HTTP handlers.
type Service struct {
	store     *store.Store
	hub       *TailHub
	logger    *slog.Logger
	heartbeat time.Duration
}

// New creates the Service.
func New(db *sql.DB, hub *TailHub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store.New(db),
		hub:       hub,
		logger:    logger,
		heartbeat: heartbeatEvery,
	}
}

// RegisterHTTP mounts the API routes. Gate middleware (auth, rate limit)
// is applied by the caller.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/api/logs", s.handleQuery)
	r.Get("/api/logs/tail", s.handleTail)
	r.Get("/api/containers", s.handleContainers)
}

func (s *Service) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.QueryFilter{
		Container: q.Get("container"),
		Level:     q.Get("level"),
		Search:    q.Get("search"),
		Since:     q.Get("since"),
		Until:     q.Get("until"),
		Limit:     queryInt(r, "limit", defaultQueryLimit),
		Offset:    queryInt(r, "offset", 0),
	}
	if f.Limit < 1 {
		f.Limit = 1
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	entries, err := s.store.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("log query failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if entries == nil {
		entries = []*store.Entry{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Service) handleContainers(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Containers(r.Context())
	if err != nil {
		s.logger.Error("list containers failed", "error", err)
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if names == nil {
		names = []string{}
	}
	shield.WriteJSON(w, http.StatusOK, map[string]any{"containers": names})
}

// handleTail streams committed entries as Server-Sent Events. Sessions are
// capped so a forgotten tab eventually frees its hub slot.
func (s *Service) handleTail(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shield.WriteDetail(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	filter := TailFilter{
		Container: r.URL.Query().Get("container"),
		Level:     r.URL.Query().Get("level"),
	}
	client, err := s.hub.Subscribe(filter)
	if errors.Is(err, ErrHubFull) {
		shield.WriteDetail(w, http.StatusServiceUnavailable, "Too many tail clients")
		return
	}
	if err != nil {
		shield.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer s.hub.Unsubscribe(client.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	deadline := time.NewTimer(sessionCap)
	defer deadline.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-client.Entries:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: log\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
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
