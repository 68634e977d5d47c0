// Package shield provides the HTTP gate middleware shared by the Monlight
// services: API key auth, DSN key auth, body size caps, and sliding-window
// rate limiting. Every route except /health goes through some subset of it.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.MaxBody(64 * 1024))
//	r.Use(shield.NewRateLimiter(100, time.Minute).Middleware)
//	r.Use(shield.RequireAPIKey(cfg.APIKey))
//
// All rejections are JSON bodies of the form {"detail": "..."} per the wire
// contract shared by the four services.
package shield

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

// projectKey carries the project resolved from a DSN key lookup.
const projectKey contextKey = "shield_project"

// WithProject returns a context carrying the project resolved for a request.
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, projectKey, project)
}

// Project returns the project attached by RequireDSNKey, or "".
func Project(ctx context.Context) string {
	v, _ := ctx.Value(projectKey).(string)
	return v
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// WriteDetail writes the uniform {"detail": msg} error body.
func WriteDetail(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]string{"detail": msg})
}
