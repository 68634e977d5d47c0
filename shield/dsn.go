package shield

import (
	"net/http"
)

// DSNResolver resolves a public DSN key to its project. It returns ok=false
// when the key is unknown or deactivated; err is reserved for storage
// failures.
type DSNResolver func(r *http.Request, publicKey string) (project string, ok bool, err error)

// RequireDSNKey returns middleware for the browser ingestion routes. It reads
// X-Monlight-Key, resolves it, and attaches the resolved project to the
// request context. Unknown or inactive keys yield
// 401 {"detail":"Invalid DSN key"}.
func RequireDSNKey(resolve DSNResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Monlight-Key")
			if key == "" {
				WriteDetail(w, http.StatusUnauthorized, "Invalid DSN key")
				return
			}
			project, ok, err := resolve(r, key)
			if err != nil {
				WriteDetail(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !ok {
				WriteDetail(w, http.StatusUnauthorized, "Invalid DSN key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProject(r.Context(), project)))
		})
	}
}
