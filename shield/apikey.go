package shield

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// RequireAPIKey returns middleware that checks the X-API-Key header against
// key. Comparison is constant time (both sides are hashed first so length
// differences leak nothing). Mismatch or absence yields
// 401 {"detail":"Invalid API key"}.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(key))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := sha256.Sum256([]byte(r.Header.Get("X-API-Key")))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				WriteDetail(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
