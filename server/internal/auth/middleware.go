package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// APIKey returns middleware enforcing API key authentication.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed.
//   - Otherwise the value of header must equal key; the comparison is
//     constant-time.
//   - A missing, empty or incorrect key returns 401 {"error": "..."}.
func APIKey(mode, header, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				reject(w, r, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				reject(w, r, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, msg string) {
	slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
