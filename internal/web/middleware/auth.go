package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/JonMunkholm/tracker/internal/logging"
)

// APIKeyHeader carries the caller's key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth rejects requests whose X-API-Key is not one of keys. When
// required is false every request passes. When required is true and keys
// is empty every request is rejected; config validation refuses that
// combination at startup.
func APIKeyAuth(required bool, keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !required {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)

			var status int
			var body string
			switch {
			case key == "":
				status, body = http.StatusUnauthorized, `{"error":"missing API key","code":"AUTH001"}`
			case !validKey(key, keys):
				status, body = http.StatusForbidden, `{"error":"invalid API key","code":"AUTH002"}`
			default:
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context()).Warn("api key rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		})
	}
}

// validKey compares against every key in constant time so timing does not
// reveal which key (if any) matched.
func validKey(key string, keys []string) bool {
	match := 0
	for _, k := range keys {
		match |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
	}
	return match == 1
}
