package web

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/tracker/internal/logging"
)

// requestContext attaches a logger carrying the request id and client
// address to the request context, so pipeline logs for an HTTP batch run
// can be traced back to the caller. RemoteAddr has already been resolved by
// TrustedRealIP.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := slog.Default().With("ip", r.RemoteAddr)
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			logger = logger.With("request_id", reqID)
		}
		ctx := logging.NewContext(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
