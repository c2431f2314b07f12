package web

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/tracker/internal/logging"
)

func TestRequestContext_RequestIDLoggedOnce(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	slog.SetDefault(logging.New(&buf, "info", "json"))

	h := chimw.RequestID(requestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.NewContext(r.Context(), logging.WithFields(r.Context(), "upload", "daily.csv"))
		logging.WithFields(ctx, "run_id", "r-1").Info("batch run started")
		logging.FromContext(ctx).Info("batch run finished")
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/batch", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, 1, strings.Count(line, `"request_id":"req-1"`), line)
		assert.Contains(t, line, `"upload":"daily.csv"`)
	}
}
