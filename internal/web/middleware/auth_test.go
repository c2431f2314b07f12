package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		required bool
		keys     []string
		key      string
		want     int
	}{
		{"disabled", false, nil, "", http.StatusOK},
		{"missing key", true, []string{"a"}, "", http.StatusUnauthorized},
		{"wrong key", true, []string{"a"}, "b", http.StatusForbidden},
		{"matching key", true, []string{"a", "b"}, "b", http.StatusOK},
		{"required with no keys", true, nil, "a", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/reports/status", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.required, tt.keys)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
