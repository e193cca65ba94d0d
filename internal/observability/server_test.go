package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServer_Endpoints(t *testing.T) {
	s := NewServer(":0")

	tests := []struct {
		name   string
		path   string
		ready  bool
		status int
	}{
		{"healthz", "/healthz", false, http.StatusOK},
		{"readyz before ready", "/readyz", false, http.StatusServiceUnavailable},
		{"readyz when ready", "/readyz", true, http.StatusOK},
		{"metrics", "/metrics", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.SetReady(tt.ready)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s: expected %d, got %d", tt.path, tt.status, rec.Code)
			}
		})
	}
}
