package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimeoutConfig_TimeoutFor(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          time.Second,
		Extended:         time.Minute,
		ExtendedPrefixes: []string{"/api/v1/generate"},
	}

	tests := []struct {
		path string
		want time.Duration
	}{
		{"/api/v1/generate", time.Minute},
		{"/api/v1/generate/hashtags", time.Minute},
		{"/api/v1/schedule", time.Second},
		{"/healthz", time.Second},
	}
	for _, tt := range tests {
		if got := cfg.timeoutFor(tt.path); got != tt.want {
			t.Errorf("timeoutFor(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestTimeout(t *testing.T) {
	cfg := TimeoutConfig{
		Default:          20 * time.Millisecond,
		Extended:         500 * time.Millisecond,
		ExtendedPrefixes: []string{"/api/v1/generate"},
	}

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(100 * time.Millisecond):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"default times out", "/api/v1/schedule", http.StatusGatewayTimeout},
		{"generation gets extended", "/api/v1/generate", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Timeout(cfg)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTimeout_ZeroDisables(t *testing.T) {
	handler := Timeout(TimeoutConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("request has a deadline with timeouts disabled")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestTimeout_PanicPropagates(t *testing.T) {
	handler := Timeout(TimeoutConfig{Default: time.Second})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	defer func() {
		if recover() == nil {
			t.Error("panic was swallowed")
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}
