package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmylchreest/postforge-api/internal/version"
)

func TestAPIVersion(t *testing.T) {
	statuses := []int{http.StatusOK, http.StatusCreated, http.StatusNotFound, http.StatusInternalServerError}

	for _, status := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			wrapped := APIVersion()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

			if got, want := rec.Header().Get("X-API-Version"), version.Get().Short(); got != want {
				t.Errorf("X-API-Version = %q, want %q", got, want)
			}
		})
	}
}
