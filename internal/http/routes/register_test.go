package routes

import (
	"testing"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
)

func TestRegister_StubsBuildSpec(t *testing.T) {
	api := humachi.New(chi.NewMux(), NewHumaConfig("https://api.example.com"))
	Register(api, StubHandlers())

	spec := api.OpenAPI()
	paths := []string{
		"/api/v1/health",
		"/api/v1/generate",
		"/api/v1/generate/post",
		"/api/v1/generate/hashtags",
		"/api/v1/generate/ideas",
		"/api/v1/llm/providers",
		"/api/v1/schedule",
		"/api/v1/schedule/{id}",
		"/api/v1/schedule/{id}/status",
		"/api/v1/accounts",
		"/api/v1/accounts/{destination}",
		"/api/v1/usage",
		"/api/v1/usage/records",
	}
	for _, p := range paths {
		if _, ok := spec.Paths[p]; !ok {
			t.Errorf("path %s not registered", p)
		}
	}

	submit := spec.Paths["/api/v1/schedule"].Post
	if submit == nil || len(submit.Security) == 0 {
		t.Error("schedule submit should require bearer auth")
	}
	health := spec.Paths["/api/v1/health"].Get
	if health == nil || len(health.Security) != 0 {
		t.Error("health should be public")
	}
}
