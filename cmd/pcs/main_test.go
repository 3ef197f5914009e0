package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/3p3r/puppeteer-command-server/internal/config"
	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

type stubRegistry struct {
	registry.API
}

func (stubRegistry) Stats() registry.Stats {
	return registry.Stats{Tabs: 0, Browsers: map[string]string{"headless": "absent", "headed": "absent"}}
}

func TestBuildHandlerServesHealth(t *testing.T) {
	h := buildHandler(stubRegistry{}, config.Runtime{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env web.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success {
		t.Error("expected success envelope")
	}
}

func TestBuildHandlerEnvelopes404(t *testing.T) {
	h := buildHandler(stubRegistry{}, config.Runtime{}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var env web.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %q", env.Code)
	}
}
