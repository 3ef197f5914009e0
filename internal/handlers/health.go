package handlers

import (
	"net/http"

	"github.com/3p3r/puppeteer-command-server/internal/web"
)

// HandleHealth reports liveness plus a snapshot of the tab registry.
//
// @Endpoint GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := h.Registry.Stats()
	web.OK(w, map[string]any{
		"status":   "ok",
		"version":  h.Version,
		"tabs":     stats.Tabs,
		"browsers": stats.Browsers,
	})
}
