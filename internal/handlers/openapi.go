package handlers

import (
	"log/slog"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/3p3r/puppeteer-command-server/internal/web"
)

func (h *Handlers) openAPIDocument() map[string]any {
	get := func(summary string) map[string]any {
		return map[string]any{"get": map[string]any{"summary": summary}}
	}
	post := func(summary string) map[string]any {
		return map[string]any{"post": map[string]any{"summary": summary}}
	}

	return map[string]any{
		"openapi": "3.0.0",
		"info": map[string]any{
			"title":   "Puppeteer Command Server API",
			"version": h.Version,
		},
		"paths": map[string]any{
			"/health":                            get("Health and registry snapshot"),
			"/metrics":                           get("Request counters"),
			"/help":                              get("Endpoint listing"),
			"/welcome":                           get("Welcome page"),
			"/auth/verifier":                     get("Browser-side JWT verifier page"),
			"/api/tabs/open":                     post("Open a tab"),
			"/api/tabs/list":                     get("List tracked tabs"),
			"/api/tabs/goto/{tabId}":             post("Navigate a tab"),
			"/api/tabs/click/{tabId}":            post("Click an element"),
			"/api/tabs/hover/{tabId}":            post("Hover an element"),
			"/api/tabs/fill/{tabId}":             post("Fill a field"),
			"/api/tabs/select/{tabId}":           post("Pick a select option"),
			"/api/tabs/eval/{tabId}":             post("Run JavaScript"),
			"/api/tabs/focus/{tabId}":            post("Focus an element"),
			"/api/tabs/back/{tabId}":             post("History back"),
			"/api/tabs/forward/{tabId}":          post("History forward"),
			"/api/tabs/reload/{tabId}":           post("Reload the page"),
			"/api/tabs/wait-selector/{tabId}":    post("Wait for a selector"),
			"/api/tabs/wait-function/{tabId}":    post("Wait for a truthy script"),
			"/api/tabs/wait-navigation/{tabId}":  post("Wait for a navigation"),
			"/api/tabs/url/{tabId}":              get("Current URL"),
			"/api/tabs/html/{tabId}":             get("Serialized document"),
			"/api/tabs/front/{tabId}":            post("Bring tab to front"),
			"/api/tabs/screenshot/{tabId}":       get("PNG screenshot"),
			"/api/tabs/screencast/{tabId}":       get("Live frame WebSocket"),
			"/api/tabs/close/{tabId}":            map[string]any{"delete": map[string]any{"summary": "Close a tab"}},
			"/api/tabs/close-all":                map[string]any{"delete": map[string]any{"summary": "Close every tab"}},
			"/api/browser/init":                  post("Launch a browser eagerly"),
			"/api/browser/chrome-path":           map[string]any{"put": map[string]any{"summary": "Set or clear the Chrome executable"}},
			"/mcp":                               post("MCP streamable HTTP endpoint"),
		},
	}
}

// HandleOpenAPI serves the API schema as JSON.
//
// @Endpoint GET /openapi.json
func (h *Handlers) HandleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	web.JSON(w, 200, h.openAPIDocument())
}

// HandleOpenAPIYAML serves the same schema as YAML.
//
// @Endpoint GET /openapi.yaml
func (h *Handlers) HandleOpenAPIYAML(w http.ResponseWriter, _ *http.Request) {
	out, err := yaml.Marshal(h.openAPIDocument())
	if err != nil {
		web.FailErr(w, 500, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(200)
	if _, err := w.Write(out); err != nil {
		slog.Error("openapi yaml write", "err", err)
	}
}
