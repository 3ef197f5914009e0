package handlers

import (
	"net/http"

	"github.com/3p3r/puppeteer-command-server/internal/web"
)

// HandleHelp lists every endpoint with a one-line description.
//
// @Endpoint GET /help
func (h *Handlers) HandleHelp(wr http.ResponseWriter, _ *http.Request) {
	web.OK(wr, map[string]any{
		"name": "puppeteer-command-server",
		"endpoints": map[string]any{
			"GET /health":                             "health status and registry snapshot",
			"GET /metrics":                            "request counters",
			"GET /help":                               "this help payload",
			"GET /openapi.json":                       "machine-readable API schema",
			"GET /openapi.yaml":                       "same schema as YAML",
			"GET /welcome":                            "welcome page",
			"GET /auth/verifier":                      "browser-side JWT verifier page",
			"POST /api/tabs/open":                     "open a tab ({url, headless})",
			"GET /api/tabs/list":                      "list tracked tabs",
			"POST /api/tabs/goto/{tabId}":             "navigate ({url, waitUntil, timeout})",
			"POST /api/tabs/click/{tabId}":            "click ({selector, waitForNavigation})",
			"POST /api/tabs/hover/{tabId}":            "hover ({selector})",
			"POST /api/tabs/fill/{tabId}":             "fill a field ({selector, value})",
			"POST /api/tabs/select/{tabId}":           "pick a select option ({selector, value})",
			"POST /api/tabs/eval/{tabId}":             "run JavaScript ({script})",
			"POST /api/tabs/focus/{tabId}":            "focus ({selector})",
			"POST /api/tabs/back/{tabId}":             "history back",
			"POST /api/tabs/forward/{tabId}":          "history forward",
			"POST /api/tabs/reload/{tabId}":           "reload ({waitUntil, timeout})",
			"POST /api/tabs/wait-selector/{tabId}":    "wait for a selector ({selector, timeout, visible})",
			"POST /api/tabs/wait-function/{tabId}":    "wait for a truthy script ({script, timeout})",
			"POST /api/tabs/wait-navigation/{tabId}":  "wait for a navigation ({waitUntil, timeout})",
			"GET /api/tabs/url/{tabId}":               "current URL",
			"GET /api/tabs/html/{tabId}":              "serialized document",
			"POST /api/tabs/front/{tabId}":            "bring tab to front",
			"GET /api/tabs/screenshot/{tabId}":        "PNG screenshot (?fullPage=true, ?raw=true)",
			"GET /api/tabs/screencast/{tabId}":        "live frame WebSocket (?quality, ?fps, ?maxWidth)",
			"DELETE /api/tabs/close/{tabId}":          "close a tab",
			"DELETE /api/tabs/close-all":              "close everything",
			"POST /api/browser/init":                  "launch a browser eagerly ({headless})",
			"PUT /api/browser/chrome-path":            "set or clear the Chrome executable ({path})",
			"POST /mcp":                               "MCP streamable HTTP endpoint",
		},
		"notes": []string{
			"Authenticate with x-api-key or Authorization: Bearer <jwt>.",
			"Timeouts are milliseconds; zero means the server default.",
		},
	})
}
