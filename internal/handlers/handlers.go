// Package handlers wires the HTTP API to the tab registry. Every
// response uses the envelope from internal/web; protected routes sit
// behind the auth middleware installed by the caller.
package handlers

import (
	"errors"
	"net/http"

	"github.com/3p3r/puppeteer-command-server/internal/assets"
	"github.com/3p3r/puppeteer-command-server/internal/config"
	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

const maxBodySize = 1 << 20

// Handlers holds the dependencies of all HTTP endpoints.
type Handlers struct {
	Registry registry.API
	Runtime  config.Runtime
	Version  string
}

func New(reg registry.API, rt config.Runtime, version string) *Handlers {
	return &Handlers{Registry: reg, Runtime: rt, Version: version}
}

// RegisterRoutes mounts every endpoint on mux. guard wraps the protected
// subtree; mcp, when non-nil, is mounted at /mcp behind the same guard.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, guard func(http.Handler) http.Handler, mcp http.Handler) {
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	// Operational endpoints stay outside the auth gate.
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /help", h.HandleHelp)
	mux.HandleFunc("GET /openapi.json", h.HandleOpenAPI)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPIYAML)
	mux.HandleFunc("GET /welcome", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(assets.WelcomeHTML))
	})
	mux.HandleFunc("GET /auth/verifier", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(assets.VerifierHTML))
	})

	api := http.NewServeMux()
	api.HandleFunc("POST /api/tabs/open", h.HandleOpenTab)
	api.HandleFunc("GET /api/tabs/list", h.HandleListTabs)
	api.HandleFunc("POST /api/tabs/goto/{tabId}", h.HandleNavigate)
	api.HandleFunc("POST /api/tabs/click/{tabId}", h.HandleClick)
	api.HandleFunc("POST /api/tabs/hover/{tabId}", h.HandleHover)
	api.HandleFunc("POST /api/tabs/fill/{tabId}", h.HandleFill)
	api.HandleFunc("POST /api/tabs/select/{tabId}", h.HandleSelect)
	api.HandleFunc("POST /api/tabs/eval/{tabId}", h.HandleEvaluate)
	api.HandleFunc("POST /api/tabs/focus/{tabId}", h.HandleFocus)
	api.HandleFunc("POST /api/tabs/back/{tabId}", h.HandleBack)
	api.HandleFunc("POST /api/tabs/forward/{tabId}", h.HandleForward)
	api.HandleFunc("POST /api/tabs/reload/{tabId}", h.HandleReload)
	api.HandleFunc("POST /api/tabs/wait-selector/{tabId}", h.HandleWaitSelector)
	api.HandleFunc("POST /api/tabs/wait-function/{tabId}", h.HandleWaitFunction)
	api.HandleFunc("POST /api/tabs/wait-navigation/{tabId}", h.HandleWaitNavigation)
	api.HandleFunc("GET /api/tabs/url/{tabId}", h.HandleTabURL)
	api.HandleFunc("GET /api/tabs/html/{tabId}", h.HandleTabHTML)
	api.HandleFunc("POST /api/tabs/front/{tabId}", h.HandleBringToFront)
	api.HandleFunc("GET /api/tabs/screenshot/{tabId}", h.HandleScreenshot)
	api.HandleFunc("GET /api/tabs/screencast/{tabId}", h.HandleScreencast)
	api.HandleFunc("DELETE /api/tabs/close/{tabId}", h.HandleCloseTab)
	api.HandleFunc("DELETE /api/tabs/close-all", h.HandleCloseAll)
	api.HandleFunc("POST /api/browser/init", h.HandleBrowserInit)
	api.HandleFunc("PUT /api/browser/chrome-path", h.HandleChromePath)
	api.HandleFunc("/", handleNotFound)

	mux.Handle("/api/", guard(api))
	if mcp != nil {
		mux.Handle("/mcp", guard(mcp))
	}
	mux.HandleFunc("/", handleNotFound)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	web.Fail(w, http.StatusNotFound, "NOT_FOUND", "no route for "+r.Method+" "+r.URL.Path)
}

// respondErr maps registry failures onto the wire: unknown tabs are 404,
// everything else 500. Neither carries a code.
func respondErr(w http.ResponseWriter, err error) {
	var notFound *registry.TabNotFoundError
	if errors.As(err, &notFound) {
		web.FailErr(w, http.StatusNotFound, err)
		return
	}
	web.FailErr(w, http.StatusInternalServerError, err)
}
