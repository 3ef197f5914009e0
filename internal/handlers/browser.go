package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/3p3r/puppeteer-command-server/internal/web"
)

// HandleBrowserInit launches the requested browser mode eagerly instead
// of waiting for the first tab.
//
// @Endpoint POST /api/browser/init
func (h *Handlers) HandleBrowserInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Headless *bool `json:"headless"`
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	headless := true
	if req.Headless != nil {
		headless = *req.Headless
	}

	if err := h.Registry.Initialize(r.Context(), headless); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, h.Registry.Stats())
}

// HandleChromePath sets or clears the Chrome executable used for future
// launches. Running browsers are left alone.
//
// @Endpoint PUT /api/browser/chrome-path
func (h *Handlers) HandleChromePath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path *string `json:"path"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}

	path := ""
	if req.Path != nil {
		path = *req.Path
	}
	if err := h.Registry.UpdateChromePath(path); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"chromePath": path})
}
