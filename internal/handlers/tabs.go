package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

// HandleOpenTab creates a tab, launching the mode's browser when needed.
//
// @Endpoint POST /api/tabs/open
func (h *Handlers) HandleOpenTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Headless *bool  `json:"headless"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.URL == "" {
		web.FailErr(w, 400, fmt.Errorf("url required"))
		return
	}
	headless := true
	if req.Headless != nil {
		headless = *req.Headless
	}

	info, err := h.Registry.OpenTab(r.Context(), registry.OpenTabOptions{URL: req.URL, Headless: headless})
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, info)
}

// HandleListTabs snapshots every tracked tab with live URL and title.
//
// @Endpoint GET /api/tabs/list
func (h *Handlers) HandleListTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.Registry.ListTabs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"tabs": tabs})
}

// HandleNavigate drives a tab to a new URL.
//
// @Endpoint POST /api/tabs/goto/{tabId}
func (h *Handlers) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	var req struct {
		URL       string `json:"url"`
		WaitUntil string `json:"waitUntil"`
		Timeout   int    `json:"timeout"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.URL == "" {
		web.FailErr(w, 400, fmt.Errorf("url required"))
		return
	}
	until, err := registry.ParseWaitUntil(req.WaitUntil)
	if err != nil {
		web.FailErr(w, 400, err)
		return
	}

	if err := h.Registry.NavigateTab(r.Context(), tabID, req.URL, until, msDuration(req.Timeout)); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"tabId": tabID, "url": req.URL})
}

// HandleClick clicks the first match of a CSS selector, optionally
// waiting out a navigation the click starts.
//
// @Endpoint POST /api/tabs/click/{tabId}
func (h *Handlers) HandleClick(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	var req struct {
		Selector          string `json:"selector"`
		WaitForNavigation bool   `json:"waitForNavigation"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Selector == "" {
		web.FailErr(w, 400, fmt.Errorf("selector required"))
		return
	}

	if err := h.Registry.ClickElement(r.Context(), tabID, req.Selector, req.WaitForNavigation); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleHover moves the mouse over the first match of a CSS selector.
//
// @Endpoint POST /api/tabs/hover/{tabId}
func (h *Handlers) HandleHover(w http.ResponseWriter, r *http.Request) {
	h.selectorOp(w, r, h.Registry.HoverElement)
}

// HandleFocus gives keyboard focus to the first match of a CSS selector.
//
// @Endpoint POST /api/tabs/focus/{tabId}
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	h.selectorOp(w, r, h.Registry.FocusElement)
}

// HandleFill sets the value of a form field.
//
// @Endpoint POST /api/tabs/fill/{tabId}
func (h *Handlers) HandleFill(w http.ResponseWriter, r *http.Request) {
	h.valueOp(w, r, h.Registry.FillField)
}

// HandleSelect picks a select option by value.
//
// @Endpoint POST /api/tabs/select/{tabId}
func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	h.valueOp(w, r, h.Registry.SelectOption)
}

// HandleEvaluate runs JavaScript in a tab and returns its value.
//
// @Endpoint POST /api/tabs/eval/{tabId}
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	var req struct {
		Script string `json:"script"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Script == "" {
		web.FailErr(w, 400, fmt.Errorf("script required"))
		return
	}

	result, err := h.Registry.EvaluateScript(r.Context(), tabID, req.Script)
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"result": result})
}

// HandleBack steps one entry back in the tab's history.
//
// @Endpoint POST /api/tabs/back/{tabId}
func (h *Handlers) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.bareOp(w, r, h.Registry.GoBack)
}

// HandleForward steps one entry forward in the tab's history.
//
// @Endpoint POST /api/tabs/forward/{tabId}
func (h *Handlers) HandleForward(w http.ResponseWriter, r *http.Request) {
	h.bareOp(w, r, h.Registry.GoForward)
}

// HandleBringToFront raises the tab in its window.
//
// @Endpoint POST /api/tabs/front/{tabId}
func (h *Handlers) HandleBringToFront(w http.ResponseWriter, r *http.Request) {
	h.bareOp(w, r, h.Registry.BringToFront)
}

// HandleReload reloads the page in place.
//
// @Endpoint POST /api/tabs/reload/{tabId}
func (h *Handlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	req, ok := decodeNavWait(w, r)
	if !ok {
		return
	}
	until, err := registry.ParseWaitUntil(req.WaitUntil)
	if err != nil {
		web.FailErr(w, 400, err)
		return
	}

	if err := h.Registry.ReloadTab(r.Context(), tabID, until, msDuration(req.Timeout)); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleWaitNavigation waits for a navigation started elsewhere, a
// submitted form for example, to finish.
//
// @Endpoint POST /api/tabs/wait-navigation/{tabId}
func (h *Handlers) HandleWaitNavigation(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	req, ok := decodeNavWait(w, r)
	if !ok {
		return
	}
	until, err := registry.ParseWaitUntil(req.WaitUntil)
	if err != nil {
		web.FailErr(w, 400, err)
		return
	}

	if err := h.Registry.WaitForNavigation(r.Context(), tabID, until, msDuration(req.Timeout)); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleWaitSelector blocks until a selector matches, or is visible
// with visible=true.
//
// @Endpoint POST /api/tabs/wait-selector/{tabId}
func (h *Handlers) HandleWaitSelector(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	var req struct {
		Selector string `json:"selector"`
		Timeout  int    `json:"timeout"`
		Visible  bool   `json:"visible"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Selector == "" {
		web.FailErr(w, 400, fmt.Errorf("selector required"))
		return
	}

	if err := h.Registry.WaitForSelector(r.Context(), tabID, req.Selector, msDuration(req.Timeout), req.Visible); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleWaitFunction polls a script until it returns truthy.
//
// @Endpoint POST /api/tabs/wait-function/{tabId}
func (h *Handlers) HandleWaitFunction(w http.ResponseWriter, r *http.Request) {
	tabID := r.PathValue("tabId")
	var req struct {
		Script  string `json:"script"`
		Timeout int    `json:"timeout"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Script == "" {
		web.FailErr(w, 400, fmt.Errorf("script required"))
		return
	}

	if err := h.Registry.WaitForFunction(r.Context(), tabID, req.Script, msDuration(req.Timeout)); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleTabURL returns the tab's current document URL.
//
// @Endpoint GET /api/tabs/url/{tabId}
func (h *Handlers) HandleTabURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.Registry.TabURL(r.Context(), r.PathValue("tabId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"url": url})
}

// HandleTabHTML returns the serialized document.
//
// @Endpoint GET /api/tabs/html/{tabId}
func (h *Handlers) HandleTabHTML(w http.ResponseWriter, r *http.Request) {
	html, err := h.Registry.TabHTML(r.Context(), r.PathValue("tabId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"html": html})
}

// HandleScreenshot captures the tab as PNG, base64 in the envelope or
// raw image bytes with ?raw=true.
//
// @Endpoint GET /api/tabs/screenshot/{tabId}
func (h *Handlers) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	fullPage := r.URL.Query().Get("fullPage") == "true"
	buf, err := h.Registry.Screenshot(r.Context(), r.PathValue("tabId"), fullPage)
	if err != nil {
		respondErr(w, err)
		return
	}

	if r.URL.Query().Get("raw") == "true" {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf)
		return
	}
	web.OK(w, map[string]any{"format": "png", "base64": base64.StdEncoding.EncodeToString(buf)})
}

// HandleCloseTab closes one tab; the last tab of a mode takes its
// browser down with it.
//
// @Endpoint DELETE /api/tabs/close/{tabId}
func (h *Handlers) HandleCloseTab(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.CloseTab(r.Context(), r.PathValue("tabId")); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// HandleCloseAll closes every tracked tab and both browsers.
//
// @Endpoint DELETE /api/tabs/close-all
func (h *Handlers) HandleCloseAll(w http.ResponseWriter, r *http.Request) {
	closed, err := h.Registry.CloseAllTabs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, map[string]any{"closed": closed})
}

// selectorOp handles the body shape shared by hover and focus.
func (h *Handlers) selectorOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tabID, selector string) error) {
	tabID := r.PathValue("tabId")
	var req struct {
		Selector string `json:"selector"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Selector == "" {
		web.FailErr(w, 400, fmt.Errorf("selector required"))
		return
	}

	if err := op(r.Context(), tabID, req.Selector); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// valueOp handles the body shape shared by fill and select.
func (h *Handlers) valueOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tabID, selector, value string) error) {
	tabID := r.PathValue("tabId")
	var req struct {
		Selector string `json:"selector"`
		Value    string `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return
	}
	if req.Selector == "" {
		web.FailErr(w, 400, fmt.Errorf("selector required"))
		return
	}

	if err := op(r.Context(), tabID, req.Selector, req.Value); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

// bareOp handles endpoints with no body: back, forward, front.
func (h *Handlers) bareOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tabID string) error) {
	if err := op(r.Context(), r.PathValue("tabId")); err != nil {
		respondErr(w, err)
		return
	}
	web.OK(w, nil)
}

type navWaitRequest struct {
	WaitUntil string `json:"waitUntil"`
	Timeout   int    `json:"timeout"`
}

// decodeNavWait reads the optional reload/wait-navigation body. An empty
// body is fine; both fields default.
func decodeNavWait(w http.ResponseWriter, r *http.Request) (navWaitRequest, bool) {
	var req navWaitRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		web.FailErr(w, 400, fmt.Errorf("decode: %w", err))
		return req, false
	}
	return req, true
}

// msDuration converts a millisecond count from the wire; zero and
// negatives mean "use the default".
func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
