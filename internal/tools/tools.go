// Package tools exposes the tab registry as MCP tools over the SDK's
// streamable HTTP transport. Screenshots captured through the tool
// surface are kept as MCP resources until a cleanup tool drops them.
package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

// Server bundles the MCP server with the registry it drives and the
// screenshot store backing the screenshot:// resources.
type Server struct {
	reg   registry.API
	mcp   *mcp.Server
	shots *ScreenshotStore
}

func NewServer(reg registry.API, version string) *Server {
	s := &Server{
		reg:   reg,
		mcp:   mcp.NewServer(&mcp.Implementation{Name: "puppeteer-command-server", Version: version}, nil),
		shots: NewScreenshotStore(),
	}
	s.register()
	return s
}

// Handler returns the streamable HTTP handler serving the MCP endpoint.
// Every session shares the one server, so screenshot resources stay
// listable across sessions.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) register() {
	srv := s.mcp

	// Tab lifecycle
	mcp.AddTool(srv, &mcp.Tool{
		Name: "open_tab",
		Description: `Open a new browser tab and load a page.
Example: open_tab {url: "https://example.com"} → {"id": "tab_1", ...}
Pass headless: false for a visible browser window.`,
	}, s.openTab)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_tabs",
		Description: "List open tabs with id, url, title and headless flag.",
	}, s.listTabs)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "close_tab",
		Description: "Close a tab. Closing the last tab of a browser shuts that browser down.",
	}, s.closeTab)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "close_all_tabs",
		Description: "Close every tab and shut down both browsers.",
	}, s.closeAllTabs)

	// Navigation
	mcp.AddTool(srv, &mcp.Tool{
		Name: "navigate_tab",
		Description: `Navigate a tab to a URL.
waitUntil: load (default), domcontentloaded, networkidle0 or networkidle2.
timeout is milliseconds; zero means the server default.`,
	}, s.navigateTab)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "reload_tab",
		Description: "Reload a tab. Takes the same waitUntil and timeout as navigate_tab.",
	}, s.reloadTab)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "go_back",
		Description: "Go back one entry in the tab's history.",
	}, s.goBack)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "go_forward",
		Description: "Go forward one entry in the tab's history.",
	}, s.goForward)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wait_for_navigation",
		Description: "Wait for the tab's next navigation to settle. Takes the same waitUntil and timeout as navigate_tab.",
	}, s.waitForNavigation)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "bring_to_front",
		Description: "Raise the tab to the foreground of its browser window.",
	}, s.bringToFront)

	// Interaction
	mcp.AddTool(srv, &mcp.Tool{
		Name: "click_element",
		Description: `Click the element matching a CSS selector.
Set waitForNavigation: true when the click triggers a page load that should finish before the tool returns.`,
	}, s.clickElement)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "hover_element",
		Description: "Move the mouse over the element matching a CSS selector.",
	}, s.hoverElement)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "focus_element",
		Description: "Focus the element matching a CSS selector.",
	}, s.focusElement)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "fill_field",
		Description: `Set the value of an input and fire its input and change events.
Example: fill_field {tabId: "tab_1", selector: "#email", value: "a@b.example"}`,
	}, s.fillField)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "select_option",
		Description: "Choose a select element's option by value and fire its change event.",
	}, s.selectOption)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "evaluate_script",
		Description: `Evaluate a JavaScript expression in the page and return its JSON value.
Example: evaluate_script {tabId: "tab_1", script: "document.title"}`,
	}, s.evaluateScript)

	// Waits
	mcp.AddTool(srv, &mcp.Tool{
		Name: "wait_for_selector",
		Description: `Wait until a CSS selector matches an element.
Set visible: true to also require the element to be rendered.`,
	}, s.waitForSelector)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "wait_for_function",
		Description: "Poll a JavaScript predicate in the page until it returns true.",
	}, s.waitForFunction)

	// Inspection
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_tab_url",
		Description: "Return the tab's current URL.",
	}, s.getTabURL)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_tab_html",
		Description: "Return the tab's full HTML markup.",
	}, s.getTabHTML)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "screenshot_tab",
		Description: `Capture a PNG of the tab. The image is returned inline and stored as a screenshot:// resource until removed.
Set fullPage: true to capture past the viewport.`,
	}, s.screenshotTab)

	// Screenshot cleanup
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "remove_screenshot",
		Description: "Drop one stored screenshot resource by URI.",
	}, s.removeScreenshot)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "clear_screenshots",
		Description: "Drop every stored screenshot resource.",
	}, s.clearScreenshots)
}

type openTabInput struct {
	URL      string `json:"url"`
	Headless *bool  `json:"headless,omitempty"`
}

type noInput struct{}

type tabInput struct {
	TabID string `json:"tabId"`
}

type navigateInput struct {
	TabID     string `json:"tabId"`
	URL       string `json:"url"`
	WaitUntil string `json:"waitUntil,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

type navWaitInput struct {
	TabID     string `json:"tabId"`
	WaitUntil string `json:"waitUntil,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

type clickInput struct {
	TabID             string `json:"tabId"`
	Selector          string `json:"selector"`
	WaitForNavigation bool   `json:"waitForNavigation,omitempty"`
}

type selectorInput struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
}

type valueInput struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type evaluateInput struct {
	TabID  string `json:"tabId"`
	Script string `json:"script"`
}

type waitSelectorInput struct {
	TabID    string `json:"tabId"`
	Selector string `json:"selector"`
	Timeout  int    `json:"timeout,omitempty"`
	Visible  bool   `json:"visible,omitempty"`
}

type waitFunctionInput struct {
	TabID   string `json:"tabId"`
	Script  string `json:"script"`
	Timeout int    `json:"timeout,omitempty"`
}

type screenshotInput struct {
	TabID    string `json:"tabId"`
	FullPage bool   `json:"fullPage,omitempty"`
}

type uriInput struct {
	URI string `json:"uri"`
}

func (s *Server) openTab(ctx context.Context, _ *mcp.CallToolRequest, in openTabInput) (*mcp.CallToolResult, any, error) {
	if in.URL == "" {
		return errorResult("url required"), nil, nil
	}
	headless := true
	if in.Headless != nil {
		headless = *in.Headless
	}
	info, err := s.reg.OpenTab(ctx, registry.OpenTabOptions{URL: in.URL, Headless: headless})
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(info), nil, nil
}

func (s *Server) listTabs(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	tabs, err := s.reg.ListTabs(ctx)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"tabs": tabs}), nil, nil
}

func (s *Server) closeTab(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	return s.tabOp(ctx, in.TabID, s.reg.CloseTab)
}

func (s *Server) closeAllTabs(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	n, err := s.reg.CloseAllTabs(ctx)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"closed": n}), nil, nil
}

func (s *Server) navigateTab(ctx context.Context, _ *mcp.CallToolRequest, in navigateInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.URL == "" {
		return errorResult("url required"), nil, nil
	}
	until, err := registry.ParseWaitUntil(in.WaitUntil)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if err := s.reg.NavigateTab(ctx, in.TabID, in.URL, until, msDuration(in.Timeout)); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"tabId": in.TabID, "url": in.URL}), nil, nil
}

func (s *Server) reloadTab(ctx context.Context, _ *mcp.CallToolRequest, in navWaitInput) (*mcp.CallToolResult, any, error) {
	return s.navWaitOp(ctx, in, s.reg.ReloadTab)
}

func (s *Server) waitForNavigation(ctx context.Context, _ *mcp.CallToolRequest, in navWaitInput) (*mcp.CallToolResult, any, error) {
	return s.navWaitOp(ctx, in, s.reg.WaitForNavigation)
}

func (s *Server) goBack(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	return s.tabOp(ctx, in.TabID, s.reg.GoBack)
}

func (s *Server) goForward(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	return s.tabOp(ctx, in.TabID, s.reg.GoForward)
}

func (s *Server) bringToFront(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	return s.tabOp(ctx, in.TabID, s.reg.BringToFront)
}

func (s *Server) clickElement(ctx context.Context, _ *mcp.CallToolRequest, in clickInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Selector == "" {
		return errorResult("selector required"), nil, nil
	}
	if err := s.reg.ClickElement(ctx, in.TabID, in.Selector, in.WaitForNavigation); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

func (s *Server) hoverElement(ctx context.Context, _ *mcp.CallToolRequest, in selectorInput) (*mcp.CallToolResult, any, error) {
	return s.selectorOp(ctx, in, s.reg.HoverElement)
}

func (s *Server) focusElement(ctx context.Context, _ *mcp.CallToolRequest, in selectorInput) (*mcp.CallToolResult, any, error) {
	return s.selectorOp(ctx, in, s.reg.FocusElement)
}

func (s *Server) fillField(ctx context.Context, _ *mcp.CallToolRequest, in valueInput) (*mcp.CallToolResult, any, error) {
	return s.valueOp(ctx, in, s.reg.FillField)
}

func (s *Server) selectOption(ctx context.Context, _ *mcp.CallToolRequest, in valueInput) (*mcp.CallToolResult, any, error) {
	return s.valueOp(ctx, in, s.reg.SelectOption)
}

func (s *Server) evaluateScript(ctx context.Context, _ *mcp.CallToolRequest, in evaluateInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Script == "" {
		return errorResult("script required"), nil, nil
	}
	result, err := s.reg.EvaluateScript(ctx, in.TabID, in.Script)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"result": result}), nil, nil
}

func (s *Server) waitForSelector(ctx context.Context, _ *mcp.CallToolRequest, in waitSelectorInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Selector == "" {
		return errorResult("selector required"), nil, nil
	}
	if err := s.reg.WaitForSelector(ctx, in.TabID, in.Selector, msDuration(in.Timeout), in.Visible); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

func (s *Server) waitForFunction(ctx context.Context, _ *mcp.CallToolRequest, in waitFunctionInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Script == "" {
		return errorResult("script required"), nil, nil
	}
	if err := s.reg.WaitForFunction(ctx, in.TabID, in.Script, msDuration(in.Timeout)); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

func (s *Server) getTabURL(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	url, err := s.reg.TabURL(ctx, in.TabID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"url": url}), nil, nil
}

func (s *Server) getTabHTML(ctx context.Context, _ *mcp.CallToolRequest, in tabInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	html, err := s.reg.TabHTML(ctx, in.TabID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(map[string]any{"html": html}), nil, nil
}

func (s *Server) screenshotTab(ctx context.Context, _ *mcp.CallToolRequest, in screenshotInput) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	png, err := s.reg.Screenshot(ctx, in.TabID, in.FullPage)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	shot := s.shots.Add(in.TabID, png)
	s.mcp.AddResource(&mcp.Resource{
		URI:         shot.URI,
		Name:        "screenshot " + shot.TabID,
		Description: "PNG captured " + shot.Taken.Format(time.RFC3339),
		MIMEType:    "image/png",
	}, s.readScreenshot)

	res := envelopeResult(map[string]any{"uri": shot.URI, "format": "png"})
	res.Content = append(res.Content, &mcp.ImageContent{Data: png, MIMEType: "image/png"})
	return res, nil, nil
}

func (s *Server) removeScreenshot(_ context.Context, _ *mcp.CallToolRequest, in uriInput) (*mcp.CallToolResult, any, error) {
	if in.URI == "" {
		return errorResult("uri required"), nil, nil
	}
	if !s.shots.Remove(in.URI) {
		return errorResult("no screenshot stored at " + in.URI), nil, nil
	}
	s.mcp.RemoveResources(in.URI)
	return envelopeResult(nil), nil, nil
}

func (s *Server) clearScreenshots(_ context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	uris := s.shots.Clear()
	if len(uris) > 0 {
		s.mcp.RemoveResources(uris...)
	}
	return envelopeResult(map[string]any{"cleared": len(uris)}), nil, nil
}

// readScreenshot serves screenshot:// resource reads from the store.
func (s *Server) readScreenshot(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	shot, ok := s.shots.Get(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: shot.URI, MIMEType: "image/png", Blob: shot.Data}},
	}, nil
}

// tabOp covers the tools whose whole input is a tab ID.
func (s *Server) tabOp(ctx context.Context, tabID string, op func(context.Context, string) error) (*mcp.CallToolResult, any, error) {
	if tabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if err := op(ctx, tabID); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

// selectorOp covers the tools whose input is a tab and a selector.
func (s *Server) selectorOp(ctx context.Context, in selectorInput, op func(context.Context, string, string) error) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Selector == "" {
		return errorResult("selector required"), nil, nil
	}
	if err := op(ctx, in.TabID, in.Selector); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

// valueOp covers fill_field and select_option.
func (s *Server) valueOp(ctx context.Context, in valueInput, op func(context.Context, string, string, string) error) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	if in.Selector == "" {
		return errorResult("selector required"), nil, nil
	}
	if err := op(ctx, in.TabID, in.Selector, in.Value); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

// navWaitOp covers reload_tab and wait_for_navigation.
func (s *Server) navWaitOp(ctx context.Context, in navWaitInput, op func(context.Context, string, registry.WaitUntil, time.Duration) error) (*mcp.CallToolResult, any, error) {
	if in.TabID == "" {
		return errorResult("tabId required"), nil, nil
	}
	until, err := registry.ParseWaitUntil(in.WaitUntil)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	if err := op(ctx, in.TabID, until, msDuration(in.Timeout)); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return envelopeResult(nil), nil, nil
}

// envelopeResult wraps data in the same JSON envelope the HTTP API uses
// and returns it as text content.
func envelopeResult(data any) *mcp.CallToolResult {
	b, err := json.Marshal(web.Envelope{Success: true, Data: data})
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

// errorResult reports a failed call as tool output rather than a
// protocol error.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// msDuration converts a millisecond count from the wire; zero and
// negatives mean "use the default".
func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
