package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/3p3r/puppeteer-command-server/internal/registry"
	"github.com/3p3r/puppeteer-command-server/internal/web"
)

type mockRegistry struct {
	registry.API
	err      error
	lastTab  string
	headless bool
	waitNav  bool
	visible  bool
	timeout  time.Duration
}

func (m *mockRegistry) OpenTab(ctx context.Context, opts registry.OpenTabOptions) (registry.TabInfo, error) {
	if m.err != nil {
		return registry.TabInfo{}, m.err
	}
	m.headless = opts.Headless
	return registry.TabInfo{ID: "tab_1", URL: opts.URL, Headless: opts.Headless}, nil
}

func (m *mockRegistry) ListTabs(ctx context.Context) ([]registry.TabInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []registry.TabInfo{{ID: "tab_1", URL: "https://example.com", Title: "Example", Headless: true}}, nil
}

func (m *mockRegistry) CloseTab(ctx context.Context, tabID string) error {
	m.lastTab = tabID
	return m.err
}

func (m *mockRegistry) CloseAllTabs(ctx context.Context) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return 2, nil
}

func (m *mockRegistry) NavigateTab(ctx context.Context, tabID, url string, until registry.WaitUntil, timeout time.Duration) error {
	m.lastTab = tabID
	m.timeout = timeout
	return m.err
}

func (m *mockRegistry) ClickElement(ctx context.Context, tabID, selector string, waitNav bool) error {
	m.lastTab = tabID
	m.waitNav = waitNav
	return m.err
}

func (m *mockRegistry) EvaluateScript(ctx context.Context, tabID, script string) (any, error) {
	if m.err != nil {
		return nil, m.err
	}
	return map[string]any{"answer": 42}, nil
}

func (m *mockRegistry) WaitForSelector(ctx context.Context, tabID, selector string, timeout time.Duration, visible bool) error {
	m.lastTab = tabID
	m.timeout = timeout
	m.visible = visible
	return m.err
}

func (m *mockRegistry) Screenshot(ctx context.Context, tabID string, fullPage bool) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []byte("png-bytes"), nil
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) web.Envelope {
	t.Helper()
	var env web.Envelope
	if err := json.Unmarshal([]byte(resultText(t, res)), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func dataMap(t *testing.T, env web.Envelope) map[string]any {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", env.Data)
	}
	return data
}

func TestOpenTabTool(t *testing.T) {
	reg := &mockRegistry{}
	s := NewServer(reg, "test")

	res, _, err := s.openTab(context.Background(), nil, openTabInput{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("openTab: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	env := decodeEnvelope(t, res)
	if !env.Success {
		t.Error("expected success envelope")
	}
	if got := dataMap(t, env)["id"]; got != "tab_1" {
		t.Errorf("expected tab_1, got %v", got)
	}
	if !reg.headless {
		t.Error("expected headless to default to true")
	}
}

func TestOpenTabToolHeaded(t *testing.T) {
	reg := &mockRegistry{headless: true}
	s := NewServer(reg, "test")

	headed := false
	res, _, _ := s.openTab(context.Background(), nil, openTabInput{URL: "https://example.com", Headless: &headed})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if reg.headless {
		t.Error("expected headless false to reach the registry")
	}
}

func TestOpenTabToolRequiresURL(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.openTab(context.Background(), nil, openTabInput{})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if got := resultText(t, res); got != "url required" {
		t.Errorf("expected url required, got %q", got)
	}
}

func TestTabNotFoundSurfacesInMessage(t *testing.T) {
	reg := &mockRegistry{err: &registry.TabNotFoundError{ID: "tab_ghost"}}
	s := NewServer(reg, "test")

	res, _, _ := s.navigateTab(context.Background(), nil, navigateInput{TabID: "tab_ghost", URL: "https://example.com"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "tab_ghost") {
		t.Errorf("expected message to name the tab, got %q", got)
	}
}

func TestNavigateToolRejectsBadWaitUntil(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.navigateTab(context.Background(), nil, navigateInput{TabID: "tab_1", URL: "https://example.com", WaitUntil: "soonish"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "waitUntil") {
		t.Errorf("expected waitUntil in message, got %q", got)
	}
}

func TestClickToolPassesWaitForNavigation(t *testing.T) {
	reg := &mockRegistry{}
	s := NewServer(reg, "test")

	res, _, _ := s.clickElement(context.Background(), nil, clickInput{TabID: "tab_1", Selector: "#go", WaitForNavigation: true})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if !reg.waitNav {
		t.Error("expected waitForNavigation to reach the registry")
	}
}

func TestWaitForSelectorToolDefaults(t *testing.T) {
	reg := &mockRegistry{}
	s := NewServer(reg, "test")

	res, _, _ := s.waitForSelector(context.Background(), nil, waitSelectorInput{TabID: "tab_1", Selector: ".done"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if reg.timeout != 0 {
		t.Errorf("expected zero timeout to mean server default, got %v", reg.timeout)
	}
	if reg.visible {
		t.Error("expected visible to default to false")
	}

	s.waitForSelector(context.Background(), nil, waitSelectorInput{TabID: "tab_1", Selector: ".done", Timeout: 1500, Visible: true})
	if reg.timeout != 1500*time.Millisecond {
		t.Errorf("expected 1.5s timeout, got %v", reg.timeout)
	}
	if !reg.visible {
		t.Error("expected visible to reach the registry")
	}
}

func TestEvaluateTool(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.evaluateScript(context.Background(), nil, evaluateInput{TabID: "tab_1", Script: "1+41"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	data := dataMap(t, decodeEnvelope(t, res))
	result, ok := data["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected object result, got %T", data["result"])
	}
	if result["answer"] != float64(42) {
		t.Errorf("expected 42, got %v", result["answer"])
	}
}

func TestCloseAllTabsTool(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.closeAllTabs(context.Background(), nil, noInput{})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if got := dataMap(t, decodeEnvelope(t, res))["closed"]; got != float64(2) {
		t.Errorf("expected 2 closed, got %v", got)
	}
}

func TestScreenshotToolStoresResource(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.screenshotTab(context.Background(), nil, screenshotInput{TabID: "tab_7"})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if len(res.Content) != 2 {
		t.Fatalf("expected text plus image, got %d content blocks", len(res.Content))
	}
	img, ok := res.Content[1].(*mcp.ImageContent)
	if !ok {
		t.Fatalf("expected image content, got %T", res.Content[1])
	}
	if img.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %q", img.MIMEType)
	}
	if !bytes.Equal(img.Data, []byte("png-bytes")) {
		t.Error("image bytes do not match the capture")
	}

	uri, _ := dataMap(t, decodeEnvelope(t, res))["uri"].(string)
	if !strings.HasPrefix(uri, "screenshot://tab_7/") {
		t.Errorf("unexpected resource uri %q", uri)
	}
	if s.shots.Len() != 1 {
		t.Errorf("expected 1 stored screenshot, got %d", s.shots.Len())
	}
}

func TestRemoveScreenshotTool(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	res, _, _ := s.screenshotTab(context.Background(), nil, screenshotInput{TabID: "tab_7"})
	uri, _ := dataMap(t, decodeEnvelope(t, res))["uri"].(string)

	res, _, _ = s.removeScreenshot(context.Background(), nil, uriInput{URI: uri})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if s.shots.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.shots.Len())
	}

	res, _, _ = s.removeScreenshot(context.Background(), nil, uriInput{URI: uri})
	if !res.IsError {
		t.Error("expected error result for a removed uri")
	}
}

func TestClearScreenshotsTool(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")

	for i := 0; i < 3; i++ {
		s.screenshotTab(context.Background(), nil, screenshotInput{TabID: "tab_7"})
	}

	res, _, _ := s.clearScreenshots(context.Background(), nil, noInput{})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if got := dataMap(t, decodeEnvelope(t, res))["cleared"]; got != float64(3) {
		t.Errorf("expected 3 cleared, got %v", got)
	}
	if s.shots.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.shots.Len())
	}
}

func TestReadScreenshotResource(t *testing.T) {
	s := NewServer(&mockRegistry{}, "test")
	shot := s.shots.Add("tab_3", []byte("frame"))

	result, err := s.readScreenshot(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: shot.URI},
	})
	if err != nil {
		t.Fatalf("readScreenshot: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("expected 1 contents entry, got %d", len(result.Contents))
	}
	if !bytes.Equal(result.Contents[0].Blob, []byte("frame")) {
		t.Error("blob does not match the stored screenshot")
	}

	if _, err := s.readScreenshot(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: "screenshot://tab_3/0"},
	}); err == nil {
		t.Error("expected an error for an unknown uri")
	}
}

func TestScreenshotStoreURIsUnique(t *testing.T) {
	store := NewScreenshotStore()

	a := store.Add("tab_1", []byte("a"))
	b := store.Add("tab_1", []byte("b"))
	if a.URI == b.URI {
		t.Fatalf("expected distinct uris, both were %s", a.URI)
	}

	got, ok := store.Get(b.URI)
	if !ok || !bytes.Equal(got.Data, []byte("b")) {
		t.Error("second screenshot did not round-trip")
	}

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 screenshots, got %d", len(list))
	}
	if list[0].URI != a.URI {
		t.Errorf("expected oldest first, got %s", list[0].URI)
	}
}
