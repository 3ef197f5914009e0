package registry

import (
	"context"
	"time"
)

// API is the registry surface the HTTP handlers and MCP tools consume.
// *Registry implements it; tests substitute lighter fakes.
type API interface {
	OpenTab(ctx context.Context, opts OpenTabOptions) (TabInfo, error)
	ListTabs(ctx context.Context) ([]TabInfo, error)
	CloseTab(ctx context.Context, tabID string) error
	CloseAllTabs(ctx context.Context) (int, error)
	TabContext(tabID string) (context.Context, error)

	NavigateTab(ctx context.Context, tabID, url string, until WaitUntil, timeout time.Duration) error
	ReloadTab(ctx context.Context, tabID string, until WaitUntil, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, tabID string, until WaitUntil, timeout time.Duration) error
	GoBack(ctx context.Context, tabID string) error
	GoForward(ctx context.Context, tabID string) error
	BringToFront(ctx context.Context, tabID string) error

	ClickElement(ctx context.Context, tabID, selector string, waitNav bool) error
	HoverElement(ctx context.Context, tabID, selector string) error
	FocusElement(ctx context.Context, tabID, selector string) error
	FillField(ctx context.Context, tabID, selector, value string) error
	SelectOption(ctx context.Context, tabID, selector, value string) error
	EvaluateScript(ctx context.Context, tabID, script string) (any, error)

	WaitForSelector(ctx context.Context, tabID, selector string, timeout time.Duration, visible bool) error
	WaitForFunction(ctx context.Context, tabID, script string, timeout time.Duration) error

	TabURL(ctx context.Context, tabID string) (string, error)
	TabHTML(ctx context.Context, tabID string) (string, error)
	Screenshot(ctx context.Context, tabID string, fullPage bool) ([]byte, error)

	Initialize(ctx context.Context, headless bool) error
	UpdateChromePath(path string) error
	Stats() Stats
}
