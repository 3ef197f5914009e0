package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// withTab runs fn against the tab's context under the action timeout and
// tags failures with op. Cancelling ctx, a dropped HTTP client for
// example, aborts the operation early.
func (r *Registry) withTab(ctx context.Context, tabID, op string, fn func(ctx context.Context) error) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(tabCtx, r.runtime.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return browserErr(op, fn(opCtx))
}

// NavigateTab drives the tab to url and waits for the requested
// lifecycle milestone.
func (r *Registry) NavigateTab(ctx context.Context, tabID, url string, until WaitUntil, timeout time.Duration) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	slog.Info("navigating", "tabId", tabID, "url", url, "waitUntil", until.String())
	return r.awaitLifecycle(ctx, tabCtx, "navigate", until, timeout, func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, errorText)
		}
		return nil
	})
}

// ReloadTab reloads the page and waits for the requested milestone.
func (r *Registry) ReloadTab(ctx context.Context, tabID string, until WaitUntil, timeout time.Duration) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	return r.awaitLifecycle(ctx, tabCtx, "reload", until, timeout, func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	})
}

// WaitForNavigation waits for a navigation already triggered elsewhere,
// a link click for example, to reach the requested milestone.
func (r *Registry) WaitForNavigation(ctx context.Context, tabID string, until WaitUntil, timeout time.Duration) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	return r.awaitLifecycle(ctx, tabCtx, "wait for navigation", until, timeout, nil)
}

func (r *Registry) GoBack(ctx context.Context, tabID string) error {
	return r.historyStep(ctx, tabID, -1)
}

func (r *Registry) GoForward(ctx context.Context, tabID string) error {
	return r.historyStep(ctx, tabID, +1)
}

// historyStep moves through session history. Past either end it is a
// no-op, matching browser back/forward buttons.
func (r *Registry) historyStep(ctx context.Context, tabID string, delta int64) error {
	return r.withTab(ctx, tabID, "history navigation", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			current, entries, err := page.GetNavigationHistory().Do(ctx)
			if err != nil {
				return err
			}
			idx := current + delta
			if idx < 0 || idx >= int64(len(entries)) {
				return nil
			}
			return page.NavigateToHistoryEntry(entries[idx].ID).Do(ctx)
		}))
	})
}

func (r *Registry) BringToFront(ctx context.Context, tabID string) error {
	return r.withTab(ctx, tabID, "bring to front", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.BringToFront().Do(ctx)
		}))
	})
}

// execCDP issues a raw protocol command on the tab's session.
func execCDP(ctx context.Context, method string, params map[string]any, result *json.RawMessage) error {
	return chromedp.FromContext(ctx).Target.Execute(ctx, method, params, result)
}

// resolveSelector returns the DOM node ID for the first match of a CSS
// selector.
func resolveSelector(ctx context.Context, selector string) (int64, error) {
	var raw json.RawMessage
	if err := execCDP(ctx, "DOM.getDocument", map[string]any{"depth": 0}, &raw); err != nil {
		return 0, err
	}
	var doc struct {
		Root struct {
			NodeID int64 `json:"nodeId"`
		} `json:"root"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, err
	}

	raw = nil
	if err := execCDP(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   doc.Root.NodeID,
		"selector": selector,
	}, &raw); err != nil {
		return 0, err
	}
	var match struct {
		NodeID int64 `json:"nodeId"`
	}
	if err := json.Unmarshal(raw, &match); err != nil {
		return 0, err
	}
	if match.NodeID == 0 {
		return 0, fmt.Errorf("no element found for selector %q", selector)
	}
	return match.NodeID, nil
}

// nodeCenter returns the element center from its box model content quad.
func nodeCenter(ctx context.Context, nodeID int64) (x, y float64, err error) {
	var raw json.RawMessage
	if err = execCDP(ctx, "DOM.getBoxModel", map[string]any{"nodeId": nodeID}, &raw); err != nil {
		return 0, 0, err
	}

	var box struct {
		Model struct {
			Content []float64 `json:"content"`
		} `json:"model"`
	}
	if err = json.Unmarshal(raw, &box); err != nil {
		return 0, 0, err
	}
	if len(box.Model.Content) < 8 {
		return 0, 0, fmt.Errorf("invalid box model: expected at least 4 coordinates")
	}

	x = (box.Model.Content[0] + box.Model.Content[2] + box.Model.Content[4] + box.Model.Content[6]) / 4
	y = (box.Model.Content[1] + box.Model.Content[3] + box.Model.Content[5] + box.Model.Content[7]) / 4
	return x, y, nil
}

// setNodeValue assigns value to a form element and fires the input and
// change events frameworks listen for.
func setNodeValue(ctx context.Context, nodeID int64, value string) error {
	var raw json.RawMessage
	if err := execCDP(ctx, "DOM.resolveNode", map[string]any{"nodeId": nodeID}, &raw); err != nil {
		return err
	}
	var resolved struct {
		Object struct {
			ObjectID string `json:"objectId"`
		} `json:"object"`
	}
	if err := json.Unmarshal(raw, &resolved); err != nil {
		return err
	}
	js := `function(v) { this.value = v; this.dispatchEvent(new Event('input', {bubbles: true})); this.dispatchEvent(new Event('change', {bubbles: true})); }`
	return execCDP(ctx, "Runtime.callFunctionOn", map[string]any{
		"functionDeclaration": js,
		"objectId":            resolved.Object.ObjectID,
		"arguments":           []map[string]any{{"value": value}},
	}, nil)
}

// clickOn resolves selector, scrolls the match into view and synthesizes
// a left click on its center.
func clickOn(selector string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		nodeID, err := resolveSelector(ctx, selector)
		if err != nil {
			return err
		}
		if err := execCDP(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"nodeId": nodeID}, nil); err != nil {
			return err
		}
		x, y, err := nodeCenter(ctx, nodeID)
		if err != nil {
			return err
		}
		// Not every clickable element is focusable.
		_ = execCDP(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}, nil)

		if err := execCDP(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       "mousePressed",
			"button":     "left",
			"clickCount": 1,
			"x":          x, "y": y,
		}, nil); err != nil {
			return err
		}
		return execCDP(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       "mouseReleased",
			"button":     "left",
			"clickCount": 1,
			"x":          x, "y": y,
		}, nil)
	}
}

// ClickElement clicks the center of the first selector match. With
// waitNav the lifecycle listeners are armed before the click fires, so a
// navigation the click sets off is observed from its first event.
func (r *Registry) ClickElement(ctx context.Context, tabID, selector string, waitNav bool) error {
	if waitNav {
		tabCtx, err := r.TabContext(tabID)
		if err != nil {
			return err
		}
		return r.awaitLifecycle(ctx, tabCtx, "click", WaitLoad, 0, clickOn(selector))
	}
	return r.withTab(ctx, tabID, "click", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(clickOn(selector)))
	})
}

// HoverElement moves the mouse to the center of the first selector match.
func (r *Registry) HoverElement(ctx context.Context, tabID, selector string) error {
	return r.withTab(ctx, tabID, "hover", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			nodeID, err := resolveSelector(ctx, selector)
			if err != nil {
				return err
			}
			if err := execCDP(ctx, "DOM.scrollIntoViewIfNeeded", map[string]any{"nodeId": nodeID}, nil); err != nil {
				return err
			}
			x, y, err := nodeCenter(ctx, nodeID)
			if err != nil {
				return err
			}
			return execCDP(ctx, "Input.dispatchMouseEvent", map[string]any{
				"type": "mouseMoved",
				"x":    x, "y": y,
			}, nil)
		}))
	})
}

// FocusElement gives keyboard focus to the first selector match.
func (r *Registry) FocusElement(ctx context.Context, tabID, selector string) error {
	return r.withTab(ctx, tabID, "focus", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			nodeID, err := resolveSelector(ctx, selector)
			if err != nil {
				return err
			}
			return execCDP(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}, nil)
		}))
	})
}

// FillField sets the value of the first selector match.
func (r *Registry) FillField(ctx context.Context, tabID, selector, value string) error {
	return r.withTab(ctx, tabID, "fill", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			nodeID, err := resolveSelector(ctx, selector)
			if err != nil {
				return err
			}
			if err := execCDP(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}, nil); err != nil {
				return err
			}
			return setNodeValue(ctx, nodeID, value)
		}))
	})
}

// SelectOption picks an option of the first matching select element by
// value.
func (r *Registry) SelectOption(ctx context.Context, tabID, selector, value string) error {
	return r.withTab(ctx, tabID, "select", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			nodeID, err := resolveSelector(ctx, selector)
			if err != nil {
				return err
			}
			if err := execCDP(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}, nil); err != nil {
				return err
			}
			return setNodeValue(ctx, nodeID, value)
		}))
	})
}

// evalAwait runs script in the page, awaiting promises, and decodes the
// JSON value it produced.
func evalAwait(ctx context.Context, script string, result *any) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := cdpruntime.Evaluate(script).
			WithAwaitPromise(true).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			msg := exc.Text
			if exc.Exception != nil && exc.Exception.Description != "" {
				msg = exc.Exception.Description
			}
			return fmt.Errorf("script threw: %s", msg)
		}
		if obj != nil && obj.Value != nil {
			return json.Unmarshal([]byte(obj.Value), result)
		}
		return nil
	}))
}

// EvaluateScript runs script in the tab, awaiting promises, and returns
// the JSON value it produced.
func (r *Registry) EvaluateScript(ctx context.Context, tabID, script string) (any, error) {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(tabCtx, r.runtime.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result any
	if err := evalAwait(opCtx, script, &result); err != nil {
		return nil, browserErr("evaluate script", err)
	}
	return result, nil
}

// TabURL returns the tab's current document URL.
func (r *Registry) TabURL(ctx context.Context, tabID string) (string, error) {
	var url string
	err := r.withTab(ctx, tabID, "get url", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.Location(&url))
	})
	return url, err
}

// TabHTML returns the full serialized document.
func (r *Registry) TabHTML(ctx context.Context, tabID string) (string, error) {
	var html string
	err := r.withTab(ctx, tabID, "get html", func(opCtx context.Context) error {
		return chromedp.Run(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	})
	return html, err
}

// WaitForSelector blocks until the selector matches an element in the
// DOM, or a visible one when visible is set, or the timeout passes.
func (r *Registry) WaitForSelector(ctx context.Context, tabID, selector string, timeout time.Duration, visible bool) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = r.runtime.WaitTimeout
	}
	opCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	wait := chromedp.WaitReady(selector, chromedp.ByQuery)
	if visible {
		wait = chromedp.WaitVisible(selector, chromedp.ByQuery)
	}
	if err := chromedp.Run(opCtx, wait); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &BrowserError{
				Op:  "wait for selector",
				Err: fmt.Errorf("timed out after %s waiting for %q", timeout, selector),
			}
		}
		return browserErr("wait for selector", err)
	}
	return nil
}

// WaitForFunction polls script in the page until it is truthy or the
// timeout passes. Script may be an expression or a function source.
func (r *Registry) WaitForFunction(ctx context.Context, tabID, script string, timeout time.Duration) error {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = r.runtime.WaitTimeout
	}
	opCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	wrapped := fmt.Sprintf(`(() => { const __r = (%s); return typeof __r === 'function' ? !!__r() : !!__r; })()`, script)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opCtx.Done():
			return &BrowserError{
				Op:  "wait for function",
				Err: fmt.Errorf("timed out after %s", timeout),
			}
		case <-tick.C:
			var truthy bool
			// Evaluation errors while a page is mid-navigation are
			// transient, keep polling.
			if err := chromedp.Run(opCtx, chromedp.Evaluate(wrapped, &truthy)); err != nil {
				continue
			}
			if truthy {
				return nil
			}
		}
	}
}

// Screenshot captures the tab as PNG, optionally beyond the viewport for
// a full-page image.
func (r *Registry) Screenshot(ctx context.Context, tabID string, fullPage bool) ([]byte, error) {
	tabCtx, err := r.TabContext(tabID)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(tabCtx, r.runtime.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	err = chromedp.Run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(fullPage).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, browserErr("screenshot", err)
	}
	return buf, nil
}
