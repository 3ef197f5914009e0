package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// WaitUntil names the page lifecycle milestone a navigation waits for.
type WaitUntil int

const (
	WaitLoad WaitUntil = iota
	WaitDOMContentLoaded
	WaitNetworkIdle0
	WaitNetworkIdle2
)

// ParseWaitUntil maps the wire value to a WaitUntil. The empty string
// means load.
func ParseWaitUntil(s string) (WaitUntil, error) {
	switch s {
	case "", "load":
		return WaitLoad, nil
	case "domcontentloaded":
		return WaitDOMContentLoaded, nil
	case "networkidle0":
		return WaitNetworkIdle0, nil
	case "networkidle2":
		return WaitNetworkIdle2, nil
	}
	return 0, fmt.Errorf("invalid waitUntil %q (expected load, domcontentloaded, networkidle0 or networkidle2)", s)
}

func (w WaitUntil) String() string {
	switch w {
	case WaitDOMContentLoaded:
		return "domcontentloaded"
	case WaitNetworkIdle0:
		return "networkidle0"
	case WaitNetworkIdle2:
		return "networkidle2"
	default:
		return "load"
	}
}

const netIdleWindow = 500 * time.Millisecond

// lifecycle accumulates page and network events for one navigation.
type lifecycle struct {
	mu       sync.Mutex
	load     bool
	dcl      bool
	inflight map[network.RequestID]struct{}
	lastNet  time.Time
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		inflight: make(map[network.RequestID]struct{}),
		lastNet:  time.Now(),
	}
}

func (l *lifecycle) observe(ev interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e := ev.(type) {
	case *page.EventLoadEventFired:
		l.load = true
	case *page.EventDomContentEventFired:
		l.dcl = true
	case *page.EventNavigatedWithinDocument:
		// Same-document navigations never fire load or DCL.
		l.load = true
		l.dcl = true
	case *network.EventRequestWillBeSent:
		l.inflight[e.RequestID] = struct{}{}
		l.lastNet = time.Now()
	case *network.EventLoadingFinished:
		delete(l.inflight, e.RequestID)
		l.lastNet = time.Now()
	case *network.EventLoadingFailed:
		delete(l.inflight, e.RequestID)
		l.lastNet = time.Now()
	}
}

func (l *lifecycle) satisfied(until WaitUntil, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch until {
	case WaitDOMContentLoaded:
		return l.dcl
	case WaitNetworkIdle0:
		return l.load && len(l.inflight) == 0 && now.Sub(l.lastNet) >= netIdleWindow
	case WaitNetworkIdle2:
		return l.load && len(l.inflight) <= 2 && now.Sub(l.lastNet) >= netIdleWindow
	default:
		return l.load
	}
}

// awaitLifecycle arms event listeners on the tab, runs the optional
// trigger, and polls until the requested milestone or the timeout. The
// listeners are armed before the trigger fires so fast pages cannot
// complete unobserved. Failures are tagged with op.
func (r *Registry) awaitLifecycle(ctx context.Context, tabCtx context.Context, op string, until WaitUntil, timeout time.Duration, trigger func(context.Context) error) error {
	if timeout <= 0 {
		timeout = r.runtime.WaitTimeout
	}

	lc := newLifecycle()
	waitCtx, stop := context.WithCancel(tabCtx)
	defer stop()
	chromedp.ListenTarget(waitCtx, lc.observe)

	if until == WaitNetworkIdle0 || until == WaitNetworkIdle2 {
		if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.Enable().Do(ctx)
		})); err != nil {
			return browserErr("enable network events", err)
		}
	}

	if trigger != nil {
		if err := chromedp.Run(tabCtx, chromedp.ActionFunc(trigger)); err != nil {
			return browserErr(op, err)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tabCtx.Done():
			return browserErr(op, tabCtx.Err())
		case <-deadline.C:
			return &BrowserError{
				Op:  op,
				Err: fmt.Errorf("timed out after %s waiting for %s", timeout, until),
			}
		case <-tick.C:
			if lc.satisfied(until, time.Now()) {
				return nil
			}
		}
	}
}
