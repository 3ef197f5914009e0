package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	cdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/3p3r/puppeteer-command-server/internal/locator"
)

// mode selects one of the two browser processes the registry manages.
type mode int

const (
	modeHeadless mode = iota
	modeHeaded
	modeCount
)

func modeFor(headless bool) mode {
	if headless {
		return modeHeadless
	}
	return modeHeaded
}

func (m mode) String() string {
	if m == modeHeadless {
		return "headless"
	}
	return "headed"
}

func (m mode) headless() bool { return m == modeHeadless }

// procState is the lifecycle of one per-mode browser process.
type procState int

const (
	stateAbsent procState = iota
	stateLaunching
	stateRunning
)

func (s procState) String() string {
	switch s {
	case stateLaunching:
		return "launching"
	case stateRunning:
		return "running"
	default:
		return "absent"
	}
}

// browserProcess tracks one launched Chrome and the contexts that own it.
// The zero value is an absent process.
type browserProcess struct {
	state       procState
	gen         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	dataDir     string
}

// ensureBrowser returns the browser context for m, launching Chrome on
// first use. Concurrent callers for the same mode share one launch.
func (r *Registry) ensureBrowser(ctx context.Context, m mode) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	if r.procs[m].state == stateRunning {
		bctx := r.procs[m].ctx
		r.mu.RUnlock()
		return bctx, nil
	}
	r.mu.RUnlock()

	r.launchMu[m].Lock()
	defer r.launchMu[m].Unlock()

	r.mu.Lock()
	if r.procs[m].state == stateRunning {
		bctx := r.procs[m].ctx
		r.mu.Unlock()
		return bctx, nil
	}
	r.procs[m] = browserProcess{state: stateLaunching}
	r.mu.Unlock()

	proc, err := r.launch(m)
	if err != nil {
		r.mu.Lock()
		r.procs[m] = browserProcess{}
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.gen++
	proc.gen = r.gen
	r.procs[m] = proc
	r.mu.Unlock()

	r.watch(proc.ctx, m, proc.gen)
	slog.Info("browser started", "mode", m.String(), "dataDir", proc.dataDir)
	return proc.ctx, nil
}

func (r *Registry) launch(m mode) (browserProcess, error) {
	chromePath := r.store.Settings().ChromePath
	if chromePath == "" {
		chromePath = locator.Find()
	}
	if chromePath == "" {
		return browserProcess{}, &BrowserError{
			Op:  "launch browser",
			Err: errors.New("could not locate a Chrome installation; set chromePath"),
		}
	}

	dataDir, err := os.MkdirTemp("", "pcs-"+m.String()+"-")
	if err != nil {
		return browserProcess{}, browserErr("launch browser", err)
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if m.headless() {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.ExecPath(chromePath),
		chromedp.UserDataDir(dataDir),
		chromedp.WindowSize(1280, 800),
		chromedp.Flag("disable-dev-shm-usage", ""),
		chromedp.Flag("no-first-run", ""),
		chromedp.Flag("no-default-browser-check", ""),
	)

	// The process must outlive the request that triggered the launch.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	slog.Info("launching browser", "mode", m.String(), "binary", chromePath)

	connected := make(chan error, 1)
	go func() { connected <- chromedp.Run(browserCtx) }()

	select {
	case err := <-connected:
		if err != nil {
			cancel()
			allocCancel()
			_ = os.RemoveAll(dataDir)
			return browserProcess{}, browserErr("launch browser", err)
		}
	case <-time.After(r.runtime.LaunchTimeout):
		cancel()
		allocCancel()
		_ = os.RemoveAll(dataDir)
		return browserProcess{}, &BrowserError{
			Op:  "launch browser",
			Err: fmt.Errorf("chrome did not start within %s", r.runtime.LaunchTimeout),
		}
	}

	// Turn on target discovery so the browser connection reports tabs
	// closed from outside the API (window close, crash).
	discoverCtx := cdp.WithExecutor(browserCtx, chromedp.FromContext(browserCtx).Browser)
	if err := target.SetDiscoverTargets(true).Do(discoverCtx); err != nil {
		cancel()
		allocCancel()
		_ = os.RemoveAll(dataDir)
		return browserProcess{}, browserErr("enable target discovery", err)
	}

	return browserProcess{
		state:       stateRunning,
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		dataDir:     dataDir,
	}, nil
}

// watch wires teardown triggers for a launched process: tabs destroyed
// outside the API, and the browser context ending.
func (r *Registry) watch(bctx context.Context, m mode, gen uint64) {
	chromedp.ListenBrowser(bctx, func(ev interface{}) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok {
			go r.handleTargetDestroyed(m, gen, e.TargetID)
		}
	})
	go func() {
		<-bctx.Done()
		r.purgeMode(m, gen)
	}()
}

func (r *Registry) handleTargetDestroyed(m mode, gen uint64, id target.ID) {
	r.mu.Lock()
	tabID, ok := r.byTarget[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry := r.tabs[tabID]
	if entry == nil || entry.mode != m || entry.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.tabs, tabID)
	delete(r.byTarget, id)
	r.mu.Unlock()

	entry.cancel()
	slog.Info("tab closed outside the API", "tabId", tabID, "mode", m.String())
	r.maybeTeardown(m)
}

// maybeTeardown shuts the mode's browser down when no tracked tabs
// remain in it.
func (r *Registry) maybeTeardown(m mode) {
	r.mu.Lock()
	p := r.procs[m]
	if p.state != stateRunning {
		r.mu.Unlock()
		return
	}
	for _, e := range r.tabs {
		if e.mode == m {
			r.mu.Unlock()
			return
		}
	}
	r.procs[m] = browserProcess{}
	r.mu.Unlock()

	slog.Info("last tab closed, shutting down browser", "mode", m.String())
	go shutdownProcess(p)
}

// purgeMode drops all tabs of a browser that exited underneath us.
func (r *Registry) purgeMode(m mode, gen uint64) {
	r.mu.Lock()
	if r.procs[m].gen != gen || r.procs[m].state != stateRunning {
		r.mu.Unlock()
		return
	}
	p := r.procs[m]
	r.procs[m] = browserProcess{}

	var dropped []*tabEntry
	for id, e := range r.tabs {
		if e.mode == m && e.gen == gen {
			dropped = append(dropped, e)
			delete(r.tabs, id)
			delete(r.byTarget, e.targetID)
		}
	}
	r.mu.Unlock()

	for _, e := range dropped {
		e.cancel()
	}
	if len(dropped) > 0 {
		slog.Warn("browser exited, dropped its tabs", "mode", m.String(), "tabs", len(dropped))
	}
	go shutdownProcess(p)
}

func closeTarget(ctx context.Context, id target.ID) error {
	return target.CloseTarget(id).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
}

func shutdownProcess(p browserProcess) {
	if p.ctx != nil {
		if err := chromedp.Cancel(p.ctx); err != nil {
			slog.Debug("browser cancel", "err", err)
		}
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.dataDir != "" {
		_ = os.RemoveAll(p.dataDir)
	}
}
