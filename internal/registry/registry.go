// Package registry tracks API-visible tabs and the pair of browser
// processes (headless and headed) that host them. Browsers launch lazily
// on the first tab that needs them and shut down when their last tracked
// tab goes away.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/3p3r/puppeteer-command-server/internal/config"
)

// TabInfo is the API-facing description of one tracked tab.
type TabInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Headless bool   `json:"headless"`
}

// Stats summarizes the registry for health and metrics reporting.
type Stats struct {
	Tabs     int               `json:"tabs"`
	Browsers map[string]string `json:"browsers"`
}

type tabEntry struct {
	id       string
	targetID target.ID
	mode     mode
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	created  time.Time
}

func (e *tabEntry) info() TabInfo {
	return TabInfo{ID: e.id, Headless: e.mode.headless()}
}

type Registry struct {
	store   *config.Store
	runtime config.Runtime

	mu       sync.RWMutex
	tabs     map[string]*tabEntry
	byTarget map[target.ID]string
	procs    [modeCount]browserProcess
	gen      uint64

	launchMu [modeCount]sync.Mutex
}

func New(store *config.Store) *Registry {
	return &Registry{
		store:    store,
		runtime:  store.Runtime(),
		tabs:     make(map[string]*tabEntry),
		byTarget: make(map[target.ID]string),
	}
}

func newTabID() string {
	return "tab_" + uuid.NewString()
}

// OpenTabOptions controls OpenTab. Headless selects which browser hosts
// the tab; URL may be empty to leave the tab on about:blank.
type OpenTabOptions struct {
	URL      string
	Headless bool
}

// OpenTab creates a tab in the requested browser, launching it first if
// needed, and navigates when a URL is given. The tab stays tracked even
// when that first navigation fails.
func (r *Registry) OpenTab(ctx context.Context, opts OpenTabOptions) (TabInfo, error) {
	m := modeFor(opts.Headless)
	bctx, err := r.ensureBrowser(ctx, m)
	if err != nil {
		return TabInfo{}, err
	}

	var targetID target.ID
	createCtx, createCancel := context.WithTimeout(bctx, 10*time.Second)
	err = chromedp.Run(createCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targetID, err = target.CreateTarget("about:blank").Do(ctx)
		return err
	}))
	createCancel()
	if err != nil {
		r.maybeTeardown(m)
		return TabInfo{}, browserErr("create tab", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(bctx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		r.maybeTeardown(m)
		return TabInfo{}, browserErr("attach to tab", err)
	}

	entry := &tabEntry{
		id:       newTabID(),
		targetID: targetID,
		mode:     m,
		ctx:      tabCtx,
		cancel:   tabCancel,
		created:  time.Now(),
	}

	r.mu.Lock()
	entry.gen = r.procs[m].gen
	r.tabs[entry.id] = entry
	r.byTarget[targetID] = entry.id
	r.mu.Unlock()

	slog.Info("tab opened", "tabId", entry.id, "mode", m.String(), "url", opts.URL)

	if opts.URL != "" {
		// A fresh tab settles on network idle, so the page is usable by
		// the time the caller sees the ID.
		if err := r.NavigateTab(ctx, entry.id, opts.URL, WaitNetworkIdle2, 0); err != nil {
			info := entry.info()
			info.URL = opts.URL
			return info, err
		}
	}

	return r.describe(entry), nil
}

// describe fills in live URL and title, best effort.
func (r *Registry) describe(entry *tabEntry) TabInfo {
	info := entry.info()
	descCtx, cancel := context.WithTimeout(entry.ctx, 5*time.Second)
	defer cancel()
	_ = chromedp.Run(descCtx, chromedp.Location(&info.URL), chromedp.Title(&info.Title))
	return info
}

// ListTabs returns every tracked tab in creation order. URL and title
// come from live target info when the owning browser is reachable; the
// headless flag always reflects the browser the tab was opened in.
func (r *Registry) ListTabs(ctx context.Context) ([]TabInfo, error) {
	r.mu.RLock()
	entries := make([]*tabEntry, 0, len(r.tabs))
	for _, e := range r.tabs {
		entries = append(entries, e)
	}
	var bctxs [modeCount]context.Context
	for m := mode(0); m < modeCount; m++ {
		if r.procs[m].state == stateRunning {
			bctxs[m] = r.procs[m].ctx
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })

	live := make(map[target.ID]*target.Info)
	for m := mode(0); m < modeCount; m++ {
		if bctxs[m] == nil {
			continue
		}
		targets, err := listPageTargets(bctxs[m])
		if err != nil {
			slog.Debug("list targets", "mode", m.String(), "err", err)
			continue
		}
		for _, t := range targets {
			live[t.TargetID] = t
		}
	}

	infos := make([]TabInfo, 0, len(entries))
	for _, e := range entries {
		info := e.info()
		if t, ok := live[e.targetID]; ok {
			info.URL = t.URL
			info.Title = t.Title
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func listPageTargets(bctx context.Context) ([]*target.Info, error) {
	var targets []*target.Info
	if err := chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targets, err = target.GetTargets().Do(ctx)
		return err
	})); err != nil {
		return nil, err
	}

	pages := make([]*target.Info, 0, len(targets))
	for _, t := range targets {
		if t.Type == "page" {
			pages = append(pages, t)
		}
	}
	return pages, nil
}

// CloseTab closes a tracked tab and shuts its browser down when it was
// the last one in that mode.
func (r *Registry) CloseTab(ctx context.Context, tabID string) error {
	r.mu.Lock()
	entry, ok := r.tabs[tabID]
	if !ok {
		r.mu.Unlock()
		return &TabNotFoundError{ID: tabID}
	}
	delete(r.tabs, tabID)
	delete(r.byTarget, entry.targetID)
	bctx := r.procs[entry.mode].ctx
	r.mu.Unlock()

	if bctx != nil {
		closeCtx, closeCancel := context.WithTimeout(bctx, 5*time.Second)
		if err := closeTarget(closeCtx, entry.targetID); err != nil {
			slog.Debug("close target", "tabId", tabID, "err", err)
		}
		closeCancel()
	}
	entry.cancel()

	slog.Info("tab closed", "tabId", tabID, "mode", entry.mode.String())
	r.maybeTeardown(entry.mode)
	return nil
}

// CloseAllTabs closes every tracked tab and returns how many were closed.
func (r *Registry) CloseAllTabs(ctx context.Context) (int, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tabs))
	for id := range r.tabs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		if err := r.CloseTab(ctx, id); err == nil {
			closed++
		}
	}
	return closed, nil
}

// TabContext returns the chromedp context of a tracked tab.
func (r *Registry) TabContext(tabID string) (context.Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tabs[tabID]
	if !ok {
		return nil, &TabNotFoundError{ID: tabID}
	}
	return entry.ctx, nil
}

// RunHiddenScript evaluates script in a short-lived headless tab that is
// never tracked by the registry. The tab loads url first and waits for
// the document to become ready.
func (r *Registry) RunHiddenScript(ctx context.Context, url, script string) (any, error) {
	bctx, err := r.ensureBrowser(ctx, modeHeadless)
	if err != nil {
		return nil, err
	}

	var targetID target.ID
	createCtx, createCancel := context.WithTimeout(bctx, 10*time.Second)
	err = chromedp.Run(createCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		targetID, err = target.CreateTarget(url).Do(ctx)
		return err
	}))
	createCancel()
	if err != nil {
		r.maybeTeardown(modeHeadless)
		return nil, browserErr("create hidden tab", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(bctx, chromedp.WithTargetID(targetID))
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(bctx, 5*time.Second)
		_ = closeTarget(closeCtx, targetID)
		closeCancel()
		tabCancel()
		r.maybeTeardown(modeHeadless)
	}()

	opCtx, opCancel := context.WithTimeout(tabCtx, r.runtime.ActionTimeout)
	defer opCancel()

	if err := waitDocumentReady(opCtx); err != nil {
		return nil, browserErr("load hidden tab", err)
	}
	var result any
	if err := evalAwait(opCtx, script, &result); err != nil {
		return nil, browserErr("run hidden script", err)
	}
	return result, nil
}

// waitDocumentReady polls document.readyState until the page is usable.
func waitDocumentReady(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var state string
			err := chromedp.Run(ctx, chromedp.Evaluate("document.readyState", &state))
			if err == nil && (state == "interactive" || state == "complete") {
				return nil
			}
		}
	}
}

// Initialize warms up the browser for the given mode without opening a
// tracked tab.
func (r *Registry) Initialize(ctx context.Context, headless bool) error {
	_, err := r.ensureBrowser(ctx, modeFor(headless))
	return err
}

// UpdateChromePath persists a new Chrome executable path. Running
// browsers keep their current binary until relaunched.
func (r *Registry) UpdateChromePath(path string) error {
	return r.store.SetChromePath(path)
}

// Stats reports tracked tab and browser process state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Tabs: len(r.tabs),
		Browsers: map[string]string{
			modeHeadless.String(): r.procs[modeHeadless].state.String(),
			modeHeaded.String():   r.procs[modeHeaded].state.String(),
		},
	}
}

// Shutdown closes all tabs and stops both browsers. Used on server exit.
func (r *Registry) Shutdown(ctx context.Context) {
	if n, _ := r.CloseAllTabs(ctx); n > 0 {
		slog.Info("closed tabs on shutdown", "tabs", n)
	}

	r.mu.Lock()
	var running []browserProcess
	for m := mode(0); m < modeCount; m++ {
		if r.procs[m].state == stateRunning {
			running = append(running, r.procs[m])
			r.procs[m] = browserProcess{}
		}
	}
	r.mu.Unlock()

	for _, p := range running {
		shutdownProcess(p)
	}
}
