package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/3p3r/puppeteer-command-server/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	t.Setenv("PCS_CONFIG_DIR", t.TempDir())
	t.Setenv("PCS_PORT", "")
	st, err := config.Open()
	if err != nil {
		t.Fatalf("config.Open() error = %v", err)
	}
	return New(st)
}

func TestTabNotFoundError(t *testing.T) {
	err := error(&TabNotFoundError{ID: "tab_abc"})
	if err.Error() != "tab not found: tab_abc" {
		t.Errorf("Error() = %q", err.Error())
	}

	wrapped := fmt.Errorf("handling request: %w", err)
	var notFound *TabNotFoundError
	if !errors.As(wrapped, &notFound) {
		t.Fatal("errors.As failed to match TabNotFoundError")
	}
	if notFound.ID != "tab_abc" {
		t.Errorf("ID = %q, want tab_abc", notFound.ID)
	}
}

func TestBrowserError(t *testing.T) {
	cause := errors.New("chrome exited")
	err := error(&BrowserError{Op: "launch browser", Err: cause})
	if err.Error() != "launch browser: chrome exited" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to find the cause")
	}
}

func TestBrowserErrNil(t *testing.T) {
	if err := browserErr("click", nil); err != nil {
		t.Errorf("browserErr(nil) = %v, want nil", err)
	}
	if err := browserErr("click", errors.New("boom")); err == nil {
		t.Error("browserErr(err) = nil, want error")
	}
}

func TestParseWaitUntil(t *testing.T) {
	tests := []struct {
		in      string
		want    WaitUntil
		wantErr bool
	}{
		{"", WaitLoad, false},
		{"load", WaitLoad, false},
		{"domcontentloaded", WaitDOMContentLoaded, false},
		{"networkidle0", WaitNetworkIdle0, false},
		{"networkidle2", WaitNetworkIdle2, false},
		{"networkidle", 0, true},
		{"DOMContentLoaded", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseWaitUntil(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWaitUntil(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseWaitUntil(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWaitUntilString(t *testing.T) {
	tests := []struct {
		in   WaitUntil
		want string
	}{
		{WaitLoad, "load"},
		{WaitDOMContentLoaded, "domcontentloaded"},
		{WaitNetworkIdle0, "networkidle0"},
		{WaitNetworkIdle2, "networkidle2"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestModeFor(t *testing.T) {
	if m := modeFor(true); m != modeHeadless || !m.headless() || m.String() != "headless" {
		t.Errorf("modeFor(true) = %v (%s)", m, m)
	}
	if m := modeFor(false); m != modeHeaded || m.headless() || m.String() != "headed" {
		t.Errorf("modeFor(false) = %v (%s)", m, m)
	}
}

func TestProcStateString(t *testing.T) {
	if stateAbsent.String() != "absent" || stateLaunching.String() != "launching" || stateRunning.String() != "running" {
		t.Errorf("unexpected state names: %s %s %s", stateAbsent, stateLaunching, stateRunning)
	}
}

func TestNewTabID(t *testing.T) {
	a, b := newTabID(), newTabID()
	if !strings.HasPrefix(a, "tab_") {
		t.Errorf("newTabID() = %q, want tab_ prefix", a)
	}
	if a == b {
		t.Error("newTabID() returned duplicate IDs")
	}
}

func TestStatsEmpty(t *testing.T) {
	r := newTestRegistry(t)

	stats := r.Stats()
	if stats.Tabs != 0 {
		t.Errorf("Tabs = %d, want 0", stats.Tabs)
	}
	if stats.Browsers["headless"] != "absent" || stats.Browsers["headed"] != "absent" {
		t.Errorf("Browsers = %v, want both absent", stats.Browsers)
	}
}

func TestCloseTabUnknown(t *testing.T) {
	r := newTestRegistry(t)

	err := r.CloseTab(context.Background(), "tab_missing")
	var notFound *TabNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("CloseTab() error = %v, want TabNotFoundError", err)
	}
	if !strings.Contains(err.Error(), "tab_missing") {
		t.Errorf("error %q does not name the tab", err.Error())
	}
}

func TestTabContextUnknown(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.TabContext("tab_missing")
	var notFound *TabNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("TabContext() error = %v, want TabNotFoundError", err)
	}
}

func TestCloseAllTabsEmpty(t *testing.T) {
	r := newTestRegistry(t)

	n, err := r.CloseAllTabs(context.Background())
	if err != nil {
		t.Fatalf("CloseAllTabs() error = %v", err)
	}
	if n != 0 {
		t.Errorf("closed = %d, want 0", n)
	}
}

func TestListTabsReportsMode(t *testing.T) {
	r := newTestRegistry(t)

	now := time.Now()
	r.tabs["tab_a"] = &tabEntry{id: "tab_a", mode: modeHeadless, cancel: func() {}, created: now}
	r.tabs["tab_b"] = &tabEntry{id: "tab_b", mode: modeHeaded, cancel: func() {}, created: now.Add(time.Second)}

	infos, err := r.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len = %d, want 2", len(infos))
	}
	if infos[0].ID != "tab_a" || !infos[0].Headless {
		t.Errorf("first = %+v, want tab_a headless", infos[0])
	}
	if infos[1].ID != "tab_b" || infos[1].Headless {
		t.Errorf("second = %+v, want tab_b headed", infos[1])
	}
}

func TestUpdateChromePathPersists(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.UpdateChromePath("/opt/chrome/chrome"); err != nil {
		t.Fatalf("UpdateChromePath() error = %v", err)
	}
	if got := r.store.Settings().ChromePath; got != "/opt/chrome/chrome" {
		t.Errorf("ChromePath = %q, want /opt/chrome/chrome", got)
	}
}
