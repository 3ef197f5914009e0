// Package locator finds a Chrome-compatible executable on the host.
package locator

import (
	"os"
	"os/exec"
	"runtime"
)

// Find returns the path of the first Chrome-compatible executable it can
// locate, checking well-known install locations before falling back to
// PATH lookup. It returns "" when no browser is found.
func Find() string {
	for _, path := range wellKnownPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, name := range commandNames() {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func wellKnownPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		}
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"/usr/bin/microsoft-edge",
			"/usr/bin/brave-browser",
		}
	}
}

func commandNames() []string {
	return []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
		"chrome",
		"microsoft-edge",
		"brave-browser",
	}
}
