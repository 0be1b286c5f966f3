package utils

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ChromeBinaries are the executable names tried on PATH, in order.
var ChromeBinaries = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

// FindChrome locates a Chrome or Chromium executable for HTML rendering.
func FindChrome() (string, bool) {
	for _, bin := range ChromeBinaries {
		if path, err := exec.LookPath(bin); err == nil {
			return path, true
		}
	}
	for _, path := range chromePaths(runtime.GOOS) {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func chromePaths(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	case "windows":
		return []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		return nil
	}
}

// ChromeVersion asks the binary for its version string.
func ChromeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// ChromeInstallHint is logged when HTML payloads arrive without a browser.
func ChromeInstallHint(goos string) string {
	switch goos {
	case "linux":
		return "install chromium (apt install chromium-browser, dnf install chromium, pacman -S chromium)"
	case "darwin":
		return "install Chrome (brew install --cask google-chrome) or Chromium (brew install chromium)"
	case "windows":
		return "install Google Chrome from https://www.google.com/chrome/"
	default:
		return "install Chrome or Chromium"
	}
}
