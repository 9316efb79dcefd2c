// Package browser opens the dashboard in the system browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// command returns the launcher invocation for goos.
func command(goos, target string) (string, []string) {
	switch goos {
	case "windows":
		// The empty title keeps "start" from treating a quoted URL as the window title.
		return "cmd", []string{"/c", "start", "", target}
	case "darwin":
		return "open", []string{target}
	default: // linux + others
		return "xdg-open", []string{target}
	}
}

// Open starts the system browser on an http(s) URL. It does not wait for the
// browser; a launcher that cannot be started is reported as an error.
func Open(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q: not an http(s) URL", target)
	}
	name, args := command(runtime.GOOS, u.String())
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}
