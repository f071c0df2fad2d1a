package shared

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/skratchdot/open-golang/open"
)

var getRuntime = func() string { return runtime.GOOS }

// openURL is swapped out in tests so nothing is launched.
var openURL = open.Run

// OpenBrowser opens the default system browser to the specified URL.
//
// Tries open-golang first and falls back to the platform command on macOS, Linux, and Windows.
func OpenBrowser(url string) error {
	if err := openURL(url); err == nil {
		return nil
	}

	var cmd *exec.Cmd
	rt := getRuntime()
	switch rt {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("%w: unsupported platform: %s", ErrBrowserUnavailable, rt)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}

	return nil
}
