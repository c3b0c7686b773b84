//go:build !windows

package hotkey

import "github.com/ArtyMcLabin/SendToTTS/internal/config"

// probeRegistration is a no-op off Windows. X11 lets a client grab the same
// key twice, so a duplicate-registration probe proves nothing there; the
// listener-liveness check in SelfTest is the useful signal.
func probeRegistration(config.HotkeyConfig) error {
	return nil
}
