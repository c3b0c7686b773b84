//go:build windows

package hotkey

import (
	"fmt"

	"golang.design/x/hotkey"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// probeRegistration checks that a combo is still grabbed by registering a
// duplicate. RegisterHotKey rejects duplicates, so a probe that succeeds
// means the OS dropped the original grab without telling us (display sleep
// and RDP session switches do this). The probe is unregistered immediately
// and never fires user-visible events.
func probeRegistration(c config.HotkeyConfig) error {
	probe := hotkey.New(comboModifiers(c), comboKey(c))
	if err := probe.Register(); err != nil {
		// Still held: healthy.
		return nil
	}
	_ = probe.Unregister()
	return fmt.Errorf("%w: %s accepted a duplicate grab", ErrRegistrationLost, c.String())
}
