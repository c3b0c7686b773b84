// Package notify sends desktop notifications.
package notify

import (
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/beeep"
)

const appName = "SendToTTS"

// Notifier sends desktop notifications. Notification failures are ignored,
// they are never worth failing an operation over.
type Notifier struct {
	enabled atomic.Bool
}

// New creates a new Notifier.
func New(enabled bool) *Notifier {
	n := &Notifier{}
	n.enabled.Store(enabled)
	return n
}

// SetEnabled toggles notifications on or off.
func (n *Notifier) SetEnabled(enabled bool) {
	n.enabled.Store(enabled)
}

// Enabled reports whether notifications are on.
func (n *Notifier) Enabled() bool {
	return n.enabled.Load()
}

// EmptyClipboard tells the user there was nothing to read.
func (n *Notifier) EmptyClipboard() {
	n.notify("Clipboard empty – nothing to read.")
}

// Escalation raises an alert for a hotkey binding the watchdog could not
// repair. Alerts bypass the enabled flag: a dead hotkey is the one failure
// the user cannot discover on their own.
func (n *Notifier) Escalation(binding string, failures int) {
	msg := fmt.Sprintf("Hotkey %s lost and could not be re-registered (%d failed repairs). It stays dead until restart.", binding, failures)
	_ = beeep.Alert(appName, msg, "")
}

// Error shows an error notification.
func (n *Notifier) Error(msg string) {
	n.notify(msg)
}

// Info shows an informational notification, truncated to a sane length.
func (n *Notifier) Info(msg string) {
	if len(msg) > 100 {
		msg = msg[:100] + "..."
	}
	n.notify(msg)
}

func (n *Notifier) notify(message string) {
	if !n.enabled.Load() {
		return
	}
	_ = beeep.Notify(appName, message, "")
}
