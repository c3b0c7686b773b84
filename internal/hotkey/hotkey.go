// Package hotkey registers the global key bindings and keeps them alive.
package hotkey

import (
	"errors"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// Action is what a binding triggers when fired.
type Action int

const (
	ActionReadOrInterrupt Action = iota
	ActionForceStop
)

func (a Action) String() string {
	switch a {
	case ActionReadOrInterrupt:
		return "read-or-interrupt"
	case ActionForceStop:
		return "force-stop"
	}
	return "unknown"
}

// Binding ties a key combo to an action.
type Binding struct {
	Combo  config.HotkeyConfig
	Action Action
}

// Handler receives fired bindings.
type Handler func(Action)

var (
	// ErrRegistrationFailed means the OS rejected a binding, usually
	// because another application holds the combo.
	ErrRegistrationFailed = errors.New("hotkey: registration failed")

	// ErrNotRegistered means a self-test ran against a binding that never
	// registered successfully.
	ErrNotRegistered = errors.New("hotkey: binding not registered")

	// ErrRegistrationLost means the OS silently dropped a registration
	// that used to work.
	ErrRegistrationLost = errors.New("hotkey: registration lost")
)

// Registrar owns the OS hotkey registrations.
//
// RegisterAll registers every binding it can: one rejected combo does not
// block the others, the failures come back joined. Bindings already live
// are left alone, so a retry only touches what is missing. SelfTest probes
// one binding without user-visible side effects.
type Registrar interface {
	RegisterAll(bindings []Binding) error
	UnregisterAll() error
	SelfTest(action Action) error
	Close() error
}

// Bindings builds the static bindings from config.
func Bindings(cfg *config.Config) []Binding {
	return []Binding{
		{Combo: cfg.ReadHotkey, Action: ActionReadOrInterrupt},
		{Combo: cfg.StopHotkey, Action: ActionForceStop},
	}
}
