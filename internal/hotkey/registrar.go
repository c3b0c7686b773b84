package hotkey

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.design/x/hotkey"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// debounceInterval guards against OS key repeat refiring a held combo.
const debounceInterval = 300 * time.Millisecond

// unregisterTimeout keeps a wedged platform call from hanging teardown.
const unregisterTimeout = 500 * time.Millisecond

// grab is one registered OS hotkey. *hotkey.Hotkey in production; tests
// substitute their own.
type grab interface {
	Keydown() <-chan hotkey.Event
	Keyup() <-chan hotkey.Event
	Unregister() error
}

// osGrab registers a combo with the real OS hotkey API.
func osGrab(c config.HotkeyConfig) (grab, error) {
	hk := hotkey.New(comboModifiers(c), comboKey(c))
	if err := hk.Register(); err != nil {
		return nil, err
	}
	return hk, nil
}

type registration struct {
	binding Binding
	hk      grab
	stop    chan struct{}
	alive   atomic.Bool // listener goroutine still pumping events
}

type registrar struct {
	handler Handler
	log     zerolog.Logger
	newGrab func(config.HotkeyConfig) (grab, error)
	probe   func(config.HotkeyConfig) error

	mu   sync.Mutex
	regs map[Action]*registration
}

// New creates a Registrar delivering fired bindings to handler.
func New(handler Handler, logger zerolog.Logger) Registrar {
	return &registrar{
		handler: handler,
		log:     logger,
		newGrab: osGrab,
		probe:   probeRegistration,
		regs:    map[Action]*registration{},
	}
}

func (r *registrar) RegisterAll(bindings []Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if _, ok := r.regs[b.Action]; ok {
			continue
		}
		if err := r.registerLocked(b); err != nil {
			r.log.Warn().Err(err).
				Str("combo", b.Combo.String()).
				Stringer("action", b.Action).
				Msg("Hotkey registration failed")
			errs = append(errs, fmt.Errorf("%w: %s (%s): %v", ErrRegistrationFailed, b.Combo.String(), b.Action, err))
			continue
		}
		r.log.Info().
			Str("combo", b.Combo.String()).
			Stringer("action", b.Action).
			Msg("Hotkey registered")
	}
	return errors.Join(errs...)
}

func (r *registrar) registerLocked(b Binding) error {
	hk, err := r.newGrab(b.Combo)
	if err != nil {
		return err
	}

	reg := &registration{binding: b, hk: hk, stop: make(chan struct{})}
	reg.alive.Store(true)
	r.regs[b.Action] = reg

	go r.listen(reg)
	return nil
}

func (r *registrar) listen(reg *registration) {
	defer reg.alive.Store(false)

	var lastKeydown time.Time
	for {
		select {
		case <-reg.stop:
			return
		case _, ok := <-reg.hk.Keydown():
			if !ok {
				return
			}
			// Key repeat fires keydown again while the combo is held.
			now := time.Now()
			if now.Sub(lastKeydown) < debounceInterval {
				continue
			}
			lastKeydown = now
			r.handler(reg.binding.Action)
		case _, ok := <-reg.hk.Keyup():
			if !ok {
				return
			}
		}
	}
}

func (r *registrar) UnregisterAll() error {
	r.mu.Lock()
	regs := r.regs
	r.regs = map[Action]*registration{}
	r.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		close(reg.stop)
		if err := unregisterWithTimeout(reg.hk); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %v", reg.binding.Combo.String(), err))
		} else {
			r.log.Debug().Str("combo", reg.binding.Combo.String()).Msg("Hotkey unregistered")
		}
	}
	return errors.Join(errs...)
}

func unregisterWithTimeout(hk grab) error {
	done := make(chan error, 1)
	go func() { done <- hk.Unregister() }()

	select {
	case err := <-done:
		return err
	case <-time.After(unregisterTimeout):
		return fmt.Errorf("timed out after %v", unregisterTimeout)
	}
}

// SelfTest reports whether a binding can still fire. It checks the listener
// is alive and, where the platform allows it, probes the OS registration
// itself (see probeRegistration).
func (r *registrar) SelfTest(action Action) error {
	r.mu.Lock()
	reg, ok := r.regs[action]
	r.mu.Unlock()

	if !ok {
		return ErrNotRegistered
	}
	if !reg.alive.Load() {
		return fmt.Errorf("%w: listener exited", ErrRegistrationLost)
	}
	return r.probe(reg.binding.Combo)
}

func (r *registrar) Close() error {
	return r.UnregisterAll()
}

func comboModifiers(c config.HotkeyConfig) []hotkey.Modifier {
	mods := make([]hotkey.Modifier, 0, len(c.Modifiers))
	for _, m := range c.Modifiers {
		if mod, ok := modifierMap[m]; ok {
			mods = append(mods, mod)
		}
	}
	return mods
}

func comboKey(c config.HotkeyConfig) hotkey.Key {
	if k, ok := keyMap[c.Key]; ok {
		return k
	}
	return hotkey.KeySpace // fallback
}

// keyMap maps config.Key -> hotkey.Key.
var keyMap = map[config.Key]hotkey.Key{
	config.KeySpace:  hotkey.KeySpace,
	config.KeyReturn: hotkey.KeyReturn,
	config.KeyTab:    hotkey.KeyTab,
	config.KeyA:      hotkey.KeyA,
	config.KeyB:      hotkey.KeyB,
	config.KeyC:      hotkey.KeyC,
	config.KeyD:      hotkey.KeyD,
	config.KeyE:      hotkey.KeyE,
	config.KeyF:      hotkey.KeyF,
	config.KeyG:      hotkey.KeyG,
	config.KeyH:      hotkey.KeyH,
	config.KeyI:      hotkey.KeyI,
	config.KeyJ:      hotkey.KeyJ,
	config.KeyK:      hotkey.KeyK,
	config.KeyL:      hotkey.KeyL,
	config.KeyM:      hotkey.KeyM,
	config.KeyN:      hotkey.KeyN,
	config.KeyO:      hotkey.KeyO,
	config.KeyP:      hotkey.KeyP,
	config.KeyQ:      hotkey.KeyQ,
	config.KeyR:      hotkey.KeyR,
	config.KeyS:      hotkey.KeyS,
	config.KeyT:      hotkey.KeyT,
	config.KeyU:      hotkey.KeyU,
	config.KeyV:      hotkey.KeyV,
	config.KeyW:      hotkey.KeyW,
	config.KeyX:      hotkey.KeyX,
	config.KeyY:      hotkey.KeyY,
	config.KeyZ:      hotkey.KeyZ,
	config.KeyF1:     hotkey.KeyF1,
	config.KeyF2:     hotkey.KeyF2,
	config.KeyF3:     hotkey.KeyF3,
	config.KeyF4:     hotkey.KeyF4,
	config.KeyF5:     hotkey.KeyF5,
	config.KeyF6:     hotkey.KeyF6,
	config.KeyF7:     hotkey.KeyF7,
	config.KeyF8:     hotkey.KeyF8,
	config.KeyF9:     hotkey.KeyF9,
	config.KeyF10:    hotkey.KeyF10,
	config.KeyF11:    hotkey.KeyF11,
	config.KeyF12:    hotkey.KeyF12,
}
