// Package app wires the services together and runs the event loop.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/clipboard"
	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/hotkey"
	"github.com/ArtyMcLabin/SendToTTS/internal/notify"
	"github.com/ArtyMcLabin/SendToTTS/internal/speech"
	"github.com/ArtyMcLabin/SendToTTS/internal/synth"
	"github.com/ArtyMcLabin/SendToTTS/internal/watchdog"
)

// EventType labels events flowing through the pump.
type EventType int

const (
	EventHotkey EventType = iota + 1
	EventTick
	EventShutdown
)

func (t EventType) String() string {
	switch t {
	case EventHotkey:
		return "hotkey"
	case EventTick:
		return "tick"
	case EventShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Event is one unit of work for the dispatch loop.
type Event struct {
	Type   EventType
	Action hotkey.Action
	At     time.Time
}

const eventQueueDepth = 32

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetSpeaking()
	SetError()
}

type Config struct {
	Session   *speech.Session
	Source    clipboard.Source
	Registrar hotkey.Registrar
	Watchdog  *watchdog.Watchdog

	// Interval between watchdog ticks; watchdog.DefaultInterval when zero.
	Interval time.Duration

	// NewEngine builds a replacement after the synthesis engine dies.
	NewEngine func() (synth.Engine, error)

	Notifier      *notify.Notifier
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// App is the control loop. Everything that happens, happens because an
// event went through its queue: hotkeys, tray clicks, watchdog ticks and
// shutdown all funnel into one channel drained by one goroutine, so
// events are handled strictly in arrival order.
type App struct {
	session   *speech.Session
	source    clipboard.Source
	reg       hotkey.Registrar
	wd        *watchdog.Watchdog
	interval  time.Duration
	newEngine func() (synth.Engine, error)
	notifier  *notify.Notifier
	cfg       *config.Config
	log       zerolog.Logger
	status    StatusUpdater

	events    chan Event
	processed atomic.Uint64
	shutdown  sync.Once
	done      chan struct{} // closed when Run returns
}

func New(cfg Config) *App {
	if cfg.Interval <= 0 {
		cfg.Interval = watchdog.DefaultInterval
	}
	return &App{
		session:   cfg.Session,
		source:    cfg.Source,
		reg:       cfg.Registrar,
		wd:        cfg.Watchdog,
		interval:  cfg.Interval,
		newEngine: cfg.NewEngine,
		notifier:  cfg.Notifier,
		cfg:       cfg.Config,
		log:       cfg.Logger,
		status:    cfg.StatusUpdater,
		events:    make(chan Event, eventQueueDepth),
		done:      make(chan struct{}),
	}
}

// OnHotkey is the registrar's handler; it queues the fired action.
func (a *App) OnHotkey(action hotkey.Action) {
	a.TriggerAction(action)
}

// TriggerAction fires an action as if its hotkey had been pressed. The
// tray menu and the console fallback come through here.
func (a *App) TriggerAction(action hotkey.Action) {
	a.post(Event{Type: EventHotkey, Action: action, At: time.Now()})
}

// Shutdown asks the loop to tear everything down and waits for it to
// finish. Idempotent and safe from any goroutine.
func (a *App) Shutdown() {
	a.shutdown.Do(func() {
		select {
		case a.events <- Event{Type: EventShutdown, At: time.Now()}:
		case <-a.done:
		}
	})
	<-a.done
}

// ProcessedEvents counts dispatched events, timer ticks included. The
// watchdog heartbeat reads it.
func (a *App) ProcessedEvents() uint64 {
	return a.processed.Load()
}

func (a *App) post(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn().Stringer("type", ev.Type).Msg("Event queue full, dropping event")
	}
}

// Run drains the queue until shutdown. Returns ctx.Err() if the context
// ended first.
func (a *App) Run(ctx context.Context) error {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	go a.forwardTicks(ctx, ticker.C)

	a.log.Info().Dur("watchdog_interval", a.interval).Msg("Event loop running")

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return ctx.Err()
		case ev := <-a.events:
			a.processed.Add(1)
			if ev.Type == EventShutdown {
				a.teardown()
				return nil
			}
			a.dispatch(ev)
		}
	}
}

func (a *App) forwardTicks(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case t := <-ticks:
			a.post(Event{Type: EventTick, At: t})
		}
	}
}

// dispatch handles one event. A panic in a handler is contained here: one
// poisoned event must not take the daemon down.
func (a *App) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().
				Interface("panic", r).
				Stringer("type", ev.Type).
				Msg("Recovered from event handler panic")
			if a.status != nil {
				a.status.SetError()
			}
		}
	}()

	switch ev.Type {
	case EventHotkey:
		a.handleAction(ev.Action)
	case EventTick:
		a.wd.Check()
	}
}

func (a *App) handleAction(action hotkey.Action) {
	switch action {
	case hotkey.ActionReadOrInterrupt:
		a.readClipboard()
	case hotkey.ActionForceStop:
		a.stopSpeech()
	default:
		a.log.Warn().Stringer("action", action).Msg("Unknown action")
	}
}

func (a *App) readClipboard() {
	text, err := a.source.FetchText()
	if errors.Is(err, clipboard.ErrNoText) {
		a.log.Info().Msg("Clipboard empty, nothing to read")
		if a.notifier != nil {
			a.notifier.EmptyClipboard()
		}
		return
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("Clipboard unavailable")
		return
	}

	err = a.session.ReadOrInterrupt(text.Body, text.Lang)
	if errors.Is(err, synth.ErrUnavailable) && a.reinitSynth() {
		// One retry on the fresh engine; the text is already in hand.
		err = a.session.ReadOrInterrupt(text.Body, text.Lang)
	}
	if err != nil {
		a.log.Error().Err(err).Msg("Speech failed")
		if a.status != nil {
			a.status.SetError()
		}
	}
}

func (a *App) stopSpeech() {
	err := a.session.Stop()
	if errors.Is(err, synth.ErrUnavailable) {
		a.reinitSynth()
		return
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("Stop failed")
	}
}

// reinitSynth replaces a dead engine with a freshly initialized one.
func (a *App) reinitSynth() bool {
	a.log.Warn().Msg("Synthesis engine unavailable, re-initializing")

	engine, err := a.newEngine()
	if err != nil {
		a.log.Error().Err(err).Msg("Engine re-initialization failed")
		if a.status != nil {
			a.status.SetError()
		}
		return false
	}
	a.session.ReplaceEngine(engine)
	return true
}

// teardown is the shutdown sequence: silence first, then release the OS
// bindings, then the engine.
func (a *App) teardown() {
	a.log.Info().Msg("Shutting down")

	if err := a.session.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Stop during shutdown")
	}
	if err := a.reg.UnregisterAll(); err != nil {
		a.log.Warn().Err(err).Msg("Unregister during shutdown")
	}
	if err := a.session.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Engine close during shutdown")
	}

	a.log.Info().Msg("Shutdown complete")
}
