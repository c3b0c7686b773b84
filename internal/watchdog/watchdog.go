// Package watchdog keeps the hotkey bindings alive. Some platforms drop
// global registrations without any notification (display sleep, session
// switches), so the only defense is to probe and re-register on a timer.
package watchdog

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/hotkey"
)

// State is where the watchdog is in its check cycle.
type State int

const (
	Armed State = iota
	Checking
	Repairing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Checking:
		return "checking"
	case Repairing:
		return "repairing"
	}
	return "unknown"
}

const (
	// DefaultInterval between check cycles.
	DefaultInterval = 60 * time.Second

	// DefaultFailureThreshold is how many consecutive failures a binding
	// accumulates before the watchdog escalates.
	DefaultFailureThreshold = 3
)

// HealthRecord tracks one binding's history across checks.
type HealthRecord struct {
	LastHealthy time.Time
	Failures    int // consecutive failed probes and repairs
	Escalated   bool
}

// Alerter raises a user-visible alarm when a binding stays dead.
type Alerter interface {
	Escalation(binding string, failures int)
}

// Liveness reports event pump progress for the heartbeat.
type Liveness interface {
	ProcessedEvents() uint64
}

// LivenessFunc adapts a plain function to the Liveness interface.
type LivenessFunc func() uint64

func (f LivenessFunc) ProcessedEvents() uint64 { return f() }

type Config struct {
	Registrar        hotkey.Registrar
	Bindings         []hotkey.Binding
	FailureThreshold int // DefaultFailureThreshold when zero
	Logger           zerolog.Logger
	Alerter          Alerter  // optional
	Liveness         Liveness // optional
}

// Watchdog probes the bindings and repairs the ones that died. It is
// driven solely by the control loop's timer and is not safe for
// concurrent use.
type Watchdog struct {
	reg       hotkey.Registrar
	bindings  []hotkey.Binding
	threshold int
	log       zerolog.Logger
	alert     Alerter
	pump      Liveness

	state    State
	records  map[hotkey.Action]*HealthRecord
	lastSeen uint64
}

func New(cfg Config) *Watchdog {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Watchdog{
		reg:       cfg.Registrar,
		bindings:  cfg.Bindings,
		threshold: cfg.FailureThreshold,
		log:       cfg.Logger,
		alert:     cfg.Alerter,
		pump:      cfg.Liveness,
		state:     Armed,
		records:   map[hotkey.Action]*HealthRecord{},
	}
}

// Check runs one full cycle: heartbeat, probe every binding, repair if
// anything is unhealthy. At most one repair happens per cycle.
func (w *Watchdog) Check() {
	w.state = Checking
	w.heartbeat()

	now := time.Now()
	var unhealthy []hotkey.Binding
	for _, b := range w.bindings {
		rec := w.record(b.Action)
		if err := w.reg.SelfTest(b.Action); err != nil {
			rec.Failures++
			w.log.Warn().Err(err).
				Stringer("action", b.Action).
				Int("failures", rec.Failures).
				Msg("Hotkey self-test failed")
			unhealthy = append(unhealthy, b)
			continue
		}
		rec.LastHealthy = now
		rec.Failures = 0
		rec.Escalated = false
	}

	if len(unhealthy) > 0 {
		w.repair(unhealthy)
	}
	w.state = Armed
}

// repair tears down and re-registers the whole set, then re-probes the
// bindings that were unhealthy going in.
func (w *Watchdog) repair(unhealthy []hotkey.Binding) {
	w.state = Repairing
	w.log.Warn().Int("unhealthy", len(unhealthy)).Msg("Repairing hotkey registrations")

	if err := w.reg.UnregisterAll(); err != nil {
		w.log.Warn().Err(err).Msg("UnregisterAll during repair")
	}
	if err := w.reg.RegisterAll(w.bindings); err != nil {
		w.log.Warn().Err(err).Msg("RegisterAll during repair")
	}

	now := time.Now()
	for _, b := range unhealthy {
		rec := w.record(b.Action)
		if err := w.reg.SelfTest(b.Action); err != nil {
			rec.Failures++
			w.log.Warn().Err(err).
				Stringer("action", b.Action).
				Int("failures", rec.Failures).
				Msg("Repair did not restore binding")
			w.escalate(b, rec)
			continue
		}
		rec.LastHealthy = now
		rec.Failures = 0
		rec.Escalated = false
		w.log.Info().
			Stringer("action", b.Action).
			Str("combo", b.Combo.String()).
			Msg("Hotkey repaired")
	}
}

// escalate fires once per degradation, when the failure counter crosses
// the threshold. The process keeps running and repairs keep being tried.
func (w *Watchdog) escalate(b hotkey.Binding, rec *HealthRecord) {
	if rec.Failures < w.threshold || rec.Escalated {
		return
	}
	rec.Escalated = true
	w.log.Error().
		Stringer("action", b.Action).
		Str("combo", b.Combo.String()).
		Int("failures", rec.Failures).
		Msg("Hotkey binding stays dead after repeated repairs; degraded until restart")
	if w.alert != nil {
		w.alert.Escalation(b.Combo.String(), rec.Failures)
	}
}

// heartbeat logs event pump progress since the previous check. Purely
// observability; a stalled pump could never run this code anyway, which is
// exactly why the number is worth writing down.
func (w *Watchdog) heartbeat() {
	if w.pump == nil {
		return
	}
	processed := w.pump.ProcessedEvents()
	delta := processed - w.lastSeen
	w.lastSeen = processed

	if delta == 0 {
		w.log.Warn().Uint64("total", processed).Msg("Event pump made no progress since last heartbeat")
		return
	}
	w.log.Debug().Uint64("events", delta).Uint64("total", processed).Msg("Event pump heartbeat")
}

// State reports the current cycle state.
func (w *Watchdog) State() State {
	return w.state
}

// Record returns a copy of a binding's health record.
func (w *Watchdog) Record(action hotkey.Action) (HealthRecord, bool) {
	rec, ok := w.records[action]
	if !ok {
		return HealthRecord{}, false
	}
	return *rec, true
}

func (w *Watchdog) record(action hotkey.Action) *HealthRecord {
	rec, ok := w.records[action]
	if !ok {
		rec = &HealthRecord{}
		w.records[action] = rec
	}
	return rec
}
