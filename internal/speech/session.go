// Package speech owns the speaking state machine.
package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
	"github.com/ArtyMcLabin/SendToTTS/internal/synth"
)

// State is the session speaking state.
type State int

const (
	Idle State = iota
	Speaking
	StopRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case StopRequested:
		return "stop-requested"
	}
	return "unknown"
}

// DefaultStopTimeout bounds how long an interrupt waits for silence.
const DefaultStopTimeout = 2 * time.Second

type Config struct {
	Engine      synth.Engine
	StopTimeout time.Duration // DefaultStopTimeout when zero
	Logger      zerolog.Logger

	// OnState, when set, observes state transitions. Called with the
	// session lock held; must not call back into the session.
	OnState func(State)
}

// Session serializes all speech. At most one utterance is ever active:
// starting a new one silences whatever is playing first.
type Session struct {
	log         zerolog.Logger
	stopTimeout time.Duration
	onState     func(State)

	mu     sync.Mutex
	engine synth.Engine
	state  State
	seq    uint64 // newest utterance id; completions for older ids are stale
}

func New(cfg Config) *Session {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Session{
		log:         cfg.Logger,
		stopTimeout: cfg.StopTimeout,
		onState:     cfg.OnState,
		engine:      cfg.Engine,
		state:       Idle,
	}
}

// ReadOrInterrupt speaks text, first silencing any utterance in flight.
func (s *Session) ReadOrInterrupt(text string, tag lang.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		if err := s.stopLocked(); err != nil {
			return err
		}
	}

	voice, err := s.engine.SelectVoice(tag)
	if err != nil {
		return fmt.Errorf("select voice: %w", err)
	}

	s.seq++
	seq := s.seq
	if err := s.engine.Speak(text, voice, func() { s.OnSynthesisComplete(seq) }); err != nil {
		s.setStateLocked(Idle)
		return fmt.Errorf("speak: %w", err)
	}

	s.setStateLocked(Speaking)
	s.log.Info().
		Uint64("utterance", seq).
		Str("lang", string(tag)).
		Str("voice", voice.Name).
		Int("chars", len(text)).
		Msg("Speaking")
	return nil
}

// Stop silences the session. Safe from any state, any number of times.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.state == Idle {
		return nil
	}

	s.setStateLocked(StopRequested)

	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	err := s.engine.StopAll(ctx)

	// Whatever happened, nothing is speaking anymore.
	s.setStateLocked(Idle)

	if err != nil {
		return fmt.Errorf("stop synthesis: %w", err)
	}
	s.log.Debug().Msg("Speech stopped")
	return nil
}

// OnSynthesisComplete handles the engine's completion callback for
// utterance seq. Completions for anything but the newest utterance are
// late echoes of interrupted speech and are dropped.
func (s *Session) OnSynthesisComplete(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.seq {
		s.log.Debug().Uint64("utterance", seq).Uint64("current", s.seq).Msg("Stale completion ignored")
		return
	}
	if s.state != Speaking {
		return
	}
	s.setStateLocked(Idle)
	s.log.Info().Uint64("utterance", seq).Msg("Finished speaking")
}

// State reports the current speaking state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReplaceEngine swaps in a freshly initialized engine after the old one
// went unavailable. The old engine is closed outside the lock; anything it
// still thinks it is speaking is orphaned.
func (s *Session) ReplaceEngine(e synth.Engine) {
	s.mu.Lock()
	old := s.engine
	s.engine = e
	s.seq++
	s.setStateLocked(Idle)
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.log.Info().Msg("Synthesis engine replaced")
}

// Close stops any speech and releases the engine. Terminal; the session
// must not be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	stopErr := s.stopLocked()
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		if err := engine.Close(); err != nil {
			return err
		}
	}
	return stopErr
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}
