package speech

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
	"github.com/ArtyMcLabin/SendToTTS/internal/synth"
)

// fakeEngine records calls in order and hands the completion callbacks to
// the test, which fires them to simulate playback finishing.
type fakeEngine struct {
	ops    []string
	speaks []string
	tags   []lang.Tag
	dones  []func()
	stops  int
	closes int

	selectErr error
	speakErr  error
	stopErr   error
}

func (f *fakeEngine) SelectVoice(tag lang.Tag) (synth.Voice, error) {
	f.ops = append(f.ops, "select")
	f.tags = append(f.tags, tag)
	if f.selectErr != nil {
		return synth.Voice{}, f.selectErr
	}
	return synth.Voice{ID: string(tag), Name: "voice-" + string(tag), Lang: tag}, nil
}

func (f *fakeEngine) Speak(text string, v synth.Voice, done func()) error {
	f.ops = append(f.ops, "speak")
	if f.speakErr != nil {
		return f.speakErr
	}
	f.speaks = append(f.speaks, text)
	f.dones = append(f.dones, done)
	return nil
}

func (f *fakeEngine) StopAll(ctx context.Context) error {
	f.ops = append(f.ops, "stop")
	f.stops++
	return f.stopErr
}

func (f *fakeEngine) Voices() ([]synth.Voice, error) { return nil, nil }

func (f *fakeEngine) Close() error {
	f.closes++
	return nil
}

func (f *fakeEngine) opSequence() string {
	return strings.Join(f.ops, ",")
}

func newTestSession(engine *fakeEngine) *Session {
	return New(Config{Engine: engine, Logger: zerolog.Nop()})
}

func TestReadFromIdle(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestSession(engine)

	if err := s.ReadOrInterrupt("hello", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != Speaking {
		t.Errorf("expected state Speaking, got %v", s.State())
	}
	if got := engine.opSequence(); got != "select,speak" {
		t.Errorf("expected select,speak, got %q", got)
	}
	if engine.tags[0] != lang.English {
		t.Errorf("expected English voice selection, got %q", engine.tags[0])
	}
	if engine.speaks[0] != "hello" {
		t.Errorf("expected text passed through unmodified, got %q", engine.speaks[0])
	}
}

func TestInterruptStopsBeforeSpeaking(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestSession(engine)

	if err := s.ReadOrInterrupt("first", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ReadOrInterrupt("second", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := engine.opSequence(); got != "select,speak,stop,select,speak" {
		t.Errorf("expected stop between utterances, got %q", got)
	}
	if engine.stops != 1 {
		t.Errorf("expected exactly 1 stop, got %d", engine.stops)
	}
	if len(engine.speaks) != 2 {
		t.Errorf("expected 2 utterances, got %d", len(engine.speaks))
	}
	if s.State() != Speaking {
		t.Errorf("expected state Speaking, got %v", s.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestSession(engine)

	// Stop while idle does not touch the engine.
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.ops) != 0 {
		t.Errorf("expected no engine calls, got %v", engine.ops)
	}

	if err := s.ReadOrInterrupt("hello", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Stop(); err != nil {
			t.Fatalf("stop %d: unexpected error: %v", i, err)
		}
	}
	if engine.stops != 1 {
		t.Errorf("expected 1 engine stop, got %d", engine.stops)
	}
	if s.State() != Idle {
		t.Errorf("expected state Idle, got %v", s.State())
	}
}

func TestStaleCompletionIgnored(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestSession(engine)

	if err := s.ReadOrInterrupt("first", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ReadOrInterrupt("second", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The first utterance finishes late, after its replacement started.
	engine.dones[0]()
	if s.State() != Speaking {
		t.Errorf("stale completion changed state to %v", s.State())
	}

	engine.dones[1]()
	if s.State() != Idle {
		t.Errorf("expected Idle after current utterance finished, got %v", s.State())
	}
}

func TestCompletionReturnsToIdle(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestSession(engine)

	if err := s.ReadOrInterrupt("hello", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine.dones[0]()
	if s.State() != Idle {
		t.Errorf("expected Idle, got %v", s.State())
	}

	// A duplicate completion for the same utterance is harmless.
	engine.dones[0]()
	if s.State() != Idle {
		t.Errorf("expected Idle after duplicate completion, got %v", s.State())
	}
}

func TestSpeakFailureReturnsToIdle(t *testing.T) {
	engine := &fakeEngine{speakErr: synth.ErrUnavailable}
	s := newTestSession(engine)

	err := s.ReadOrInterrupt("hello", lang.English)
	if !errors.Is(err, synth.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("expected Idle after failed speak, got %v", s.State())
	}
}

func TestStopFailureStillLandsIdle(t *testing.T) {
	engine := &fakeEngine{stopErr: synth.ErrUnavailable}
	s := newTestSession(engine)

	if err := s.ReadOrInterrupt("hello", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.Stop()
	if !errors.Is(err, synth.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("expected Idle even when stop failed, got %v", s.State())
	}
}

func TestReplaceEngineOrphansOldUtterances(t *testing.T) {
	old := &fakeEngine{}
	s := newTestSession(old)

	if err := s.ReadOrInterrupt("dying words", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := &fakeEngine{}
	s.ReplaceEngine(fresh)

	if s.State() != Idle {
		t.Errorf("expected Idle after engine swap, got %v", s.State())
	}
	if old.closes != 1 {
		t.Errorf("expected old engine closed once, got %d", old.closes)
	}

	// The old engine's completion arrives after the swap.
	old.dones[0]()
	if s.State() != Idle {
		t.Errorf("orphaned completion changed state to %v", s.State())
	}

	if err := s.ReadOrInterrupt("fresh start", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh.speaks) != 1 || fresh.speaks[0] != "fresh start" {
		t.Errorf("expected new engine to speak, got %v", fresh.speaks)
	}
	if len(old.speaks) != 1 {
		t.Errorf("old engine spoke again: %v", old.speaks)
	}
}

func TestStateCallback(t *testing.T) {
	engine := &fakeEngine{}
	var states []State
	s := New(Config{
		Engine:  engine,
		Logger:  zerolog.Nop(),
		OnState: func(st State) { states = append(states, st) },
	})

	if err := s.ReadOrInterrupt("hello", lang.English); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []State{Speaking, StopRequested, Idle}
	if len(states) != len(expected) {
		t.Fatalf("expected states %v, got %v", expected, states)
	}
	for i := range expected {
		if states[i] != expected[i] {
			t.Errorf("transition %d: expected %v, got %v", i, expected[i], states[i])
		}
	}
}
