package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/clipboard"
	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/hotkey"
	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
	"github.com/ArtyMcLabin/SendToTTS/internal/speech"
	"github.com/ArtyMcLabin/SendToTTS/internal/synth"
	"github.com/ArtyMcLabin/SendToTTS/internal/watchdog"
)

// fakeSource scripts the clipboard. fetch gets the 1-based call number so
// tests can fail some attempts and not others.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	fetch func(call int) (clipboard.Text, error)
}

func (f *fakeSource) FetchText() (clipboard.Text, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fetch := f.fetch
	f.mu.Unlock()
	return fetch(call)
}

func staticSource(text string) *fakeSource {
	return &fakeSource{fetch: func(int) (clipboard.Text, error) {
		return clipboard.Text{Body: text, Lang: lang.Detect(text)}, nil
	}}
}

// fakeEngine is safe for access from the loop goroutine and the test.
type fakeEngine struct {
	mu       sync.Mutex
	speaks   []string
	tags     []lang.Tag
	stops    int
	closes   int
	speakErr error
}

func (f *fakeEngine) SelectVoice(tag lang.Tag) (synth.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return synth.Voice{ID: string(tag), Name: "voice-" + string(tag), Lang: tag}, nil
}

func (f *fakeEngine) Speak(text string, v synth.Voice, done func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.speakErr != nil {
		return f.speakErr
	}
	f.speaks = append(f.speaks, text)
	return nil
}

func (f *fakeEngine) StopAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) Voices() ([]synth.Voice, error) { return nil, nil }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeEngine) speakCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.speaks)
}

func (f *fakeEngine) lastSpoken() (string, lang.Tag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.speaks) == 0 {
		return "", lang.Unrecognized
	}
	return f.speaks[len(f.speaks)-1], f.tags[len(f.tags)-1]
}

func (f *fakeEngine) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeRegistrar struct {
	mu          sync.Mutex
	registers   int
	unregisters int
	probes      int
}

func (f *fakeRegistrar) RegisterAll(bindings []hotkey.Binding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	return nil
}

func (f *fakeRegistrar) UnregisterAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	return nil
}

func (f *fakeRegistrar) SelfTest(action hotkey.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return nil
}

func (f *fakeRegistrar) Close() error { return nil }

func (f *fakeRegistrar) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *fakeRegistrar) unregisterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unregisters
}

type fixture struct {
	app     *App
	session *speech.Session
	reg     *fakeRegistrar
}

// newFixture starts a full loop over fakes. The watchdog interval is an
// hour so ticks stay out of tests that do not want them.
func newFixture(t *testing.T, source *fakeSource, engine *fakeEngine, mutate ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{reg: &fakeRegistrar{}}
	f.session = speech.New(speech.Config{Engine: engine, Logger: zerolog.Nop()})

	cfg := Config{
		Session:   f.session,
		Source:    source,
		Registrar: f.reg,
		Interval:  time.Hour,
		NewEngine: func() (synth.Engine, error) { return nil, errors.New("no spare engine") },
		Config:    config.Default(),
		Logger:    zerolog.Nop(),
	}
	cfg.Watchdog = watchdog.New(watchdog.Config{
		Registrar: f.reg,
		Bindings:  hotkey.Bindings(cfg.Config),
		Logger:    zerolog.Nop(),
	})
	for _, m := range mutate {
		m(&cfg)
	}

	f.app = New(cfg)
	go f.app.Run(context.Background())
	t.Cleanup(f.app.Shutdown)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClipboardSpokenInDetectedLanguage(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, staticSource("Привет мир"), engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)

	waitFor(t, "utterance", func() bool { return engine.speakCount() == 1 })
	text, tag := engine.lastSpoken()
	if text != "Привет мир" {
		t.Errorf("expected clipboard text spoken unmodified, got %q", text)
	}
	if tag != lang.Russian {
		t.Errorf("expected Russian voice selection, got %q", tag)
	}
	if st := f.session.State(); st != speech.Speaking {
		t.Errorf("expected Speaking, got %v", st)
	}
}

func TestSecondTriggerInterruptsFirst(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, staticSource("some text"), engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "first utterance", func() bool { return engine.speakCount() == 1 })

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "second utterance", func() bool { return engine.speakCount() == 2 })

	if engine.stopCount() != 1 {
		t.Errorf("expected exactly 1 stop, got %d", engine.stopCount())
	}
}

func TestForceStopSilences(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, staticSource("some text"), engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "utterance", func() bool { return engine.speakCount() == 1 })

	f.app.TriggerAction(hotkey.ActionForceStop)
	waitFor(t, "silence", func() bool { return f.session.State() == speech.Idle })

	if engine.stopCount() != 1 {
		t.Errorf("expected 1 stop, got %d", engine.stopCount())
	}
}

func TestEmptyClipboardSpeaksNothing(t *testing.T) {
	engine := &fakeEngine{}
	source := &fakeSource{fetch: func(int) (clipboard.Text, error) {
		return clipboard.Text{}, clipboard.ErrNoText
	}}
	f := newFixture(t, source, engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "event processed", func() bool { return f.app.ProcessedEvents() >= 1 })

	if engine.speakCount() != 0 {
		t.Errorf("expected nothing spoken, got %d utterances", engine.speakCount())
	}
	if st := f.session.State(); st != speech.Idle {
		t.Errorf("expected Idle, got %v", st)
	}
}

func TestLoopSurvivesClipboardFailure(t *testing.T) {
	engine := &fakeEngine{}
	source := &fakeSource{fetch: func(call int) (clipboard.Text, error) {
		if call == 1 {
			return clipboard.Text{}, clipboard.ErrUnavailable
		}
		return clipboard.Text{Body: "recovered", Lang: lang.English}, nil
	}}
	f := newFixture(t, source, engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "failed event processed", func() bool { return f.app.ProcessedEvents() >= 1 })

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "utterance after failure", func() bool { return engine.speakCount() == 1 })
}

func TestDeadEngineIsReplaced(t *testing.T) {
	dead := &fakeEngine{speakErr: synth.ErrUnavailable}
	fresh := &fakeEngine{}
	f := newFixture(t, staticSource("try again"), dead, func(cfg *Config) {
		cfg.NewEngine = func() (synth.Engine, error) { return fresh, nil }
	})

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)

	waitFor(t, "retry on fresh engine", func() bool { return fresh.speakCount() == 1 })
	if got, _ := fresh.lastSpoken(); got != "try again" {
		t.Errorf("expected retry with the same text, got %q", got)
	}
	if dead.closeCount() != 1 {
		t.Errorf("expected dead engine closed, got %d closes", dead.closeCount())
	}
}

func TestPanicInHandlerIsContained(t *testing.T) {
	engine := &fakeEngine{}
	source := &fakeSource{fetch: func(call int) (clipboard.Text, error) {
		if call == 1 {
			panic("poisoned clipboard")
		}
		return clipboard.Text{Body: "still alive", Lang: lang.English}, nil
	}}
	f := newFixture(t, source, engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "poisoned event processed", func() bool { return f.app.ProcessedEvents() >= 1 })

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "utterance after panic", func() bool { return engine.speakCount() == 1 })
}

func TestTicksDriveWatchdog(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, staticSource("unused"), engine, func(cfg *Config) {
		cfg.Interval = 20 * time.Millisecond
	})

	// Two bindings get probed per cycle.
	waitFor(t, "watchdog probes", func() bool { return f.reg.probeCount() >= 2 })
}

func TestShutdownTearsEverythingDown(t *testing.T) {
	engine := &fakeEngine{}
	f := newFixture(t, staticSource("last words"), engine)

	f.app.TriggerAction(hotkey.ActionReadOrInterrupt)
	waitFor(t, "utterance", func() bool { return engine.speakCount() == 1 })

	f.app.Shutdown()

	if engine.stopCount() < 1 {
		t.Errorf("expected speech stopped during shutdown, got %d stops", engine.stopCount())
	}
	if f.reg.unregisterCount() != 1 {
		t.Errorf("expected hotkeys unregistered once, got %d", f.reg.unregisterCount())
	}
	if engine.closeCount() != 1 {
		t.Errorf("expected engine closed, got %d closes", engine.closeCount())
	}

	// A second call returns without deadlocking.
	f.app.Shutdown()
}
