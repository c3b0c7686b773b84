//go:build !windows

package synth

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
)

// commandEngine speaks through an external synthesizer binary: `say` on
// macOS, `espeak-ng` elsewhere. Killing the process is the stop mechanism.
type commandEngine struct {
	cfg    config.SpeechConfig
	log    zerolog.Logger
	binary string

	mu   sync.Mutex
	cmd  *exec.Cmd
	gen  uint64        // pairs each Wait goroutine with the utterance it watches
	wait chan struct{} // closed when the current process exits
}

// New creates the synthesis engine for this platform.
func New(cfg config.SpeechConfig, logger zerolog.Logger) (Engine, error) {
	name := "espeak-ng"
	if runtime.GOOS == "darwin" {
		name = "say"
	}

	binary, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("synthesizer %q not found: %w", name, err)
	}

	return &commandEngine{cfg: cfg, log: logger, binary: binary}, nil
}

func (e *commandEngine) SelectVoice(tag lang.Tag) (Voice, error) {
	if e.cfg.VoiceID != "" {
		return Voice{ID: e.cfg.VoiceID, Name: e.cfg.VoiceID, Lang: tag}, nil
	}
	for _, v := range e.voiceTable() {
		if v.Lang == tag {
			return v, nil
		}
	}
	// Empty ID lets the binary pick its default voice.
	return Voice{}, nil
}

func (e *commandEngine) Speak(text string, v Voice, done func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("synth: utterance already active")
	}

	cmd := exec.Command(e.binary, e.args(text, v)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrUnavailable, e.binary, err)
	}

	e.gen++
	gen := e.gen
	exited := make(chan struct{})
	e.cmd = cmd
	e.wait = exited

	go func() {
		err := cmd.Wait()
		close(exited)

		e.mu.Lock()
		current := e.gen == gen
		if current {
			e.cmd = nil
			e.wait = nil
		}
		e.mu.Unlock()

		if !current {
			// Stopped; the utterance no longer counts.
			return
		}
		if err != nil {
			e.log.Debug().Err(err).Msg("synthesizer process exited with error")
		}
		done()
	}()

	return nil
}

func (e *commandEngine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	cmd, exited := e.cmd, e.wait
	e.gen++ // orphan the running utterance so its completion no longer counts
	e.cmd = nil
	e.wait = nil
	e.mu.Unlock()

	if cmd == nil {
		return nil
	}

	_ = cmd.Process.Kill()

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: synthesizer did not stop: %v", ErrUnavailable, ctx.Err())
	}
}

func (e *commandEngine) Voices() ([]Voice, error) {
	return e.voiceTable(), nil
}

func (e *commandEngine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.StopAll(ctx)
}

// voiceTable lists the voices this engine knows how to ask for.
func (e *commandEngine) voiceTable() []Voice {
	if runtime.GOOS == "darwin" {
		return []Voice{
			{ID: "Milena", Name: "Milena", Lang: lang.Russian},
			{ID: "Samantha", Name: "Samantha", Lang: lang.English},
		}
	}
	return []Voice{
		{ID: "ru", Name: "russian", Lang: lang.Russian},
		{ID: "en", Name: "english", Lang: lang.English},
	}
}

func (e *commandEngine) args(text string, v Voice) []string {
	if runtime.GOOS == "darwin" {
		// say has no volume flag; volume is a SAPI/espeak concern.
		args := []string{"-r", strconv.Itoa(sayRate(e.cfg.Rate))}
		if v.ID != "" {
			args = append(args, "-v", v.ID)
		}
		return append(args, "--", text)
	}

	args := []string{
		"-s", strconv.Itoa(espeakSpeed(e.cfg.Rate)),
		"-a", strconv.Itoa(volumePercent(e.cfg.Volume)),
	}
	if v.ID != "" {
		args = append(args, "-v", v.ID)
	}
	return append(args, "--", text)
}

// sayRate maps the -10..10 config scale onto say's words per minute.
func sayRate(rate int) int {
	return 180 + clampRate(rate)*12
}

// espeakSpeed maps the -10..10 config scale onto espeak-ng's words per
// minute, centered on its default of 175.
func espeakSpeed(rate int) int {
	return 175 + clampRate(rate)*12
}
