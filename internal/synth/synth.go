// Package synth drives the platform text-to-speech engine.
package synth

import (
	"context"
	"errors"

	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
)

var (
	// ErrVoiceUnavailable means the engine has no voices installed at all.
	ErrVoiceUnavailable = errors.New("synth: no voice available")

	// ErrUnavailable means the engine handle is dead and the engine needs
	// to be re-initialized before it can speak again.
	ErrUnavailable = errors.New("synth: engine unavailable")
)

// Voice identifies one installed synthesis voice.
type Voice struct {
	ID   string
	Name string
	Lang lang.Tag
}

// Engine is a platform text-to-speech engine.
//
// Speak is asynchronous: it returns once the utterance is underway and
// invokes done from the engine's own goroutine when playback finishes
// naturally. done is never called re-entrantly from inside Speak or
// StopAll, and never called for an utterance cut short by StopAll.
type Engine interface {
	// SelectVoice picks an installed voice for the language. When no voice
	// matches the language the engine falls back to its default voice;
	// ErrVoiceUnavailable only means there are no voices at all.
	SelectVoice(tag lang.Tag) (Voice, error)

	// Speak starts speaking text with the given voice.
	Speak(text string, v Voice, done func()) error

	// StopAll silences the engine, blocking until silence is confirmed or
	// ctx expires. A dead engine reports ErrUnavailable instead of hanging.
	StopAll(ctx context.Context) error

	// Voices lists the voices the engine can speak with.
	Voices() ([]Voice, error)

	Close() error
}
