// Package clipboard fetches the text to be spoken from the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sysclip "github.com/atotto/clipboard"
	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
)

var (
	// ErrNoText means the clipboard held nothing speakable.
	ErrNoText = errors.New("clipboard: no text available")

	// ErrUnavailable means the clipboard could not be read at all.
	ErrUnavailable = errors.New("clipboard: source unavailable")
)

const (
	fetchAttempts = 3
	retryDelay    = 150 * time.Millisecond
)

// Text is one clipboard snapshot plus its detected language.
type Text struct {
	Body string
	Lang lang.Tag
}

// Source hands out clipboard text for speaking.
type Source interface {
	FetchText() (Text, error)
}

// Adapter reads the system clipboard with a short retry. The clipboard can
// be transiently locked by whichever application last wrote it.
type Adapter struct {
	read     func() (string, error)
	detect   func(string) lang.Tag
	attempts int
	delay    time.Duration
	log      zerolog.Logger
}

// New creates an Adapter over the system clipboard.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		read:     sysclip.ReadAll,
		detect:   lang.Detect,
		attempts: fetchAttempts,
		delay:    retryDelay,
		log:      logger,
	}
}

// FetchText reads the clipboard, retrying up to three times. Empty or
// whitespace-only content is ErrNoText; a read failure on the final
// attempt is ErrUnavailable.
func (a *Adapter) FetchText() (Text, error) {
	var lastErr error

	for attempt := 1; attempt <= a.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(a.delay)
		}

		s, err := a.read()
		if err != nil {
			a.log.Debug().Err(err).Int("attempt", attempt).Msg("clipboard read failed")
			lastErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
			continue
		}

		body := strings.TrimSpace(s)
		if body == "" {
			a.log.Debug().Int("attempt", attempt).Msg("clipboard empty")
			lastErr = ErrNoText
			continue
		}

		return Text{Body: body, Lang: a.detect(body)}, nil
	}

	return Text{}, lastErr
}
