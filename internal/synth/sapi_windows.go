//go:build windows

package synth

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/lang"
)

// SpeechVoiceSpeakFlags: async playback, purging whatever is queued first.
// Purge-before-speak is what turns a Speak call into an interrupt.
const svsfAsyncPurge = 1 | 2

// SpeechRunState value for "finished speaking everything queued".
const srseDone = 1

// completionPollInterval is how often the worker checks whether the current
// utterance has finished.
const completionPollInterval = 100 * time.Millisecond

// comCallTimeout bounds every marshalled COM call. A voice object that
// stops answering within this window is treated as a dead handle.
const comCallTimeout = 2 * time.Second

// Voice token Language attribute filters, by LCID.
var sapiLanguageFilter = map[lang.Tag]string{
	lang.Russian: "Language=419",
	lang.English: "Language=409",
}

// sapiEngine speaks through the SAPI automation interface (SAPI.SpVoice).
// A single locked OS thread owns every COM object; engine methods marshal
// closures onto it through cmds.
type sapiEngine struct {
	cfg  config.SpeechConfig
	log  zerolog.Logger
	cmds chan func(*sapiWorker)
	quit chan struct{}
	dead chan struct{} // closed when the worker thread exits
	once sync.Once
}

// New creates the synthesis engine for this platform.
func New(cfg config.SpeechConfig, logger zerolog.Logger) (Engine, error) {
	e := &sapiEngine{
		cfg:  cfg,
		log:  logger,
		cmds: make(chan func(*sapiWorker)),
		quit: make(chan struct{}),
		dead: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go e.run(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return e, nil
}

func (e *sapiEngine) SelectVoice(tag lang.Tag) (Voice, error) {
	var out Voice
	err := e.call(func(w *sapiWorker) error {
		v, err := w.selectVoice(e.cfg.VoiceID, tag)
		out = v
		return err
	})
	return out, err
}

func (e *sapiEngine) Speak(text string, v Voice, done func()) error {
	return e.call(func(w *sapiWorker) error {
		return w.speak(text, v, done)
	})
}

func (e *sapiEngine) StopAll(ctx context.Context) error {
	return e.callCtx(ctx, func(w *sapiWorker) error {
		return w.stop()
	})
}

func (e *sapiEngine) Voices() ([]Voice, error) {
	var out []Voice
	err := e.call(func(w *sapiWorker) error {
		vs, err := w.voices()
		out = vs
		return err
	})
	return out, err
}

func (e *sapiEngine) Close() error {
	e.once.Do(func() { close(e.quit) })
	select {
	case <-e.dead:
	case <-time.After(comCallTimeout):
		e.log.Warn().Msg("SAPI worker did not exit in time")
	}
	return nil
}

// call marshals fn onto the worker thread with the default timeout.
func (e *sapiEngine) call(fn func(*sapiWorker) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), comCallTimeout)
	defer cancel()
	return e.callCtx(ctx, fn)
}

func (e *sapiEngine) callCtx(ctx context.Context, fn func(*sapiWorker) error) error {
	errc := make(chan error, 1)
	wrapped := func(w *sapiWorker) { errc <- fn(w) }

	select {
	case e.cmds <- wrapped:
	case <-e.dead:
		return fmt.Errorf("%w: engine closed", ErrUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: voice not responding: %v", ErrUnavailable, ctx.Err())
	}

	select {
	case err := <-errc:
		return err
	case <-e.dead:
		return fmt.Errorf("%w: engine closed", ErrUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: voice not responding: %v", ErrUnavailable, ctx.Err())
	}
}

// run owns the COM apartment. Every SAPI call happens on this goroutine,
// pinned to its OS thread for the lifetime of the engine.
func (e *sapiEngine) run(ready chan<- error) {
	runtime.LockOSThread()
	defer close(e.dead)

	if err := ole.CoInitialize(0); err != nil {
		ready <- fmt.Errorf("%w: CoInitialize: %v", ErrUnavailable, err)
		return
	}
	defer ole.CoUninitialize()

	w := &sapiWorker{tokens: map[string]*ole.IDispatch{}, log: e.log}
	if err := w.init(e.cfg); err != nil {
		w.release()
		ready <- err
		return
	}
	defer w.release()
	ready <- nil

	poll := time.NewTicker(completionPollInterval)
	defer poll.Stop()

	for {
		select {
		case fn := <-e.cmds:
			fn(w)
		case <-poll.C:
			w.pollCompletion()
		case <-e.quit:
			return
		}
	}
}

// sapiWorker holds the COM objects. Touched only from the worker thread.
type sapiWorker struct {
	voice  *ole.IDispatch
	tokens map[string]*ole.IDispatch // voice ID -> token, released on teardown
	log    zerolog.Logger

	current struct {
		active bool
		done   func()
	}
}

func (w *sapiWorker) init(cfg config.SpeechConfig) error {
	unknown, err := oleutil.CreateObject("SAPI.SpVoice")
	if err != nil {
		return fmt.Errorf("%w: create SAPI.SpVoice: %v", ErrUnavailable, err)
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return fmt.Errorf("%w: SpVoice dispatch: %v", ErrUnavailable, err)
	}
	w.voice = voice

	if _, err := oleutil.PutProperty(voice, "Rate", clampRate(cfg.Rate)); err != nil {
		return fmt.Errorf("set rate: %v", err)
	}
	if _, err := oleutil.PutProperty(voice, "Volume", volumePercent(cfg.Volume)); err != nil {
		return fmt.Errorf("set volume: %v", err)
	}
	return nil
}

func (w *sapiWorker) release() {
	for _, t := range w.tokens {
		t.Release()
	}
	w.tokens = nil
	if w.voice != nil {
		w.voice.Release()
		w.voice = nil
	}
}

func (w *sapiWorker) selectVoice(voiceID string, tag lang.Tag) (Voice, error) {
	if voiceID != "" {
		if v, ok := w.findVoice(voiceID); ok {
			return v, nil
		}
		w.log.Warn().Str("voice_id", voiceID).Msg("configured voice not installed, picking by language")
	}

	if filter, ok := sapiLanguageFilter[tag]; ok {
		if v, ok := w.firstToken(filter); ok {
			return v, nil
		}
		w.log.Debug().Str("lang", string(tag)).Msg("no voice for language, using default")
	}

	if v, ok := w.firstToken(""); ok {
		return v, nil
	}
	return Voice{}, ErrVoiceUnavailable
}

// findVoice matches a configured voice_id against installed tokens, by Id
// substring or exact description.
func (w *sapiWorker) findVoice(voiceID string) (Voice, bool) {
	vs, err := w.voices()
	if err != nil {
		return Voice{}, false
	}
	for _, v := range vs {
		if strings.Contains(v.ID, voiceID) || strings.EqualFold(v.Name, voiceID) {
			return v, true
		}
	}
	return Voice{}, false
}

// firstToken returns the first installed voice matching the SAPI attribute
// filter, caching its token for later Speak calls.
func (w *sapiWorker) firstToken(filter string) (Voice, bool) {
	collV, err := oleutil.CallMethod(w.voice, "GetVoices", filter, "")
	if err != nil {
		return Voice{}, false
	}
	coll := collV.ToIDispatch()
	defer coll.Release()

	countV, err := oleutil.GetProperty(coll, "Count")
	if err != nil || countV.Val == 0 {
		return Voice{}, false
	}
	itemV, err := oleutil.CallMethod(coll, "Item", 0)
	if err != nil {
		return Voice{}, false
	}
	return w.describe(itemV.ToIDispatch()), true
}

func (w *sapiWorker) voices() ([]Voice, error) {
	collV, err := oleutil.CallMethod(w.voice, "GetVoices", "", "")
	if err != nil {
		return nil, fmt.Errorf("%w: GetVoices: %v", ErrUnavailable, err)
	}
	coll := collV.ToIDispatch()
	defer coll.Release()

	countV, err := oleutil.GetProperty(coll, "Count")
	if err != nil {
		return nil, fmt.Errorf("%w: voice count: %v", ErrUnavailable, err)
	}

	out := make([]Voice, 0, countV.Val)
	for i := 0; i < int(countV.Val); i++ {
		itemV, err := oleutil.CallMethod(coll, "Item", i)
		if err != nil {
			continue
		}
		out = append(out, w.describe(itemV.ToIDispatch()))
	}
	return out, nil
}

// describe reads a voice token's identity and caches the token.
func (w *sapiWorker) describe(token *ole.IDispatch) Voice {
	v := Voice{Lang: lang.Unrecognized}

	if idV, err := oleutil.GetProperty(token, "Id"); err == nil {
		v.ID = idV.ToString()
	}
	if nameV, err := oleutil.CallMethod(token, "GetDescription"); err == nil {
		v.Name = nameV.ToString()
	}
	if langV, err := oleutil.CallMethod(token, "GetAttribute", "Language"); err == nil {
		v.Lang = tagFromLCID(langV.ToString())
	}

	if old, ok := w.tokens[v.ID]; ok {
		old.Release()
	}
	w.tokens[v.ID] = token
	return v
}

// tagFromLCID maps a voice token Language attribute (one or more hex LCIDs
// separated by semicolons) to a language tag.
func tagFromLCID(attr string) lang.Tag {
	lcid, _, _ := strings.Cut(attr, ";")
	switch strings.TrimSpace(lcid) {
	case "419":
		return lang.Russian
	case "409":
		return lang.English
	}
	return lang.Unrecognized
}

func (w *sapiWorker) speak(text string, v Voice, done func()) error {
	if token, ok := w.tokens[v.ID]; ok && v.ID != "" {
		if _, err := oleutil.PutPropertyRef(w.voice, "Voice", token); err != nil {
			w.log.Warn().Err(err).Str("voice", v.Name).Msg("could not switch voice")
		}
	}

	if _, err := oleutil.CallMethod(w.voice, "Speak", text, svsfAsyncPurge); err != nil {
		w.current.active = false
		w.current.done = nil
		return fmt.Errorf("%w: Speak: %v", ErrUnavailable, err)
	}

	w.current.active = true
	w.current.done = done
	return nil
}

// stop purges the speech queue. The empty purge-speak is SAPI's interrupt
// idiom; anything queued dies with it.
func (w *sapiWorker) stop() error {
	w.current.active = false
	w.current.done = nil

	if _, err := oleutil.CallMethod(w.voice, "Speak", "", svsfAsyncPurge); err != nil {
		return fmt.Errorf("%w: purge: %v", ErrUnavailable, err)
	}
	// Bounded confirm that audio actually went silent.
	if _, err := oleutil.CallMethod(w.voice, "WaitUntilDone", 100); err != nil {
		w.log.Debug().Err(err).Msg("WaitUntilDone after purge failed")
	}
	return nil
}

// pollCompletion fires the completion callback once the engine reports it
// has finished everything queued. The callback runs on its own goroutine,
// never on the COM thread.
func (w *sapiWorker) pollCompletion() {
	if !w.current.active {
		return
	}

	statusV, err := oleutil.GetProperty(w.voice, "Status")
	if err != nil {
		w.log.Warn().Err(err).Msg("SAPI status poll failed")
		return
	}
	status := statusV.ToIDispatch()
	stateV, err := oleutil.GetProperty(status, "RunningState")
	status.Release()
	if err != nil || stateV.Val != srseDone {
		return
	}

	done := w.current.done
	w.current.active = false
	w.current.done = nil
	go done()
}
