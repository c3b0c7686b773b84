package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getlantern/systray"
	"github.com/mattn/go-isatty"

	"github.com/ArtyMcLabin/SendToTTS/internal/app"
	"github.com/ArtyMcLabin/SendToTTS/internal/clipboard"
	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/hotkey"
	"github.com/ArtyMcLabin/SendToTTS/internal/logging"
	"github.com/ArtyMcLabin/SendToTTS/internal/notify"
	"github.com/ArtyMcLabin/SendToTTS/internal/speech"
	"github.com/ArtyMcLabin/SendToTTS/internal/synth"
	"github.com/ArtyMcLabin/SendToTTS/internal/tray"
	"github.com/ArtyMcLabin/SendToTTS/internal/watchdog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

const (
	registerAttempts   = 3
	registerRetryDelay = 500 * time.Millisecond
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// Last line of defense: a fault nothing else caught still gets logged
	// before the process dies.
	defer func() {
		if r := recover(); r != nil {
			log.Fatal().Interface("panic", r).Msg("Fatal fault")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := notify.New(cfg.Notifications)

	// Initialize the synthesis engine
	engine, err := synth.New(cfg.Speech, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize speech synthesis")
	}

	if voices, err := engine.Voices(); err != nil {
		log.Warn().Err(err).Msg("Could not list voices")
	} else {
		for _, v := range voices {
			log.Info().Str("voice", v.Name).Str("lang", string(v.Lang)).Msg("Voice available")
		}
	}

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, cfg, notifier, Version, Commit) // App reference set below

	// The session owns the engine from here on; it reports state changes
	// straight to the tray.
	session := speech.New(speech.Config{
		Engine: engine,
		Logger: log,
		OnState: func(st speech.State) {
			switch st {
			case speech.Speaking:
				trayUI.SetSpeaking()
			case speech.Idle:
				trayUI.SetIdle()
			}
		},
	})

	source := clipboard.New(log)

	// The registrar and the watchdog are built before the app exists, so
	// both reach it through late-bound indirection.
	var application *app.App
	registrar := hotkey.New(func(action hotkey.Action) {
		application.OnHotkey(action)
	}, log)
	defer registrar.Close()

	bindings := hotkey.Bindings(cfg)

	wd := watchdog.New(watchdog.Config{
		Registrar:        registrar,
		Bindings:         bindings,
		FailureThreshold: cfg.Watchdog.FailureThreshold,
		Logger:           log,
		Alerter:          notifier,
		Liveness: watchdog.LivenessFunc(func() uint64 {
			return application.ProcessedEvents()
		}),
	})

	application = app.New(app.Config{
		Session:   session,
		Source:    source,
		Registrar: registrar,
		Watchdog:  wd,
		Interval:  time.Duration(cfg.Watchdog.IntervalSeconds) * time.Second,
		NewEngine: func() (synth.Engine, error) {
			return synth.New(cfg.Speech, log)
		},
		Notifier:      notifier,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	// Register global hotkeys. Failures are not fatal: the tray and the
	// console fallback still work, and the watchdog keeps retrying.
	var regErr error
	for attempt := 1; ; attempt++ {
		regErr = registrar.RegisterAll(bindings)
		if regErr == nil || attempt == registerAttempts {
			break
		}
		log.Warn().Err(regErr).Int("attempt", attempt).Msg("Hotkey registration incomplete, retrying")
		time.Sleep(registerRetryDelay)
	}
	if regErr != nil {
		log.Warn().Err(regErr).Msg("Some hotkeys unavailable; tray menu and watchdog repair still active")
	}

	log.Info().Str("version", Version).Msg("SendToTTS starting...")

	// Run the event loop off the main thread; the tray needs the main one.
	go func() {
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Event loop error")
		}
	}()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		application.Shutdown()
		systray.Quit()
	}()

	// Console fallback from the original tool: pressing Enter in the
	// terminal reads the clipboard even when every hotkey is broken.
	if isatty.IsTerminal(os.Stdin.Fd()) {
		log.Info().Msg("Console fallback active: press Enter to read clipboard")
		go consoleFallback(application)
	}

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}

	// Tray exited; make sure teardown ran (idempotent).
	application.Shutdown()
}

func consoleFallback(application *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		application.TriggerAction(hotkey.ActionReadOrInterrupt)
	}
}
