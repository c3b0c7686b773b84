package tray

import (
	"context"
	"fmt"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/ArtyMcLabin/SendToTTS/internal/app"
	"github.com/ArtyMcLabin/SendToTTS/internal/config"
	"github.com/ArtyMcLabin/SendToTTS/internal/hotkey"
	"github.com/ArtyMcLabin/SendToTTS/internal/logging"
	"github.com/ArtyMcLabin/SendToTTS/internal/notify"
)

type UI struct {
	app      *app.App
	cfg      *config.Config
	notifier *notify.Notifier
	version  string
	commit   string
	log      zerolog.Logger

	// Menu items
	mRead   *systray.MenuItem
	mStop   *systray.MenuItem
	mNotify *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetSpeaking() {
	u.updateStatus("speaking")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

func New(application *app.App, cfg *config.Config, notifier *notify.Notifier, version, commit string) *UI {
	log := logging.New()
	return &UI{
		app:      application,
		cfg:      cfg,
		notifier: notifier,
		version:  version,
		commit:   commit,
		log:      log,
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Clipboard to speech")

	// Build menu
	u.mRead = systray.AddMenuItem("Read Clipboard", fmt.Sprintf("Speak the clipboard (%s)", u.cfg.ReadHotkey.String()))
	u.mStop = systray.AddMenuItem("Stop Speaking", fmt.Sprintf("Silence speech (%s)", u.cfg.StopHotkey.String()))
	systray.AddSeparator()

	u.mNotify = systray.AddMenuItemCheckbox("Notifications", "Show desktop notifications", u.cfg.Notifications)

	systray.AddSeparator()
	mAbout := systray.AddMenuItem("About", "About SendToTTS")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mAbout, mQuit)
}

func (u *UI) handleEvents(mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRead.ClickedCh:
			u.app.TriggerAction(hotkey.ActionReadOrInterrupt)
		case <-u.mStop.ClickedCh:
			u.app.TriggerAction(hotkey.ActionForceStop)
		case <-u.mNotify.ClickedCh:
			u.toggleNotifications()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			u.app.Shutdown()
			systray.Quit()
			return
		}
	}
}

func (u *UI) toggleNotifications() {
	u.cfg.Notifications = !u.cfg.Notifications
	u.notifier.SetEnabled(u.cfg.Notifications)
	if u.cfg.Notifications {
		u.mNotify.Check()
		u.log.Info().Msg("Enabled notifications")
	} else {
		u.mNotify.Uncheck()
		u.log.Info().Msg("Disabled notifications")
	}
	if err := u.cfg.Save(); err != nil {
		u.log.Warn().Err(err).Msg("Failed to save config")
	}
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("SendToTTS %s (%s)\nClipboard to speech\n", u.version, u.commit)
}

func (u *UI) onExit() {
	// Cleanup
}

// updateStatus sets the tray title with speaker emoji and status indicator
func (u *UI) updateStatus(status string) {
	emoji := emojiForStatus(status)
	systray.SetTitle(fmt.Sprintf("🔊 %s", emoji))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "speaking":
		return "🔴" // Red - speaking
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
