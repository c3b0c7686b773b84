package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
)

type Config struct {
	Speech        SpeechConfig   `json:"speech"`
	ReadHotkey    HotkeyConfig   `json:"read_hotkey"`
	StopHotkey    HotkeyConfig   `json:"stop_hotkey"`
	Watchdog      WatchdogConfig `json:"watchdog"`
	Notifications bool           `json:"notifications"`
	LogLevel      string         `json:"log_level"`
}

type SpeechConfig struct {
	Rate    int     `json:"rate"`     // -10..10, engine units
	Volume  float64 `json:"volume"`   // 0.0..1.0
	VoiceID string  `json:"voice_id"` // empty = pick by language
}

type WatchdogConfig struct {
	IntervalSeconds  int `json:"interval_seconds"`
	FailureThreshold int `json:"failure_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Speech: SpeechConfig{
			Rate:    0,
			Volume:  1.0,
			VoiceID: "",
		},
		ReadHotkey: HotkeyConfig{
			Modifiers: []Modifier{ModAlt},
			Key:       KeyQ,
		},
		StopHotkey: HotkeyConfig{
			Modifiers: []Modifier{ModAlt, ModShift},
			Key:       KeyQ,
		},
		Watchdog: WatchdogConfig{
			IntervalSeconds:  60,
			FailureThreshold: 3,
		},
		Notifications: true,
		LogLevel:      "info",
	}
}

// Load reads the config from disk or returns defaults. A missing file is
// written back so users have something to edit.
func Load() (*Config, error) {
	path := configPath()
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if saveErr := cfg.Save(); saveErr != nil {
			return cfg, saveErr
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := configPath()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "sendtotts", "config.json")
}
