//go:build windows

package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// modifierMap maps config.Modifier -> hotkey.Modifier on Windows.
var modifierMap = map[config.Modifier]hotkey.Modifier{
	config.ModCtrl:  hotkey.ModCtrl,
	config.ModShift: hotkey.ModShift,
	config.ModAlt:   hotkey.ModAlt,
	config.ModSuper: hotkey.ModWin,
}
