//go:build darwin

package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// modifierMap maps config.Modifier -> hotkey.Modifier on macOS.
var modifierMap = map[config.Modifier]hotkey.Modifier{
	config.ModCtrl:  hotkey.ModCtrl,
	config.ModShift: hotkey.ModShift,
	config.ModAlt:   hotkey.ModOption,
	config.ModSuper: hotkey.ModCmd,
}
