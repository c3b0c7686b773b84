//go:build linux

package hotkey

import (
	"golang.design/x/hotkey"

	"github.com/ArtyMcLabin/SendToTTS/internal/config"
)

// modifierMap maps config.Modifier -> hotkey.Modifier on X11.
var modifierMap = map[config.Modifier]hotkey.Modifier{
	config.ModCtrl:  hotkey.ModCtrl,
	config.ModShift: hotkey.ModShift,
	config.ModAlt:   hotkey.Mod1, // Alt = Mod1 on X11
	config.ModSuper: hotkey.Mod4, // Super/Win = Mod4 on X11
}
