//go:build linux

package hotkey

import (
	xhotkey "golang.design/x/hotkey"

	"whisperpad/internal/domain"
)

func platformModifiers(mask uint32) []xhotkey.Modifier {
	var mods []xhotkey.Modifier
	if mask&domain.ModCtrl != 0 {
		mods = append(mods, xhotkey.ModCtrl)
	}
	if mask&domain.ModShift != 0 {
		mods = append(mods, xhotkey.ModShift)
	}
	if mask&domain.ModAlt != 0 {
		mods = append(mods, xhotkey.Mod1)
	}
	if mask&domain.ModCmd != 0 {
		mods = append(mods, xhotkey.Mod4)
	}
	return mods
}
