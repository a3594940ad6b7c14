package hid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Modifier bits of report byte 0.
const (
	ModNone       = 0
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// Keyboard/Keypad page usage ids.
const (
	KeyA          = 0x04
	KeyC          = 0x06
	KeyV          = 0x19
	KeyX          = 0x1B
	KeyY          = 0x1C
	KeyZ          = 0x1D
	Key1          = 0x1E
	Key0          = 0x27
	KeyEnter      = 0x28
	KeyEsc        = 0x29
	KeyBackspace  = 0x2A
	KeyTab        = 0x2B
	KeySpace      = 0x2C
	KeyF1         = 0x3A
	KeyF2         = 0x3B
	KeyF12        = 0x45
	KeyPrintScr   = 0x46
	KeyScrollLock = 0x47
	KeyPause      = 0x48
	KeyInsert     = 0x49
	KeyHome       = 0x4A
	KeyPageUp     = 0x4B
	KeyDelete     = 0x4C
	KeyEnd        = 0x4D
	KeyPageDown   = 0x4E
	KeyRight      = 0x4F
	KeyLeft       = 0x50
	KeyDown       = 0x51
	KeyUp         = 0x52
)

// ErrBadChord is returned by ParseChord for unknown or malformed chords.
var ErrBadChord = errors.New("invalid key chord")

var modifierNames = map[string]uint8{
	"ctrl":    ModLeftCtrl,
	"control": ModLeftCtrl,
	"shift":   ModLeftShift,
	"alt":     ModLeftAlt,
	"option":  ModLeftAlt,
	"win":     ModLeftGUI,
	"gui":     ModLeftGUI,
	"meta":    ModLeftGUI,
	"cmd":     ModLeftGUI,
	"super":   ModLeftGUI,
	"rctrl":   ModRightCtrl,
	"rshift":  ModRightShift,
	"ralt":    ModRightAlt,
	"altgr":   ModRightAlt,
	"rgui":    ModRightGUI,
	"rwin":    ModRightGUI,
}

var keyNames = map[string]uint8{
	"enter":       KeyEnter,
	"return":      KeyEnter,
	"esc":         KeyEsc,
	"escape":      KeyEsc,
	"backspace":   KeyBackspace,
	"tab":         KeyTab,
	"space":       KeySpace,
	"minus":       0x2D,
	"equal":       0x2E,
	"leftbrace":   0x2F,
	"rightbrace":  0x30,
	"backslash":   0x31,
	"semicolon":   0x33,
	"apostrophe":  0x34,
	"grave":       0x35,
	"comma":       0x36,
	"dot":         0x37,
	"slash":       0x38,
	"capslock":    0x39,
	"printscreen": KeyPrintScr,
	"scrolllock":  KeyScrollLock,
	"pause":       KeyPause,
	"insert":      KeyInsert,
	"home":        KeyHome,
	"pageup":      KeyPageUp,
	"delete":      KeyDelete,
	"del":         KeyDelete,
	"end":         KeyEnd,
	"pagedown":    KeyPageDown,
	"right":       KeyRight,
	"left":        KeyLeft,
	"down":        KeyDown,
	"up":          KeyUp,
}

// KeyCode resolves a single key name ("c", "f5", "enter", "0x47") to its
// usage id.
func KeyCode(name string) (uint8, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) == 1 {
		switch c := name[0]; {
		case c >= 'a' && c <= 'z':
			return KeyA + (c - 'a'), true
		case c == '0':
			return Key0, true
		case c >= '1' && c <= '9':
			return Key1 + (c - '1'), true
		}
	}
	if code, ok := keyNames[name]; ok {
		return code, true
	}
	if strings.HasPrefix(name, "f") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 12 {
			return KeyF1 + uint8(n-1), true
		}
	}
	if strings.HasPrefix(name, "0x") {
		if n, err := strconv.ParseUint(name[2:], 16, 8); err == nil {
			return uint8(n), true
		}
	}
	return 0, false
}

// ParseChord parses chords such as "ctrl+c", "win+v" or "shift+f10".
// A chord made only of modifiers yields KeyCode 0.
func ParseChord(s string) (KeyEvent, error) {
	var ev KeyEvent
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return KeyEvent{}, fmt.Errorf("%w: %q", ErrBadChord, s)
		}
		if m, ok := modifierNames[p]; ok {
			ev.Modifier |= m
			continue
		}
		if i != len(parts)-1 {
			return KeyEvent{}, fmt.Errorf("%w: %q: key %q must come last", ErrBadChord, s, p)
		}
		code, ok := KeyCode(p)
		if !ok {
			return KeyEvent{}, fmt.Errorf("%w: unknown key %q", ErrBadChord, p)
		}
		ev.KeyCode = code
	}
	return ev, nil
}
