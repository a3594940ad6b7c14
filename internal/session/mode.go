package session

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionMode selects the transport backend.
type ConnectionMode string

const (
	ModeBluetooth ConnectionMode = "bluetooth"
	// ModeUSB is the USB HID gadget. It is never supported.
	ModeUSB ConnectionMode = "usb"
	// ModeDemo sends nothing; key presses are only logged.
	ModeDemo ConnectionMode = "demo"
)

// DefaultMode is used when nothing has been persisted yet.
const DefaultMode = ModeBluetooth

// Modes lists every known mode.
var Modes = []ConnectionMode{ModeBluetooth, ModeUSB, ModeDemo}

// ErrUnknownMode is returned by ParseMode and SwitchTo for unknown names.
var ErrUnknownMode = errors.New("unknown connection mode")

// ParseMode parses a mode name, ignoring case and surrounding space.
func ParseMode(s string) (ConnectionMode, error) {
	m := ConnectionMode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m ConnectionMode) String() string { return string(m) }

// Label is the user-facing name of the mode.
func (m ConnectionMode) Label() string {
	switch m {
	case ModeBluetooth:
		return "Bluetooth"
	case ModeUSB:
		return "USB"
	case ModeDemo:
		return "Demo"
	}
	return string(m)
}
