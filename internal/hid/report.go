// Package hid holds the boot keyboard wire format shared by every transport:
// the 8-byte input report, the report descriptor, modifier bits and usage ids.
package hid

import "fmt"

// ReportSize is the size of a boot keyboard input report in bytes.
const ReportSize = 8

// Report is a boot keyboard input report:
// [modifiers, reserved, key1, key2, key3, key4, key5, key6].
type Report [ReportSize]byte

// KeyEvent is a single shortcut to type: a modifier bitmask and one usage id.
type KeyEvent struct {
	Modifier uint8 `json:"modifier"`
	KeyCode  uint8 `json:"keyCode"`
}

func (e KeyEvent) String() string {
	return fmt.Sprintf("m=0x%02x k=0x%02x", e.Modifier, e.KeyCode)
}

// Press returns the key-down report for a single key plus modifiers.
func Press(modifier, keyCode uint8) Report {
	return Report{modifier, 0, keyCode}
}

// Release returns the all-keys-up report.
func Release() Report {
	return Report{}
}

// IsRelease reports whether r releases every key.
func (r Report) IsRelease() bool {
	return r == Report{}
}
