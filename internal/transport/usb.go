package transport

import (
	"log/slog"
	"os"
)

// gadgetRoots are where configfs exposes USB gadgets.
var gadgetRoots = []string{
	"/config/usb_gadget",
	"/sys/kernel/config/usb_gadget",
}

// USBBackend is the USB HID gadget variant. Driving /dev/hidg0 needs a
// configfs gadget set up as root, which this daemon does not do, so the
// backend never reports itself supported.
type USBBackend struct {
	log   *slog.Logger
	ready *Signal
}

func NewUSBBackend(log *slog.Logger) *USBBackend {
	if log == nil {
		log = slog.Default()
	}
	return &USBBackend{log: log, ready: NewSignal(false)}
}

func (u *USBBackend) Name() string { return "usb" }
func (u *USBBackend) Ready() *Signal { return u.ready }

func (u *USBBackend) Supported(Environment) bool {
	u.log.Debug("usb gadget backend disabled", "configfs", GadgetConfigFSPresent())
	return false
}

func (u *USBBackend) Start(Environment) {}
func (u *USBBackend) Stop(Environment) {}

func (u *USBBackend) SendKeyPress(modifier, keyCode uint8) {
	u.log.Warn("usb gadget backend disabled, dropping key", "modifier", modifier, "keyCode", keyCode)
}

// GadgetConfigFSPresent reports whether a configfs usb_gadget tree exists.
// It is informational only.
func GadgetConfigFSPresent() bool {
	for _, p := range gadgetRoots {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
