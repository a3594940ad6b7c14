// Package transport implements the key-report sinks a session can switch
// between: the Bluetooth HID-Device backend, the no-op backend and the
// disabled USB gadget backend.
package transport

import "context"

// Backend is one way of delivering key presses to a host.
type Backend interface {
	Name() string
	// Supported reports whether the backend can run in env.
	Supported(env Environment) bool
	// Start and Stop never block on the platform.
	Start(env Environment)
	Stop(env Environment)
	// SendKeyPress queues one press/release and returns immediately.
	SendKeyPress(modifier, keyCode uint8)
	// Ready is true while key presses can reach a host.
	Ready() *Signal
}

// Waiter is implemented by backends whose Stop leaves teardown running in
// the background.
type Waiter interface {
	// Wait blocks until every stopped session has finished its teardown or
	// ctx is done.
	Wait(ctx context.Context) error
}

var (
	_ Waiter = (*BluetoothBackend)(nil)

	_ Backend = (*BluetoothBackend)(nil)
	_ Backend = (*NullBackend)(nil)
	_ Backend = (*USBBackend)(nil)
)
