package transport

import (
	"log/slog"

	"github.com/mil-ad/streampad/internal/hid"
)

// NullBackend accepts everything and sends nothing. It is the controller's
// resting backend and the "demo" connection mode.
type NullBackend struct {
	log     *slog.Logger
	ready   *Signal
	observe func(hid.KeyEvent)
}

// NewNullBackend returns a backend that is always ready. observe, if set, is
// called for each key press.
func NewNullBackend(log *slog.Logger, observe func(hid.KeyEvent)) *NullBackend {
	if log == nil {
		log = slog.Default()
	}
	return &NullBackend{log: log, ready: NewSignal(true), observe: observe}
}

func (n *NullBackend) Name() string { return "null" }
func (n *NullBackend) Supported(Environment) bool { return true }
func (n *NullBackend) Start(Environment) {}
func (n *NullBackend) Stop(Environment) {}
func (n *NullBackend) Ready() *Signal { return n.ready }

func (n *NullBackend) SendKeyPress(modifier, keyCode uint8) {
	ev := hid.KeyEvent{Modifier: modifier, KeyCode: keyCode}
	n.log.Debug("key press", "event", ev.String())
	if n.observe != nil {
		n.observe(ev)
	}
}
