// Package session owns the active transport backend and switches between
// backends without leaking a running one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mil-ad/streampad/internal/transport"
)

// ErrUnsupported matches every *UnsupportedError.
var ErrUnsupported = errors.New("transport not supported")

// UnsupportedError is returned by SwitchTo when the requested backend cannot
// run here. Message is suitable for showing to the user.
type UnsupportedError struct {
	Mode    ConnectionMode
	Message string
}

func (e *UnsupportedError) Error() string { return e.Message }

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

func unsupported(m ConnectionMode) *UnsupportedError {
	msg := fmt.Sprintf("%s is not supported on this device", m.Label())
	switch m {
	case ModeBluetooth:
		msg = "Bluetooth is not available on this device"
	case ModeUSB:
		msg = "USB HID mode is disabled"
	}
	return &UnsupportedError{Mode: m, Message: msg}
}

// Controller holds exactly one active backend. While idle the active backend
// is the null backend and readiness is false.
type Controller struct {
	env      transport.Environment
	backends map[ConnectionMode]transport.Backend
	null     transport.Backend
	log      *slog.Logger
	ready    *transport.Signal

	mu      sync.Mutex
	current transport.Backend
	mode    ConnectionMode // "" while idle
	gen     uint64
	unsub   func()
}

// NewController returns an idle controller. null is the resting backend; a
// fresh NullBackend is used when it is nil.
func NewController(env transport.Environment, backends map[ConnectionMode]transport.Backend, null transport.Backend, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if null == nil {
		null = transport.NewNullBackend(log, nil)
	}
	return &Controller{
		env:      env,
		backends: backends,
		null:     null,
		log:      log,
		ready:    transport.NewSignal(false),
		current:  null,
	}
}

// SwitchTo makes the backend for m the active one. An unsupported mode
// returns an *UnsupportedError and leaves the active backend alone.
// Switching to the active mode does nothing.
func (c *Controller) SwitchTo(m ConnectionMode) error {
	target, ok := c.backends[m]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
	if !target.Supported(c.env) {
		c.log.Warn("transport not supported", "mode", m, "backend", target.Name())
		return unsupported(m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == m && c.current == target {
		return nil
	}
	c.log.Info("switching transport", "from", c.current.Name(), "to", target.Name(), "mode", m)
	c.current.Stop(c.env)
	c.current = target
	c.mode = m
	target.Start(c.env)
	c.followLocked(target)
	return nil
}

// SendKeyPress hands the key to the active backend.
func (c *Controller) SendKeyPress(modifier, keyCode uint8) {
	c.mu.Lock()
	b := c.current
	c.mu.Unlock()
	b.SendKeyPress(modifier, keyCode)
}

// Stop stops the active backend and goes idle. It is safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != c.null {
		c.log.Info("stopping transport", "backend", c.current.Name())
	}
	c.current.Stop(c.env)
	c.current = c.null
	c.mode = ""
	c.gen++
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.ready.Set(false)
}

// Shutdown stops the active backend like Stop and then waits, bounded by
// ctx, for every backend that tears down in the background.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()
	var errs []error
	for m, b := range c.backends {
		w, ok := b.(transport.Waiter)
		if !ok {
			continue
		}
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
		}
	}
	return errors.Join(errs...)
}

// Ready is true while the active backend can reach a host.
func (c *Controller) Ready() *transport.Signal { return c.ready }

// Mode returns the active mode, or "" while idle.
func (c *Controller) Mode() ConnectionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Backend returns the active backend.
func (c *Controller) Backend() transport.Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// followLocked mirrors b's readiness into the controller until the next
// switch or stop.
func (c *Controller) followLocked(b transport.Backend) {
	c.gen++
	gen := c.gen
	if c.unsub != nil {
		c.unsub()
	}
	ch, cancel := b.Ready().Subscribe()
	c.unsub = cancel
	c.ready.Set(b.Ready().Get())

	go func() {
		for v := range ch {
			c.mu.Lock()
			if c.gen == gen {
				c.ready.Set(v)
			}
			c.mu.Unlock()
		}
	}()
}
