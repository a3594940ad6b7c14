// Package input drives key presses that outlive a single request: held keys
// that repeat and the periodic keep-alive tap.
package input

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mil-ad/streampad/internal/hid"
)

// Default repeat timing for a held key.
const (
	DefaultRepeatDelay    = time.Second
	DefaultRepeatInterval = 100 * time.Millisecond
)

// Sender is whatever accepts key presses; the session controller in practice.
type Sender interface {
	SendKeyPress(modifier, keyCode uint8)
}

// Repeater sends a held key once after a delay and then at a fixed interval
// until stopped. At most one key repeats at a time.
type Repeater struct {
	sender   Sender
	delay    time.Duration
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	active hid.KeyEvent
}

// NewRepeater returns an idle repeater. Zero durations use the defaults.
func NewRepeater(s Sender, delay, interval time.Duration, log *slog.Logger) *Repeater {
	if delay <= 0 {
		delay = DefaultRepeatDelay
	}
	if interval <= 0 {
		interval = DefaultRepeatInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Repeater{sender: s, delay: delay, interval: interval, log: log}
}

// Start begins repeating ev, replacing any key that is already repeating.
// The first press is the caller's; Start only produces the repeats.
func (r *Repeater) Start(ev hid.KeyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	r.stop, r.done, r.active = stop, done, ev
	r.log.Debug("repeat start", "event", ev.String())

	go func() {
		defer close(done)
		t := time.NewTimer(r.delay)
		defer t.Stop()
		select {
		case <-stop:
			return
		case <-t.C:
		}
		r.sender.SendKeyPress(ev.Modifier, ev.KeyCode)

		tick := time.NewTicker(r.interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				r.sender.SendKeyPress(ev.Modifier, ev.KeyCode)
			}
		}
	}()
}

// Stop ends the current repeat, if any, and waits for its goroutine.
func (r *Repeater) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Repeater) stopLocked() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
	r.log.Debug("repeat stop", "event", r.active.String())
	r.stop, r.done, r.active = nil, nil, hid.KeyEvent{}
}

// Active returns the repeating key, if any.
func (r *Repeater) Active() (hid.KeyEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.stop != nil
}
