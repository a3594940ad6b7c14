package input

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mil-ad/streampad/internal/hid"
)

// DefaultKeepAliveInterval is how often the keep-alive key is tapped.
const DefaultKeepAliveInterval = 5 * time.Minute

// KeepAlive taps Scroll Lock periodically so the host does not idle out the
// link or lock the screen.
type KeepAlive struct {
	sender Sender
	log    *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewKeepAlive(s Sender, interval time.Duration, log *slog.Logger) *KeepAlive {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &KeepAlive{sender: s, interval: interval, log: log}
}

// SetEnabled starts or stops the periodic tap. Enabling twice is a no-op.
func (k *KeepAlive) SetEnabled(on bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if on {
		k.startLocked()
	} else {
		k.stopLocked()
	}
}

// SetInterval changes the period, restarting the ticker if running.
func (k *KeepAlive) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultKeepAliveInterval
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if d == k.interval {
		return
	}
	k.interval = d
	if k.stop != nil {
		k.stopLocked()
		k.startLocked()
	}
}

// Enabled reports whether the tap is running.
func (k *KeepAlive) Enabled() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stop != nil
}

func (k *KeepAlive) startLocked() {
	if k.stop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	k.stop, k.done = stop, done
	interval := k.interval
	k.log.Info("keep-alive enabled", "interval", interval)

	go func() {
		defer close(done)
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				k.log.Debug("keep-alive tap")
				k.sender.SendKeyPress(hid.ModNone, hid.KeyScrollLock)
			}
		}
	}()
}

func (k *KeepAlive) stopLocked() {
	if k.stop == nil {
		return
	}
	close(k.stop)
	<-k.done
	k.stop, k.done = nil, nil
	k.log.Info("keep-alive disabled")
}
