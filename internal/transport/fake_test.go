package transport

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mil-ad/streampad/internal/foreground"
)

type fakeEnv struct {
	adapter *fakeAdapter
	err     error
}

func (e *fakeEnv) BluetoothAdapter() (Adapter, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.adapter == nil {
		return nil, ErrNoAdapter
	}
	return e.adapter, nil
}

type fakeAdapter struct {
	mu        sync.Mutex
	listeners []ProfileListener
	closed    []HidDevice
	openErr   error
}

func (a *fakeAdapter) OpenHidDevice(l ProfileListener) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
	return a.openErr
}

func (a *fakeAdapter) CloseHidDevice(dev HidDevice) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = append(a.closed, dev)
}

func (a *fakeAdapter) opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *fakeAdapter) listener(i int) ProfileListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listeners[i]
}

func (a *fakeAdapter) closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.closed)
}

var errWrite = errors.New("write failed")

type sentReport struct {
	peer   Peer
	report []byte
	at     time.Time
}

type fakeDevice struct {
	mu          sync.Mutex
	cb          HidCallback
	registerErr error
	registers   int
	unregisters int
	failWrites  int
	reports     []sentReport
}

func (d *fakeDevice) RegisterApp(_ AppSettings, cb HidCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers++
	if d.registerErr != nil {
		return d.registerErr
	}
	d.cb = cb
	return nil
}

func (d *fakeDevice) UnregisterApp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unregisters++
	return nil
}

func (d *fakeDevice) SendReport(peer Peer, _ byte, report []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrites > 0 {
		d.failWrites--
		return errWrite
	}
	d.reports = append(d.reports, sentReport{peer: peer, report: append([]byte(nil), report...), at: time.Now()})
	return nil
}

func (d *fakeDevice) callback() HidCallback {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

func (d *fakeDevice) sent() []sentReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentReport(nil), d.reports...)
}

func (d *fakeDevice) counts() (registers, unregisters int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registers, d.unregisters
}

// manualClock fires timers only when Advance moves past their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
	armed  int
}

type manualTimer struct {
	c       *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) foreground.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	c.armed++
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) armedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// sleepRecorder replaces time.Sleep. When gate is non-nil every sleep waits
// for a value on it.
type sleepRecorder struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	gate    chan struct{}
	entered chan time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- d
	}
	if gate != nil {
		<-gate
	}
}

// hold makes subsequent sleeps block until the returned gate is closed.
func (s *sleepRecorder) hold() (gate chan struct{}, entered chan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan time.Duration, 8)
	return s.gate, s.entered
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
