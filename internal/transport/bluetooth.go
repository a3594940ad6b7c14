package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mil-ad/streampad/internal/foreground"
	"github.com/mil-ad/streampad/internal/hid"
)

// Report pacing. A host needs to see the key down before the key up, and
// back-to-back reports without a gap get coalesced or dropped.
const (
	SettleDelay   = 100 * time.Millisecond
	ThrottleDelay = 50 * time.Millisecond
)

const (
	keyQueueSize   = 64
	eventQueueSize = 16
)

// SessionState is the Bluetooth HID session state.
type SessionState int32

const (
	SessionIdle SessionState = iota
	SessionProxyAcquired
	SessionRegistered
	SessionConnected // registered with a connected peer
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionProxyAcquired:
		return "proxy-acquired"
	case SessionRegistered:
		return "registered"
	case SessionConnected:
		return "connected"
	}
	return "unknown"
}

// DefaultAppSettings is the keyboard application registered with the host.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Name:        "StreamPad",
		Description: "Bluetooth Shortcut Pad",
		Provider:    "StreamPad",
		Subclass:    hid.SubclassKeyboard,
		Descriptor:  hid.KeyboardDescriptor,
		QoS: QoS{
			ServiceType:    ServiceBestEffort,
			TokenRate:      800,
			TokenBucket:    9,
			PeakBandwidth:  0,
			Latency:        11250,
			DelayVariation: QoSMax,
		},
	}
}

// BluetoothBackend sends key presses through the platform HID-Device
// profile. Each Start opens a session that owns the profile proxy, the
// registration and the peer until the matching Stop.
type BluetoothBackend struct {
	app    AppSettings
	policy *foreground.Policy
	log    *slog.Logger
	ready  *Signal
	sleep  func(time.Duration)

	mu       sync.Mutex
	sess     *btSession
	lastDone <-chan struct{}
}

// NewBluetoothBackend returns a stopped backend. policy may be shared with
// nothing else; the backend drives it.
func NewBluetoothBackend(app AppSettings, policy *foreground.Policy, log *slog.Logger) *BluetoothBackend {
	if log == nil {
		log = slog.Default()
	}
	if policy == nil {
		policy = foreground.NewPolicy(nil, foreground.WithLogger(log))
	}
	return &BluetoothBackend{
		app:    app,
		policy: policy,
		log:    log,
		ready:  NewSignal(false),
		sleep:  time.Sleep,
	}
}

func (b *BluetoothBackend) Name() string { return "bluetooth" }
func (b *BluetoothBackend) Ready() *Signal { return b.ready }

// Supported reports whether env has a controller. It does not need to be
// powered.
func (b *BluetoothBackend) Supported(env Environment) bool {
	if env == nil {
		return false
	}
	a, err := env.BluetoothAdapter()
	return err == nil && a != nil
}

// Start opens a session. It is a no-op if one is already running.
func (b *BluetoothBackend) Start(env Environment) {
	adapter, err := env.BluetoothAdapter()
	if err != nil {
		b.log.Warn("bluetooth start failed", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess != nil {
		return
	}
	s := newBTSession(b, adapter, b.lastDone)
	b.sess = s
	go s.run()
}

// Stop ends the current session. Teardown happens on the session goroutine
// after any in-flight press has been released; Stop itself does not wait.
func (b *BluetoothBackend) Stop(Environment) {
	b.mu.Lock()
	s := b.sess
	b.sess = nil
	if s != nil {
		b.lastDone = s.done
		s.cancel()
	}
	b.mu.Unlock()

	b.ready.Set(false)
	b.policy.Stop()
}

// Wait blocks until the last stopped session has released its key and
// unregistered the application. Sessions finish in the order they were
// started, so this covers every earlier one too.
func (b *BluetoothBackend) Wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.lastDone
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendKeyPress queues a press/release. It drops the event unless the
// application is registered and a host is connected.
func (b *BluetoothBackend) SendKeyPress(modifier, keyCode uint8) {
	ev := hid.KeyEvent{Modifier: modifier, KeyCode: keyCode}
	s := b.current()
	if s == nil {
		b.log.Warn("cannot queue key: backend stopped", "event", ev.String())
		return
	}
	if !s.registered.Load() || s.peer.Load() == nil {
		b.log.Warn("cannot queue key: not connected", "event", ev.String())
		return
	}
	select {
	case s.keys <- ev:
	default:
		b.log.Warn("key queue full, dropping", "event", ev.String())
	}
}

// State returns the state of the running session, or SessionIdle.
func (b *BluetoothBackend) State() SessionState {
	if s := b.current(); s != nil {
		return SessionState(s.state.Load())
	}
	return SessionIdle
}

// Peer returns the connected host, if any.
func (b *BluetoothBackend) Peer() (Peer, bool) {
	if s := b.current(); s != nil {
		if p := s.peer.Load(); p != nil {
			return *p, true
		}
	}
	return Peer{}, false
}

// Elevated reports the foreground policy state.
func (b *BluetoothBackend) Elevated() bool {
	return b.policy.Elevated()
}

func (b *BluetoothBackend) current() *btSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// Platform callbacks are turned into these and handled on the session
// goroutine.
type (
	evProxyConnected    struct{ dev HidDevice }
	evProxyDisconnected struct{}
	evAppStatus         struct {
		plugged    *Peer
		registered bool
	}
	evConnState struct {
		peer  Peer
		state ConnectionState
	}
)

type btSession struct {
	b       *BluetoothBackend
	adapter Adapter
	prev    <-chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	events chan any
	keys   chan hid.KeyEvent

	// Written only by run; read anywhere.
	state      atomic.Int32
	registered atomic.Bool
	peer       atomic.Pointer[Peer]

	proxy HidDevice // run goroutine only

	closeMu sync.RWMutex
	closed  bool // set by teardown; no event is accepted afterwards
}

func newBTSession(b *BluetoothBackend, adapter Adapter, prev <-chan struct{}) *btSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &btSession{
		b:       b,
		adapter: adapter,
		prev:    prev,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		events:  make(chan any, eventQueueSize),
		keys:    make(chan hid.KeyEvent, keyQueueSize),
	}
}

func (s *btSession) run() {
	defer close(s.done)

	// A previous session may still be releasing its key or unregistering.
	if s.prev != nil {
		select {
		case <-s.prev:
		case <-s.ctx.Done():
			s.teardown()
			<-s.prev
			return
		}
	}

	if err := s.adapter.OpenHidDevice(s); err != nil {
		s.b.log.Warn("hid device profile unavailable", "error", err)
	}

	for {
		if s.ctx.Err() != nil {
			s.teardown()
			return
		}
		// Apply pending platform events before looking at keys so a drop
		// decision sees the latest peer.
		select {
		case ev := <-s.events:
			s.handle(ev)
			continue
		default:
		}
		select {
		case <-s.ctx.Done():
		case ev := <-s.events:
			s.handle(ev)
		case ev := <-s.keys:
			s.deliver(ev)
		}
	}
}

func (s *btSession) post(ev any) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// ProfileListener

func (s *btSession) ServiceConnected(dev HidDevice) {
	if !s.post(evProxyConnected{dev: dev}) {
		s.adapter.CloseHidDevice(dev)
	}
}

func (s *btSession) ServiceDisconnected() {
	s.post(evProxyDisconnected{})
}

// HidCallback

func (s *btSession) AppStatusChanged(plugged *Peer, registered bool) {
	s.post(evAppStatus{plugged: plugged, registered: registered})
}

func (s *btSession) ConnectionStateChanged(peer Peer, state ConnectionState) {
	s.post(evConnState{peer: peer, state: state})
}

func (s *btSession) handle(ev any) {
	log := s.b.log
	switch ev := ev.(type) {
	case evProxyConnected:
		if s.proxy != nil {
			s.adapter.CloseHidDevice(ev.dev)
			return
		}
		s.proxy = ev.dev
		s.sync()
		if err := s.proxy.RegisterApp(s.b.app, s); err != nil {
			// Not retried; a later switch starts a fresh session.
			log.Error("register hid application failed", "error", err)
		}

	case evProxyDisconnected:
		hadPeer := s.peer.Load() != nil
		s.proxy = nil
		s.registered.Store(false)
		s.peer.Store(nil)
		s.sync()
		log.Warn("hid device profile lost")
		if hadPeer {
			s.b.policy.ScheduleDemote()
		}

	case evAppStatus:
		log.Info("app status changed", "registered", ev.registered)
		s.registered.Store(ev.registered)
		if ev.registered && ev.plugged != nil {
			p := *ev.plugged
			s.peer.Store(&p)
		}
		if !ev.registered && s.peer.Swap(nil) != nil {
			s.b.policy.ScheduleDemote()
		}
		s.sync()

	case evConnState:
		switch ev.state {
		case PeerConnected:
			p := ev.peer
			if old := s.peer.Swap(&p); old != nil && old.Address != p.Address {
				log.Warn("replacing connected host", "old", old.Address, "new", p.Address)
			}
			log.Info("host connected", "address", p.Address, "name", p.Name)
			s.sync()
			s.b.policy.Elevate()
		case PeerDisconnected:
			if cur := s.peer.Load(); cur == nil || cur.Address != ev.peer.Address {
				log.Debug("ignoring disconnect of unknown host", "address", ev.peer.Address)
				return
			}
			s.peer.Store(nil)
			log.Info("host disconnected", "address", ev.peer.Address)
			s.sync()
			s.b.policy.ScheduleDemote()
		default:
			log.Debug("connection state changed", "address", ev.peer.Address, "state", ev.state)
		}
	}
}

// sync recomputes the session state from proxy, registration and peer and
// publishes readiness.
func (s *btSession) sync() {
	var st SessionState
	switch {
	case s.proxy == nil:
		st = SessionIdle
	case !s.registered.Load():
		st = SessionProxyAcquired
	case s.peer.Load() == nil:
		st = SessionRegistered
	default:
		st = SessionConnected
	}
	if SessionState(s.state.Swap(int32(st))) != st {
		s.b.log.Debug("session state", "state", st)
	}
	if s.b.current() == s {
		s.b.ready.Set(st == SessionConnected)
	}
}

// deliver writes one press, waits, writes the release and waits again. The
// waits are not cut short by Stop: a pressed key is always released.
func (s *btSession) deliver(ev hid.KeyEvent) {
	log := s.b.log
	peer := s.peer.Load()
	if s.proxy == nil || !s.registered.Load() || peer == nil {
		log.Warn("dropping key: not connected", "event", ev.String())
		return
	}

	s.b.policy.Elevate()
	defer s.b.policy.ScheduleDemote()

	press := hid.Press(ev.Modifier, ev.KeyCode)
	if err := s.proxy.SendReport(*peer, 0, press[:]); err != nil {
		log.Error("send press report failed", "event", ev.String(), "error", err)
		return
	}
	s.b.sleep(SettleDelay)

	release := hid.Release()
	if err := s.proxy.SendReport(*peer, 0, release[:]); err != nil {
		log.Error("send release report failed", "event", ev.String(), "error", err)
	}
	s.b.sleep(ThrottleDelay)
	log.Debug("sent key", "event", ev.String())
}

func (s *btSession) teardown() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	if n := len(s.keys); n > 0 {
		s.b.log.Info("discarding queued keys", "count", n)
	}
	for len(s.keys) > 0 {
		<-s.keys
	}
	// A proxy may have been handed over after the last loop iteration.
	for len(s.events) > 0 {
		if ev, ok := (<-s.events).(evProxyConnected); ok && s.proxy == nil {
			s.proxy = ev.dev
		} else if ok {
			s.adapter.CloseHidDevice(ev.dev)
		}
	}

	if s.proxy != nil {
		if s.registered.Load() {
			if err := s.proxy.UnregisterApp(); err != nil {
				s.b.log.Warn("unregister hid application failed", "error", err)
			}
		}
		s.adapter.CloseHidDevice(s.proxy)
		s.proxy = nil
	}
	s.registered.Store(false)
	s.peer.Store(nil)
	s.sync()
	s.b.policy.Stop()
}
