package bluez

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/streampad/internal/transport"
)

const (
	profilePath   = dbus.ObjectPath("/org/streampad/hid")
	dispatchQueue = 64
	packetSize    = 64
)

var (
	ErrClosed     = errors.New("hid device closed")
	ErrNoHost     = errors.New("host not connected")
	errRegistered = errors.New("hid application already registered")
)

// hostConn is the control and interrupt channel pair of one host. Only the
// interrupt channel carries reports; the host counts as connected once it
// is open.
type hostConn struct {
	peer transport.Peer
	ctrl int
	intr int
	up   bool
}

// HidDevice is the registered HID application on one adapter. Callbacks
// are delivered in order from a single goroutine.
type HidDevice struct {
	adapter *Adapter
	log     *slog.Logger

	calls     chan func()
	quit      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	closed     bool
	cb         transport.HidCallback
	registered bool
	ctrl       *l2capListener
	intr       *l2capListener
	hosts      map[string]*hostConn
}

var _ transport.HidDevice = (*HidDevice)(nil)

func newHidDevice(a *Adapter) *HidDevice {
	d := &HidDevice{
		adapter: a,
		log:     a.env.log,
		calls:   make(chan func(), dispatchQueue),
		quit:    make(chan struct{}),
		hosts:   make(map[string]*hostConn),
	}
	go d.dispatch()
	return d
}

func (d *HidDevice) dispatch() {
	for {
		select {
		case <-d.quit:
			return
		case f := <-d.calls:
			f()
		}
	}
}

// emit must not be called with d.mu held.
func (d *HidDevice) emit(f func()) {
	select {
	case d.calls <- f:
	case <-d.quit:
	}
}

// RegisterApp publishes the SDP record and starts listening on the HID PSMs.
func (d *HidDevice) RegisterApp(app transport.AppSettings, cb transport.HidCallback) error {
	record, err := sdpRecord(app)
	if err != nil {
		return err
	}
	env := d.adapter.env

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.registered {
		d.mu.Unlock()
		return errRegistered
	}
	if err := env.conn.Export(&profileObject{dev: d}, profilePath, profileIface); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("export profile object: %w", err)
	}
	opts := map[string]dbus.Variant{
		"ServiceRecord":         dbus.MakeVariant(record),
		"Role":                  dbus.MakeVariant("server"),
		"RequireAuthentication": dbus.MakeVariant(true),
		"RequireAuthorization":  dbus.MakeVariant(false),
	}
	if err := env.registerProfile(profilePath, HIDUUID, opts); err != nil {
		env.conn.Export(nil, profilePath, profileIface)
		d.mu.Unlock()
		return fmt.Errorf("register profile: %w", err)
	}
	ctrl, err := listenL2CAP(PSMControl)
	if err != nil {
		d.undoRegisterLocked()
		d.mu.Unlock()
		return err
	}
	intr, err := listenL2CAP(PSMInterrupt)
	if err != nil {
		ctrl.close()
		d.undoRegisterLocked()
		d.mu.Unlock()
		return err
	}
	d.ctrl, d.intr, d.cb, d.registered = ctrl, intr, cb, true
	d.mu.Unlock()

	if env.cfg.Discoverable {
		if err := d.adapter.setDiscoverable(true); err != nil {
			d.log.Warn("could not make adapter discoverable", "error", err)
		}
	}
	addr, err := d.adapter.Address()
	if err != nil {
		d.log.Debug("read adapter address failed", "error", err)
	}
	d.log.Info("hid application registered",
		"adapter", addr,
		"name", app.Name,
		"subclass", app.Subclass,
		"latency_us", app.QoS.Latency,
		"token_rate", app.QoS.TokenRate,
	)

	go d.acceptLoop(ctrl, d.onControl)
	go d.acceptLoop(intr, d.onInterrupt)
	d.emit(func() { cb.AppStatusChanged(nil, true) })
	return nil
}

func (d *HidDevice) undoRegisterLocked() {
	env := d.adapter.env
	if err := env.unregisterProfile(profilePath); err != nil {
		d.log.Debug("unregister profile failed", "error", err)
	}
	env.conn.Export(nil, profilePath, profileIface)
}

// UnregisterApp closes every channel and withdraws the SDP record.
func (d *HidDevice) UnregisterApp() error {
	d.mu.Lock()
	if !d.registered {
		d.mu.Unlock()
		return nil
	}
	cb := d.cb
	dropped := d.shutdownLocked()
	d.undoRegisterLocked()
	d.mu.Unlock()

	for _, p := range dropped {
		d.emit(func() { cb.ConnectionStateChanged(p, transport.PeerDisconnected) })
	}
	d.emit(func() { cb.AppStatusChanged(nil, false) })
	d.log.Info("hid application unregistered")
	return nil
}

// SendReport writes one input report on the host's interrupt channel.
func (d *HidDevice) SendReport(peer transport.Peer, id byte, report []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.hosts[peer.Address]
	if h == nil || !h.up {
		return fmt.Errorf("%w: %s", ErrNoHost, peer.Address)
	}
	if err := writePacket(h.intr, interruptFrame(id, report)); err != nil {
		return fmt.Errorf("write report to %s: %w", peer.Address, err)
	}
	return nil
}

// shutdownLocked closes listeners and host channels and returns the hosts
// that were connected.
func (d *HidDevice) shutdownLocked() []transport.Peer {
	if d.ctrl != nil {
		d.ctrl.close()
		d.ctrl = nil
	}
	if d.intr != nil {
		d.intr.close()
		d.intr = nil
	}
	var dropped []transport.Peer
	for addr, h := range d.hosts {
		if h.up {
			dropped = append(dropped, h.peer)
		}
		closeConn(h.ctrl)
		closeConn(h.intr)
		delete(d.hosts, addr)
	}
	d.registered = false
	return dropped
}

func (d *HidDevice) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		wasRegistered := d.registered
		d.shutdownLocked()
		if wasRegistered {
			d.undoRegisterLocked()
		}
		d.mu.Unlock()
		close(d.quit)
	})
}

func (d *HidDevice) acceptLoop(l *l2capListener, handle func(fd int, addr string)) {
	for {
		fd, addr, err := l.accept()
		if err != nil {
			d.log.Debug("l2cap listener stopped", "psm", l.psm, "error", err)
			return
		}
		handle(fd, addr)
	}
}

// hostLocked returns the channel pair for addr, creating it. It refuses a
// second host while another one is connected.
func (d *HidDevice) hostLocked(addr string) (*hostConn, bool) {
	if !d.registered {
		return nil, false
	}
	for other, h := range d.hosts {
		if other != addr && h.up {
			return nil, false
		}
	}
	h := d.hosts[addr]
	if h == nil {
		h = &hostConn{peer: transport.Peer{Address: addr}, ctrl: -1, intr: -1}
		d.hosts[addr] = h
	}
	return h, true
}

func (d *HidDevice) onControl(fd int, addr string) {
	d.mu.Lock()
	h, ok := d.hostLocked(addr)
	if !ok {
		d.mu.Unlock()
		d.log.Warn("refusing control channel", "address", addr)
		closeConn(fd)
		return
	}
	closeConn(h.ctrl)
	h.ctrl = fd
	d.mu.Unlock()

	go d.serveControl(h, fd)
}

func (d *HidDevice) onInterrupt(fd int, addr string) {
	d.mu.Lock()
	h, ok := d.hostLocked(addr)
	if !ok {
		d.mu.Unlock()
		d.log.Warn("refusing interrupt channel", "address", addr)
		closeConn(fd)
		return
	}
	closeConn(h.intr)
	h.intr = fd
	h.up = true
	cb := d.cb
	d.mu.Unlock()

	name := d.adapter.deviceName(addr)

	d.mu.Lock()
	if !d.owns(h, fd) {
		d.mu.Unlock()
		return
	}
	h.peer.Name = name
	peer := h.peer
	d.mu.Unlock()

	d.log.Info("host connected", "address", addr, "name", name)
	d.emit(func() { cb.ConnectionStateChanged(peer, transport.PeerConnected) })
	go d.serveInterrupt(h, fd)
}

// owns reports whether fd is still one of h's live channels.
func (d *HidDevice) owns(h *hostConn, fd int) bool {
	return d.hosts[h.peer.Address] == h && (h.ctrl == fd || h.intr == fd)
}

func (d *HidDevice) serveControl(h *hostConn, fd int) {
	buf := make([]byte, packetSize)
	for {
		n, err := readPacket(fd, buf)
		if err != nil || n <= 0 {
			d.dropHost(h, fd)
			return
		}
		reply, unplug := controlReply(buf[:n])
		if unplug {
			d.log.Info("host unplugged virtual cable", "address", h.peer.Address)
			d.dropHost(h, fd)
			return
		}
		if reply == nil {
			continue
		}
		d.mu.Lock()
		if !d.owns(h, fd) {
			d.mu.Unlock()
			return
		}
		err = writePacket(fd, reply)
		d.mu.Unlock()
		if err != nil {
			d.log.Debug("control reply failed", "address", h.peer.Address, "error", err)
		}
	}
}

// serveInterrupt only watches for the host closing the channel; hosts send
// nothing on it that a keyboard needs.
func (d *HidDevice) serveInterrupt(h *hostConn, fd int) {
	buf := make([]byte, packetSize)
	for {
		n, err := readPacket(fd, buf)
		if err != nil || n <= 0 {
			d.dropHost(h, fd)
			return
		}
	}
}

func (d *HidDevice) dropHost(h *hostConn, fd int) {
	d.mu.Lock()
	if !d.owns(h, fd) {
		d.mu.Unlock()
		return
	}
	wasUp := h.up
	closeConn(h.ctrl)
	closeConn(h.intr)
	h.ctrl, h.intr, h.up = -1, -1, false
	delete(d.hosts, h.peer.Address)
	cb := d.cb
	peer := h.peer
	d.mu.Unlock()

	if wasUp && cb != nil {
		d.log.Info("host disconnected", "address", peer.Address)
		d.emit(func() { cb.ConnectionStateChanged(peer, transport.PeerDisconnected) })
	}
}

func (d *HidDevice) disconnectHost(addr string) {
	d.mu.Lock()
	h := d.hosts[addr]
	fd := -1
	if h != nil {
		fd = h.intr
		if fd < 0 {
			fd = h.ctrl
		}
	}
	d.mu.Unlock()
	if h != nil && fd >= 0 {
		d.dropHost(h, fd)
	}
}

// watch reports the profile lost when BlueZ leaves the bus or the adapter
// powers off.
func (d *HidDevice) watch(l transport.ProfileListener) {
	env := d.adapter.env
	rules := []string{nameOwnerRule(), adapterPropsRule(d.adapter.path)}
	for _, r := range rules {
		env.addMatch(r)
	}
	ch := make(chan *dbus.Signal, 16)
	env.conn.Signal(ch)

	go func() {
		defer func() {
			env.conn.RemoveSignal(ch)
			for _, r := range rules {
				env.removeMatch(r)
			}
		}()
		for {
			select {
			case <-d.quit:
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if !profileLost(d.adapter.path, sig) {
					continue
				}
				d.log.Warn("bluez profile lost", "signal", sig.Name)
				d.mu.Lock()
				d.shutdownLocked()
				d.mu.Unlock()
				d.emit(l.ServiceDisconnected)
				return
			}
		}
	}()
}

// profileLost reports whether sig means the registration is gone: BlueZ
// dropped off the bus or the adapter was powered off.
func profileLost(adapter dbus.ObjectPath, sig *dbus.Signal) bool {
	switch sig.Name {
	case nameOwnerSignal:
		// Body: [name, old_owner, new_owner]
		if len(sig.Body) < 3 {
			return false
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		return name == busName && newOwner == ""

	case propsSignal:
		// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
		if sig.Path != adapter || len(sig.Body) < 2 {
			return false
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != adapterIface {
			return false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return false
		}
		v, ok := changed["Powered"]
		if !ok {
			return false
		}
		powered, ok := v.Value().(bool)
		return ok && !powered
	}
	return false
}

// profileObject is the org.bluez.Profile1 implementation BlueZ calls back.
type profileObject struct {
	dev *HidDevice
}

func (p *profileObject) Release() *dbus.Error {
	p.dev.log.Info("bluez released the hid profile")
	return nil
}

// NewConnection is only used when BlueZ's own input plugin is disabled and
// it hands us a channel; ours arrive on the L2CAP listeners instead.
func (p *profileObject) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	p.dev.log.Debug("ignoring profile connection", "device", device)
	os.NewFile(uintptr(fd), "profile").Close()
	return nil
}

func (p *profileObject) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	addr := addrFromPath(p.dev.adapter.path, device)
	p.dev.log.Info("bluez requested disconnection", "address", addr)
	p.dev.disconnectHost(addr)
	return nil
}
