// Package bluez binds the HID-Device profile on Linux: BlueZ over the system
// D-Bus for the adapter, profile registration and peer names, and L2CAP
// sockets on the HID control and interrupt PSMs for the reports themselves.
package bluez

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/streampad/internal/transport"
)

const (
	busName             = "org.bluez"
	rootPath            = "/org/bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileManagerIface = "org.bluez.ProfileManager1"
	profileIface        = "org.bluez.Profile1"
	propsIface          = "org.freedesktop.DBus.Properties"
	propsSignal         = "org.freedesktop.DBus.Properties.PropertiesChanged"
	nameOwnerSignal     = "org.freedesktop.DBus.NameOwnerChanged"
	introspectMethod    = "org.freedesktop.DBus.Introspectable.Introspect"

	// HIDUUID is the Human Interface Device service class.
	HIDUUID = "00001124-0000-1000-8000-00805f9b34fb"
)

// Config selects the controller and how it is exposed.
type Config struct {
	Adapter      string // e.g. "hci0"
	Discoverable bool   // make the adapter discoverable when the app registers
}

// Env is a system bus connection with BlueZ on it. It implements
// transport.Environment.
type Env struct {
	conn *dbus.Conn
	cfg  Config
	log  *slog.Logger
}

var _ transport.Environment = (*Env)(nil)

// Open connects to the system bus and checks that BlueZ is running.
func Open(cfg Config, log *slog.Logger) (*Env, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &Env{conn: conn, cfg: cfg, log: log}, nil
}

func (e *Env) Close() error {
	return e.conn.Close()
}

// BluetoothAdapter returns the configured controller if BlueZ knows it,
// powered or not.
func (e *Env) BluetoothAdapter() (transport.Adapter, error) {
	path := adapterPath(e.cfg.Adapter)
	if _, err := e.getProp(path, adapterIface, "Address"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrNoAdapter, e.cfg.Adapter, err)
	}
	return &Adapter{env: e, path: path}, nil
}

// Offline is the environment used when the system bus or BlueZ is not
// reachable. It never has an adapter.
type Offline struct {
	Err error
}

func (o Offline) BluetoothAdapter() (transport.Adapter, error) {
	if o.Err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrNoAdapter, o.Err)
	}
	return nil, transport.ErrNoAdapter
}

// --- paths ---

func adapterPath(hci string) dbus.ObjectPath {
	return dbus.ObjectPath(rootPath + "/" + hci)
}

// devicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// addrFromPath extracts a MAC address from a BlueZ device object path.
func addrFromPath(adapter, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapter) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

// formatMAC renders a little-endian bdaddr as used in sockaddr_l2.
func formatMAC(addr [6]uint8) string {
	var data [6]byte
	for i, v := range addr {
		data[5-i] = v
	}
	return strings.ToUpper(net.HardwareAddr(data[:]).String())
}

// --- property helpers ---

func (e *Env) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := e.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (e *Env) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := e.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (e *Env) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := e.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

func (e *Env) getString(path dbus.ObjectPath, iface, prop string) (string, error) {
	v, err := e.getProp(path, iface, prop)
	if err != nil {
		return "", err
	}
	val, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s is not string", prop)
	}
	return val, nil
}

// hasProfileManager reports whether BlueZ exports ProfileManager1.
func (e *Env) hasProfileManager() (bool, error) {
	var xml string
	if err := e.conn.Object(busName, rootPath).Call(introspectMethod, 0).Store(&xml); err != nil {
		return false, err
	}
	return strings.Contains(xml, profileManagerIface), nil
}

func (e *Env) registerProfile(path dbus.ObjectPath, uuid string, opts map[string]dbus.Variant) error {
	return e.conn.Object(busName, rootPath).Call(profileManagerIface+".RegisterProfile", 0, path, uuid, opts).Err
}

func (e *Env) unregisterProfile(path dbus.ObjectPath) error {
	return e.conn.Object(busName, rootPath).Call(profileManagerIface+".UnregisterProfile", 0, path).Err
}

// --- signal subscription ---

func (e *Env) addMatch(rule string) {
	e.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
}

func (e *Env) removeMatch(rule string) {
	e.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
}

func nameOwnerRule() string {
	return "type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='" + busName + "'"
}

func adapterPropsRule(path dbus.ObjectPath) string {
	return "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path='" + string(path) + "'"
}
