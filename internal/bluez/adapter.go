package bluez

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/streampad/internal/transport"
)

// Adapter is one BlueZ controller.
type Adapter struct {
	env  *Env
	path dbus.ObjectPath
}

var _ transport.Adapter = (*Adapter)(nil)

// Address returns the controller's public address.
func (a *Adapter) Address() (string, error) {
	return a.env.getString(a.path, adapterIface, "Address")
}

func (a *Adapter) Powered() (bool, error) {
	return a.env.getBool(a.path, adapterIface, "Powered")
}

// OpenHidDevice checks for the profile manager in the background and hands
// the listener a device once BlueZ can take the registration. If BlueZ
// cannot, the listener is never called.
func (a *Adapter) OpenHidDevice(l transport.ProfileListener) error {
	if l == nil {
		return errors.New("nil profile listener")
	}
	dev := newHidDevice(a)
	go func() {
		ok, err := a.env.hasProfileManager()
		if err != nil || !ok {
			a.env.log.Warn("bluez profile manager unavailable", "adapter", a.path, "error", err)
			dev.close()
			return
		}
		if powered, err := a.Powered(); err == nil && !powered {
			a.env.log.Warn("adapter is powered off; hosts cannot connect until it is powered", "adapter", a.path)
		}
		dev.watch(l)
		l.ServiceConnected(dev)
	}()
	return nil
}

// CloseHidDevice releases everything dev holds.
func (a *Adapter) CloseHidDevice(dev transport.HidDevice) {
	d, ok := dev.(*HidDevice)
	if !ok || d == nil {
		return
	}
	d.close()
}

func (a *Adapter) setDiscoverable(on bool) error {
	if err := a.env.setProp(a.path, adapterIface, "Discoverable", on); err != nil {
		return fmt.Errorf("set discoverable: %w", err)
	}
	return nil
}

func (a *Adapter) deviceName(addr string) string {
	path := devicePath(a.path, addr)
	if name, err := a.env.getString(path, deviceIface, "Alias"); err == nil && name != "" {
		return name
	}
	if name, err := a.env.getString(path, deviceIface, "Name"); err == nil {
		return name
	}
	return ""
}
