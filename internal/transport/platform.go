package transport

import "errors"

// ErrNoAdapter is returned by an Environment without a Bluetooth controller.
var ErrNoAdapter = errors.New("no bluetooth adapter")

// Environment is what backends query and bind against.
type Environment interface {
	// BluetoothAdapter returns the local controller whether or not it is
	// powered, or ErrNoAdapter.
	BluetoothAdapter() (Adapter, error)
}

// Adapter hands out the platform's HID-Device profile.
type Adapter interface {
	// OpenHidDevice starts binding the profile. The listener is called later,
	// from a platform goroutine.
	OpenHidDevice(l ProfileListener) error
	CloseHidDevice(dev HidDevice)
}

// ProfileListener receives profile proxy lifecycle callbacks.
type ProfileListener interface {
	ServiceConnected(dev HidDevice)
	ServiceDisconnected()
}

// HidDevice is the profile proxy: one registered application and the
// report channel to the connected host.
type HidDevice interface {
	RegisterApp(app AppSettings, cb HidCallback) error
	UnregisterApp() error
	SendReport(peer Peer, id byte, report []byte) error
}

// HidCallback receives application and connection callbacks.
type HidCallback interface {
	AppStatusChanged(plugged *Peer, registered bool)
	ConnectionStateChanged(peer Peer, state ConnectionState)
}

// Peer is a remote HID host.
type Peer struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// ConnectionState mirrors the profile connection states.
type ConnectionState int

const (
	PeerDisconnected ConnectionState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// QoS are the L2CAP flow specification values offered to the host.
type QoS struct {
	ServiceType    byte
	TokenRate      uint32
	TokenBucket    uint32
	PeakBandwidth  uint32
	Latency        uint32 // microseconds
	DelayVariation uint32
}

// QoS service types.
const (
	ServiceNoTraffic  = 0x00
	ServiceBestEffort = 0x01
	ServiceGuaranteed = 0x02
)

// QoSMax is the "don't care" value for the delay variation field.
const QoSMax = 0xFFFFFFFF

// AppSettings describe the HID application registered with the platform.
type AppSettings struct {
	Name        string
	Description string
	Provider    string
	Subclass    byte
	Descriptor  []byte
	QoS         QoS
}
