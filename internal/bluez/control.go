package bluez

import "github.com/mil-ad/streampad/internal/hid"

// HIDP transaction headers.
const (
	hidpHandshake   = 0x00
	hidpControl     = 0x10
	hidpGetReport   = 0x40
	hidpSetReport   = 0x50
	hidpGetProtocol = 0x60
	hidpSetProtocol = 0x70
	hidpData        = 0xA0

	hidpInput = 0x01 // report type in the low bits of DATA

	handshakeSuccessful  = 0x00
	handshakeUnsupported = 0x03

	controlVirtualCableUnplug = 0x05
	protocolReport            = 0x01
)

// interruptFrame prefixes report with the DATA|Input header and, when id is
// non-zero, the report id.
func interruptFrame(id byte, report []byte) []byte {
	frame := make([]byte, 0, 2+len(report))
	frame = append(frame, hidpData|hidpInput)
	if id != 0 {
		frame = append(frame, id)
	}
	return append(frame, report...)
}

// controlReply answers one message from the host on the control channel.
// It returns nil when no reply is due, and unplug is set when the host asked
// to drop the virtual cable.
func controlReply(msg []byte) (reply []byte, unplug bool) {
	if len(msg) == 0 {
		return nil, false
	}
	switch msg[0] & 0xF0 {
	case hidpControl:
		return nil, msg[0]&0x0F == controlVirtualCableUnplug
	case hidpGetReport:
		r := hid.Release()
		return interruptFrame(0, r[:]), false
	case hidpSetReport, hidpSetProtocol:
		return []byte{hidpHandshake | handshakeSuccessful}, false
	case hidpGetProtocol:
		return []byte{hidpData, protocolReport}, false
	case hidpData:
		// Output reports such as keyboard LEDs.
		return nil, false
	}
	return []byte{hidpHandshake | handshakeUnsupported}, false
}
