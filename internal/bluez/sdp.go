package bluez

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"text/template"

	"github.com/mil-ad/streampad/internal/transport"
)

// HID PSMs.
const (
	PSMControl   = 0x11
	PSMInterrupt = 0x13
)

var sdpTemplate = template.Must(template.New("sdp").Funcs(template.FuncMap{
	"esc": func(s string) string {
		var b bytes.Buffer
		xml.EscapeText(&b, []byte(s))
		return b.String()
	},
	"hex2": func(v byte) string { return fmt.Sprintf("0x%02x", v) },
}).Parse(`<?xml version="1.0" encoding="UTF-8" ?>
<record>
  <attribute id="0x0001">
    <sequence><uuid value="0x1124" /></sequence>
  </attribute>
  <attribute id="0x0004">
    <sequence>
      <sequence><uuid value="0x0100" /><uint16 value="0x0011" /></sequence>
      <sequence><uuid value="0x0011" /></sequence>
    </sequence>
  </attribute>
  <attribute id="0x0005">
    <sequence><uuid value="0x1002" /></sequence>
  </attribute>
  <attribute id="0x0006">
    <sequence>
      <uint16 value="0x656e" />
      <uint16 value="0x006a" />
      <uint16 value="0x0100" />
    </sequence>
  </attribute>
  <attribute id="0x0009">
    <sequence>
      <sequence><uuid value="0x1124" /><uint16 value="0x0101" /></sequence>
    </sequence>
  </attribute>
  <attribute id="0x000d">
    <sequence>
      <sequence>
        <sequence><uuid value="0x0100" /><uint16 value="0x0013" /></sequence>
        <sequence><uuid value="0x0011" /></sequence>
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0100"><text value="{{esc .Name}}" /></attribute>
  <attribute id="0x0101"><text value="{{esc .Description}}" /></attribute>
  <attribute id="0x0102"><text value="{{esc .Provider}}" /></attribute>
  <attribute id="0x0201"><uint16 value="0x0111" /></attribute>
  <attribute id="0x0202"><uint8 value="{{hex2 .Subclass}}" /></attribute>
  <attribute id="0x0203"><uint8 value="0x00" /></attribute>
  <attribute id="0x0204"><boolean value="true" /></attribute>
  <attribute id="0x0205"><boolean value="true" /></attribute>
  <attribute id="0x0206">
    <sequence>
      <sequence>
        <uint8 value="0x22" />
        <text encoding="hex" value="{{.DescriptorHex}}" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0207">
    <sequence>
      <sequence><uint16 value="0x0409" /><uint16 value="0x0100" /></sequence>
    </sequence>
  </attribute>
  <attribute id="0x020b"><uint16 value="0x0100" /></attribute>
  <attribute id="0x020c"><uint16 value="0x0c80" /></attribute>
  <attribute id="0x020d"><boolean value="true" /></attribute>
  <attribute id="0x020e"><boolean value="true" /></attribute>
  <attribute id="0x020f"><uint16 value="{{printf "0x%04x" .MaxLatency}}" /></attribute>
  <attribute id="0x0210"><uint16 value="0x0000" /></attribute>
</record>
`))

// sdpRecord renders the HID service record BlueZ publishes for app.
func sdpRecord(app transport.AppSettings) (string, error) {
	// SSR host max latency is in 625 µs slots.
	slots := app.QoS.Latency / 625
	if slots > 0xFFFF {
		slots = 0xFFFF
	}
	data := struct {
		transport.AppSettings
		DescriptorHex string
		MaxLatency    uint32
	}{
		AppSettings:   app,
		DescriptorHex: hex.EncodeToString(app.Descriptor),
		MaxLatency:    slots,
	}
	var buf bytes.Buffer
	if err := sdpTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render sdp record: %w", err)
	}
	return buf.String(), nil
}
