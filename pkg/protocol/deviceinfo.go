package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeviceType classifies a device for presentation purposes.
type DeviceType int

const (
	DeviceTypeDesktop DeviceType = iota
	DeviceTypeLaptop
	DeviceTypePhone
	DeviceTypeTablet
	DeviceTypeTv
)

// String returns the wire representation of the device type.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypePhone:
		return "phone"
	case DeviceTypeTablet:
		return "tablet"
	case DeviceTypeLaptop:
		return "laptop"
	case DeviceTypeTv:
		return "tv"
	default:
		return "desktop"
	}
}

// ParseDeviceType maps a wire string to a DeviceType. Unknown strings
// normalize to desktop, matching the rest of the protocol family.
func ParseDeviceType(s string) DeviceType {
	switch strings.ToLower(s) {
	case "phone", "smartphone":
		return DeviceTypePhone
	case "tablet":
		return DeviceTypeTablet
	case "laptop":
		return DeviceTypeLaptop
	case "tv":
		return DeviceTypeTv
	default:
		return DeviceTypeDesktop
	}
}

// MarshalJSON implements json.Marshaler.
func (t DeviceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *DeviceType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseDeviceType(s)
	return nil
}

// DeviceInfo is the identity payload broadcast over UDP and exchanged after
// the TLS handshake. Field names follow the wire format of the protocol
// family.
type DeviceInfo struct {
	DeviceID        string     `json:"deviceId"`
	Name            string     `json:"deviceName"`
	Type            DeviceType `json:"deviceType"`
	ProtocolVersion int        `json:"protocolVersion"`
	ListenPort      int        `json:"tcpPort,omitempty"`
	IncomingCaps    []string   `json:"incomingCapabilities"`
	OutgoingCaps    []string   `json:"outgoingCapabilities"`
}

// Validate checks the identity payload for the fields every peer must carry.
func (d *DeviceInfo) Validate() error {
	if d.DeviceID == "" {
		return fmt.Errorf("identity missing deviceId")
	}
	if d.Name == "" {
		return fmt.Errorf("identity missing deviceName")
	}
	return nil
}

// HasIncoming reports whether the device advertises the capability as
// receivable.
func (d *DeviceInfo) HasIncoming(cap string) bool {
	for _, c := range d.IncomingCaps {
		if c == cap {
			return true
		}
	}
	return false
}

// HasOutgoing reports whether the device advertises the capability as
// producible.
func (d *DeviceInfo) HasOutgoing(cap string) bool {
	for _, c := range d.OutgoingCaps {
		if c == cap {
			return true
		}
	}
	return false
}

// NewIdentityPacket wraps the DeviceInfo in an identity packet.
func NewIdentityPacket(info *DeviceInfo) (*Packet, error) {
	return New(TypeIdentity, info)
}

// ParseIdentity decodes and validates an identity packet body.
func ParseIdentity(p *Packet) (*DeviceInfo, error) {
	if p.Type != TypeIdentity {
		return nil, fmt.Errorf("expected %s packet, got %s", TypeIdentity, p.Type)
	}
	var info DeviceInfo
	if err := p.DecodeBody(&info); err != nil {
		return nil, fmt.Errorf("decoding identity body: %w", err)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &info, nil
}
