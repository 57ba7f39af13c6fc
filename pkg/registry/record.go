package registry

import (
	"encoding/json"
	"strings"

	"github.com/olafkfreund/cconnect/pkg/protocol"
)

// ConnectionState tracks the liveness of the TLS session for a device.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// MarshalJSON implements json.Marshaler.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch strings.ToLower(str) {
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	case "failed":
		*s = StateFailed
	default:
		*s = StateDisconnected
	}
	return nil
}

// PairingStatus tracks the trust relationship with a device.
type PairingStatus int

const (
	PairingUnpaired PairingStatus = iota
	PairingRequested
	PairingPaired
	PairingRejected
)

func (s PairingStatus) String() string {
	switch s {
	case PairingRequested:
		return "requested"
	case PairingPaired:
		return "paired"
	case PairingRejected:
		return "rejected"
	default:
		return "unpaired"
	}
}

// MarshalJSON implements json.Marshaler.
func (s PairingStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *PairingStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch strings.ToLower(str) {
	case "requested":
		*s = PairingRequested
	case "paired":
		*s = PairingPaired
	case "rejected":
		*s = PairingRejected
	default:
		*s = PairingUnpaired
	}
	return nil
}

// BatteryState is volatile per-device state reported by the battery plugin.
// It is not persisted.
type BatteryState struct {
	CurrentCharge int  `json:"currentCharge"`
	IsCharging    bool `json:"isCharging"`
}

// Record is a registry entry for one known device. There is exactly one
// Record per device id; records are created on first discovery and never
// deleted automatically (unpair clears trust material but keeps the record).
//
// Invariant: IsTrusted == (PairingStatus == PairingPaired) ==
// (CertificateFingerprint != "").
type Record struct {
	Info protocol.DeviceInfo `json:"info"`

	ConnectionState ConnectionState `json:"connection_state"`
	PairingStatus   PairingStatus   `json:"pairing_status"`
	IsTrusted       bool            `json:"is_trusted"`

	LastSeen      int64 `json:"last_seen"`      // epoch seconds
	LastConnected int64 `json:"last_connected"` // epoch seconds

	Host string `json:"host"`
	Port int    `json:"port"`

	CertificateFingerprint string `json:"certificate_fingerprint,omitempty"`
	CertificateData        []byte `json:"certificate_data,omitempty"` // DER, only once paired

	// Nickname overrides Info.Name for presentation; persisted per device.
	Nickname string `json:"nickname,omitempty"`

	// PluginOverrides maps plugin name to an explicit per-device enable state.
	// Absent entries fall back to the plugin's global default.
	PluginOverrides map[string]bool `json:"plugin_overrides,omitempty"`

	// Battery is volatile state from the battery plugin.
	Battery *BatteryState `json:"-"`
}

// DisplayName returns the nickname when set, the advertised name otherwise.
func (r *Record) DisplayName() string {
	if r.Nickname != "" {
		return r.Nickname
	}
	return r.Info.Name
}

// Clone returns a deep copy so readers never share mutable state with the
// registry.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Info.IncomingCaps = append([]string(nil), r.Info.IncomingCaps...)
	cp.Info.OutgoingCaps = append([]string(nil), r.Info.OutgoingCaps...)
	cp.CertificateData = append([]byte(nil), r.CertificateData...)
	if r.PluginOverrides != nil {
		cp.PluginOverrides = make(map[string]bool, len(r.PluginOverrides))
		for k, v := range r.PluginOverrides {
			cp.PluginOverrides[k] = v
		}
	}
	if r.Battery != nil {
		b := *r.Battery
		cp.Battery = &b
	}
	return &cp
}
