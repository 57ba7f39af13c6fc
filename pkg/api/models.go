package api

import (
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// DeviceView is the wire shape of one device record.
type DeviceView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Nickname        string   `json:"nickname,omitempty"`
	DisplayName     string   `json:"display_name"`
	Type            string   `json:"type"`
	Host            string   `json:"host,omitempty"`
	Port            int      `json:"port,omitempty"`
	ConnectionState string   `json:"connection_state"`
	PairingStatus   string   `json:"pairing_status"`
	IsTrusted       bool     `json:"is_trusted"`
	Fingerprint     string   `json:"certificate_fingerprint,omitempty"`
	LastSeen        int64    `json:"last_seen,omitempty"`
	LastConnected   int64    `json:"last_connected,omitempty"`
	IncomingCaps    []string `json:"incoming_capabilities,omitempty"`
	OutgoingCaps    []string `json:"outgoing_capabilities,omitempty"`

	Battery *BatteryView `json:"battery,omitempty"`

	PluginOverrides map[string]bool `json:"plugin_overrides,omitempty"`
}

// BatteryView is the volatile battery state reported by the battery plugin.
type BatteryView struct {
	Charge     int  `json:"charge"`
	IsCharging bool `json:"is_charging"`
}

// deviceView converts a registry record to its wire shape.
func deviceView(rec *registry.Record) DeviceView {
	v := DeviceView{
		ID:              rec.Info.DeviceID,
		Name:            rec.Info.Name,
		Nickname:        rec.Nickname,
		DisplayName:     rec.DisplayName(),
		Type:            rec.Info.Type.String(),
		Host:            rec.Host,
		Port:            rec.Port,
		ConnectionState: rec.ConnectionState.String(),
		PairingStatus:   rec.PairingStatus.String(),
		IsTrusted:       rec.IsTrusted,
		Fingerprint:     rec.CertificateFingerprint,
		LastSeen:        rec.LastSeen,
		LastConnected:   rec.LastConnected,
		IncomingCaps:    rec.Info.IncomingCaps,
		OutgoingCaps:    rec.Info.OutgoingCaps,
		PluginOverrides: rec.PluginOverrides,
	}
	if rec.Battery != nil {
		v.Battery = &BatteryView{
			Charge:     rec.Battery.CurrentCharge,
			IsCharging: rec.Battery.IsCharging,
		}
	}
	return v
}

// ConfigView is the daemon configuration surface exposed over RPC.
// Paths are included so local UIs can open the relevant directories;
// nothing here is secret (the RPC listener is loopback-only).
type ConfigView struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	DeviceType     string `json:"device_type"`
	Port           int    `json:"port"`
	RPCPort        int    `json:"rpc_port"`
	DataDir        string `json:"data_dir"`
	DownloadsDir   string `json:"downloads_dir"`
	MetricsEnabled bool   `json:"metrics_enabled"`
	Version        string `json:"version"`
}

// Request bodies.

type pingRequest struct {
	Message string `json:"message,omitempty"`
}

type shareFileRequest struct {
	Path string `json:"path"`
}

type shareTextRequest struct {
	Text string `json:"text"`
}

type shareURLRequest struct {
	URL string `json:"url"`
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type pluginStateRequest struct {
	Enabled bool `json:"enabled"`
}

type deviceNameRequest struct {
	Name string `json:"name"`
}

type deviceTypeRequest struct {
	Type string `json:"type"`
}

type transferIDResponse struct {
	TransferID string `json:"transfer_id"`
}
