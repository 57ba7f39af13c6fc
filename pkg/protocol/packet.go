// Package protocol defines the cconnect wire protocol: the JSON packet
// envelope, the identity payload broadcast during discovery, and the
// newline-delimited framing used on control sessions.
package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// ProtocolVersion is the cconnect protocol generation this daemon speaks.
const ProtocolVersion = 7

// DefaultPort is the well-known port for both UDP discovery and the TCP
// listener. It sits in the range shared with the KDE Connect family.
const DefaultPort = 1716

// Packet type strings. The vendor prefix is "cconnect".
const (
	TypeIdentity          = "cconnect.identity"
	TypePair              = "cconnect.pair"
	TypePing              = "cconnect.ping"
	TypeBattery           = "cconnect.battery"
	TypeBatteryRequest    = "cconnect.battery.request"
	TypeClipboard         = "cconnect.clipboard"
	TypeNotification      = "cconnect.notification"
	TypeMPRIS             = "cconnect.mpris"
	TypeRunCommand        = "cconnect.runcommand"
	TypeRunCommandRequest = "cconnect.runcommand.request"
	TypeFindMyPhone       = "cconnect.findmyphone.request"
	TypeShareRequest      = "cconnect.share.request"
	TypeFileSyncConfig    = "cconnect.filesync.config"
	TypeFileSyncIndex     = "cconnect.filesync.index"
	TypeFileSyncRequest   = "cconnect.filesync.request"
	TypeFileSyncTransfer  = "cconnect.filesync.transfer"
	TypeFileSyncDelete    = "cconnect.filesync.delete"
	TypeFileSyncConflict  = "cconnect.filesync.conflict"
)

// packetID is the per-process monotonic packet id counter. Ids are only used
// for debugging; no request/response correlation depends on them.
var packetID atomic.Uint64

// Packet is the wire envelope for every control message.
//
// Serialized form: one UTF-8 JSON object terminated by a single '\n'.
// PayloadSize and PayloadTransferInfo are present only on packets that
// announce an out-of-band bulk transfer.
type Packet struct {
	Type                string          `json:"type"`
	ID                  uint64          `json:"id"`
	Body                json.RawMessage `json:"body"`
	PayloadSize         *int64          `json:"payloadSize,omitempty"`
	PayloadTransferInfo map[string]any  `json:"payloadTransferInfo,omitempty"`
}

// New builds a packet of the given type with the body marshalled to JSON and
// a fresh monotonic id.
func New(packetType string, body any) (*Packet, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s body: %w", packetType, err)
	}
	return &Packet{
		Type: packetType,
		ID:   packetID.Add(1),
		Body: raw,
	}, nil
}

// MustNew is New for bodies that cannot fail to marshal (struct literals with
// plain field types). It panics otherwise.
func MustNew(packetType string, body any) *Packet {
	p, err := New(packetType, body)
	if err != nil {
		panic(err)
	}
	return p
}

// WithPayload annotates the packet with a bulk transfer size and the
// ephemeral port the receiver should connect to.
func (p *Packet) WithPayload(size int64, port int) *Packet {
	p.PayloadSize = &size
	p.PayloadTransferInfo = map[string]any{"port": port}
	return p
}

// HasPayload reports whether the packet announces an out-of-band transfer.
func (p *Packet) HasPayload() bool {
	return p.PayloadSize != nil && p.PayloadTransferInfo != nil
}

// PayloadPort extracts the transfer port from PayloadTransferInfo.
// Returns 0 if the packet carries no usable port.
func (p *Packet) PayloadPort() int {
	if p.PayloadTransferInfo == nil {
		return 0
	}
	switch v := p.PayloadTransferInfo["port"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// DecodeBody unmarshals the packet body into out.
func (p *Packet) DecodeBody(out any) error {
	if len(p.Body) == 0 {
		return fmt.Errorf("packet %s has empty body", p.Type)
	}
	return json.Unmarshal(p.Body, out)
}
