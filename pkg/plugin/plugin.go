// Package plugin defines the capability plugin contract and the manager
// that owns per-device plugin instances. A factory is registered once at
// startup; an instance exists per (device, plugin) while that device is
// connected.
package plugin

import (
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// Sender lets a plugin enqueue outbound packets for its device.
type Sender interface {
	SendPacket(deviceID string, pkt *protocol.Packet) error
}

// Plugin is one capability handler bound to a single device.
type Plugin interface {
	Name() string
	IncomingCapabilities() []string
	OutgoingCapabilities() []string

	// Init binds the instance to its device. The record is a snapshot;
	// plugins re-read live state through their collaborators.
	Init(device *registry.Record, sender Sender) error
	Start() error
	Stop() error

	// HandlePacket consumes one inbound packet whose type matched this
	// plugin's incoming capabilities. A returned error drops the packet
	// but never the session.
	HandlePacket(pkt *protocol.Packet) error
}

// Factory produces per-device instances of one plugin.
type Factory interface {
	Name() string
	IncomingCapabilities() []string
	OutgoingCapabilities() []string
	Create() Plugin
}

// Command is a local control message addressed to one plugin instance,
// used by the RPC surface to trigger plugin actions without knowing
// concrete plugin types.
type Command struct {
	// Verb names the action, plugin-defined ("send-ping", "resolve").
	Verb string
	// Args carries verb-specific parameters.
	Args map[string]any
}

// CommandHandler is implemented by plugins that accept local commands.
type CommandHandler interface {
	HandleCommand(cmd Command) error
}
