package builtin

import (
	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// PingFactory builds the ping plugin: it surfaces inbound pings as a
// notification and sends pings on command.
type PingFactory struct {
	Deps Deps
}

func (f *PingFactory) Name() string                   { return "ping" }
func (f *PingFactory) IncomingCapabilities() []string { return []string{protocol.TypePing} }
func (f *PingFactory) OutgoingCapabilities() []string { return []string{protocol.TypePing} }

func (f *PingFactory) Create() plugin.Plugin {
	return &pingPlugin{deps: f.Deps}
}

type pingPlugin struct {
	deps     Deps
	deviceID string
	name     string
	sender   plugin.Sender
}

func (p *pingPlugin) Name() string                   { return "ping" }
func (p *pingPlugin) IncomingCapabilities() []string { return []string{protocol.TypePing} }
func (p *pingPlugin) OutgoingCapabilities() []string { return []string{protocol.TypePing} }
func (p *pingPlugin) Start() error                   { return nil }
func (p *pingPlugin) Stop() error                    { return nil }

func (p *pingPlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.name = device.DisplayName()
	p.sender = sender
	return nil
}

func (p *pingPlugin) HandlePacket(pkt *protocol.Packet) error {
	var body protocol.PingBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	msg := body.Message
	if msg == "" {
		msg = "Ping!"
	}
	logger.Info("ping received",
		logger.KeyDeviceID, p.deviceID, "message", msg)
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Post(p.name, "Ping", msg); err != nil {
			logger.Warn("ping notification failed", logger.KeyError, err)
		}
	}
	p.deps.emit(p.deviceID, "ping", map[string]any{"message": msg})
	return nil
}

// HandleCommand sends a ping to the peer. Verb "send" with optional
// "message".
func (p *pingPlugin) HandleCommand(cmd plugin.Command) error {
	msg, _ := cmd.Args["message"].(string)
	pkt, err := protocol.New(protocol.TypePing, protocol.PingBody{Message: msg})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}
