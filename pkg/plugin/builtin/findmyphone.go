package builtin

import (
	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// FindMyPhoneFactory builds the find-my-phone plugin: an inbound request
// rings this machine; the "ring" command rings the peer.
type FindMyPhoneFactory struct {
	Deps Deps
}

func (f *FindMyPhoneFactory) Name() string { return "findmyphone" }

func (f *FindMyPhoneFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeFindMyPhone}
}

func (f *FindMyPhoneFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeFindMyPhone}
}

func (f *FindMyPhoneFactory) Create() plugin.Plugin {
	return &findMyPhonePlugin{deps: f.Deps}
}

type findMyPhonePlugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
}

func (p *findMyPhonePlugin) Name() string { return "findmyphone" }

func (p *findMyPhonePlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeFindMyPhone}
}

func (p *findMyPhonePlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeFindMyPhone}
}

func (p *findMyPhonePlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	return nil
}

func (p *findMyPhonePlugin) Start() error { return nil }
func (p *findMyPhonePlugin) Stop() error  { return nil }

func (p *findMyPhonePlugin) HandlePacket(_ *protocol.Packet) error {
	p.deps.emit(p.deviceID, "findmyphone", nil)
	if p.deps.Ringer == nil {
		logger.Info("find-my-phone request received, no ringer configured",
			logger.KeyDeviceID, p.deviceID)
		return nil
	}
	return p.deps.Ringer.Ring()
}

// HandleCommand rings the peer. Verb "ring".
func (p *findMyPhonePlugin) HandleCommand(_ plugin.Command) error {
	pkt, err := protocol.New(protocol.TypeFindMyPhone, map[string]any{})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}
