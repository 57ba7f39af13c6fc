package builtin

import (
	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// MPRISBody is the body of a cconnect.mpris packet. A packet either
// requests the player list, carries one, or addresses an action to a
// player.
type MPRISBody struct {
	RequestPlayerList bool     `json:"requestPlayerList,omitempty"`
	PlayerList        []string `json:"playerList,omitempty"`
	Player            string   `json:"player,omitempty"`
	Action            string   `json:"action,omitempty"`
}

// MPRISFactory builds the media-remote plugin.
type MPRISFactory struct {
	Deps Deps
}

func (f *MPRISFactory) Name() string { return "mpris" }

func (f *MPRISFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeMPRIS}
}

func (f *MPRISFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeMPRIS}
}

func (f *MPRISFactory) Create() plugin.Plugin {
	return &mprisPlugin{deps: f.Deps}
}

type mprisPlugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
}

func (p *mprisPlugin) Name() string { return "mpris" }

func (p *mprisPlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeMPRIS}
}

func (p *mprisPlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeMPRIS}
}

func (p *mprisPlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	return nil
}

func (p *mprisPlugin) Start() error { return nil }
func (p *mprisPlugin) Stop() error  { return nil }

func (p *mprisPlugin) HandlePacket(pkt *protocol.Packet) error {
	var body MPRISBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	switch {
	case body.RequestPlayerList:
		var players []string
		if p.deps.Media != nil {
			players = p.deps.Media.Players()
		}
		reply, err := protocol.New(protocol.TypeMPRIS, MPRISBody{PlayerList: players})
		if err != nil {
			return err
		}
		return p.sender.SendPacket(p.deviceID, reply)
	case body.Player != "" && body.Action != "":
		if p.deps.Media == nil {
			logger.Debug("media action dropped, no media controller",
				logger.KeyDeviceID, p.deviceID, "action", body.Action)
			return nil
		}
		return p.deps.Media.Command(body.Player, body.Action)
	case len(body.PlayerList) > 0:
		p.deps.emit(p.deviceID, "mpris", map[string]any{"playerList": body.PlayerList})
		return nil
	}
	return nil
}
