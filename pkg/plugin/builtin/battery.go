package builtin

import (
	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// thresholdEventLow is the only threshold event the protocol defines.
const thresholdEventLow = 1

// BatteryBody is the body of a cconnect.battery packet.
type BatteryBody struct {
	CurrentCharge  int  `json:"currentCharge"`
	IsCharging     bool `json:"isCharging"`
	ThresholdEvent int  `json:"thresholdEvent,omitempty"`
}

// BatteryFactory builds the battery plugin: peer battery reports are cached
// on the device record and surfaced as plugin events; a low-battery
// threshold raises a notification.
type BatteryFactory struct {
	Deps Deps
}

func (f *BatteryFactory) Name() string { return "battery" }

func (f *BatteryFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeBattery}
}

func (f *BatteryFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeBatteryRequest}
}

func (f *BatteryFactory) Create() plugin.Plugin {
	return &batteryPlugin{deps: f.Deps}
}

type batteryPlugin struct {
	deps     Deps
	deviceID string
	name     string
	sender   plugin.Sender
}

func (p *batteryPlugin) Name() string { return "battery" }

func (p *batteryPlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeBattery}
}

func (p *batteryPlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeBatteryRequest}
}

func (p *batteryPlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.name = device.DisplayName()
	p.sender = sender
	return nil
}

// Start asks the peer for its current battery state.
func (p *batteryPlugin) Start() error {
	pkt, err := protocol.New(protocol.TypeBatteryRequest, map[string]bool{"request": true})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

func (p *batteryPlugin) Stop() error { return nil }

func (p *batteryPlugin) HandlePacket(pkt *protocol.Packet) error {
	var body BatteryBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	if p.deps.Battery != nil {
		state := &registry.BatteryState{
			CurrentCharge: body.CurrentCharge,
			IsCharging:    body.IsCharging,
		}
		if err := p.deps.Battery.SetBattery(p.deviceID, state); err != nil {
			logger.Warn("caching battery state failed",
				logger.KeyDeviceID, p.deviceID, logger.KeyError, err)
		}
	}
	if body.ThresholdEvent == thresholdEventLow && p.deps.Notifier != nil {
		if err := p.deps.Notifier.Post(p.name, "Battery low",
			p.name+" is running low on battery"); err != nil {
			logger.Warn("battery notification failed", logger.KeyError, err)
		}
	}
	p.deps.emit(p.deviceID, "battery", map[string]any{
		"currentCharge": body.CurrentCharge,
		"isCharging":    body.IsCharging,
	})
	return nil
}
