package builtin

import (
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// NotificationBody is the body of a cconnect.notification packet.
type NotificationBody struct {
	ID         string `json:"id"`
	AppName    string `json:"appName"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	IsCancel   bool   `json:"isCancel,omitempty"`
	Silent     bool   `json:"silent,omitempty"`
	OnlyOnce   bool   `json:"onlyOnce,omitempty"`
	TimeMillis int64  `json:"time,string,omitempty"`
}

// NotificationFactory builds the notification mirror plugin.
type NotificationFactory struct {
	Deps Deps
}

func (f *NotificationFactory) Name() string { return "notification" }

func (f *NotificationFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeNotification}
}

func (f *NotificationFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeNotification}
}

func (f *NotificationFactory) Create() plugin.Plugin {
	return &notificationPlugin{deps: f.Deps}
}

type notificationPlugin struct {
	deps     Deps
	deviceID string
}

func (p *notificationPlugin) Name() string { return "notification" }

func (p *notificationPlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeNotification}
}

func (p *notificationPlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeNotification}
}

func (p *notificationPlugin) Init(device *registry.Record, _ plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	return nil
}

func (p *notificationPlugin) Start() error { return nil }
func (p *notificationPlugin) Stop() error  { return nil }

func (p *notificationPlugin) HandlePacket(pkt *protocol.Packet) error {
	var body NotificationBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	if body.IsCancel || body.Silent {
		return nil
	}
	p.deps.emit(p.deviceID, "notification", map[string]any{
		"id": body.ID, "appName": body.AppName, "title": body.Title,
	})
	if p.deps.Notifier == nil {
		return nil
	}
	return p.deps.Notifier.Post(body.AppName, body.Title, body.Text)
}
