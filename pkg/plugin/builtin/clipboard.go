package builtin

import (
	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// ClipboardBody is the body of a cconnect.clipboard packet.
type ClipboardBody struct {
	Content string `json:"content"`
}

// ClipboardFactory builds the clipboard relay plugin.
type ClipboardFactory struct {
	Deps Deps
}

func (f *ClipboardFactory) Name() string { return "clipboard" }

func (f *ClipboardFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeClipboard}
}

func (f *ClipboardFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeClipboard}
}

func (f *ClipboardFactory) Create() plugin.Plugin {
	return &clipboardPlugin{deps: f.Deps}
}

type clipboardPlugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
}

func (p *clipboardPlugin) Name() string { return "clipboard" }

func (p *clipboardPlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeClipboard}
}

func (p *clipboardPlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeClipboard}
}

func (p *clipboardPlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	return nil
}

func (p *clipboardPlugin) Start() error { return nil }
func (p *clipboardPlugin) Stop() error  { return nil }

func (p *clipboardPlugin) HandlePacket(pkt *protocol.Packet) error {
	var body ClipboardBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	if p.deps.Clipboard == nil {
		logger.Debug("clipboard content dropped, no clipboard access",
			logger.KeyDeviceID, p.deviceID)
		return nil
	}
	return p.deps.Clipboard.Set(body.Content)
}

// HandleCommand pushes the local clipboard to the peer. Verb "push".
func (p *clipboardPlugin) HandleCommand(cmd plugin.Command) error {
	if p.deps.Clipboard == nil {
		return nil
	}
	content, err := p.deps.Clipboard.Get()
	if err != nil {
		return err
	}
	pkt, err := protocol.New(protocol.TypeClipboard, ClipboardBody{Content: content})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}
