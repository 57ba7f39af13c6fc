package builtin

import (
	"encoding/json"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// RunCommandBody advertises the local command list. The list is serialized
// as a JSON string for wire compatibility.
type RunCommandBody struct {
	CommandList string `json:"commandList"`
}

// RunCommandRequestBody asks for the list or triggers one command by key.
type RunCommandRequestBody struct {
	RequestCommandList bool   `json:"requestCommandList,omitempty"`
	Key                string `json:"key,omitempty"`
}

type commandEntry struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// RunCommandFactory builds the remote-command plugin. Execution goes
// through the CommandRunner collaborator, which owns the allow-list.
type RunCommandFactory struct {
	Deps Deps
}

func (f *RunCommandFactory) Name() string { return "runcommand" }

func (f *RunCommandFactory) IncomingCapabilities() []string {
	return []string{protocol.TypeRunCommand, protocol.TypeRunCommandRequest}
}

func (f *RunCommandFactory) OutgoingCapabilities() []string {
	return []string{protocol.TypeRunCommand}
}

func (f *RunCommandFactory) Create() plugin.Plugin {
	return &runCommandPlugin{deps: f.Deps}
}

type runCommandPlugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
}

func (p *runCommandPlugin) Name() string { return "runcommand" }

func (p *runCommandPlugin) IncomingCapabilities() []string {
	return []string{protocol.TypeRunCommand, protocol.TypeRunCommandRequest}
}

func (p *runCommandPlugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeRunCommand}
}

func (p *runCommandPlugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	return nil
}

func (p *runCommandPlugin) Start() error { return nil }
func (p *runCommandPlugin) Stop() error  { return nil }

func (p *runCommandPlugin) HandlePacket(pkt *protocol.Packet) error {
	if pkt.Type != protocol.TypeRunCommandRequest {
		// Peer command lists are surfaced, not stored.
		var body RunCommandBody
		if err := pkt.DecodeBody(&body); err != nil {
			return err
		}
		p.deps.emit(p.deviceID, "runcommand", map[string]any{"commandList": body.CommandList})
		return nil
	}

	var req RunCommandRequestBody
	if err := pkt.DecodeBody(&req); err != nil {
		return err
	}
	if req.RequestCommandList {
		return p.sendCommandList()
	}
	if req.Key == "" {
		return nil
	}
	if p.deps.Runner == nil {
		logger.Warn("command execution request dropped, no runner configured",
			logger.KeyDeviceID, p.deviceID, "key", req.Key)
		return nil
	}
	return p.deps.Runner.Run(req.Key)
}

func (p *runCommandPlugin) sendCommandList() error {
	entries := make(map[string]commandEntry)
	if p.deps.Runner != nil {
		for key, cmdline := range p.deps.Runner.Commands() {
			entries[key] = commandEntry{Name: key, Command: cmdline}
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	pkt, err := protocol.New(protocol.TypeRunCommand, RunCommandBody{CommandList: string(raw)})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}
