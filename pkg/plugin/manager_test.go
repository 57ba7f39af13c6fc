package plugin

import (
	"errors"
	"testing"

	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	name      string
	incoming  []string
	outgoing  []string
	initErr   error
	initPanic bool
	handleErr error
	packets   []*protocol.Packet
	commands  []Command
	started   bool
	stopped   bool
}

func (p *stubPlugin) Name() string                   { return p.name }
func (p *stubPlugin) IncomingCapabilities() []string { return p.incoming }
func (p *stubPlugin) OutgoingCapabilities() []string { return p.outgoing }
func (p *stubPlugin) Start() error                   { p.started = true; return nil }
func (p *stubPlugin) Stop() error                    { p.stopped = true; return nil }

func (p *stubPlugin) Init(device *registry.Record, sender Sender) error {
	if p.initPanic {
		panic("broken plugin")
	}
	return p.initErr
}

func (p *stubPlugin) HandlePacket(pkt *protocol.Packet) error {
	p.packets = append(p.packets, pkt)
	return p.handleErr
}

func (p *stubPlugin) HandleCommand(cmd Command) error {
	p.commands = append(p.commands, cmd)
	return nil
}

type stubFactory struct {
	proto *stubPlugin
	built []*stubPlugin
}

func (f *stubFactory) Name() string                   { return f.proto.name }
func (f *stubFactory) IncomingCapabilities() []string { return f.proto.incoming }
func (f *stubFactory) OutgoingCapabilities() []string { return f.proto.outgoing }

func (f *stubFactory) Create() Plugin {
	p := &stubPlugin{
		name:      f.proto.name,
		incoming:  f.proto.incoming,
		outgoing:  f.proto.outgoing,
		initErr:   f.proto.initErr,
		initPanic: f.proto.initPanic,
		handleErr: f.proto.handleErr,
	}
	f.built = append(f.built, p)
	return p
}

type nullSender struct{}

func (nullSender) SendPacket(string, *protocol.Packet) error { return nil }

func newManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	return NewManager(reg, nullSender{}), reg
}

func addDevice(t *testing.T, reg *registry.Registry, id string, incoming, outgoing []string) {
	t.Helper()
	reg.UpsertFromDiscovery(&protocol.DeviceInfo{
		DeviceID:     id,
		Name:         id,
		IncomingCaps: incoming,
		OutgoingCaps: outgoing,
	}, "192.0.2.1", 1716)
}

func pingFactory() *stubFactory {
	return &stubFactory{proto: &stubPlugin{
		name:     "ping",
		incoming: []string{protocol.TypePing},
		outgoing: []string{protocol.TypePing},
	}}
}

func TestInitDevicePluginsIntersectsCapabilities(t *testing.T) {
	m, reg := newManager(t)
	ping := pingFactory()
	battery := &stubFactory{proto: &stubPlugin{
		name:     "battery",
		incoming: []string{protocol.TypeBattery},
		outgoing: []string{protocol.TypeBatteryRequest},
	}}
	m.RegisterFactory(ping)
	m.RegisterFactory(battery)

	// The device only speaks ping.
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	require.Len(t, ping.built, 1)
	assert.True(t, ping.built[0].started)
	assert.Empty(t, battery.built)
}

func TestHandlePacketRoutesByPrefix(t *testing.T) {
	m, reg := newManager(t)
	run := &stubFactory{proto: &stubPlugin{
		name:     "runcommand",
		incoming: []string{protocol.TypeRunCommand},
		outgoing: []string{protocol.TypeRunCommand},
	}}
	m.RegisterFactory(run)
	addDevice(t, reg, "dev", []string{protocol.TypeRunCommand}, []string{protocol.TypeRunCommand})
	require.NoError(t, m.InitDevicePlugins("dev"))

	// cconnect.runcommand.request falls under the cconnect.runcommand
	// capability.
	pkt := protocol.MustNew(protocol.TypeRunCommandRequest, map[string]any{})
	require.NoError(t, m.HandlePacket("dev", pkt))
	require.Len(t, run.built[0].packets, 1)
	assert.Equal(t, protocol.TypeRunCommandRequest, run.built[0].packets[0].Type)
}

func TestHandlePacketUnroutable(t *testing.T) {
	m, reg := newManager(t)
	addDevice(t, reg, "dev", nil, nil)
	require.NoError(t, m.InitDevicePlugins("dev"))

	err := m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{}))
	assert.Equal(t, cerr.CodePluginError, cerr.CodeOf(err))
}

func TestHandlerErrorDropsPacketOnly(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	f.proto.handleErr = errors.New("handler exploded")
	m.RegisterFactory(f)
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	err := m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{}))
	assert.Equal(t, cerr.CodePluginError, cerr.CodeOf(err))

	// The instance survives and keeps handling.
	require.Len(t, f.built, 1)
	assert.Len(t, f.built[0].packets, 1)
}

func TestInitPanicSkipsInstance(t *testing.T) {
	m, reg := newManager(t)
	broken := pingFactory()
	broken.proto.name = "broken"
	broken.proto.initPanic = true
	healthy := &stubFactory{proto: &stubPlugin{
		name:     "battery",
		incoming: []string{protocol.TypeBattery},
		outgoing: []string{protocol.TypeBattery},
	}}
	m.RegisterFactory(broken)
	m.RegisterFactory(healthy)
	addDevice(t, reg, "dev",
		[]string{protocol.TypePing, protocol.TypeBattery},
		[]string{protocol.TypePing, protocol.TypeBattery})

	require.NoError(t, m.InitDevicePlugins("dev"))
	require.Len(t, healthy.built, 1)
	assert.True(t, healthy.built[0].started)

	// The broken plugin has no instance, so its packets are unroutable.
	err := m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{}))
	assert.Equal(t, cerr.CodePluginError, cerr.CodeOf(err))
}

func TestDisabledPluginDropsSilently(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	m.RegisterFactory(f)
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	require.NoError(t, m.SetDeviceOverride("dev", "ping", false))
	assert.False(t, m.Enabled("dev", "ping"))

	require.NoError(t, m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{})))
	assert.Empty(t, f.built[0].packets)

	// Clearing the override reverts to the global default.
	require.NoError(t, m.ClearDeviceOverride("dev", "ping"))
	assert.True(t, m.Enabled("dev", "ping"))
	require.NoError(t, m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{})))
	assert.Len(t, f.built[0].packets, 1)
}

func TestGlobalDefaultDisable(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	m.RegisterFactory(f)
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	m.SetGlobalDefault("ping", false)
	assert.False(t, m.Enabled("dev", "ping"))

	// A device override can re-enable over a disabled default.
	require.NoError(t, m.SetDeviceOverride("dev", "ping", true))
	assert.True(t, m.Enabled("dev", "ping"))
}

func TestSendCommand(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	m.RegisterFactory(f)
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	cmd := Command{Verb: "send-ping", Args: map[string]any{"message": "hi"}}
	require.NoError(t, m.SendCommand("dev", "ping", cmd))
	require.Len(t, f.built[0].commands, 1)
	assert.Equal(t, "send-ping", f.built[0].commands[0].Verb)

	err := m.SendCommand("dev", "nope", cmd)
	assert.Equal(t, cerr.CodePluginError, cerr.CodeOf(err))
}

func TestCleanupStopsInstances(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	m.RegisterFactory(f)
	addDevice(t, reg, "dev", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev"))

	m.CleanupDevicePlugins("dev")
	require.Len(t, f.built, 1)
	assert.True(t, f.built[0].stopped)

	err := m.HandlePacket("dev", protocol.MustNew(protocol.TypePing, protocol.PingBody{}))
	assert.Equal(t, cerr.CodePluginError, cerr.CodeOf(err))
}

func TestShutdownAll(t *testing.T) {
	m, reg := newManager(t)
	f := pingFactory()
	m.RegisterFactory(f)
	addDevice(t, reg, "dev-1", []string{protocol.TypePing}, []string{protocol.TypePing})
	addDevice(t, reg, "dev-2", []string{protocol.TypePing}, []string{protocol.TypePing})
	require.NoError(t, m.InitDevicePlugins("dev-1"))
	require.NoError(t, m.InitDevicePlugins("dev-2"))

	m.ShutdownAll()
	require.Len(t, f.built, 2)
	assert.True(t, f.built[0].stopped)
	assert.True(t, f.built[1].stopped)

	_, ok := <-m.Events()
	assert.False(t, ok)
}
