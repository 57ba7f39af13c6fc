package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// StateEvent reports an effective enable-state change for one plugin,
// either globally or scoped to a device.
type StateEvent struct {
	DeviceID string // empty for a global default change
	Plugin   string
	Enabled  bool
}

// Manager owns the factory set and all live plugin instances.
type Manager struct {
	registry *registry.Registry
	sender   Sender

	mu        sync.RWMutex
	factories []Factory
	defaults  map[string]bool
	instances map[string]map[string]Plugin
	events    chan StateEvent
	closed    bool
}

// NewManager builds an empty plugin manager.
func NewManager(reg *registry.Registry, sender Sender) *Manager {
	return &Manager{
		registry:  reg,
		sender:    sender,
		defaults:  make(map[string]bool),
		instances: make(map[string]map[string]Plugin),
		events:    make(chan StateEvent, 64),
	}
}

// Events returns the plugin-state change stream.
func (m *Manager) Events() <-chan StateEvent {
	return m.events
}

// RegisterFactory adds a factory. Registration order fixes packet routing
// order; the first factory advertising a matching capability wins.
func (m *Manager) RegisterFactory(f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories = append(m.factories, f)
	if _, ok := m.defaults[f.Name()]; !ok {
		m.defaults[f.Name()] = true
	}
}

// Factories lists registered factory names in routing order.
func (m *Manager) Factories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.factories))
	for _, f := range m.factories {
		names = append(names, f.Name())
	}
	return names
}

// Capabilities returns the union of all registered factories' incoming and
// outgoing capabilities, deduplicated, for the local identity announcement.
func (m *Manager) Capabilities() (incoming, outgoing []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seenIn := make(map[string]bool)
	seenOut := make(map[string]bool)
	for _, f := range m.factories {
		for _, c := range f.IncomingCapabilities() {
			if !seenIn[c] {
				seenIn[c] = true
				incoming = append(incoming, c)
			}
		}
		for _, c := range f.OutgoingCapabilities() {
			if !seenOut[c] {
				seenOut[c] = true
				outgoing = append(outgoing, c)
			}
		}
	}
	return incoming, outgoing
}

// SetGlobalDefault flips a plugin's global enable default. Takes effect on
// the next packet without restarting sessions.
func (m *Manager) SetGlobalDefault(name string, enabled bool) {
	m.mu.Lock()
	m.defaults[name] = enabled
	m.mu.Unlock()
	m.publish(StateEvent{Plugin: name, Enabled: enabled})
}

// SetDeviceOverride pins a plugin's enable state for one device.
func (m *Manager) SetDeviceOverride(deviceID, name string, enabled bool) error {
	if err := m.registry.SetPluginOverride(deviceID, name, enabled); err != nil {
		return err
	}
	m.publish(StateEvent{DeviceID: deviceID, Plugin: name, Enabled: enabled})
	return nil
}

// ClearDeviceOverride reverts a device to the global default.
func (m *Manager) ClearDeviceOverride(deviceID, name string) error {
	if err := m.registry.ClearPluginOverride(deviceID, name); err != nil {
		return err
	}
	m.publish(StateEvent{DeviceID: deviceID, Plugin: name, Enabled: m.globalDefault(name)})
	return nil
}

// Enabled reports the effective enable state for (device, plugin): the
// device override when present, otherwise the global default.
func (m *Manager) Enabled(deviceID, name string) bool {
	if rec, err := m.registry.Get(deviceID); err == nil {
		if v, ok := rec.PluginOverrides[name]; ok {
			return v
		}
	}
	return m.globalDefault(name)
}

func (m *Manager) globalDefault(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.defaults[name]
	return !ok || v
}

// InitDevicePlugins instantiates every factory whose capabilities overlap
// the device's advertised ones. A factory whose Init panics or errors is
// skipped; the rest continue.
func (m *Manager) InitDevicePlugins(deviceID string) error {
	rec, err := m.registry.Get(deviceID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	factories := make([]Factory, len(m.factories))
	copy(factories, m.factories)
	m.mu.RUnlock()

	built := make(map[string]Plugin)
	for _, f := range factories {
		if !capsOverlap(f, rec.Info) {
			continue
		}
		p := f.Create()
		if err := initInstance(p, rec, m.sender); err != nil {
			logger.Warn("plugin init failed, skipping",
				logger.KeyDeviceID, deviceID, logger.KeyPlugin, f.Name(), logger.KeyError, err)
			continue
		}
		if err := p.Start(); err != nil {
			logger.Warn("plugin start failed, skipping",
				logger.KeyDeviceID, deviceID, logger.KeyPlugin, f.Name(), logger.KeyError, err)
			continue
		}
		built[f.Name()] = p
	}

	m.mu.Lock()
	m.instances[deviceID] = built
	m.mu.Unlock()

	logger.Debug("device plugins initialized",
		logger.KeyDeviceID, deviceID, "count", len(built))
	return nil
}

// initInstance calls Init with panic containment.
func initInstance(p Plugin, rec *registry.Record, sender Sender) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerr.Newf(cerr.CodePluginError, "plugin %s panicked in init: %v", p.Name(), r)
		}
	}()
	return p.Init(rec, sender)
}

// HandlePacket routes an inbound packet to the first instance advertising
// its type. Disabled plugins and handler errors drop the packet.
func (m *Manager) HandlePacket(deviceID string, pkt *protocol.Packet) error {
	m.mu.RLock()
	var target Plugin
	for _, f := range m.factories {
		if !matchesType(f.IncomingCapabilities(), pkt.Type) {
			continue
		}
		if inst, ok := m.instances[deviceID]; ok {
			target = inst[f.Name()]
		}
		break
	}
	m.mu.RUnlock()

	if target == nil {
		return cerr.Newf(cerr.CodePluginError, "no plugin for packet type %s", pkt.Type)
	}
	if !m.Enabled(deviceID, target.Name()) {
		logger.Debug("packet for disabled plugin dropped",
			logger.KeyDeviceID, deviceID, logger.KeyPlugin, target.Name(),
			logger.KeyPacketType, pkt.Type)
		return nil
	}
	if err := handleInstance(target, pkt); err != nil {
		return cerr.Wrap(cerr.CodePluginError,
			fmt.Sprintf("plugin %s handling %s", target.Name(), pkt.Type), err)
	}
	return nil
}

func handleInstance(p Plugin, pkt *protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.HandlePacket(pkt)
}

// Instance returns the live plugin instance for a connected device.
// Callers needing more than the Plugin contract assert against a small
// capability interface, never a concrete type.
func (m *Manager) Instance(deviceID, pluginName string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[deviceID]
	if !ok {
		return nil, false
	}
	p, ok := inst[pluginName]
	return p, ok
}

// SendCommand delivers a local command to one plugin instance.
func (m *Manager) SendCommand(deviceID, pluginName string, cmd Command) error {
	m.mu.RLock()
	var target Plugin
	if inst, ok := m.instances[deviceID]; ok {
		target = inst[pluginName]
	}
	m.mu.RUnlock()

	if target == nil {
		return cerr.Newf(cerr.CodePluginError, "no %s instance for device %s", pluginName, deviceID)
	}
	h, ok := target.(CommandHandler)
	if !ok {
		return cerr.Newf(cerr.CodePluginError, "plugin %s does not accept commands", pluginName)
	}
	if err := h.HandleCommand(cmd); err != nil {
		return cerr.Wrap(cerr.CodePluginError,
			fmt.Sprintf("plugin %s command %s", pluginName, cmd.Verb), err)
	}
	return nil
}

// CleanupDevicePlugins stops and discards a device's instances.
func (m *Manager) CleanupDevicePlugins(deviceID string) {
	m.mu.Lock()
	inst := m.instances[deviceID]
	delete(m.instances, deviceID)
	m.mu.Unlock()

	for name, p := range inst {
		if err := p.Stop(); err != nil {
			logger.Warn("plugin stop failed",
				logger.KeyDeviceID, deviceID, logger.KeyPlugin, name, logger.KeyError, err)
		}
	}
}

// ShutdownAll stops every instance for every device and closes the event
// stream.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	all := m.instances
	m.instances = make(map[string]map[string]Plugin)
	closed := m.closed
	m.closed = true
	m.mu.Unlock()

	for deviceID, inst := range all {
		for name, p := range inst {
			if err := p.Stop(); err != nil {
				logger.Warn("plugin stop failed",
					logger.KeyDeviceID, deviceID, logger.KeyPlugin, name, logger.KeyError, err)
			}
		}
	}
	if !closed {
		close(m.events)
	}
}

func (m *Manager) publish(ev StateEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}

// capsOverlap reports whether a factory is useful for a device: something
// we send must be accepted by the peer, or something the peer sends must be
// accepted by us.
func capsOverlap(f Factory, info protocol.DeviceInfo) bool {
	return intersects(f.OutgoingCapabilities(), info.IncomingCaps) ||
		intersects(f.IncomingCapabilities(), info.OutgoingCaps)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// matchesType reports whether a packet type falls under any advertised
// capability, either exactly or as a dotted sub-type.
func matchesType(caps []string, packetType string) bool {
	for _, c := range caps {
		if packetType == c || strings.HasPrefix(packetType, c+".") {
			return true
		}
	}
	return false
}
