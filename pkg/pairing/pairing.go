// Package pairing implements the trust handshake between two devices. Each
// side runs a small per-device state machine driven by user actions on one
// end and cconnect.pair packets on the other. Accepting a request persists
// the peer's certificate and pins its fingerprint for all future sessions.
package pairing

import (
	"sync"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// RequestTimeout bounds how long a pair request, inbound or outbound, may
// stay unresolved before it lapses back to Unpaired.
const RequestTimeout = 30 * time.Second

// State is the per-device pairing state.
type State int

const (
	StateUnpaired State = iota
	StateRequestedOutbound
	StateRequestedInbound
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateUnpaired:
		return "unpaired"
	case StateRequestedOutbound:
		return "requested-outbound"
	case StateRequestedInbound:
		return "requested-inbound"
	case StatePaired:
		return "paired"
	default:
		return "unknown"
	}
}

// EventKind discriminates pairing events.
type EventKind int

const (
	EventRequestSent EventKind = iota
	EventRequestReceived
	EventPairingAccepted
	EventPairingRejected
	EventPairingTimeout
	EventDeviceUnpaired
	EventError
)

// Event is published on the service's event channel for every externally
// visible transition.
type Event struct {
	Kind        EventKind
	DeviceID    string
	DeviceName  string
	Fingerprint string
	Reason      string
}

// Sender is the slice of the connection manager the pairing service needs:
// the ability to reach a device with a control packet, opening a session
// first when none exists.
type Sender interface {
	Connect(deviceID string) error
	SendPacket(deviceID string, pkt *protocol.Packet) error
}

type deviceState struct {
	state State
	// inbound request material, held until accept or reject
	peerCert        []byte
	peerFingerprint string
	timer           *time.Timer
}

// Service owns the pairing state machines for all known devices.
type Service struct {
	certs    *certstore.Store
	registry *registry.Registry
	sender   Sender

	mu      sync.Mutex
	devices map[string]*deviceState
	events  chan Event
	timeout time.Duration
	closed  bool
}

// New builds a pairing service. Devices already paired in the registry are
// seeded as Paired so unpair and fingerprint checks work across restarts.
func New(certs *certstore.Store, reg *registry.Registry, sender Sender) *Service {
	s := &Service{
		certs:    certs,
		registry: reg,
		sender:   sender,
		devices:  make(map[string]*deviceState),
		events:   make(chan Event, 64),
		timeout:  RequestTimeout,
	}
	for _, rec := range reg.List() {
		if rec.PairingStatus == registry.PairingPaired {
			s.devices[rec.Info.DeviceID] = &deviceState{state: StatePaired}
		}
	}
	return s
}

// Events returns the service's event stream. Events are dropped when the
// channel is full rather than blocking packet handling.
func (s *Service) Events() <-chan Event {
	return s.events
}

// StateOf reports the current pairing state for a device.
func (s *Service) StateOf(deviceID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d.state
	}
	return StateUnpaired
}

// RequestPair initiates an outbound pairing with a discovered device. The
// request stays pending until the peer answers or RequestTimeout lapses.
func (s *Service) RequestPair(deviceID string) error {
	rec, err := s.registry.Get(deviceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	d := s.device(deviceID)
	switch d.state {
	case StatePaired:
		s.mu.Unlock()
		return cerr.Newf(cerr.CodeInvalidArgument, "device %s is already paired", deviceID)
	case StateRequestedOutbound:
		s.mu.Unlock()
		return nil // already pending
	case StateRequestedInbound:
		// Both sides asked. Treat our request as an acceptance of theirs.
		s.mu.Unlock()
		return s.Accept(deviceID)
	}
	d.state = StateRequestedOutbound
	s.armTimer(deviceID, d)
	s.mu.Unlock()

	if err := s.sendPair(deviceID, true); err != nil {
		s.mu.Lock()
		s.reset(deviceID)
		s.mu.Unlock()
		return err
	}

	logger.Info("pair request sent",
		logger.KeyDeviceID, deviceID, logger.KeyDeviceName, rec.Info.Name)
	s.publish(Event{Kind: EventRequestSent, DeviceID: deviceID, DeviceName: rec.Info.Name})
	return nil
}

// Accept confirms a pending inbound request: the peer's certificate is
// written to disk and the registry is marked paired before the positive
// reply goes out. A persistence failure rolls the state back to Unpaired.
func (s *Service) Accept(deviceID string) error {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	if !ok || d.state != StateRequestedInbound {
		s.mu.Unlock()
		return cerr.Newf(cerr.CodeInvalidArgument, "no pending pair request from %s", deviceID)
	}
	cert, fp := d.peerCert, d.peerFingerprint
	s.disarmTimer(d)
	s.mu.Unlock()

	if _, err := s.certs.SavePeerCert(deviceID, cert); err != nil {
		s.fail(deviceID, "storing peer certificate", err)
		return err
	}
	if err := s.registry.MarkPaired(deviceID, fp, cert); err != nil {
		if rmErr := s.certs.RemovePeerCert(deviceID); rmErr != nil {
			logger.Warn("rollback of peer certificate failed",
				logger.KeyDeviceID, deviceID, logger.KeyError, rmErr)
		}
		s.fail(deviceID, "updating registry", err)
		return err
	}

	s.mu.Lock()
	d = s.device(deviceID)
	d.state = StatePaired
	d.peerCert, d.peerFingerprint = nil, ""
	s.mu.Unlock()

	if err := s.sendPair(deviceID, true); err != nil {
		// Trust is already persisted; the peer will retry or time out.
		logger.Warn("pair acceptance reply failed",
			logger.KeyDeviceID, deviceID, logger.KeyError, err)
	}

	logger.Info("pairing accepted", logger.KeyDeviceID, deviceID, "fingerprint", fp)
	s.publish(Event{Kind: EventPairingAccepted, DeviceID: deviceID, Fingerprint: fp})
	return nil
}

// Reject declines a pending inbound request and discards its certificate.
func (s *Service) Reject(deviceID string) error {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	if !ok || d.state != StateRequestedInbound {
		s.mu.Unlock()
		return cerr.Newf(cerr.CodeInvalidArgument, "no pending pair request from %s", deviceID)
	}
	s.reset(deviceID)
	s.mu.Unlock()

	if err := s.sendPair(deviceID, false); err != nil {
		logger.Warn("pair rejection reply failed",
			logger.KeyDeviceID, deviceID, logger.KeyError, err)
	}
	s.publish(Event{Kind: EventPairingRejected, DeviceID: deviceID, Reason: "rejected locally"})
	return nil
}

// Unpair dissolves an existing pairing: registry trust fields are cleared
// and the stored peer certificate is removed. The device record survives so
// the device can be paired again later.
func (s *Service) Unpair(deviceID string) error {
	s.mu.Lock()
	s.reset(deviceID)
	s.mu.Unlock()

	if err := s.registry.MarkUnpaired(deviceID); err != nil {
		return err
	}
	if err := s.certs.RemovePeerCert(deviceID); err != nil {
		return err
	}
	if err := s.sendPair(deviceID, false); err != nil {
		logger.Debug("unpair notification not delivered",
			logger.KeyDeviceID, deviceID, logger.KeyError, err)
	}
	logger.Info("device unpaired", logger.KeyDeviceID, deviceID)
	s.publish(Event{Kind: EventDeviceUnpaired, DeviceID: deviceID})
	return nil
}

// HandlePacket consumes an inbound cconnect.pair packet. peerCert is the
// DER certificate the peer presented during the TLS handshake.
func (s *Service) HandlePacket(pkt *protocol.Packet, info *protocol.DeviceInfo, peerCert []byte) error {
	var body protocol.PairBody
	if err := pkt.DecodeBody(&body); err != nil {
		return cerr.Wrap(cerr.CodeMalformedPacket, "decoding pair body", err)
	}
	if body.Pair {
		return s.handlePairRequest(info, peerCert)
	}
	return s.handlePairDissolve(info.DeviceID)
}

func (s *Service) handlePairRequest(info *protocol.DeviceInfo, peerCert []byte) error {
	deviceID := info.DeviceID
	fp, err := certstore.FingerprintDER(peerCert)
	if err != nil {
		return cerr.Wrap(cerr.CodeMalformedPacket, "fingerprinting peer certificate", err)
	}

	s.mu.Lock()
	d := s.device(deviceID)
	switch d.state {
	case StateRequestedOutbound:
		// The peer answered our request positively.
		s.disarmTimer(d)
		d.peerCert, d.peerFingerprint = peerCert, fp
		d.state = StateRequestedInbound
		s.mu.Unlock()
		return s.Accept(deviceID)
	case StatePaired:
		s.mu.Unlock()
		// Already trusted; re-confirm so a peer that lost state converges.
		return s.sendPair(deviceID, true)
	case StateRequestedInbound:
		s.mu.Unlock()
		return nil // duplicate request, first one still pending
	}
	d.state = StateRequestedInbound
	d.peerCert, d.peerFingerprint = peerCert, fp
	s.armTimer(deviceID, d)
	s.mu.Unlock()

	logger.Info("pair request received",
		logger.KeyDeviceID, deviceID, logger.KeyDeviceName, info.Name, "fingerprint", fp)
	s.publish(Event{
		Kind:        EventRequestReceived,
		DeviceID:    deviceID,
		DeviceName:  info.Name,
		Fingerprint: fp,
	})
	return nil
}

func (s *Service) handlePairDissolve(deviceID string) error {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	prev := d.state
	s.reset(deviceID)
	s.mu.Unlock()

	switch prev {
	case StateRequestedOutbound:
		logger.Info("pair request rejected by peer", logger.KeyDeviceID, deviceID)
		s.publish(Event{Kind: EventPairingRejected, DeviceID: deviceID, Reason: "rejected by peer"})
	case StatePaired:
		if err := s.registry.MarkUnpaired(deviceID); err != nil {
			return err
		}
		if err := s.certs.RemovePeerCert(deviceID); err != nil {
			return err
		}
		logger.Info("unpaired by peer", logger.KeyDeviceID, deviceID)
		s.publish(Event{Kind: EventDeviceUnpaired, DeviceID: deviceID})
	case StateRequestedInbound:
		s.publish(Event{Kind: EventPairingRejected, DeviceID: deviceID, Reason: "withdrawn by peer"})
	}
	return nil
}

// Close stops all pending timers and closes the event channel.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, d := range s.devices {
		s.disarmTimer(d)
	}
	close(s.events)
}

// device returns the tracked state for id, creating it as Unpaired. Caller
// holds s.mu.
func (s *Service) device(id string) *deviceState {
	d, ok := s.devices[id]
	if !ok {
		d = &deviceState{state: StateUnpaired}
		s.devices[id] = d
	}
	return d
}

// reset drops a device back to Unpaired and clears held material. Caller
// holds s.mu.
func (s *Service) reset(id string) {
	d, ok := s.devices[id]
	if !ok {
		return
	}
	s.disarmTimer(d)
	d.state = StateUnpaired
	d.peerCert, d.peerFingerprint = nil, ""
}

// armTimer schedules the request-timeout lapse. Caller holds s.mu.
func (s *Service) armTimer(id string, d *deviceState) {
	s.disarmTimer(d)
	d.timer = time.AfterFunc(s.timeout, func() { s.lapse(id) })
}

func (s *Service) disarmTimer(d *deviceState) {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (s *Service) lapse(id string) {
	s.mu.Lock()
	d, ok := s.devices[id]
	if !ok || (d.state != StateRequestedOutbound && d.state != StateRequestedInbound) {
		s.mu.Unlock()
		return
	}
	s.reset(id)
	s.mu.Unlock()

	logger.Info("pair request timed out", logger.KeyDeviceID, id)
	s.publish(Event{Kind: EventPairingTimeout, DeviceID: id})
}

func (s *Service) sendPair(deviceID string, pair bool) error {
	pkt, err := protocol.New(protocol.TypePair, protocol.PairBody{Pair: pair})
	if err != nil {
		return err
	}
	if err := s.sender.SendPacket(deviceID, pkt); err != nil {
		if !cerr.HasCode(err, cerr.CodeNotConnected) {
			return err
		}
		if err := s.sender.Connect(deviceID); err != nil {
			return err
		}
		return s.sender.SendPacket(deviceID, pkt)
	}
	return nil
}

func (s *Service) fail(deviceID, what string, err error) {
	s.mu.Lock()
	s.reset(deviceID)
	s.mu.Unlock()
	logger.Error("pairing failed",
		logger.KeyDeviceID, deviceID, "during", what, logger.KeyError, err)
	s.publish(Event{Kind: EventError, DeviceID: deviceID, Reason: what + ": " + err.Error()})
}

func (s *Service) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		logger.Debug("pairing event dropped", "kind", int(ev.Kind), logger.KeyDeviceID, ev.DeviceID)
	}
}
