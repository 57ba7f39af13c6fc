// Package connection manages the TLS control sessions between this daemon
// and its peers. A single TCP listener accepts inbound sessions; outbound
// sessions are dialed on demand for a specific device. Every session speaks
// the newline-delimited packet framing and begins with an identity exchange
// that binds the socket to a device id.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"crypto/tls"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// Tunables for session upkeep. Keep-alives are empty identity packets; a
// session that stays silent past IdleTimeout is closed.
const (
	KeepAliveInterval = 30 * time.Second
	IdleTimeout       = 60 * time.Second
	DialTimeout       = 10 * time.Second
	IdentityTimeout   = 10 * time.Second
)

// EventKind discriminates connection events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventPacketReceived
	EventError
)

// Event is published for session lifecycle changes and inbound packets.
// Packets arrive in per-session order; a full channel blocks the session's
// read loop so TCP backpressure applies to a slow consumer.
type Event struct {
	Kind     EventKind
	DeviceID string
	Info     *protocol.DeviceInfo
	Packet   *protocol.Packet
	Err      error
}

// PairHandler consumes cconnect.pair packets. Pair traffic bypasses the
// plugin path because unpaired peers are allowed to carry it.
type PairHandler interface {
	HandlePacket(pkt *protocol.Packet, info *protocol.DeviceInfo, peerCert []byte) error
}

// Config controls the manager's listener.
type Config struct {
	// Port is the TCP listen port. Zero selects the protocol default;
	// a negative value asks the kernel for any free port.
	Port int
	// BindAddress defaults to all interfaces.
	BindAddress string

	keepAlive time.Duration
	idle      time.Duration
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.Port < 0 {
		c.Port = 0
	}
	if c.keepAlive == 0 {
		c.keepAlive = KeepAliveInterval
	}
	if c.idle == 0 {
		c.idle = IdleTimeout
	}
}

// Manager owns the listener and all live sessions, at most one per device.
type Manager struct {
	cfg      Config
	certs    *certstore.Store
	registry *registry.Registry
	identity func() *protocol.DeviceInfo

	pairMu   sync.RWMutex
	pairing  PairHandler

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	events   chan Event
	closed   bool
}

// New builds a connection manager. identity supplies the local device info
// announced on every session; it is called per send so capability changes
// propagate.
func New(cfg Config, certs *certstore.Store, reg *registry.Registry, identity func() *protocol.DeviceInfo) *Manager {
	cfg.normalize()
	return &Manager{
		cfg:      cfg,
		certs:    certs,
		registry: reg,
		identity: identity,
		sessions: make(map[string]*session),
		events:   make(chan Event, 256),
	}
}

// SetPairHandler wires the pairing service in after construction. The
// pairing service itself sends through this manager, so the two are built
// in sequence.
func (m *Manager) SetPairHandler(h PairHandler) {
	m.pairMu.Lock()
	m.pairing = h
	m.pairMu.Unlock()
}

// Events returns the manager's event stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start opens the TCP listener and begins accepting sessions. It returns
// the bound port.
func (m *Manager) Start(ctx context.Context) (int, error) {
	addr := net.JoinHostPort(m.cfg.BindAddress, strconv.Itoa(m.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening on %s: %w", addr, err)
	}
	m.ln = ln

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.acceptLoop(ctx)

	port := ln.Addr().(*net.TCPAddr).Port
	logger.Info("connection manager listening", "port", port)
	return port, nil
}

// Stop closes the listener and every live session, then closes the event
// channel once all session goroutines have drained.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ln != nil {
		m.ln.Close()
	}

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.close(nil)
	}

	m.wg.Wait()
	m.mu.Lock()
	m.closed = true
	close(m.events)
	m.mu.Unlock()
}

// Connect dials the device's last known address and establishes an outbound
// TLS session. It is a no-op when a session already exists.
func (m *Manager) Connect(deviceID string) error {
	m.mu.Lock()
	_, exists := m.sessions[deviceID]
	m.mu.Unlock()
	if exists {
		return nil
	}

	rec, err := m.registry.Get(deviceID)
	if err != nil {
		return err
	}
	if rec.Host == "" || rec.Port == 0 {
		return cerr.Newf(cerr.CodeNotConnected, "no known address for %s", deviceID)
	}
	if err := m.registry.MarkConnecting(deviceID); err != nil {
		return err
	}

	var verify certstore.PeerVerifier
	if rec.PairingStatus == registry.PairingPaired {
		verify = certstore.PinVerifier(rec.CertificateFingerprint)
	}

	addr := net.JoinHostPort(rec.Host, strconv.Itoa(rec.Port))
	raw, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		m.registry.MarkFailed(deviceID) //nolint:errcheck
		return cerr.Wrap(cerr.CodeNotConnected, fmt.Sprintf("dialing %s", addr), err)
	}
	conn := tls.Client(raw, m.certs.ClientTLSConfig(verify))
	conn.SetDeadline(time.Now().Add(DialTimeout))
	err = conn.Handshake()
	conn.SetDeadline(time.Time{})
	if err != nil {
		raw.Close()
		m.registry.MarkFailed(deviceID) //nolint:errcheck
		if verifyFailed(err) {
			return cerr.Wrap(cerr.CodeUntrustedPeer, fmt.Sprintf("handshake with %s", deviceID), err)
		}
		return cerr.Wrap(cerr.CodeNotConnected, fmt.Sprintf("handshake with %s", deviceID), err)
	}

	return m.startSession(conn, deviceID)
}

// SendPacket delivers a packet over the device's live session.
func (m *Manager) SendPacket(deviceID string, pkt *protocol.Packet) error {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		return cerr.Newf(cerr.CodeNotConnected, "no session with %s", deviceID)
	}
	return s.send(pkt)
}

// Disconnect closes the device's session if one exists.
func (m *Manager) Disconnect(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if ok {
		s.close(nil)
	}
}

// ConnectedDevices lists device ids with a live session.
func (m *Manager) ConnectedDevices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) acceptLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		raw, err := m.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("accept failed", logger.KeyError, err)
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.handleInbound(raw)
		}()
	}
}

// handleInbound wraps an accepted socket in a TLS server session. The peer
// is identified only after its identity packet, so trust is enforced there
// rather than during the handshake.
func (m *Manager) handleInbound(raw net.Conn) {
	conn := tls.Server(raw, m.certs.ServerTLSConfig(nil))
	conn.SetDeadline(time.Now().Add(DialTimeout))
	err := conn.Handshake()
	conn.SetDeadline(time.Time{})
	if err != nil {
		logger.Debug("inbound handshake failed",
			logger.KeyRemoteAddr, raw.RemoteAddr().String(), logger.KeyError, err)
		raw.Close()
		return
	}
	if err := m.startSession(conn, ""); err != nil {
		logger.Debug("inbound session rejected",
			logger.KeyRemoteAddr, raw.RemoteAddr().String(), logger.KeyError, err)
	}
}

// startSession performs the identity exchange and registers the session.
// expectID is set for outbound sessions, empty for inbound ones.
func (m *Manager) startSession(conn *tls.Conn, expectID string) error {
	s := &session{
		mgr:    m,
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		done:   make(chan struct{}),
	}
	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) > 0 {
		s.peerCert = peerCerts[0].Raw
	}

	if err := s.send(m.identityPacket()); err != nil {
		conn.Close()
		return err
	}

	conn.SetReadDeadline(time.Now().Add(IdentityTimeout))
	info, err := s.readIdentity()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return err
	}
	if expectID != "" && info.DeviceID != expectID {
		conn.Close()
		return cerr.Newf(cerr.CodeUntrustedPeer,
			"dialed %s but peer identified as %s", expectID, info.DeviceID)
	}
	if err := m.admit(info.DeviceID, s.peerCert); err != nil {
		conn.Close()
		return err
	}
	s.deviceID = info.DeviceID
	s.info = info

	m.mu.Lock()
	if old, ok := m.sessions[s.deviceID]; ok {
		// Replace a stale session; its close emits the matching Disconnected.
		m.mu.Unlock()
		old.close(nil)
		m.mu.Lock()
	}
	m.sessions[s.deviceID] = s
	m.mu.Unlock()

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	m.registry.MarkConnected(s.deviceID, conn.RemoteAddr().String()) //nolint:errcheck
	m.registry.SetCapabilities(s.deviceID, info.IncomingCaps, info.OutgoingCaps) //nolint:errcheck

	logger.Info("session established",
		logger.KeyDeviceID, s.deviceID,
		logger.KeyDeviceName, info.Name,
		logger.KeyRemoteAddr, host)

	s.connectedOnce = true
	m.publish(Event{Kind: EventConnected, DeviceID: s.deviceID, Info: info})

	m.wg.Add(2)
	go func() { defer m.wg.Done(); s.readLoop() }()
	go func() { defer m.wg.Done(); s.keepAliveLoop() }()
	return nil
}

// admit enforces the pinning policy for a freshly identified peer: a paired
// device must present the stored fingerprint; an unpaired one is allowed in
// so it can carry pair packets.
func (m *Manager) admit(deviceID string, peerCert []byte) error {
	rec, err := m.registry.Get(deviceID)
	if err != nil {
		return nil // first contact over TCP, not yet discovered
	}
	if rec.PairingStatus != registry.PairingPaired {
		return nil
	}
	fp, err := certstore.FingerprintDER(peerCert)
	if err != nil {
		return cerr.Wrap(cerr.CodeUntrustedPeer, "fingerprinting peer certificate", err)
	}
	if fp != rec.CertificateFingerprint {
		return cerr.Newf(cerr.CodeUntrustedPeer,
			"fingerprint %s does not match pinned %s for %s", fp, rec.CertificateFingerprint, deviceID)
	}
	return nil
}

func (m *Manager) identityPacket() *protocol.Packet {
	return protocol.MustNew(protocol.TypeIdentity, m.identity())
}

func (m *Manager) removeSession(s *session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.deviceID]; ok && cur == s {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()
}

// publish delivers an event, blocking when the channel is full so per
// session ordering survives a slow consumer.
func (m *Manager) publish(ev Event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.events <- ev
}

func verifyFailed(err error) bool {
	var cbErr *tls.CertificateVerificationError
	if errors.As(err, &cbErr) {
		return true
	}
	return cerr.HasCode(err, cerr.CodeUntrustedPeer)
}

// session is one live TLS control connection.
type session struct {
	mgr      *Manager
	conn     *tls.Conn
	deviceID string
	info     *protocol.DeviceInfo
	peerCert []byte

	reader *protocol.Reader

	writeMu sync.Mutex
	writer  *protocol.Writer

	lastRead      atomicTime
	connectedOnce bool
	closeOnce     sync.Once
	done          chan struct{}
}

func (s *session) send(pkt *protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.writer.Write(pkt); err != nil {
		return cerr.Wrap(cerr.CodeNotConnected, "writing packet", err)
	}
	return nil
}

func (s *session) readIdentity() (*protocol.DeviceInfo, error) {
	pkt, err := s.reader.Read()
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeMalformedPacket, "reading identity packet", err)
	}
	if pkt.Type != protocol.TypeIdentity {
		return nil, cerr.Newf(cerr.CodeMalformedPacket,
			"expected identity packet, got %s", pkt.Type)
	}
	var info protocol.DeviceInfo
	if err := pkt.DecodeBody(&info); err != nil {
		return nil, cerr.Wrap(cerr.CodeMalformedPacket, "decoding identity body", err)
	}
	if info.DeviceID == "" {
		return nil, cerr.New(cerr.CodeMalformedPacket, "identity without device id")
	}
	return &info, nil
}

func (s *session) readLoop() {
	s.lastRead.set(time.Now())
	for {
		pkt, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.close(nil)
			} else {
				s.close(err)
			}
			return
		}
		s.lastRead.set(time.Now())
		s.dispatch(pkt)
	}
}

func (s *session) dispatch(pkt *protocol.Packet) {
	switch pkt.Type {
	case protocol.TypeIdentity:
		// Keep-alive or capability refresh.
		var info protocol.DeviceInfo
		if err := pkt.DecodeBody(&info); err != nil || info.DeviceID == "" {
			return
		}
		s.mgr.registry.SetLastSeen(s.deviceID, time.Now())                               //nolint:errcheck
		s.mgr.registry.SetCapabilities(s.deviceID, info.IncomingCaps, info.OutgoingCaps) //nolint:errcheck
	case protocol.TypePair:
		s.mgr.pairMu.RLock()
		h := s.mgr.pairing
		s.mgr.pairMu.RUnlock()
		if h == nil {
			logger.Warn("pair packet with no pairing service", logger.KeyDeviceID, s.deviceID)
			return
		}
		if err := h.HandlePacket(pkt, s.info, s.peerCert); err != nil {
			logger.Warn("pair packet handling failed",
				logger.KeyDeviceID, s.deviceID, logger.KeyError, err)
		}
	default:
		s.mgr.publish(Event{Kind: EventPacketReceived, DeviceID: s.deviceID, Packet: pkt})
	}
}

func (s *session) keepAliveLoop() {
	ticker := time.NewTicker(s.mgr.cfg.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if time.Since(s.lastRead.get()) > s.mgr.cfg.idle {
			s.close(cerr.Newf(cerr.CodeIdle, "no traffic from %s in %s", s.deviceID, s.mgr.cfg.idle))
			return
		}
		if err := s.send(s.mgr.identityPacket()); err != nil {
			s.close(nil)
			return
		}
	}
}

// close tears the session down exactly once, emitting a single Disconnected
// for the session's Connected.
func (s *session) close(cause error) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		s.mgr.removeSession(s)
		if !s.connectedOnce {
			return
		}
		s.mgr.registry.MarkDisconnected(s.deviceID) //nolint:errcheck
		if cause != nil {
			logger.Info("session closed",
				logger.KeyDeviceID, s.deviceID, logger.KeyError, cause)
		} else {
			logger.Info("session closed", logger.KeyDeviceID, s.deviceID)
		}
		s.mgr.publish(Event{Kind: EventDisconnected, DeviceID: s.deviceID, Err: cause})
	})
}

// atomicTime is a lock-free timestamp cell for the idle check.
type atomicTime struct {
	ns atomic.Int64
}

func (a *atomicTime) set(t time.Time) {
	a.ns.Store(t.UnixNano())
}

func (a *atomicTime) get() time.Time {
	return time.Unix(0, a.ns.Load())
}
