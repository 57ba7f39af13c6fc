// Package discovery announces our identity over UDP broadcast and learns
// about peers from theirs. Discovery only populates the device registry; it
// never opens a TLS connection itself. The daemon waits for the peer to
// connect, or for an explicit user pair request, to avoid symmetric
// reconnect storms.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// EventKind identifies a discovery event.
type EventKind int

const (
	ServiceStarted EventKind = iota
	DeviceDiscovered
	DeviceUpdated
	DeviceTimeout
	ServiceError
)

// Event is published on the discovery event stream.
type Event struct {
	Kind     EventKind
	Info     *protocol.DeviceInfo // Discovered/Updated
	Address  string               // source address of the datagram
	DeviceID string               // Timeout
	Port     int                  // ServiceStarted
	Message  string               // ServiceError
}

// Config controls the discovery service.
type Config struct {
	// Port is the well-known UDP port, also used as the source port so
	// peers can reach our TCP listener on the same number.
	Port int

	// BindAddress restricts the socket; empty binds all interfaces.
	BindAddress string

	// BroadcastAddress receives our announcements. Defaults to the limited
	// broadcast address.
	BroadcastAddress string

	// Interval between identity broadcasts.
	Interval time.Duration

	// DeviceTimeout ages out devices unseen for longer than this.
	DeviceTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.Port < 0 {
		// Negative means "any free port"; used by tests.
		c.Port = 0
	}
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = "255.255.255.255"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = 30 * time.Second
	}
}

// Service is the UDP discovery loop pair (announce + receive) plus the
// timeout sweep.
type Service struct {
	cfg      Config
	reg      *registry.Registry
	identity func() *protocol.DeviceInfo

	conn   *net.UDPConn
	events chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// timedOut remembers which devices already produced a DeviceTimeout so
	// the sweep emits it once per staleness, not once per tick.
	timedOutMu sync.Mutex
	timedOut   map[string]bool

	stopOnce sync.Once
}

// New creates a discovery service. identity is called per announcement so
// capability and name changes propagate without a restart.
func New(cfg Config, reg *registry.Registry, identity func() *protocol.DeviceInfo) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:      cfg,
		reg:      reg,
		identity: identity,
		events:   make(chan Event, 64),
		timedOut: make(map[string]bool),
	}
}

// Events returns the discovery event stream.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Port returns the bound UDP port. Valid after Start.
func (s *Service) Port() int {
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start binds the socket and launches the announce, receive, and sweep
// loops. It returns once the socket is bound.
func (s *Service) Start(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				if sockErr == nil {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding discovery socket: %w", err)
	}
	s.conn = pc.(*net.UDPConn)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go s.announceLoop(runCtx)
	go s.receiveLoop(runCtx)
	go s.sweepLoop(runCtx)

	port := s.Port()
	logger.Info("Discovery service started", logger.KeyPort, port, "interval", s.cfg.Interval)
	s.publish(Event{Kind: ServiceStarted, Port: port})
	return nil
}

// Stop terminates the loops and closes the socket and event stream.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			s.conn.Close()
		}
		s.wg.Wait()
		close(s.events)
		logger.Info("Discovery service stopped")
	})
}

// Announce sends one identity datagram to the broadcast address immediately,
// outside the regular interval.
func (s *Service) Announce() {
	s.sendIdentity(fmt.Sprintf("%s:%d", s.cfg.BroadcastAddress, s.cfg.Port))
}

// AnnounceTo sends one identity datagram to a specific peer address. Used
// for targeted refresh (test-connectivity).
func (s *Service) AnnounceTo(addr string) {
	s.sendIdentity(addr)
}

func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Announce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Announce()
		}
	}
}

func (s *Service) sendIdentity(addr string) {
	info := s.identity()
	pkt, err := protocol.NewIdentityPacket(info)
	if err != nil {
		s.publish(Event{Kind: ServiceError, Message: err.Error()})
		return
	}
	data, err := protocol.Marshal(pkt)
	if err != nil {
		s.publish(Event{Kind: ServiceError, Message: err.Error()})
		return
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		s.publish(Event{Kind: ServiceError, Message: err.Error()})
		return
	}
	if _, err := s.conn.WriteToUDP(data, udpAddr); err != nil {
		logger.Debug("Identity broadcast failed", logger.KeyError, err)
	}
}

func (s *Service) receiveLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, 64*1024)
	ourID := s.identity().DeviceID

	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.publish(Event{Kind: ServiceError, Message: err.Error()})
			return
		}

		pkt, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			// Malformed datagrams are logged and dropped; never fatal.
			logger.Debug("Dropping malformed discovery datagram",
				logger.KeyRemoteAddr, src.String(), logger.KeyError, err)
			continue
		}
		info, err := protocol.ParseIdentity(pkt)
		if err != nil {
			logger.Debug("Dropping non-identity discovery datagram",
				logger.KeyRemoteAddr, src.String(), logger.KeyError, err)
			continue
		}
		if info.DeviceID == ourID {
			continue
		}

		port := info.ListenPort
		if port == 0 {
			port = src.Port
		}

		_, created := s.reg.UpsertFromDiscovery(info, src.IP.String(), port)

		s.timedOutMu.Lock()
		delete(s.timedOut, info.DeviceID)
		s.timedOutMu.Unlock()

		kind := DeviceUpdated
		if created {
			kind = DeviceDiscovered
			logger.Info("Device discovered",
				logger.KeyDeviceID, info.DeviceID,
				logger.KeyDeviceName, info.Name,
				logger.KeyRemoteAddr, src.String())
		}
		s.publish(Event{Kind: kind, Info: info, Address: src.String()})
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.reg.StaleDevices(s.cfg.DeviceTimeout) {
				s.timedOutMu.Lock()
				seen := s.timedOut[id]
				s.timedOut[id] = true
				s.timedOutMu.Unlock()
				if seen {
					continue
				}
				logger.Debug("Device timed out", logger.KeyDeviceID, id)
				s.publish(Event{Kind: DeviceTimeout, DeviceID: id})
			}
		}
	}
}

// publish drops events under backpressure rather than stalling the socket
// loops.
func (s *Service) publish(e Event) {
	select {
	case s.events <- e:
	default:
	}
}
