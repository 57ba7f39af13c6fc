package discovery

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localIdentity(id string) func() *protocol.DeviceInfo {
	return func() *protocol.DeviceInfo {
		return &protocol.DeviceInfo{
			DeviceID:        id,
			Name:            "Test " + id,
			Type:            protocol.DeviceTypeDesktop,
			ProtocolVersion: protocol.ProtocolVersion,
			ListenPort:      protocol.DefaultPort,
			IncomingCaps:    []string{"cconnect.ping"},
			OutgoingCaps:    []string{"cconnect.ping"},
		}
	}
}

// startService binds a service on an ephemeral loopback port so tests never
// touch the real broadcast domain.
func startService(t *testing.T, reg *registry.Registry, cfg Config) *Service {
	t.Helper()
	cfg.BindAddress = "127.0.0.1"
	if cfg.BroadcastAddress == "" {
		cfg.BroadcastAddress = "127.0.0.1"
	}
	svc := New(cfg, reg, localIdentity("A"))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)
	return svc
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for kind %d", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func sendDatagram(t *testing.T, to int, data []byte) {
	t.Helper()
	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(to)))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestServiceStartedEvent(t *testing.T) {
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	svc := startService(t, reg, Config{Port: -1, Interval: time.Hour})

	e := waitEvent(t, svc.Events(), ServiceStarted, time.Second)
	assert.Equal(t, svc.Port(), e.Port)
}

func TestPeerDatagramPopulatesRegistry(t *testing.T) {
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	svc := startService(t, reg, Config{Port: -1, Interval: time.Hour})

	peer := localIdentity("B")()
	peer.Name = "Pixel"
	pkt, err := protocol.NewIdentityPacket(peer)
	require.NoError(t, err)
	data, err := protocol.Marshal(pkt)
	require.NoError(t, err)

	sendDatagram(t, svc.Port(), data)

	e := waitEvent(t, svc.Events(), DeviceDiscovered, 2*time.Second)
	assert.Equal(t, "B", e.Info.DeviceID)

	rec, err := reg.Get("B")
	require.NoError(t, err)
	assert.Equal(t, "Pixel", rec.Info.Name)
	assert.Equal(t, registry.StateDisconnected, rec.ConnectionState)
	assert.Equal(t, registry.PairingUnpaired, rec.PairingStatus)
	assert.InDelta(t, time.Now().Unix(), rec.LastSeen, 2)

	// A second announcement is an update, not a new record.
	sendDatagram(t, svc.Port(), data)
	waitEvent(t, svc.Events(), DeviceUpdated, 2*time.Second)
	assert.Equal(t, 1, reg.Count())
}

func TestOwnDatagramIgnored(t *testing.T) {
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	svc := startService(t, reg, Config{Port: -1, Interval: time.Hour})

	pkt, err := protocol.NewIdentityPacket(localIdentity("A")())
	require.NoError(t, err)
	data, err := protocol.Marshal(pkt)
	require.NoError(t, err)
	sendDatagram(t, svc.Port(), data)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, reg.Count())
}

func TestMalformedDatagramDropped(t *testing.T) {
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	svc := startService(t, reg, Config{Port: -1, Interval: time.Hour})

	sendDatagram(t, svc.Port(), []byte("{garbage"))

	// The service stays up; a valid datagram still lands afterwards.
	pkt, err := protocol.NewIdentityPacket(localIdentity("B")())
	require.NoError(t, err)
	data, err := protocol.Marshal(pkt)
	require.NoError(t, err)
	sendDatagram(t, svc.Port(), data)

	waitEvent(t, svc.Events(), DeviceDiscovered, 2*time.Second)
	assert.Equal(t, 1, reg.Count())
}

func TestAnnounceReachesPeer(t *testing.T) {
	// A raw listener stands in for the broadcast domain.
	peerConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peerConn.Close()
	peerPort := peerConn.LocalAddr().(*net.UDPAddr).Port

	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)
	cfg := Config{Port: -1, Interval: time.Hour, BroadcastAddress: "127.0.0.1"}
	svc := New(cfg, reg, localIdentity("A"))
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	svc.AnnounceTo(net.JoinHostPort("127.0.0.1", strconv.Itoa(peerPort)))

	require.NoError(t, peerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64*1024)
	n, _, err := peerConn.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := protocol.Unmarshal(buf[:n])
	require.NoError(t, err)
	info, err := protocol.ParseIdentity(pkt)
	require.NoError(t, err)
	assert.Equal(t, "A", info.DeviceID)
}

func TestDeviceTimeoutEmittedOnce(t *testing.T) {
	reg, err := registry.Load(t.TempDir())
	require.NoError(t, err)

	info := localIdentity("B")()
	reg.UpsertFromDiscovery(info, "127.0.0.1", 1716)
	require.NoError(t, reg.SetLastSeen("B", time.Now().Add(-time.Minute)))

	svc := startService(t, reg, Config{
		Port:          -1,
		Interval:      20 * time.Millisecond,
		DeviceTimeout: time.Second,
	})

	waitEvent(t, svc.Events(), DeviceTimeout, 2*time.Second)

	// No second timeout for the same staleness.
	select {
	case e := <-svc.Events():
		if e.Kind == DeviceTimeout {
			t.Fatal("DeviceTimeout emitted twice for one staleness")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
