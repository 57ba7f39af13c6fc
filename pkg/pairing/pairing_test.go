package pairing

import (
	"testing"
	"time"

	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	connected bool
	connects  int
	sent      []*protocol.Packet
}

func (f *fakeSender) Connect(deviceID string) error {
	f.connected = true
	f.connects++
	return nil
}

func (f *fakeSender) SendPacket(deviceID string, pkt *protocol.Packet) error {
	if !f.connected {
		return cerr.Newf(cerr.CodeNotConnected, "no session with %s", deviceID)
	}
	f.sent = append(f.sent, pkt)
	return nil
}

func (f *fakeSender) lastPair(t *testing.T) protocol.PairBody {
	t.Helper()
	require.NotEmpty(t, f.sent)
	pkt := f.sent[len(f.sent)-1]
	require.Equal(t, protocol.TypePair, pkt.Type)
	var body protocol.PairBody
	require.NoError(t, pkt.DecodeBody(&body))
	return body
}

func newService(t *testing.T) (*Service, *registry.Registry, *certstore.Store, *fakeSender) {
	t.Helper()
	dir := t.TempDir()
	certs, err := certstore.Load(dir, "local-device")
	require.NoError(t, err)
	reg, err := registry.Load(dir)
	require.NoError(t, err)
	sender := &fakeSender{connected: true}
	return New(certs, reg, sender), reg, certs, sender
}

func addPeer(t *testing.T, reg *registry.Registry, id string) *certstore.Store {
	t.Helper()
	peerCerts, err := certstore.Load(t.TempDir(), id)
	require.NoError(t, err)
	_, created := reg.UpsertFromDiscovery(&protocol.DeviceInfo{
		DeviceID:        id,
		Name:            "Pixel",
		Type:            protocol.DeviceTypePhone,
		ProtocolVersion: protocol.ProtocolVersion,
		ListenPort:      1716,
	}, "192.0.2.10", 1716)
	require.True(t, created)
	return peerCerts
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event channel closed while waiting")
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestInboundRequestAcceptPersistsTrust(t *testing.T) {
	svc, reg, certs, sender := newService(t)
	peer := addPeer(t, reg, "peer-1")

	pkt := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	info := &protocol.DeviceInfo{DeviceID: "peer-1", Name: "Pixel"}
	require.NoError(t, svc.HandlePacket(pkt, info, peer.CertificateDER()))

	ev := waitEvent(t, svc.Events(), EventRequestReceived)
	assert.Equal(t, "peer-1", ev.DeviceID)
	assert.Equal(t, peer.Fingerprint(), ev.Fingerprint)
	assert.Equal(t, StateRequestedInbound, svc.StateOf("peer-1"))

	require.NoError(t, svc.Accept("peer-1"))
	assert.Equal(t, StatePaired, svc.StateOf("peer-1"))
	assert.True(t, sender.lastPair(t).Pair)

	rec, err := reg.Get("peer-1")
	require.NoError(t, err)
	assert.Equal(t, registry.PairingPaired, rec.PairingStatus)
	assert.True(t, rec.IsTrusted)
	assert.Equal(t, peer.Fingerprint(), rec.CertificateFingerprint)

	fp, err := certs.PeerFingerprint("peer-1")
	require.NoError(t, err)
	assert.Equal(t, peer.Fingerprint(), fp)
}

func TestRejectDiscardsRequest(t *testing.T) {
	svc, reg, certs, sender := newService(t)
	peer := addPeer(t, reg, "peer-1")

	pkt := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	require.NoError(t, svc.HandlePacket(pkt, &protocol.DeviceInfo{DeviceID: "peer-1"}, peer.CertificateDER()))
	require.NoError(t, svc.Reject("peer-1"))

	assert.Equal(t, StateUnpaired, svc.StateOf("peer-1"))
	assert.False(t, sender.lastPair(t).Pair)
	assert.False(t, certs.HasPeerCert("peer-1"))

	rec, err := reg.Get("peer-1")
	require.NoError(t, err)
	assert.Equal(t, registry.PairingUnpaired, rec.PairingStatus)
}

func TestOutboundRequestAnsweredPositively(t *testing.T) {
	svc, reg, _, sender := newService(t)
	peer := addPeer(t, reg, "peer-1")

	// No session yet; the service must open one first.
	sender.connected = false
	require.NoError(t, svc.RequestPair("peer-1"))
	assert.Equal(t, 1, sender.connects)
	assert.Equal(t, StateRequestedOutbound, svc.StateOf("peer-1"))
	waitEvent(t, svc.Events(), EventRequestSent)

	// Peer answers with a positive pair packet.
	pkt := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	require.NoError(t, svc.HandlePacket(pkt, &protocol.DeviceInfo{DeviceID: "peer-1"}, peer.CertificateDER()))

	waitEvent(t, svc.Events(), EventPairingAccepted)
	assert.Equal(t, StatePaired, svc.StateOf("peer-1"))

	rec, err := reg.Get("peer-1")
	require.NoError(t, err)
	assert.Equal(t, registry.PairingPaired, rec.PairingStatus)
}

func TestOutboundRequestRejectedByPeer(t *testing.T) {
	svc, reg, _, _ := newService(t)
	addPeer(t, reg, "peer-1")

	require.NoError(t, svc.RequestPair("peer-1"))
	pkt := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: false})
	require.NoError(t, svc.HandlePacket(pkt, &protocol.DeviceInfo{DeviceID: "peer-1"}, nil))

	ev := waitEvent(t, svc.Events(), EventPairingRejected)
	assert.Equal(t, "rejected by peer", ev.Reason)
	assert.Equal(t, StateUnpaired, svc.StateOf("peer-1"))
}

func TestRequestTimesOut(t *testing.T) {
	svc, reg, _, _ := newService(t)
	addPeer(t, reg, "peer-1")
	svc.timeout = 50 * time.Millisecond

	require.NoError(t, svc.RequestPair("peer-1"))
	waitEvent(t, svc.Events(), EventPairingTimeout)
	assert.Equal(t, StateUnpaired, svc.StateOf("peer-1"))
}

func TestUnpairClearsTrust(t *testing.T) {
	svc, reg, certs, sender := newService(t)
	peer := addPeer(t, reg, "peer-1")

	pkt := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	require.NoError(t, svc.HandlePacket(pkt, &protocol.DeviceInfo{DeviceID: "peer-1"}, peer.CertificateDER()))
	require.NoError(t, svc.Accept("peer-1"))

	require.NoError(t, svc.Unpair("peer-1"))
	assert.Equal(t, StateUnpaired, svc.StateOf("peer-1"))
	assert.False(t, certs.HasPeerCert("peer-1"))
	assert.False(t, sender.lastPair(t).Pair)

	rec, err := reg.Get("peer-1")
	require.NoError(t, err)
	assert.Equal(t, registry.PairingUnpaired, rec.PairingStatus)
	assert.False(t, rec.IsTrusted)
	assert.Empty(t, rec.CertificateFingerprint)
}

func TestPeerDissolvesPairing(t *testing.T) {
	svc, reg, certs, _ := newService(t)
	peer := addPeer(t, reg, "peer-1")

	req := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	require.NoError(t, svc.HandlePacket(req, &protocol.DeviceInfo{DeviceID: "peer-1"}, peer.CertificateDER()))
	require.NoError(t, svc.Accept("peer-1"))

	dissolve := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: false})
	require.NoError(t, svc.HandlePacket(dissolve, &protocol.DeviceInfo{DeviceID: "peer-1"}, nil))

	waitEvent(t, svc.Events(), EventDeviceUnpaired)
	assert.Equal(t, StateUnpaired, svc.StateOf("peer-1"))
	assert.False(t, certs.HasPeerCert("peer-1"))
}

func TestSimultaneousRequestsConverge(t *testing.T) {
	svc, reg, _, sender := newService(t)
	peer := addPeer(t, reg, "peer-1")

	// Peer's request lands first, then the local user also asks to pair.
	req := protocol.MustNew(protocol.TypePair, protocol.PairBody{Pair: true})
	require.NoError(t, svc.HandlePacket(req, &protocol.DeviceInfo{DeviceID: "peer-1"}, peer.CertificateDER()))
	require.NoError(t, svc.RequestPair("peer-1"))

	assert.Equal(t, StatePaired, svc.StateOf("peer-1"))
	assert.True(t, sender.lastPair(t).Pair)
}

func TestAcceptWithoutRequestFails(t *testing.T) {
	svc, reg, _, _ := newService(t)
	addPeer(t, reg, "peer-1")

	err := svc.Accept("peer-1")
	assert.Equal(t, cerr.CodeInvalidArgument, cerr.CodeOf(err))
}
