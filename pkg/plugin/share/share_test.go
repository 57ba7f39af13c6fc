package share

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/olafkfreund/cconnect/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	sent []*protocol.Packet
}

func (c *captureSender) SendPacket(_ string, pkt *protocol.Packet) error {
	c.sent = append(c.sent, pkt)
	return nil
}

type fakeClipboard struct{ content string }

func (c *fakeClipboard) Get() (string, error) { return c.content, nil }
func (c *fakeClipboard) Set(s string) error   { c.content = s; return nil }

type fakeOpener struct{ opened []string }

func (o *fakeOpener) Open(url string) error {
	o.opened = append(o.opened, url)
	return nil
}

type side struct {
	plugin    *Plugin
	sender    *captureSender
	transfers *transfer.Manager
	downloads string
	clipboard *fakeClipboard
	opener    *fakeOpener
}

// newSide builds one share plugin whose peer is peerID, with the peer's
// address pre-seeded in the registry.
func newSide(t *testing.T, localID, peerID string) *side {
	t.Helper()
	dir := t.TempDir()
	certs, err := certstore.Load(dir, localID)
	require.NoError(t, err)
	reg, err := registry.Load(dir)
	require.NoError(t, err)
	reg.UpsertFromDiscovery(&protocol.DeviceInfo{DeviceID: peerID, Name: peerID}, "127.0.0.1", 1716)

	tm := transfer.NewManager()
	t.Cleanup(tm.Close)
	clip := &fakeClipboard{}
	opener := &fakeOpener{}
	downloads := filepath.Join(dir, "downloads")

	s := &side{
		sender:    &captureSender{},
		transfers: tm,
		downloads: downloads,
		clipboard: clip,
		opener:    opener,
	}
	f := &Factory{Deps: Deps{
		Certs:        certs,
		Registry:     reg,
		Transfers:    tm,
		DownloadsDir: downloads,
		Clipboard:    clip,
		Opener:       opener,
	}}
	rec, err := reg.Get(peerID)
	require.NoError(t, err)
	p := f.Create().(*Plugin)
	require.NoError(t, p.Init(rec, s.sender))
	s.plugin = p
	return s
}

func waitComplete(t *testing.T, tm *transfer.Manager) transfer.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-tm.Events():
			if ev.Kind == transfer.EventComplete {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for transfer completion")
		}
	}
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileShareRoundTrip(t *testing.T) {
	sender := newSide(t, "device-a", "device-b")
	receiver := newSide(t, "device-b", "device-a")

	src := writeFile(t, t.TempDir(), "report.pdf", 300_000)

	id, err := sender.plugin.SendFile(src)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, sender.sender.sent, 1)

	pkt := sender.sender.sent[0]
	assert.Equal(t, protocol.TypeShareRequest, pkt.Type)
	require.True(t, pkt.HasPayload())

	require.NoError(t, receiver.plugin.HandlePacket(pkt))

	sendDone := waitComplete(t, sender.transfers)
	recvDone := waitComplete(t, receiver.transfers)
	assert.True(t, sendDone.Success)
	assert.True(t, recvDone.Success)
	assert.Equal(t, transfer.Sending, sendDone.Direction)
	assert.Equal(t, transfer.Receiving, recvDone.Direction)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(receiver.downloads, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileShareCancellation(t *testing.T) {
	sender := newSide(t, "device-a", "device-b")
	receiver := newSide(t, "device-b", "device-a")

	src := writeFile(t, t.TempDir(), "big.bin", 8<<20)

	id, err := sender.plugin.SendFile(src)
	require.NoError(t, err)
	require.NoError(t, receiver.plugin.HandlePacket(sender.sender.sent[0]))

	// Cancel once the transfer shows progress.
	deadline := time.After(5 * time.Second)
	for cancelled := false; !cancelled; {
		select {
		case ev := <-sender.transfers.Events():
			if ev.Kind == transfer.EventProgress && ev.Done > 0 {
				require.True(t, sender.transfers.Cancel(id))
				cancelled = true
			}
		case <-deadline:
			t.Fatal("no progress observed")
		}
	}

	sendDone := waitComplete(t, sender.transfers)
	assert.False(t, sendDone.Success)
	assert.Equal(t, "cancelled", sendDone.Error)

	recvDone := waitComplete(t, receiver.transfers)
	assert.False(t, recvDone.Success)

	// The partial download never survives.
	_, err = os.Stat(filepath.Join(receiver.downloads, "big.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadNameCollision(t *testing.T) {
	sender := newSide(t, "device-a", "device-b")
	receiver := newSide(t, "device-b", "device-a")

	require.NoError(t, os.MkdirAll(receiver.downloads, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(receiver.downloads, "x.bin"), []byte("old"), 0o644))

	src := writeFile(t, t.TempDir(), "x.bin", 1024)
	_, err := sender.plugin.SendFile(src)
	require.NoError(t, err)
	require.NoError(t, receiver.plugin.HandlePacket(sender.sender.sent[0]))

	waitComplete(t, sender.transfers)
	done := waitComplete(t, receiver.transfers)
	require.True(t, done.Success)
	assert.Equal(t, "x (1).bin", done.Filename)

	old, err := os.ReadFile(filepath.Join(receiver.downloads, "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))

	got, err := os.ReadFile(filepath.Join(receiver.downloads, "x (1).bin"))
	require.NoError(t, err)
	assert.Len(t, got, 1024)
}

func TestTextGoesToClipboard(t *testing.T) {
	receiver := newSide(t, "device-b", "device-a")
	pkt := protocol.MustNew(protocol.TypeShareRequest, RequestBody{Text: "shared text"})
	require.NoError(t, receiver.plugin.HandlePacket(pkt))
	assert.Equal(t, "shared text", receiver.clipboard.content)
}

func TestURLGoesToOpener(t *testing.T) {
	receiver := newSide(t, "device-b", "device-a")

	pkt := protocol.MustNew(protocol.TypeShareRequest, RequestBody{URL: "https://example.com"})
	require.NoError(t, receiver.plugin.HandlePacket(pkt))
	assert.Equal(t, []string{"https://example.com"}, receiver.opener.opened)

	bad := protocol.MustNew(protocol.TypeShareRequest, RequestBody{URL: "file:///etc/passwd"})
	assert.Error(t, receiver.plugin.HandlePacket(bad))
	assert.Len(t, receiver.opener.opened, 1)
}

func TestShareCommands(t *testing.T) {
	sender := newSide(t, "device-a", "device-b")

	require.NoError(t, sender.plugin.HandleCommand(plugin.Command{
		Verb: "text", Args: map[string]any{"text": "hi"},
	}))
	require.Len(t, sender.sender.sent, 1)
	var body RequestBody
	require.NoError(t, sender.sender.sent[0].DecodeBody(&body))
	assert.Equal(t, "hi", body.Text)

	err := sender.plugin.HandleCommand(plugin.Command{
		Verb: "url", Args: map[string]any{"url": "javascript:alert(1)"},
	})
	assert.Error(t, err)
}
