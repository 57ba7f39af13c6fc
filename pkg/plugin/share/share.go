// Package share implements the file, text and URL share plugin. File
// transfers ride the bulk payload channel announced on the control session;
// text lands on the clipboard and URLs go to the system opener.
package share

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/payload"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/plugin/builtin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/olafkfreund/cconnect/pkg/transfer"
)

// RequestBody is the body of a cconnect.share.request packet. Exactly one
// of Filename (with a payload), Text, or URL is set.
type RequestBody struct {
	Filename     string `json:"filename,omitempty"`
	Text         string `json:"text,omitempty"`
	URL          string `json:"url,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

// Opener hands a URL to the system's default handler.
type Opener interface {
	Open(url string) error
}

// Deps are the share plugin's collaborators. Certs, Registry and Transfers
// are required; Clipboard and Opener are optional.
type Deps struct {
	Certs        *certstore.Store
	Registry     *registry.Registry
	Transfers    *transfer.Manager
	DownloadsDir string
	Clipboard    builtin.Clipboard
	Opener       Opener
}

// Factory builds per-device share plugin instances.
type Factory struct {
	Deps Deps
}

func (f *Factory) Name() string { return "share" }

func (f *Factory) IncomingCapabilities() []string {
	return []string{protocol.TypeShareRequest}
}

func (f *Factory) OutgoingCapabilities() []string {
	return []string{protocol.TypeShareRequest}
}

func (f *Factory) Create() plugin.Plugin {
	return &Plugin{deps: f.Deps}
}

// Plugin is the share instance for one device.
type Plugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
}

func (p *Plugin) Name() string { return "share" }

func (p *Plugin) IncomingCapabilities() []string {
	return []string{protocol.TypeShareRequest}
}

func (p *Plugin) OutgoingCapabilities() []string {
	return []string{protocol.TypeShareRequest}
}

func (p *Plugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	return nil
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

// HandlePacket consumes an inbound share request.
func (p *Plugin) HandlePacket(pkt *protocol.Packet) error {
	var body RequestBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	switch {
	case pkt.HasPayload() && body.Filename != "":
		return p.receiveFile(pkt, body)
	case body.Text != "":
		return p.receiveText(body.Text)
	case body.URL != "":
		return p.receiveURL(body.URL)
	}
	return cerr.New(cerr.CodeMalformedPacket, "share request with no content")
}

// HandleCommand triggers outbound shares. Verbs: "file" {path}, "text"
// {text}, "url" {url}.
func (p *Plugin) HandleCommand(cmd plugin.Command) error {
	switch cmd.Verb {
	case "file":
		path, _ := cmd.Args["path"].(string)
		if path == "" {
			return cerr.New(cerr.CodeInvalidArgument, "share file needs a path")
		}
		_, err := p.SendFile(path)
		return err
	case "text":
		text, _ := cmd.Args["text"].(string)
		return p.sendSimple(RequestBody{Text: text})
	case "url":
		url, _ := cmd.Args["url"].(string)
		if !allowedURL(url) {
			return cerr.Newf(cerr.CodeInvalidArgument, "refusing to share url scheme of %q", url)
		}
		return p.sendSimple(RequestBody{URL: url})
	}
	return cerr.Newf(cerr.CodeInvalidArgument, "unknown share command %q", cmd.Verb)
}

// SendFile announces a file on the control session and streams it to the
// peer over a one-shot payload listener. It returns the transfer id; the
// transfer itself runs in the background and reports through the transfer
// manager.
func (p *Plugin) SendFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", cerr.Wrap(cerr.CodePayloadIO, "opening file to share", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return "", cerr.Wrap(cerr.CodePayloadIO, "stat of file to share", err)
	}
	size := st.Size()

	srv, err := payload.NewServer(p.deps.Certs.ServerTLSConfig(p.peerVerifier()))
	if err != nil {
		f.Close()
		return "", err
	}

	body := RequestBody{
		Filename:     filepath.Base(path),
		LastModified: st.ModTime().UnixMilli(),
	}
	pkt, err := protocol.New(protocol.TypeShareRequest, body)
	if err != nil {
		srv.Close()
		f.Close()
		return "", err
	}
	pkt.WithPayload(size, srv.Port())

	id := p.deps.Transfers.NewID(p.deviceID)
	state := p.deps.Transfers.Register(id, p.deviceID, body.Filename, size, transfer.Sending)

	if err := p.sender.SendPacket(p.deviceID, pkt); err != nil {
		srv.Close()
		f.Close()
		state.Complete(false, err.Error())
		return "", err
	}

	go func() {
		defer f.Close()
		defer srv.Close()
		err := srv.Serve(context.Background(), f, size, state.Progress, state.Flag())
		finish(state, err)
	}()

	logger.Info("file share started",
		logger.KeyDeviceID, p.deviceID,
		logger.KeyTransferID, id,
		logger.KeyPath, path,
		logger.KeySize, size)
	return id, nil
}

func (p *Plugin) receiveFile(pkt *protocol.Packet, body RequestBody) error {
	port := pkt.PayloadPort()
	if port == 0 {
		return cerr.New(cerr.CodeMalformedPacket, "share payload without a port")
	}
	size := *pkt.PayloadSize

	rec, err := p.deps.Registry.Get(p.deviceID)
	if err != nil {
		return err
	}
	if rec.Host == "" {
		return cerr.Newf(cerr.CodeNotConnected, "no known host for %s", p.deviceID)
	}

	if err := os.MkdirAll(p.deps.DownloadsDir, 0o755); err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "creating downloads directory", err)
	}
	dest, err := availableName(p.deps.DownloadsDir, filepath.Base(body.Filename))
	if err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "creating download file", err)
	}

	id := p.deps.Transfers.NewID(p.deviceID)
	state := p.deps.Transfers.Register(id, p.deviceID, filepath.Base(dest), size, transfer.Receiving)

	host := rec.Host
	go func() {
		defer out.Close()
		err := payload.Fetch(context.Background(),
			p.deps.Certs.ClientTLSConfig(p.peerVerifier()),
			host, port, size, out, state.Progress, state.Flag())
		if err != nil {
			os.Remove(dest)
		} else if body.LastModified > 0 {
			mt := time.UnixMilli(body.LastModified)
			os.Chtimes(dest, mt, mt) //nolint:errcheck
		}
		finish(state, err)
	}()

	logger.Info("file share receiving",
		logger.KeyDeviceID, p.deviceID,
		logger.KeyTransferID, id,
		logger.KeyPath, dest,
		logger.KeySize, size)
	return nil
}

func (p *Plugin) receiveText(text string) error {
	if p.deps.Clipboard == nil {
		logger.Info("shared text dropped, no clipboard access", logger.KeyDeviceID, p.deviceID)
		return nil
	}
	return p.deps.Clipboard.Set(text)
}

func (p *Plugin) receiveURL(url string) error {
	if !allowedURL(url) {
		return cerr.Newf(cerr.CodeInvalidArgument, "refusing url scheme of %q", url)
	}
	if p.deps.Opener == nil {
		logger.Info("shared url dropped, no opener", logger.KeyDeviceID, p.deviceID, "url", url)
		return nil
	}
	return p.deps.Opener.Open(url)
}

func (p *Plugin) sendSimple(body RequestBody) error {
	pkt, err := protocol.New(protocol.TypeShareRequest, body)
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

// peerVerifier pins the paired fingerprint for the payload channel. An
// unpaired record yields no pinning, matching the control-session policy.
func (p *Plugin) peerVerifier() certstore.PeerVerifier {
	rec, err := p.deps.Registry.Get(p.deviceID)
	if err != nil || rec.CertificateFingerprint == "" {
		return nil
	}
	return certstore.PinVerifier(rec.CertificateFingerprint)
}

func finish(state *transfer.State, err error) {
	switch {
	case err == nil:
		state.Complete(true, "")
	case cerr.HasCode(err, cerr.CodeCancelled):
		state.Complete(false, "cancelled")
	default:
		state.Complete(false, err.Error())
	}
}

// availableName returns a path in dir for name that does not collide with
// an existing file, appending " (n)" before the extension as needed.
func availableName(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", cerr.Wrap(cerr.CodePayloadIO, "probing download name", err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}

func allowedURL(url string) bool {
	for _, prefix := range []string{"http://", "https://", "tel:", "mailto:"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
