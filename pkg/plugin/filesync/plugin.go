package filesync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/certstore"
	"github.com/olafkfreund/cconnect/pkg/payload"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
	"github.com/olafkfreund/cconnect/pkg/transfer"
)

var capabilities = []string{
	protocol.TypeFileSyncConfig,
	protocol.TypeFileSyncIndex,
	protocol.TypeFileSyncRequest,
	protocol.TypeFileSyncTransfer,
	protocol.TypeFileSyncDelete,
	protocol.TypeFileSyncConflict,
}

// Deps are the filesync plugin's collaborators.
type Deps struct {
	Certs     *certstore.Store
	Registry  *registry.Registry
	Transfers *transfer.Manager
	// DataDir roots the per-device folder configuration.
	DataDir string
	// Watch disables filesystem watching when false, for callers that
	// drive syncs explicitly.
	Watch bool
}

// Factory builds per-device filesync instances.
type Factory struct {
	Deps Deps
}

func (f *Factory) Name() string                   { return "filesync" }
func (f *Factory) IncomingCapabilities() []string { return capabilities }
func (f *Factory) OutgoingCapabilities() []string { return capabilities }

func (f *Factory) Create() plugin.Plugin {
	return &Plugin{deps: f.Deps}
}

// Plugin synchronizes the configured folders with one device.
type Plugin struct {
	deps     Deps
	deviceID string
	sender   plugin.Sender
	store    *Store

	mu        sync.Mutex
	watchers  map[string]*watcher
	conflicts []FileConflict
}

func (p *Plugin) Name() string                   { return "filesync" }
func (p *Plugin) IncomingCapabilities() []string { return capabilities }
func (p *Plugin) OutgoingCapabilities() []string { return capabilities }

func (p *Plugin) Init(device *registry.Record, sender plugin.Sender) error {
	p.deviceID = device.Info.DeviceID
	p.sender = sender
	p.watchers = make(map[string]*watcher)
	store, err := OpenStore(p.deps.DataDir, p.deviceID)
	if err != nil {
		return err
	}
	p.store = store
	return nil
}

// Start announces our index for every enabled folder and begins watching
// their trees.
func (p *Plugin) Start() error {
	for _, folder := range p.store.Folders() {
		if !folder.Enabled {
			continue
		}
		if err := p.SyncNow(folder.FolderID); err != nil {
			logger.Warn("initial folder sync failed",
				logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, folder.FolderID,
				logger.KeyError, err)
		}
		p.watchFolder(folder)
	}
	return nil
}

func (p *Plugin) Stop() error {
	p.mu.Lock()
	watchers := p.watchers
	p.watchers = make(map[string]*watcher)
	p.mu.Unlock()
	for _, w := range watchers {
		w.stop()
	}
	return nil
}

// Folders exposes the device's folder configuration.
func (p *Plugin) Folders() []*SyncFolder {
	return p.store.Folders()
}

// Configure inserts or updates a folder locally, announces it to the peer,
// and starts a sync.
func (p *Plugin) Configure(folder *SyncFolder) error {
	if err := p.store.Put(folder); err != nil {
		return err
	}
	pkt, err := protocol.New(protocol.TypeFileSyncConfig, ConfigBody{Folder: shared(folder)})
	if err != nil {
		return err
	}
	if err := p.sender.SendPacket(p.deviceID, pkt); err != nil {
		return err
	}
	p.stopWatcher(folder.FolderID)
	if folder.Enabled {
		p.watchFolder(folder)
		return p.SyncNow(folder.FolderID)
	}
	return nil
}

// RemoveFolder drops a folder locally and tells the peer.
func (p *Plugin) RemoveFolder(folderID string) error {
	if err := p.store.Remove(folderID); err != nil {
		return err
	}
	p.stopWatcher(folderID)
	pkt, err := protocol.New(protocol.TypeFileSyncConfig, ConfigBody{
		Folder: SyncFolder{FolderID: folderID},
		Remove: true,
	})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

// SyncNow indexes a folder and sends the snapshot to the peer, which will
// answer with requests for whatever it is missing.
func (p *Plugin) SyncNow(folderID string) error {
	folder, ok := p.store.Folder(folderID)
	if !ok {
		return cerr.Newf(cerr.CodeInvalidArgument, "no folder %q", folderID)
	}
	idx, err := BuildIndex(folder)
	if err != nil {
		return err
	}
	pkt, err := protocol.New(protocol.TypeFileSyncIndex, idx)
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

// PendingConflicts lists conflicts waiting for manual resolution.
func (p *Plugin) PendingConflicts() []FileConflict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FileConflict(nil), p.conflicts...)
}

// ResolveConflict applies a strategy to one pending conflict.
func (p *Plugin) ResolveConflict(folderID, path string, strategy ConflictStrategy) error {
	p.mu.Lock()
	var found *FileConflict
	rest := p.conflicts[:0]
	for i := range p.conflicts {
		c := p.conflicts[i]
		if c.FolderID == folderID && c.RelativePath == path {
			found = &c
			continue
		}
		rest = append(rest, c)
	}
	p.conflicts = rest
	p.mu.Unlock()

	if found == nil {
		return cerr.Newf(cerr.CodeInvalidArgument, "no pending conflict for %s/%s", folderID, path)
	}
	folder, ok := p.store.Folder(folderID)
	if !ok {
		return cerr.Newf(cerr.CodeInvalidArgument, "no folder %q", folderID)
	}
	action := Resolve(strategy, Action{
		Kind: ActionConflict, Path: path,
		Local: &found.Local, Remote: &found.Remote,
	}, found.TimestampMs)
	return p.apply(folder, action, strategy)
}

func (p *Plugin) HandlePacket(pkt *protocol.Packet) error {
	switch pkt.Type {
	case protocol.TypeFileSyncConfig:
		return p.handleConfig(pkt)
	case protocol.TypeFileSyncIndex:
		return p.handleIndex(pkt)
	case protocol.TypeFileSyncRequest:
		return p.handleRequest(pkt)
	case protocol.TypeFileSyncTransfer:
		return p.handleTransfer(pkt)
	case protocol.TypeFileSyncDelete:
		return p.handleDelete(pkt)
	case protocol.TypeFileSyncConflict:
		return p.handleConflict(pkt)
	}
	return cerr.Newf(cerr.CodeMalformedPacket, "unexpected packet type %s", pkt.Type)
}

// HandleCommand drives syncs from the RPC surface. Verbs: "sync"
// {folderId}, "resolve" {folderId, path, strategy}.
func (p *Plugin) HandleCommand(cmd plugin.Command) error {
	switch cmd.Verb {
	case "sync":
		folderID, _ := cmd.Args["folderId"].(string)
		return p.SyncNow(folderID)
	case "resolve":
		folderID, _ := cmd.Args["folderId"].(string)
		path, _ := cmd.Args["path"].(string)
		name, _ := cmd.Args["strategy"].(string)
		strategy, err := ParseConflictStrategy(name)
		if err != nil {
			return cerr.Wrap(cerr.CodeInvalidArgument, "parsing strategy", err)
		}
		return p.ResolveConflict(folderID, path, strategy)
	}
	return cerr.Newf(cerr.CodeInvalidArgument, "unknown filesync command %q", cmd.Verb)
}

// handleConfig merges peer-driven changes into a folder we already have.
// The local path never travels, so an unknown folder cannot be created
// remotely; it is logged for the user to configure.
func (p *Plugin) handleConfig(pkt *protocol.Packet) error {
	var body ConfigBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	if body.Remove {
		if _, ok := p.store.Folder(body.Folder.FolderID); !ok {
			return nil
		}
		p.stopWatcher(body.Folder.FolderID)
		return p.store.Remove(body.Folder.FolderID)
	}
	existing, ok := p.store.Folder(body.Folder.FolderID)
	if !ok {
		logger.Info("peer offered unconfigured sync folder",
			logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, body.Folder.FolderID)
		return nil
	}
	existing.RemotePath = body.Folder.RemotePath
	existing.Bidirectional = body.Folder.Bidirectional
	existing.IgnorePatterns = body.Folder.IgnorePatterns
	existing.ConflictStrategy = body.Folder.ConflictStrategy
	return p.store.Put(existing)
}

// handleIndex joins the peer's snapshot against ours and acts on the plan.
func (p *Plugin) handleIndex(pkt *protocol.Packet) error {
	var remote SyncIndex
	if err := pkt.DecodeBody(&remote); err != nil {
		return err
	}
	folder, ok := p.store.Folder(remote.FolderID)
	if !ok || !folder.Enabled {
		return nil
	}
	local, err := BuildIndex(folder)
	if err != nil {
		return err
	}

	for _, action := range Plan(folder, local, &remote) {
		if action.Kind == ActionConflict {
			if folder.ConflictStrategy == Manual {
				p.queueConflict(conflictOf(folder.FolderID, action, LastModifiedWins))
				p.notifyConflict(folder.FolderID, action)
				continue
			}
			action = Resolve(folder.ConflictStrategy, action, time.Now().UnixMilli())
		}
		if err := p.apply(folder, action, folder.ConflictStrategy); err != nil {
			logger.Warn("sync action failed",
				logger.KeyDeviceID, p.deviceID,
				logger.KeyFolderID, folder.FolderID,
				logger.KeyPath, action.Path,
				"action", action.Kind.String(),
				logger.KeyError, err)
		}
	}
	return nil
}

func (p *Plugin) apply(folder *SyncFolder, action Action, strategy ConflictStrategy) error {
	switch action.Kind {
	case ActionUpload:
		return p.sendFile(folder, action.Path)
	case ActionDownload:
		if action.KeepLocalAs != "" {
			if err := p.preserveLocal(folder, action.Path, action.KeepLocalAs); err != nil {
				return err
			}
		}
		return p.requestFile(folder.FolderID, action.Path)
	default:
		p.queueConflict(conflictOf(folder.FolderID, action, strategy))
		return nil
	}
}

// preserveLocal moves a file aside under its conflict name so the download
// can take the original path without losing the local copy.
func (p *Plugin) preserveLocal(folder *SyncFolder, rel, alias string) error {
	src, err := resolveInside(folder.LocalPath, rel)
	if err != nil {
		return err
	}
	dst, err := resolveInside(folder.LocalPath, alias)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cerr.Wrap(cerr.CodePayloadIO, "preserving conflicting file", err)
	}
	logger.Info("kept conflicting local copy",
		logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, folder.FolderID,
		logger.KeyPath, alias)
	return nil
}

func (p *Plugin) requestFile(folderID, path string) error {
	pkt, err := protocol.New(protocol.TypeFileSyncRequest, RequestBody{FolderID: folderID, Path: path})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

// handleRequest sends the named file to the peer.
func (p *Plugin) handleRequest(pkt *protocol.Packet) error {
	var body RequestBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	folder, ok := p.store.Folder(body.FolderID)
	if !ok {
		return cerr.Newf(cerr.CodeInvalidArgument, "no folder %q", body.FolderID)
	}
	return p.sendFile(folder, body.Path)
}

// sendFile announces one file with a payload port and streams it.
func (p *Plugin) sendFile(folder *SyncFolder, rel string) error {
	abs, err := resolveInside(folder.LocalPath, rel)
	if err != nil {
		return err
	}
	f, err := os.Open(abs)
	if err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "opening file to sync", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return cerr.Wrap(cerr.CodePayloadIO, "stat of file to sync", err)
	}
	size := st.Size()

	srv, err := payload.NewServer(p.deps.Certs.ServerTLSConfig(p.peerVerifier()))
	if err != nil {
		f.Close()
		return err
	}
	body := TransferBody{
		FolderID: folder.FolderID,
		Path:     rel,
		Meta: FileMetadata{
			RelativePath: rel,
			Size:         size,
			ModifiedMs:   st.ModTime().UnixMilli(),
			Permissions:  uint32(st.Mode().Perm()),
		},
	}
	pkt, err := protocol.New(protocol.TypeFileSyncTransfer, body)
	if err != nil {
		srv.Close()
		f.Close()
		return err
	}
	pkt.WithPayload(size, srv.Port())

	id := p.deps.Transfers.NewID(p.deviceID)
	state := p.deps.Transfers.Register(id, p.deviceID, rel, size, transfer.Sending)
	if err := p.sender.SendPacket(p.deviceID, pkt); err != nil {
		srv.Close()
		f.Close()
		state.Complete(false, err.Error())
		return err
	}

	go func() {
		defer f.Close()
		defer srv.Close()
		err := srv.Serve(context.Background(), f, size, state.Progress, state.Flag())
		completeTransfer(state, err)
	}()
	return nil
}

// handleTransfer fetches an announced file into the folder, staging it
// next to its destination and renaming once complete.
func (p *Plugin) handleTransfer(pkt *protocol.Packet) error {
	var body TransferBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	folder, ok := p.store.Folder(body.FolderID)
	if !ok || !folder.Enabled {
		return nil
	}
	if !pkt.HasPayload() || pkt.PayloadPort() == 0 {
		return cerr.New(cerr.CodeMalformedPacket, "sync transfer without payload port")
	}
	dest, err := resolveInside(folder.LocalPath, body.Path)
	if err != nil {
		return err
	}
	size := *pkt.PayloadSize

	rec, err := p.deps.Registry.Get(p.deviceID)
	if err != nil {
		return err
	}
	if rec.Host == "" {
		return cerr.Newf(cerr.CodeNotConnected, "no known host for %s", p.deviceID)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "creating sync subdirectory", err)
	}
	staging := dest + partialSuffix
	out, err := os.Create(staging)
	if err != nil {
		return cerr.Wrap(cerr.CodePayloadIO, "creating staging file", err)
	}

	id := p.deps.Transfers.NewID(p.deviceID)
	state := p.deps.Transfers.Register(id, p.deviceID, body.Path, size, transfer.Receiving)
	host, port := rec.Host, pkt.PayloadPort()
	folderCopy := *folder

	go func() {
		err := payload.Fetch(context.Background(),
			p.deps.Certs.ClientTLSConfig(p.peerVerifier()),
			host, port, size, out, state.Progress, state.Flag())
		out.Close()
		if err != nil {
			os.Remove(staging)
			completeTransfer(state, err)
			return
		}
		if vErr := keepVersion(&folderCopy, body.Path); vErr != nil {
			logger.Warn("versioning before overwrite failed",
				logger.KeyFolderID, folderCopy.FolderID, logger.KeyPath, body.Path,
				logger.KeyError, vErr)
		}
		if err := os.Rename(staging, dest); err != nil {
			os.Remove(staging)
			completeTransfer(state, cerr.Wrap(cerr.CodePayloadIO, "moving synced file into place", err))
			return
		}
		if body.Meta.ModifiedMs > 0 {
			mt := time.UnixMilli(body.Meta.ModifiedMs)
			os.Chtimes(dest, mt, mt) //nolint:errcheck
		}
		if body.Meta.Permissions != 0 {
			os.Chmod(dest, os.FileMode(body.Meta.Permissions)) //nolint:errcheck
		}
		completeTransfer(state, nil)
	}()
	return nil
}

// handleDelete removes a file the peer deleted, keeping a version first
// when the folder asks for it.
func (p *Plugin) handleDelete(pkt *protocol.Packet) error {
	var body DeleteBody
	if err := pkt.DecodeBody(&body); err != nil {
		return err
	}
	folder, ok := p.store.Folder(body.FolderID)
	if !ok || !folder.Enabled {
		return nil
	}
	abs, err := resolveInside(folder.LocalPath, body.Path)
	if err != nil {
		return err
	}
	if err := keepVersion(folder, body.Path); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return cerr.Wrap(cerr.CodePayloadIO, "deleting synced file", err)
	}
	logger.Info("synced deletion",
		logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, body.FolderID,
		logger.KeyPath, body.Path)
	return nil
}

// SendDelete propagates a local deletion to the peer.
func (p *Plugin) SendDelete(folderID, rel string) error {
	pkt, err := protocol.New(protocol.TypeFileSyncDelete, DeleteBody{FolderID: folderID, Path: rel})
	if err != nil {
		return err
	}
	return p.sender.SendPacket(p.deviceID, pkt)
}

func (p *Plugin) handleConflict(pkt *protocol.Packet) error {
	var c FileConflict
	if err := pkt.DecodeBody(&c); err != nil {
		return err
	}
	p.queueConflict(c)
	return nil
}

func (p *Plugin) notifyConflict(folderID string, action Action) {
	pkt, err := protocol.New(protocol.TypeFileSyncConflict, conflictOf(folderID, action, Manual))
	if err != nil {
		return
	}
	if err := p.sender.SendPacket(p.deviceID, pkt); err != nil {
		logger.Warn("conflict notice not delivered",
			logger.KeyDeviceID, p.deviceID, logger.KeyError, err)
	}
}

func (p *Plugin) queueConflict(c FileConflict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.conflicts {
		if existing.FolderID == c.FolderID && existing.RelativePath == c.RelativePath {
			return
		}
	}
	p.conflicts = append(p.conflicts, c)
}

func (p *Plugin) watchFolder(folder *SyncFolder) {
	if !p.deps.Watch {
		return
	}
	folderID := folder.FolderID
	w, err := newWatcher(folderID, folder.LocalPath, func() {
		if err := p.SyncNow(folderID); err != nil {
			logger.Warn("watch-triggered sync failed",
				logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, folderID,
				logger.KeyError, err)
		}
	})
	if err != nil {
		logger.Warn("starting folder watch failed",
			logger.KeyDeviceID, p.deviceID, logger.KeyFolderID, folderID, logger.KeyError, err)
		return
	}
	p.mu.Lock()
	p.watchers[folderID] = w
	p.mu.Unlock()
}

func (p *Plugin) stopWatcher(folderID string) {
	p.mu.Lock()
	w, ok := p.watchers[folderID]
	delete(p.watchers, folderID)
	p.mu.Unlock()
	if ok {
		w.stop()
	}
}

func (p *Plugin) peerVerifier() certstore.PeerVerifier {
	rec, err := p.deps.Registry.Get(p.deviceID)
	if err != nil || rec.CertificateFingerprint == "" {
		return nil
	}
	return certstore.PinVerifier(rec.CertificateFingerprint)
}

// shared strips the local path before a folder crosses the wire; each side
// keeps its own root private.
func shared(folder *SyncFolder) SyncFolder {
	cp := *folder
	cp.RemotePath = folder.LocalPath
	cp.LocalPath = ""
	return cp
}

func completeTransfer(state *transfer.State, err error) {
	switch {
	case err == nil:
		state.Complete(true, "")
	case cerr.HasCode(err, cerr.CodeCancelled):
		state.Complete(false, "cancelled")
	default:
		state.Complete(false, err.Error())
	}
}
