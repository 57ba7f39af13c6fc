package daemon

import (
	"strings"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/api"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/config"
	"github.com/olafkfreund/cconnect/pkg/plugin"
	"github.com/olafkfreund/cconnect/pkg/plugin/filesync"
	"github.com/olafkfreund/cconnect/pkg/protocol"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// Daemon implements api.Backend. Every method snapshots the current
// runtime; during a restart window requests fail with NotConnected rather
// than touching half-torn-down services.

var errRestarting = cerr.New(cerr.CodeNotConnected, "daemon is restarting")

// fileSender is the slice of the share plugin the backend needs.
type fileSender interface {
	SendFile(path string) (string, error)
}

// folderConfigurator is the slice of the filesync plugin the backend needs.
type folderConfigurator interface {
	Folders() []*filesync.SyncFolder
	Configure(folder *filesync.SyncFolder) error
	RemoveFolder(folderID string) error
}

func (d *Daemon) Devices() []*registry.Record {
	rt := d.runtime()
	if rt == nil {
		return nil
	}
	return rt.reg.List()
}

func (d *Daemon) Device(id string) (*registry.Record, error) {
	rt := d.runtime()
	if rt == nil {
		return nil, errRestarting
	}
	return rt.reg.Get(id)
}

func (d *Daemon) RequestPair(id string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.pair.RequestPair(id)
}

func (d *Daemon) Unpair(id string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.pair.Unpair(id)
}

func (d *Daemon) AcceptPairing(id string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.pair.Accept(id)
}

func (d *Daemon) RejectPairing(id string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.pair.Reject(id)
}

// Ping opens a session when none exists so a ping doubles as a
// connectivity probe.
func (d *Daemon) Ping(id, message string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	if err := rt.conns.Connect(id); err != nil {
		return err
	}
	pkt, err := protocol.New(protocol.TypePing, protocol.PingBody{Message: message})
	if err != nil {
		return err
	}
	if err := rt.conns.SendPacket(id, pkt); err != nil {
		return err
	}
	rt.dm.RecordPacketSent(protocol.TypePing)
	return nil
}

func (d *Daemon) ShareFile(id, path string) (string, error) {
	rt := d.runtime()
	if rt == nil {
		return "", errRestarting
	}
	inst, ok := rt.plugins.Instance(id, "share")
	if !ok {
		return "", cerr.Newf(cerr.CodeNotConnected, "share plugin not active for %s", id)
	}
	sender, ok := inst.(fileSender)
	if !ok {
		return "", cerr.New(cerr.CodePluginError, "share plugin cannot send files")
	}
	return sender.SendFile(path)
}

func (d *Daemon) ShareText(id, text string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.plugins.SendCommand(id, "share", plugin.Command{
		Verb: "text",
		Args: map[string]any{"text": text},
	})
}

func (d *Daemon) ShareURL(id, url string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.plugins.SendCommand(id, "share", plugin.Command{
		Verb: "url",
		Args: map[string]any{"url": url},
	})
}

func (d *Daemon) CancelTransfer(transferID string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	if !rt.transfers.Cancel(transferID) {
		return cerr.Newf(cerr.CodeInvalidArgument, "unknown transfer %q", transferID)
	}
	return nil
}

// FilesyncFolders reads the live plugin when the device is connected, and
// the on-disk folder store otherwise. Folder configuration is valid for
// disconnected devices; the peer learns about changes on the next sync.
func (d *Daemon) FilesyncFolders(id string) ([]*filesync.SyncFolder, error) {
	rt := d.runtime()
	if rt == nil {
		return nil, errRestarting
	}
	if fc, ok := d.liveFilesync(rt, id); ok {
		return fc.Folders(), nil
	}
	store, err := d.filesyncStore(rt, id)
	if err != nil {
		return nil, err
	}
	return store.Folders(), nil
}

func (d *Daemon) ConfigureFilesync(id string, folder *filesync.SyncFolder) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	if fc, ok := d.liveFilesync(rt, id); ok {
		return fc.Configure(folder)
	}
	store, err := d.filesyncStore(rt, id)
	if err != nil {
		return err
	}
	return store.Put(folder)
}

func (d *Daemon) RemoveFilesyncFolder(id, folderID string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	if fc, ok := d.liveFilesync(rt, id); ok {
		return fc.RemoveFolder(folderID)
	}
	store, err := d.filesyncStore(rt, id)
	if err != nil {
		return err
	}
	return store.Remove(folderID)
}

func (d *Daemon) liveFilesync(rt *runtime, id string) (folderConfigurator, bool) {
	inst, ok := rt.plugins.Instance(id, "filesync")
	if !ok {
		return nil, false
	}
	fc, ok := inst.(folderConfigurator)
	return fc, ok
}

func (d *Daemon) filesyncStore(rt *runtime, id string) (*filesync.Store, error) {
	if _, err := rt.reg.Get(id); err != nil {
		return nil, err
	}
	return filesync.OpenStore(d.config().Storage.DataDir, id)
}

func (d *Daemon) SetNickname(id, nickname string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.reg.SetNickname(id, nickname)
}

func (d *Daemon) SetPluginEnabled(id, pluginName string, enabled bool) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.plugins.SetDeviceOverride(id, pluginName, enabled)
}

func (d *Daemon) ClearPluginOverride(id, pluginName string) error {
	rt := d.runtime()
	if rt == nil {
		return errRestarting
	}
	return rt.plugins.ClearDeviceOverride(id, pluginName)
}

func (d *Daemon) Config() api.ConfigView {
	cfg := d.config()
	d.idMu.RLock()
	deviceID := d.deviceID
	name := d.deviceName
	deviceType := d.deviceType
	d.idMu.RUnlock()
	return api.ConfigView{
		DeviceID:       deviceID,
		DeviceName:     name,
		DeviceType:     deviceType.String(),
		Port:           cfg.Network.Port,
		RPCPort:        cfg.RPC.Port,
		DataDir:        cfg.Storage.DataDir,
		DownloadsDir:   cfg.Storage.DownloadsDir,
		MetricsEnabled: cfg.Metrics.Enabled,
		Version:        d.opts.Version,
	}
}

// SetDeviceName renames this device, persists the configuration, and
// re-announces so peers pick up the new name without a reconnect.
func (d *Daemon) SetDeviceName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return cerr.New(cerr.CodeInvalidArgument, "device name must not be empty")
	}
	d.cfgMu.Lock()
	d.cfg.Device.Name = name
	cfg := d.cfg
	d.cfgMu.Unlock()

	d.idMu.Lock()
	d.deviceName = name
	d.idMu.Unlock()

	if err := config.SaveConfig(cfg, d.restartConfigPath()); err != nil {
		return err
	}
	if rt := d.runtime(); rt != nil {
		rt.disc.Announce()
	}
	logger.Info("device renamed", logger.KeyDeviceName, name)
	return nil
}

func (d *Daemon) SetDeviceType(deviceType string) error {
	normalized := strings.ToLower(strings.TrimSpace(deviceType))
	switch normalized {
	case "desktop", "laptop", "phone", "tablet", "tv":
	default:
		return cerr.Newf(cerr.CodeInvalidArgument, "unknown device type %q", deviceType)
	}
	d.cfgMu.Lock()
	d.cfg.Device.Type = normalized
	cfg := d.cfg
	d.cfgMu.Unlock()

	d.idMu.Lock()
	d.deviceType = protocol.ParseDeviceType(normalized)
	d.idMu.Unlock()

	if err := config.SaveConfig(cfg, d.restartConfigPath()); err != nil {
		return err
	}
	if rt := d.runtime(); rt != nil {
		rt.disc.Announce()
	}
	logger.Info("device type changed", logger.KeyDeviceType, normalized)
	return nil
}

// ResetConfig writes the default configuration and restarts services so it
// takes effect. Device identity and pairing trust live in the data
// directory and survive the reset.
func (d *Daemon) ResetConfig() error {
	def := config.GetDefaultConfig()
	if err := config.SaveConfig(def, d.restartConfigPath()); err != nil {
		return err
	}
	d.requestRestart()
	return nil
}

func (d *Daemon) Restart() error {
	d.requestRestart()
	return nil
}
