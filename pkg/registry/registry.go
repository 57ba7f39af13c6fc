// Package registry is the single source of truth for known devices. It owns
// every Record mutation; other services hold the registry through a shared
// handle and read snapshots.
//
// Persistence: devices.json (a map from device id to Record) written
// atomically after every trust mutation, plus device_config/<id>.json for
// per-device nicknames and plugin overrides. Connection state is volatile and
// resets to disconnected on load.
package registry

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/cerr"
	"github.com/olafkfreund/cconnect/pkg/protocol"
)

const (
	devicesFile     = "devices.json"
	deviceConfigDir = "device_config"
)

// Registry maps device ids to records behind a reader-writer lock.
//
// Writers hold the lock for the minimum time needed; persistence snapshots
// under the lock and writes to disk outside it.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	dataDir string
}

// deviceConfig is the persisted per-device configuration file shape.
type deviceConfig struct {
	Nickname        string          `json:"nickname,omitempty"`
	PluginOverrides map[string]bool `json:"plugin_overrides,omitempty"`
}

// Load reads devices.json and the per-device config files from dataDir,
// creating an empty registry when nothing is persisted yet.
func Load(dataDir string) (*Registry, error) {
	r := &Registry{
		records: make(map[string]*Record),
		dataDir: dataDir,
	}

	if err := os.MkdirAll(filepath.Join(dataDir, deviceConfigDir), 0700); err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "creating data directory", err)
	}

	path := filepath.Join(dataDir, devicesFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "reading devices.json", err)
	}

	if err := json.Unmarshal(data, &r.records); err != nil {
		return nil, cerr.Wrap(cerr.CodeRegistryIO, "parsing devices.json", err)
	}

	for id, rec := range r.records {
		// Connection state is volatile.
		rec.ConnectionState = StateDisconnected
		r.mergeDeviceConfig(id, rec)
	}

	logger.Info("Device registry loaded", "devices", len(r.records))
	return r, nil
}

// mergeDeviceConfig overlays device_config/<id>.json onto a record.
func (r *Registry) mergeDeviceConfig(id string, rec *Record) {
	data, err := os.ReadFile(r.deviceConfigPath(id))
	if err != nil {
		return
	}
	var cfg deviceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("Ignoring malformed device config", logger.KeyDeviceID, id, logger.KeyError, err)
		return
	}
	rec.Nickname = cfg.Nickname
	rec.PluginOverrides = cfg.PluginOverrides
}

// UpsertFromDiscovery creates or refreshes a record from a discovery
// datagram. Returns the device id and whether the record is new.
func (r *Registry) UpsertFromDiscovery(info *protocol.DeviceInfo, host string, port int) (string, bool) {
	now := time.Now().Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[info.DeviceID]
	if !exists {
		rec = &Record{
			ConnectionState: StateDisconnected,
			PairingStatus:   PairingUnpaired,
		}
		r.records[info.DeviceID] = rec
		r.mergeDeviceConfig(info.DeviceID, rec)
	}

	rec.Info = *info
	rec.Host = host
	rec.Port = port
	rec.LastSeen = now

	return info.DeviceID, !exists
}

// Get returns a deep copy of the record for id.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, cerr.Newf(cerr.CodeUnknownDevice, "no such device %q", id)
	}
	return rec.Clone(), nil
}

// List returns deep copies of all records.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// mutate applies fn to the record for id under the write lock.
func (r *Registry) mutate(id string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return cerr.Newf(cerr.CodeUnknownDevice, "no such device %q", id)
	}
	fn(rec)
	return nil
}

// MarkConnecting flags an outbound connection attempt.
func (r *Registry) MarkConnecting(id string) error {
	return r.mutate(id, func(rec *Record) {
		rec.ConnectionState = StateConnecting
	})
}

// MarkConnected records a live TLS session for the device.
func (r *Registry) MarkConnected(id string, addr string) error {
	return r.mutate(id, func(rec *Record) {
		rec.ConnectionState = StateConnected
		rec.LastConnected = time.Now().Unix()
		if host, port, err := splitHostPort(addr); err == nil {
			rec.Host = host
			if port != 0 {
				// The source port of an inbound session is ephemeral; keep
				// the advertised listen port for reconnects.
				if rec.Port == 0 {
					rec.Port = port
				}
			}
		}
	})
}

// MarkDisconnected records the end of the device's TLS session.
func (r *Registry) MarkDisconnected(id string) error {
	return r.mutate(id, func(rec *Record) {
		rec.ConnectionState = StateDisconnected
		rec.Battery = nil
	})
}

// MarkFailed records a failed outbound connection attempt.
func (r *Registry) MarkFailed(id string) error {
	return r.mutate(id, func(rec *Record) {
		rec.ConnectionState = StateFailed
	})
}

// MarkPaired promotes the device to paired with its trust material and
// persists the registry.
func (r *Registry) MarkPaired(id string, fingerprint string, certDER []byte) error {
	if err := r.mutate(id, func(rec *Record) {
		rec.PairingStatus = PairingPaired
		rec.IsTrusted = true
		rec.CertificateFingerprint = fingerprint
		rec.CertificateData = append([]byte(nil), certDER...)
	}); err != nil {
		return err
	}
	return r.Save()
}

// MarkUnpaired clears the device's trust material, keeping the record so the
// device can be re-paired later, and persists the registry.
func (r *Registry) MarkUnpaired(id string) error {
	if err := r.mutate(id, func(rec *Record) {
		rec.PairingStatus = PairingUnpaired
		rec.IsTrusted = false
		rec.CertificateFingerprint = ""
		rec.CertificateData = nil
	}); err != nil {
		return err
	}
	return r.Save()
}

// SetLastSeen refreshes the discovery heartbeat timestamp.
func (r *Registry) SetLastSeen(id string, t time.Time) error {
	return r.mutate(id, func(rec *Record) {
		rec.LastSeen = t.Unix()
	})
}

// SetCapabilities updates the advertised capability sets from a post-TLS
// identity packet.
func (r *Registry) SetCapabilities(id string, incoming, outgoing []string) error {
	return r.mutate(id, func(rec *Record) {
		rec.Info.IncomingCaps = append([]string(nil), incoming...)
		rec.Info.OutgoingCaps = append([]string(nil), outgoing...)
	})
}

// SetBattery updates the volatile battery state.
func (r *Registry) SetBattery(id string, state *BatteryState) error {
	return r.mutate(id, func(rec *Record) {
		rec.Battery = state
	})
}

// SetNickname sets the presentation name override and persists the
// per-device config.
func (r *Registry) SetNickname(id string, nickname string) error {
	if err := r.mutate(id, func(rec *Record) {
		rec.Nickname = nickname
	}); err != nil {
		return err
	}
	return r.saveDeviceConfig(id)
}

// SetPluginOverride sets an explicit per-device enable state for a plugin
// and persists the per-device config.
func (r *Registry) SetPluginOverride(id string, plugin string, enabled bool) error {
	if err := r.mutate(id, func(rec *Record) {
		if rec.PluginOverrides == nil {
			rec.PluginOverrides = make(map[string]bool)
		}
		rec.PluginOverrides[plugin] = enabled
	}); err != nil {
		return err
	}
	return r.saveDeviceConfig(id)
}

// ClearPluginOverride removes a per-device override so the plugin falls back
// to its global default.
func (r *Registry) ClearPluginOverride(id string, plugin string) error {
	if err := r.mutate(id, func(rec *Record) {
		delete(rec.PluginOverrides, plugin)
	}); err != nil {
		return err
	}
	return r.saveDeviceConfig(id)
}

// StaleDevices returns the ids of devices unseen for longer than timeout,
// excluding devices with a live session.
func (r *Registry) StaleDevices(timeout time.Duration) []string {
	cutoff := time.Now().Add(-timeout).Unix()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for id, rec := range r.records {
		if rec.ConnectionState != StateConnected && rec.LastSeen != 0 && rec.LastSeen < cutoff {
			stale = append(stale, id)
		}
	}
	return stale
}

// Save persists the registry atomically (write-temp then rename). It is
// idempotent and called at least on every trust mutation.
func (r *Registry) Save() error {
	// Snapshot under the read lock; serialize and write outside it.
	r.mu.RLock()
	snapshot := make(map[string]*Record, len(r.records))
	for id, rec := range r.records {
		snapshot[id] = rec.Clone()
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "serializing registry", err)
	}

	path := filepath.Join(r.dataDir, devicesFile)
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "writing devices.json", err)
	}
	return nil
}

// saveDeviceConfig persists device_config/<id>.json for one device.
func (r *Registry) saveDeviceConfig(id string) error {
	r.mu.RLock()
	rec, ok := r.records[id]
	var cfg deviceConfig
	if ok {
		cfg.Nickname = rec.Nickname
		if len(rec.PluginOverrides) > 0 {
			cfg.PluginOverrides = make(map[string]bool, len(rec.PluginOverrides))
			for k, v := range rec.PluginOverrides {
				cfg.PluginOverrides[k] = v
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		return cerr.Newf(cerr.CodeUnknownDevice, "no such device %q", id)
	}

	data, err := json.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, "serializing device config", err)
	}
	if err := writeFileAtomic(r.deviceConfigPath(id), data, 0600); err != nil {
		return cerr.Wrap(cerr.CodeRegistryIO, fmt.Sprintf("writing device config for %s", id), err)
	}
	return nil
}

func (r *Registry) deviceConfigPath(id string) string {
	return filepath.Join(r.dataDir, deviceConfigDir, filepath.Base(id)+".json")
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, _ := strconv.Atoi(portStr)
	return host, port, nil
}

// writeFileAtomic writes to a temp file in the target directory and renames
// it into place.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
