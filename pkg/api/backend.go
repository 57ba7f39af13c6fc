package api

import (
	"github.com/olafkfreund/cconnect/pkg/plugin/filesync"
	"github.com/olafkfreund/cconnect/pkg/registry"
)

// Backend is the daemon surface the RPC handlers drive. The daemon runtime
// implements it; tests substitute a fake.
type Backend interface {
	// Devices returns snapshots of all known devices.
	Devices() []*registry.Record
	// Device returns a snapshot of one device, or CodeUnknownDevice.
	Device(id string) (*registry.Record, error)

	// RequestPair initiates pairing with a device.
	RequestPair(id string) error
	// Unpair dissolves pairing and clears trust.
	Unpair(id string) error
	// AcceptPairing accepts an inbound pairing request.
	AcceptPairing(id string) error
	// RejectPairing declines an inbound pairing request.
	RejectPairing(id string) error

	// Ping sends a ping packet over the device's control session.
	Ping(id, message string) error

	// ShareFile starts an outgoing file transfer, returning the transfer id.
	ShareFile(id, path string) (string, error)
	// ShareText pushes text to the peer's clipboard.
	ShareText(id, text string) error
	// ShareURL asks the peer to open a URL.
	ShareURL(id, url string) error
	// CancelTransfer cancels a running transfer by id.
	CancelTransfer(transferID string) error

	// FilesyncFolders lists the sync folders configured for a device.
	FilesyncFolders(id string) ([]*filesync.SyncFolder, error)
	// ConfigureFilesync adds or updates a sync folder for a device.
	ConfigureFilesync(id string, folder *filesync.SyncFolder) error
	// RemoveFilesyncFolder removes a sync folder from a device.
	RemoveFilesyncFolder(id, folderID string) error

	// SetNickname sets the presentation name override for a device.
	SetNickname(id, nickname string) error
	// SetPluginEnabled sets a per-device plugin override.
	SetPluginEnabled(id, plugin string, enabled bool) error
	// ClearPluginOverride removes a per-device plugin override.
	ClearPluginOverride(id, plugin string) error

	// Config returns the daemon configuration surface.
	Config() ConfigView
	// SetDeviceName renames this device and re-announces it.
	SetDeviceName(name string) error
	// SetDeviceType changes this device's announced type.
	SetDeviceType(deviceType string) error
	// ResetConfig restores the persisted configuration to defaults.
	ResetConfig() error
	// Restart asks the daemon to restart its services.
	Restart() error
}
