package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation
// and querying.
const (
	// ========================================================================
	// Device & Peer
	// ========================================================================
	KeyDeviceID   = "device_id"   // Stable peer-chosen device identifier
	KeyDeviceName = "device_name" // Human-readable device name
	KeyDeviceType = "device_type" // phone, tablet, desktop, laptop, tv

	// ========================================================================
	// Network & Session
	// ========================================================================
	KeyRemoteAddr = "remote_addr" // Remote host:port
	KeyLocalAddr  = "local_addr"  // Local host:port
	KeyPort       = "port"        // Listen or payload port
	KeyReason     = "reason"      // Disconnect/close reason

	// ========================================================================
	// Protocol
	// ========================================================================
	KeyPacketType  = "packet_type" // Packet type string (cconnect.*)
	KeyPacketID    = "packet_id"   // Monotonic per-sender packet id
	KeyFingerprint = "fingerprint" // Certificate public-key fingerprint
	KeyCapability  = "capability"  // Capability token

	// ========================================================================
	// Plugins & Transfers
	// ========================================================================
	KeyPlugin     = "plugin"      // Plugin name
	KeyTransferID = "transfer_id" // Bulk transfer identifier
	KeyFilename   = "filename"    // File or directory name (basename)
	KeyPath       = "path"        // Full file/directory path
	KeyFolderID   = "folder_id"   // Sync folder identifier
	KeySize       = "size"        // Byte size
	KeyBytesDone  = "bytes_done"  // Bytes transferred so far
	KeyDirection  = "direction"   // sending, receiving

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Error code name
	KeyOperation  = "operation"   // Sub-operation type for complex operations
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// DeviceID returns a slog.Attr for a device identifier
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// DeviceName returns a slog.Attr for a device name
func DeviceName(name string) slog.Attr {
	return slog.String(KeyDeviceName, name)
}

// RemoteAddr returns a slog.Attr for a remote address
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// Port returns a slog.Attr for a port number
func Port(port int) slog.Attr {
	return slog.Int(KeyPort, port)
}

// PacketType returns a slog.Attr for a packet type
func PacketType(t string) slog.Attr {
	return slog.String(KeyPacketType, t)
}

// Fingerprint returns a slog.Attr for a certificate fingerprint
func Fingerprint(fp string) slog.Attr {
	return slog.String(KeyFingerprint, fp)
}

// Plugin returns a slog.Attr for a plugin name
func Plugin(name string) slog.Attr {
	return slog.String(KeyPlugin, name)
}

// TransferID returns a slog.Attr for a transfer identifier
func TransferID(id string) slog.Attr {
	return slog.String(KeyTransferID, id)
}

// Path returns a slog.Attr for a file path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// FolderID returns a slog.Attr for a sync folder identifier
func FolderID(id string) slog.Attr {
	return slog.String(KeyFolderID, id)
}

// Size returns a slog.Attr for a byte size
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}
