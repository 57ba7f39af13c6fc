package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds session-scoped logging context for a peer device.
type LogContext struct {
	DeviceID   string    // Stable peer-chosen identifier
	DeviceName string    // Human-readable device name
	RemoteAddr string    // Remote host:port
	PacketType string    // Packet type currently being handled
	Plugin     string    // Plugin handling the packet
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a peer session
func NewLogContext(deviceID, remoteAddr string) *LogContext {
	return &LogContext{
		DeviceID:   deviceID,
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	cp := *lc
	return &cp
}

// WithPacketType returns a copy with the packet type set
func (lc *LogContext) WithPacketType(packetType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PacketType = packetType
	}
	return clone
}

// WithPlugin returns a copy with the plugin name set
func (lc *LogContext) WithPlugin(plugin string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Plugin = plugin
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
