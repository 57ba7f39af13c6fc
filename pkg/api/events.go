package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/olafkfreund/cconnect/internal/logger"
)

// Signal names delivered on the event stream.
const (
	SignalDeviceAdded             = "device_added"
	SignalDeviceRemoved           = "device_removed"
	SignalDeviceStateChanged      = "device_state_changed"
	SignalPairingRequest          = "pairing_request"
	SignalPairingStatusChanged    = "pairing_status_changed"
	SignalPluginEvent             = "plugin_event"
	SignalDevicePluginStateChange = "device_plugin_state_changed"
	SignalTransferProgress        = "transfer_progress"
	SignalTransferComplete        = "transfer_complete"
)

// Signal is one event on the daemon's signal bus, delivered to RPC clients
// as a Server-Sent Event with Name as the event type and Data as the JSON
// payload.
type Signal struct {
	Name string
	Data any
}

// subscriberBuffer bounds each SSE client's backlog. A stalled client loses
// signals rather than stalling the publisher.
const subscriberBuffer = 128

// Bus fans daemon signals out to SSE subscribers. Publishing never blocks.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Signal
	closed bool
}

// NewBus creates an empty signal bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Signal)}
}

// Publish delivers the signal to every subscriber. Slow subscribers drop it.
func (b *Bus) Publish(name string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- Signal{Name: name, Data: data}:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called when the subscriber goes away; after cancel the channel is closed.
func (b *Bus) Subscribe() (<-chan Signal, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Signal, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// handleEvents streams bus signals to the client as Server-Sent Events.
// The stream stays open until the client disconnects or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "streaming unsupported",
			Code:  "Unknown",
		})
		return
	}

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.Debug("Event stream subscriber connected", "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("Event stream subscriber disconnected", "remote_addr", r.RemoteAddr)
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(sig.Data)
			if err != nil {
				logger.Warn("Dropping unserializable signal", "signal", sig.Name, logger.KeyError, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sig.Name, data)
			flusher.Flush()
		}
	}
}
