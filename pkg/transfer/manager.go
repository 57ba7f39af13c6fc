// Package transfer tracks in-flight bulk transfers and their cooperative
// cancellation flags. The plugins that move bytes (share, filesync) register
// transfers here; the RPC surface streams the resulting progress and
// completion events to UI clients and routes cancel requests back.
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
)

// Direction of a transfer from the local daemon's point of view.
type Direction int

const (
	Sending Direction = iota
	Receiving
)

func (d Direction) String() string {
	if d == Receiving {
		return "receiving"
	}
	return "sending"
}

// Flag is a shared cancellation flag polled between I/O chunks. A single
// chunk is small enough (≤256 KiB) that cancellation feels immediate.
type Flag struct {
	cancelled atomic.Bool
}

// Cancel sets the flag. Safe to call multiple times.
func (f *Flag) Cancel() {
	f.cancelled.Store(true)
}

// Cancelled is a lock-free load of the flag.
func (f *Flag) Cancelled() bool {
	return f.cancelled.Load()
}

// State is one tracked transfer.
type State struct {
	ID        string
	DeviceID  string
	Filename  string
	Direction Direction
	StartedAt time.Time

	BytesTotal int64
	bytesDone  atomic.Int64

	flag     *Flag
	complete sync.Once
	mgr      *Manager
}

// BytesDone returns the bytes moved so far.
func (s *State) BytesDone() int64 {
	return s.bytesDone.Load()
}

// Flag returns the transfer's cancellation flag.
func (s *State) Flag() *Flag {
	return s.flag
}

// EventKind distinguishes progress from completion events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventComplete
)

// Event is emitted for transfer progress and completion. For every transfer
// id there is exactly one EventComplete, preceded by zero or more
// EventProgress with monotonically non-decreasing Done.
type Event struct {
	Kind      EventKind
	ID        string
	DeviceID  string
	Filename  string
	Direction Direction
	Done      int64
	Total     int64

	// Completion only.
	Success bool
	Error   string
}

// Manager is a flat mapping from transfer id to state, with an event stream
// consumed by the RPC surface.
type Manager struct {
	mu        sync.Mutex
	transfers map[string]*State
	closed    bool

	seq    atomic.Uint64
	events chan Event
}

// NewManager creates an empty transfer manager.
func NewManager() *Manager {
	return &Manager{
		transfers: make(map[string]*State),
		events:    make(chan Event, 256),
	}
}

// Events returns the transfer event stream. The channel is owned by the
// manager and closed on Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// NewID constructs a transfer id for a peer. The epoch-millisecond form of
// the protocol family is widened with a monotonic counter so two transfers
// started in the same millisecond cannot collide.
func (m *Manager) NewID(deviceID string) string {
	return fmt.Sprintf("%s_%d_%d", deviceID, time.Now().UnixMilli(), m.seq.Add(1))
}

// Register starts tracking a transfer and returns its state. The returned
// state's flag is the cancellation contract for the moving goroutine.
func (m *Manager) Register(id, deviceID, filename string, total int64, dir Direction) *State {
	s := &State{
		ID:         id,
		DeviceID:   deviceID,
		Filename:   filename,
		Direction:  dir,
		StartedAt:  time.Now(),
		BytesTotal: total,
		flag:       &Flag{},
		mgr:        m,
	}

	m.mu.Lock()
	m.transfers[id] = s
	m.mu.Unlock()

	logger.Debug("Transfer registered",
		logger.KeyTransferID, id,
		logger.KeyDeviceID, deviceID,
		logger.KeyFilename, filename,
		logger.KeySize, total,
		logger.KeyDirection, dir.String())
	return s
}

// Cancel sets the cancel flag for a transfer. Returns true if the id is
// known.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	s, ok := m.transfers[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.flag.Cancel()
	logger.Info("Transfer cancel requested", logger.KeyTransferID, id)
	return true
}

// Get returns the state for a transfer id.
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.transfers[id]
	return s, ok
}

// List returns all tracked transfers.
func (m *Manager) List() []*State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*State, 0, len(m.transfers))
	for _, s := range m.transfers {
		out = append(out, s)
	}
	return out
}

// finish stops tracking a transfer and emits its completion event. The
// moving goroutines outlive Close, so the send is guarded by the closed
// flag under the manager lock; completions after Close are dropped, their
// consumers are gone.
func (m *Manager) finish(id string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transfers, id)
	if m.closed {
		return
	}
	m.events <- ev
}

// publish emits a progress event. Lossy under backpressure; dropped after
// Close.
func (m *Manager) publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}

// Progress records bytes moved and emits a progress event. Done values are
// clamped monotonic; callers report every chunk and the granularity is the
// chunk size.
func (s *State) Progress(done int64) {
	if done > s.BytesTotal && s.BytesTotal > 0 {
		done = s.BytesTotal
	}
	prev := s.bytesDone.Load()
	if done < prev {
		done = prev
	}
	s.bytesDone.Store(done)

	// Progress events are lossy under backpressure; completion is not.
	s.mgr.publish(Event{
		Kind:      EventProgress,
		ID:        s.ID,
		DeviceID:  s.DeviceID,
		Filename:  s.Filename,
		Direction: s.Direction,
		Done:      done,
		Total:     s.BytesTotal,
	})
}

// Complete marks the transfer finished and emits exactly one completion
// event, no matter how many times it is called. The transfer is removed from
// the manager.
func (s *State) Complete(success bool, errMsg string) {
	s.complete.Do(func() {
		s.mgr.finish(s.ID, Event{
			Kind:      EventComplete,
			ID:        s.ID,
			DeviceID:  s.DeviceID,
			Filename:  s.Filename,
			Direction: s.Direction,
			Done:      s.bytesDone.Load(),
			Total:     s.BytesTotal,
			Success:   success,
			Error:     errMsg,
		})
		logger.Info("Transfer complete",
			logger.KeyTransferID, s.ID,
			logger.KeyDeviceID, s.DeviceID,
			"success", success,
			logger.KeyError, errMsg)
	})
}

// Close cancels all in-flight transfers and closes the event stream.
// Completions arriving afterwards are dropped instead of emitted.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, s := range m.transfers {
		s.flag.Cancel()
	}
	m.transfers = make(map[string]*State)
	m.closed = true
	close(m.events)
}
