package state

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Lifecycle identifies the bridge's coarse connection state.
type Lifecycle string

const (
	LifecycleStarting       Lifecycle = "starting"
	LifecycleConfigRequired Lifecycle = "config_required"
	LifecycleWaiting2FA     Lifecycle = "waiting_2fa"
	LifecycleConnected      Lifecycle = "connected"
	LifecycleError          Lifecycle = "error"
)

// Camera is the bridge's view of one vendor device, rebuilt from the
// homescreen payload on every refresh.
type Camera struct {
	ID          int    `json:"id"`
	NetworkID   int    `json:"network_id"`
	Name        string `json:"name"`
	Serial      string `json:"serial"`
	Kind        string `json:"kind"`
	Online      bool   `json:"online"`
	Battery     string `json:"battery,omitempty"`
	Temperature *int   `json:"temperature,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

// Slug returns the camera's topic- and filename-safe name.
func (c Camera) Slug() string {
	return Slug(c.Name)
}

// Slug lowercases a camera name and replaces spaces with underscores.
// Topics, sensor IDs and snapshot filenames all use this form.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Status is the derived system snapshot: the armed flag plus the camera
// list. It reflects the last successful refresh.
type Status struct {
	Armed     bool      `json:"armed"`
	Cameras   []Camera  `json:"cameras"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot combines lifecycle and status for the HTTP API and dashboard.
type Snapshot struct {
	Lifecycle Lifecycle `json:"lifecycle"`
	LastError string    `json:"last_error,omitempty"`
	Status    Status    `json:"status"`
}

// EventType identifies event categories.
type EventType string

const (
	EventLifecycle EventType = "lifecycle"
	EventStatus    EventType = "status"
)

// Event represents a state change.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Reader provides read-only access to bridge state.
type Reader interface {
	Snapshot() Snapshot
	Lifecycle() Lifecycle
	Status() Status
}

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers. Slow subscribers lose
// events rather than block the publisher.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		// drain anything already buffered
		for {
			select {
			case <-ch:
			default:
				return
			}
		}
	}
	return ch, unsub
}

// --- StateStore ---

// StateStore holds the current bridge state with thread-safe access.
type StateStore struct {
	mu        sync.RWMutex
	lifecycle Lifecycle
	lastErr   string
	status    Status
	bus       *EventBus
	log       *slog.Logger
}

// NewStateStore creates a new store wired to the event bus.
func NewStateStore(bus *EventBus, log *slog.Logger) *StateStore {
	return &StateStore{
		lifecycle: LifecycleStarting,
		bus:       bus,
		log:       log,
	}
}

// Snapshot returns a copy of all state.
func (s *StateStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Lifecycle: s.lifecycle,
		LastError: s.lastErr,
		Status:    s.statusCopy(),
	}
}

// Lifecycle returns the current lifecycle state.
func (s *StateStore) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// SetLifecycle transitions the lifecycle state. A no-op transition
// publishes nothing.
func (s *StateStore) SetLifecycle(lc Lifecycle) {
	s.mu.Lock()
	if s.lifecycle == lc {
		s.mu.Unlock()
		return
	}
	from := s.lifecycle
	s.lifecycle = lc
	s.mu.Unlock()

	s.log.Info("lifecycle changed", "from", from, "to", lc)
	s.bus.Publish(Event{Type: EventLifecycle, Data: lc})
}

// SetLastError records the most recent failure for the dashboard.
// A nil err clears it.
func (s *StateStore) SetLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

// SetStatus replaces the derived status and notifies subscribers.
func (s *StateStore) SetStatus(st Status) {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.status = st
	cp := s.statusCopy()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventStatus, Data: cp})
}

// Status returns a copy of the derived status.
func (s *StateStore) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusCopy()
}

// statusCopy returns the status with its camera slice copied.
// Callers must hold at least a read lock.
func (s *StateStore) statusCopy() Status {
	cp := s.status
	cp.Cameras = make([]Camera, len(s.status.Cameras))
	copy(cp.Cameras, s.status.Cameras)
	return cp
}
