package scene

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/ggstream/layer"
)

// ChangeKind identifies what a registry mutation changed.
type ChangeKind uint8

// Change kinds.
const (
	ChangeCreated ChangeKind = iota + 1
	ChangeUpdated
	ChangeDeleted
	ChangeVisibility
	ChangeTransform
	ChangeZIndex
	ChangeOpacity
	ChangeActive
	ChangeCleared
	ChangeRestored
)

// String returns a human-readable name for the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	case ChangeVisibility:
		return "visibility"
	case ChangeTransform:
		return "transform"
	case ChangeZIndex:
		return "z-index"
	case ChangeOpacity:
		return "opacity"
	case ChangeActive:
		return "active"
	case ChangeCleared:
		return "cleared"
	case ChangeRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// Event is emitted after every registry mutation.
type Event struct {
	Kind    ChangeKind
	LayerID string // empty for ChangeCleared and ChangeRestored
	// LayerKind is the kind of the affected layer; meaningful only when
	// LayerID is set.
	LayerKind layer.Kind
	Version   uint64 // registry version after the change
	At        time.Time
}

// DefaultSubscriptionBuffer is the queue length used when Subscribe is
// called with a non-positive buffer.
const DefaultSubscriptionBuffer = 64

// Subscription receives registry events on C until Close is called.
// Delivery never blocks the registry: when the queue is full the event is
// dropped and counted.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *hub
	id      uint64
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns the number of events dropped because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery and closes C. Close is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
	})
}

// hub fans events out to subscriptions.
type hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*Subscription)}
}

func (h *hub) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{C: ch, ch: ch, hub: h, id: h.nextID}
	h.subs[s.id] = s
	return s
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
