package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"parking-service/internal/domain/parking"
)

const (
	UpdateDecision = "decision"
	UpdateRegistry = "registry"
	UpdateSlots    = "slots"
)

const subscriberBuffer = 16

// Update tells dashboard clients that the vehicle or slot tables changed.
type Update struct {
	Type     string            `json:"type"`
	Plate    string            `json:"plate,omitempty"`
	Decision *parking.Decision `json:"decision,omitempty"`
	At       time.Time         `json:"at"`
}

// Hub fans updates out to subscribers. A subscriber that falls behind loses
// updates instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Update
	closed  bool
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Update)}
}

func (h *Hub) Subscribe() (<-chan Update, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			// после Close канал уже закрыт
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close ends every subscription so long-lived streams return. Later
// subscribers get an already closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts updates discarded because a subscriber buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
