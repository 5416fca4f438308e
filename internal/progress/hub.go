package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub fans events out to subscribers without ever blocking the publisher.
// Each subscriber has a bounded buffer; when it is full a progress event is
// dropped for that subscriber only. Late subscribers see no backlog.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
	onDrop  func()
	logger  *slog.Logger
}

// Subscription is one consumer's buffered view of the hub.
type Subscription struct {
	ch   chan Event
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub whose subscribers buffer up to buffer events each.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger.With("component", "progress_hub"),
	}
}

// OnDrop registers a callback invoked for every dropped delivery.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe attaches a new subscriber. It receives only events published
// after this call.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ch:  make(chan Event, h.buffer),
		hub: h,
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish delivers evt to every current subscriber that has room for it.
// Terminal events make room by evicting the subscriber's oldest buffered
// event, so a slow consumer still learns that the run ended.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		h.deliver(sub, evt)
	}
}

// evictAttempts bounds the retries when concurrent publishers refill a
// buffer between eviction and send.
const evictAttempts = 3

func (h *Hub) deliver(sub *Subscription, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}

	if evt.Terminal() {
		for i := 0; i < evictAttempts; i++ {
			select {
			case old := <-sub.ch:
				h.drop(old.Type)
			default:
			}
			select {
			case sub.ch <- evt:
				return
			default:
			}
		}
	}

	h.drop(evt.Type)
}

func (h *Hub) drop(t EventType) {
	h.dropped.Add(1)
	if h.onDrop != nil {
		h.onDrop()
	}
	h.logger.Debug("subscriber buffer full, event dropped", "event", t)
}

// Subscribers returns the number of attached subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of deliveries skipped so far.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
