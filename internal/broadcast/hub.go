package broadcast

import (
	"log"
	"sync"
	"time"
)

// Event is the dashboard payload published for every stage transition.
// Delivery is best-effort and observational; the pipeline never waits on it.
type Event struct {
	Type      string `json:"type"`   // "pipeline_start", "stage_start", "stage_end", "pipeline_end"
	Stage     string `json:"stage,omitempty"`
	Status    string `json:"status"` // "running", "completed", "failed"
	Progress  string `json:"progress,omitempty"`
	Task      string `json:"task"`
	RunID     string `json:"run_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber's queue. A subscriber that falls
// this far behind is dropped rather than allowed to backpressure the pipeline.
const subscriberBuffer = 16

// Hub fans events out to live subscribers. Publishing never blocks; there
// is no buffering or replay, so subscribers connecting mid-run miss prior
// events.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed on cancel or when the subscriber
// is dropped for falling behind.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers an event to every subscriber without blocking. A full
// subscriber queue drops that subscriber; the failure is logged and ignored.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("broadcast: dropping slow subscriber %d", id)
			delete(h.subs, id)
			close(ch)
		}
	}
}
