// Package events fans pool lifecycle events out to live subscribers such as
// the SSE endpoint, keeping a short backlog so reconnecting clients can resume.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/eapache/queue"
)

const subscriberBuffer = 256

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory broadcaster. Event IDs start at 1 and increase by one
// per Publish.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog *queue.Queue // of Event, oldest first
	keep    int
	subs    map[chan Event]struct{}
	dropped uint64
}

// NewHub returns a Hub retaining the last keep events for replay.
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 100
	}
	return &Hub{
		backlog: queue.New(),
		keep:    keep,
		subs:    make(map[chan Event]struct{}),
	}
}

// Publish records an event carrying data as JSON and offers it to every
// subscriber. A subscriber with a full buffer misses the event rather than
// stalling the publisher, which is usually a pool worker.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	h.backlog.Add(ev)
	for h.backlog.Length() > h.keep {
		h.backlog.Remove()
	}

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Subscribe returns a channel of events published from now on and a cancel
// func that unsubscribes and closes the channel. cancel is idempotent.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	_, ch, cancel := h.SubscribeSince(-1)
	return ch, cancel
}

// SubscribeSince is Subscribe plus the retained events with ID > after, taken
// atomically so no event falls between the replay and the live channel. A
// negative after skips the replay.
func (h *Hub) SubscribeSince(after int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []Event
	if after >= 0 {
		replay = h.sinceLocked(after)
	}

	ch := make(chan Event, subscriberBuffer)
	h.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return replay, ch, cancel
}

// Since returns the retained events with ID > after, oldest first.
func (h *Hub) Since(after int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceLocked(after)
}

// Dropped counts deliveries skipped because a subscriber was not keeping up.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) sinceLocked(after int64) []Event {
	out := make([]Event, 0, h.backlog.Length())
	for i := 0; i < h.backlog.Length(); i++ {
		if ev := h.backlog.Get(i).(Event); ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}
