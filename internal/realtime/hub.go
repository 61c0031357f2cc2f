package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"fairbid/internal/event"
	"fairbid/internal/infra"
)

const subscriberBuffer = 64

// Envelope is the wire frame every subscriber receives.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Subscriber is one websocket client's outbound queue for a single topic.
type Subscriber struct {
	ch    chan Envelope
	topic string
}

// C returns the outbound message channel. Closed on eviction.
func (s *Subscriber) C() <-chan Envelope {
	return s.ch
}

// Hub fans auction events out per topic. Publishing never blocks the bid
// hotpath: a subscriber that cannot keep up has updates dropped, and one
// that misses a closing message is evicted outright, since a client that
// never learns the auction ended is worse than a disconnected one.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	log    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscriber]struct{}),
		log:    log,
	}
}

// Subscribe registers a new subscriber on the auction topic.
func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		ch:    make(chan Envelope, subscriberBuffer),
		topic: topic,
	}

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	infra.GlobalMetrics.IncrementSubscribers()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscriber) {
	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.ch)
	infra.GlobalMetrics.DecrementSubscribers()
}

// Publish delivers msg to every subscriber of its topic.
func (h *Hub) Publish(msg event.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("message encode failed", slog.Any("error", err))
		return
	}
	env := Envelope{Type: msg.Kind(), Payload: payload}

	// Closing messages must reach every surviving subscriber.
	critical := msg.Kind() == event.KindAuctionClosed

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[msg.Topic()]
	if !ok {
		return
	}
	var evict []*Subscriber
	for sub := range subs {
		select {
		case sub.ch <- env:
		default:
			if critical {
				evict = append(evict, sub)
			}
			// Non-critical updates are droppable; the next one carries
			// the full current state anyway.
		}
	}
	for _, sub := range evict {
		h.log.Warn("evicting slow subscriber", slog.String("topic", sub.topic))
		h.remove(sub)
	}
}

// Subscribers returns the current subscriber count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
