// Package bus is the in-process publish/subscribe fabric for price, book,
// trade and per-user events. Topics are plain strings ("price.BTC/USDT",
// "book.BTC/USDT", "trade.BTC/USDT", "user.<id>.orders", "user.<id>.wallet").
//
// Delivery is best-effort: every subscriber has a bounded queue and a
// subscriber that falls behind by more than the queue limit is dropped and
// logged. For book topics a snapshot provider can be registered so that a
// subscriber joining mid-stream always receives a full snapshot before any
// delta published after its subscription.
package bus

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Event is a single message on a topic.
type Event struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

// Publisher is the write side of the bus. Domain packages depend on this
// interface so they can be tested with a no-op or recording implementation.
type Publisher interface {
	Publish(topic, eventType string, data any)
}

// SnapshotFunc produces the initial snapshot event for a topic, or false if
// the topic has no snapshot (unknown pair, empty book).
type SnapshotFunc func(topic string) (Event, bool)

// Subscriber is a registered consumer of one topic.
type Subscriber struct {
	Topic string
	C     chan Event

	bus    *Bus
	closed bool
}

// Bus fans events out to topic subscribers.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]map[*Subscriber]struct{}
	snapshots  map[string]SnapshotFunc // keyed by topic prefix, e.g. "book."
	queueLimit int
	log        *zap.Logger
	onDrop     func(topic string)
}

// New creates a bus. queueLimit bounds each subscriber's outstanding
// messages; zero or negative selects the default of 256.
func New(queueLimit int, log *zap.Logger) *Bus {
	if queueLimit <= 0 {
		queueLimit = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		topics:     make(map[string]map[*Subscriber]struct{}),
		snapshots:  make(map[string]SnapshotFunc),
		queueLimit: queueLimit,
		log:        log,
	}
}

// RegisterSnapshot installs a snapshot provider for all topics with the
// given prefix. Subscribers to matching topics receive the snapshot event
// before any subsequently published delta.
func (b *Bus) RegisterSnapshot(topicPrefix string, fn SnapshotFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[topicPrefix] = fn
}

// OnDrop installs a callback invoked when a slow subscriber is dropped.
func (b *Bus) OnDrop(fn func(topic string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a consumer for a topic. If a snapshot provider matches
// the topic, the snapshot is queued first; publish order is preserved because
// both Subscribe and Publish hold the bus lock.
func (b *Bus) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{
		Topic: topic,
		C:     make(chan Event, b.queueLimit),
		bus:   b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for prefix, fn := range b.snapshots {
		if strings.HasPrefix(topic, prefix) {
			if ev, ok := fn(topic); ok {
				sub.C <- ev
			}
			break
		}
	}

	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

// remove must be called with b.mu held.
func (b *Bus) remove(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	if set, ok := b.topics[sub.Topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.topics, sub.Topic)
		}
	}
	close(sub.C)
}

// Publish delivers an event to every subscriber of the topic. A subscriber
// whose queue is full is dropped rather than blocking the publisher.
func (b *Bus) Publish(topic, eventType string, data any) {
	ev := Event{Topic: topic, Type: eventType, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.topics[topic]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.C <- ev:
		default:
			b.log.Warn("dropping slow subscriber",
				zap.String("topic", topic),
				zap.Int("queue_limit", b.queueLimit))
			b.remove(sub)
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
}

// SubscriberCount reports the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Topic name helpers.

func PriceTopic(symbol string) string  { return "price." + symbol }
func BookTopic(symbol string) string   { return "book." + symbol }
func TradeTopic(symbol string) string  { return "trade." + symbol }
func UserOrders(userID string) string  { return "user." + userID + ".orders" }
func UserWallet(userID string) string  { return "user." + userID + ".wallet" }
func TradingRoom(room string) string   { return "trading." + room }
