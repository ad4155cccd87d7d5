package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TopicTransactionUpdated = "transaction.updated"
	TopicTierChanged        = "fee.tierChanged"
	TopicBaseFeeUpdated     = "fee.baseFeeUpdated"
)

type Event struct {
	ID      uuid.UUID
	Topic   string
	At      time.Time
	Payload any
}

type Handler func(Event)

// Notification is a rendered message bound for one chat.
type Notification struct {
	ChatID int64
	Text   string
}

type subscription struct {
	id    uint64
	topic string
	fn    Handler
}

// Bus delivers events synchronously to subscribers in subscription order.
// An empty topic subscribes to everything.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, topic: topic, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish is fire-and-forget: handler panics are recovered and logged.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic == "" || s.topic == topic {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	ev := Event{ID: uuid.New(), Topic: topic, At: time.Now(), Payload: payload}
	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", ev.Topic),
				zap.String("event_id", ev.ID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}
