package services

import (
	"sync"

	"bingo-cashier-backend/internal/models"

	"go.uber.org/zap"
)

// Broadcaster is the engine's notification sink.
type Broadcaster interface {
	Publish(event models.Event)
}

// EventBus fans events out to channel subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type EventBus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.Event
}

func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[int]chan models.Event),
	}
}

func (b *EventBus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event dropped, subscriber is full",
				zap.Int("subscriber", id),
				zap.String("type", string(event.Type)),
				zap.String("game_id", event.GameID))
		}
	}
}

// Subscribe returns a buffered event channel and the function that closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
