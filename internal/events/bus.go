package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 256

// Bus fans events out to subscribers. Each subscriber owns a buffered channel;
// when it is full the event is dropped for that subscriber only.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]chan Event
	sync []Notifier
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:  log.With(slog.String("package", "events")),
		subs: make(map[string]chan Event),
	}
}

// Attach registers a synchronous notifier called for every event.
// Attached notifiers must be non-blocking.
func (b *Bus) Attach(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sync = append(b.sync, n)
}

// Subscribe returns a subscription id and a channel receiving future events.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, defaultSubscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	b.log.Debug("subscriber added", slog.String("subscriber_id", id))

	return id, ch
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}

	delete(b.subs, id)
	close(ch)

	b.log.Debug("subscriber removed", slog.String("subscriber_id", id))
}

// Notify implements Notifier.
func (b *Bus) Notify(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, n := range b.sync {
		n.Notify(e)
	}

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.log.Debug("subscriber slow, event dropped", slog.String("subscriber_id", id), slog.Any("event", e))
		}
	}
}

// Subscribers returns the number of channel subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}
