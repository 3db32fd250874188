// Package events carries change notifications from writers to the live display.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	CollectionClasses       = "classes"
	CollectionLessons       = "lessons"
	CollectionTimetable     = "timetableEntries"
	CollectionUsers         = "users"
	CollectionAnnouncements = "announcements"
	CollectionParliament    = "parliament"
	CollectionClock         = "clock"
	// CollectionTick is published on a timer so subscribers refresh without writes.
	CollectionTick = "tick"
)

type Event struct {
	Collection string `json:"collection"`
	ID         string `json:"id,omitempty"`
	Op         string `json:"op"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Broker interface {
	Publisher
	// Subscribe returns a channel of events until cancel is called or ctx ends.
	Subscribe(ctx context.Context) (<-chan Event, func())
}

// MemoryBroker fans events out to in-process subscribers. Slow subscribers drop events.
type MemoryBroker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[int]chan Event{}}
}

func (b *MemoryBroker) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 32)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

const redisChannel = "schoolboard:events"

// RedisBroker publishes through Redis pub/sub so every instance sees every write.
type RedisBroker struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisBroker(client *redis.Client, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, redisChannel, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.client.Subscribe(ctx, redisChannel)
	// Wait for the subscription so events published right after Subscribe are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe failed", zap.Error(err))
	}
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("dropping malformed event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()
	return out, cancel
}

// Notify publishes and logs failures instead of returning them. Writers call it
// after the write has already succeeded.
func Notify(ctx context.Context, pub Publisher, log *zap.Logger, event Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil && log != nil {
		log.Warn("event publish failed", zap.String("collection", event.Collection), zap.Error(err))
	}
}
