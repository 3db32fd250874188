package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("SCHOOLBOARD_TEST_REDIS")
	if addr == "" {
		t.Skip("SCHOOLBOARD_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBrokerDeliversToEverySubscriber(t *testing.T) {
	client := openTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := NewRedisBroker(client, nil)
	second := NewRedisBroker(client, nil)
	a, cancelA := first.Subscribe(ctx)
	defer cancelA()
	b, cancelB := second.Subscribe(ctx)
	defer cancelB()

	require.NoError(t, first.Publish(ctx, Event{Collection: CollectionTimetable, ID: "class-1", Op: "batch"}))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, CollectionTimetable, ev.Collection)
			assert.Equal(t, "class-1", ev.ID)
		case <-time.After(3 * time.Second):
			t.Fatal("event not delivered through redis")
		}
	}
}

func TestRedisBrokerClosesOnCancel(t *testing.T) {
	client := openTestRedis(t)
	sub, cancel := NewRedisBroker(client, nil).Subscribe(context.Background())
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not closed")
	}
}
