package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"schoolboard/internal/events"
)

type fakePurger struct {
	calls     int
	retention time.Duration
	removed   int64
	err       error
}

func (p *fakePurger) Purge(_ context.Context, _ time.Time, retention time.Duration) (int64, error) {
	p.calls++
	p.retention = retention
	return p.removed, p.err
}

func TestDisplayRefreshPublishesTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := events.NewMemoryBroker()
	sub, unsubscribe := broker.Subscribe(ctx)
	defer unsubscribe()

	StartDisplayRefresh(ctx, broker, 5*time.Millisecond, nil)

	select {
	case event := <-sub:
		if event.Collection != events.CollectionTick {
			t.Fatalf("expected tick event, got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick published")
	}
}

func TestRunPurge(t *testing.T) {
	purger := &fakePurger{removed: 3}
	runPurge(context.Background(), purger, 48*time.Hour, zap.NewNop())
	if purger.calls != 1 || purger.retention != 48*time.Hour {
		t.Fatalf("unexpected purge call: %+v", purger)
	}

	purger.err = errors.New("store down")
	runPurge(context.Background(), purger, time.Hour, zap.NewNop())
	if purger.calls != 2 {
		t.Fatalf("expected a second call, got %d", purger.calls)
	}
}

func TestAnnouncementPurgeRejectsBadSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := StartAnnouncementPurge(ctx, "not a schedule", time.Hour, &fakePurger{}, nil); err == nil {
		t.Fatalf("expected schedule parse error")
	}
	c, err := StartAnnouncementPurge(ctx, "15 3 * * *", time.Hour, &fakePurger{}, nil)
	if err != nil {
		t.Fatalf("schedule error: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("expected one scheduled entry, got %d", len(c.Entries()))
	}
}

type signalSweeper struct {
	swept chan struct{}
}

func (s *signalSweeper) Sweep(context.Context) (int, error) {
	select {
	case s.swept <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestDraftSweepRunsOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := &signalSweeper{swept: make(chan struct{}, 1)}
	c := StartDraftSweep(ctx, time.Second, sweeper, nil)
	if len(c.Entries()) != 1 {
		t.Fatalf("expected one scheduled entry, got %d", len(c.Entries()))
	}
	select {
	case <-sweeper.swept:
	case <-time.After(3 * time.Second):
		t.Fatalf("sweep never ran")
	}
}
