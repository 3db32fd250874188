package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"schoolboard/internal/events"
)

// StartDisplayRefresh publishes a tick on every interval so display clients
// re-aggregate when a slot starts or ends without any write happening.
func StartDisplayRefresh(ctx context.Context, pub events.Publisher, interval time.Duration, log *zap.Logger) {
	if pub == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events.Notify(ctx, pub, log, events.Event{Collection: events.CollectionTick, Op: "tick"})
			}
		}
	}()
}

type Purger interface {
	Purge(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// StartAnnouncementPurge schedules the retention purge. Overlapping runs are
// skipped. The scheduler stops when ctx ends.
func StartAnnouncementPurge(ctx context.Context, schedule string, retention time.Duration, purger Purger, log *zap.Logger) (*cron.Cron, error) {
	if log == nil {
		log = zap.NewNop()
	}
	logger := cronLogger{log: log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() { runPurge(ctx, purger, retention, log) }); err != nil {
		return nil, err
	}
	log.Info("announcement purge scheduled", zap.String("schedule", schedule), zap.Duration("retention", retention))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

func runPurge(ctx context.Context, purger Purger, retention time.Duration, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 4*time.Minute)
	defer cancel()
	removed, err := purger.Purge(runCtx, time.Now().UTC(), retention)
	if err != nil {
		log.Error("announcement purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		log.Info("announcement purge removed expired announcements", zap.Int64("removed", removed))
	}
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// StartDraftSweep drops expired timetable drafts every interval until ctx ends.
func StartDraftSweep(ctx context.Context, interval time.Duration, sweeper Sweeper, log *zap.Logger) *cron.Cron {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	logger := cronLogger{log: log.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	c.Schedule(cron.Every(interval), cron.FuncJob(func() { runSweep(ctx, sweeper, log) }))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c
}

func runSweep(ctx context.Context, sweeper Sweeper, log *zap.Logger) {
	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Error("draft sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		log.Debug("draft sweep removed expired drafts", zap.Int("removed", removed))
	}
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
