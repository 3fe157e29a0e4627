package store

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// RunRetention schedules a periodic retention sweep using gocron, the same
// scheduler the teacher's retentionService.go uses for its own background
// jobs, in place of a hand-rolled ticker goroutine. It drops shards whose
// newest point is older than retention, checked every interval.
//
// The returned gocron.Scheduler is already started; call Shutdown on it (or
// cancel ctx) to stop the sweep.
func RunRetention(ctx context.Context, s *SeriesStore, interval, retention time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			threshold := time.Now().Add(-retention).UnixNano() / s.Range.Precision.unit()
			s.Retain(threshold)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	cclog.Infof("[STORE] retention sweep scheduled every %s, window %s", interval, retention)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			cclog.Warnf("[STORE] retention scheduler shutdown: %v", err)
		}
	}()

	return sched, nil
}
