// Package scheduler runs the panel's named periodic jobs on
// robfig/cron/v3. cron/v3 has no built-in max_instances/coalesce
// semantics, so each job is wrapped in a per-job "running" guard:
// coalesce=true falls out naturally from cron only firing at the next
// tick (it never queues a backlog of missed runs); max_instances=1 is
// emulated by skipping an invocation if the previous one hasn't
// finished.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"xpanel/internal/metrics"
)

// Scheduler owns one cron.Cron instance and the named jobs registered
// on it.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Logger
}

// New builds a scheduler using cron's seconds-enabled parser so job
// cadences can be specified in single-digit-second intervals (spec's
// HealthCheck/CollectUserUsage run every ~10s).
func New(log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		log: log,
	}
}

// Register adds a named job at the given cron spec, wrapping fn with
// the coalesce/max_instances=1 guard and job-duration metrics.
func (s *Scheduler) Register(name, spec string, fn func(ctx context.Context) error) error {
	var running int32

	wrapped := func() {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			s.log.WithField("job", name).Debug("skipping tick: previous run still in flight")
			return
		}
		defer atomic.StoreInt32(&running, 0)

		start := time.Now()
		err := fn(context.Background())
		metrics.ObserveJobRun(name, time.Since(start), err == nil)
		if err != nil {
			s.log.WithError(err).WithField("job", name).Error("scheduled job failed")
		}
	}

	_, err := s.cron.AddFunc(spec, wrapped)
	return err
}

// Start begins running registered jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler; the returned context is done once in-flight
// jobs have finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Len reports how many jobs are currently registered, used by tests to
// assert that disabled jobs are skipped at registration time.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }
