package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/youthmappers/mapactivity/log"
	"github.com/youthmappers/mapactivity/stats"
)

// Scheduler triggers runs on a cron schedule. A tick that fires while the
// previous run is still active is skipped with a warning, runs never
// overlap.
type Scheduler struct {
	spec string
	run  func(context.Context) error
	sem  chan struct{}
}

func NewScheduler(spec string, run func(context.Context) error) *Scheduler {
	return &Scheduler{
		spec: spec,
		run:  run,
		sem:  make(chan struct{}, 1),
	}
}

// Start blocks until ctx is cancelled, triggering runs per the schedule.
// Cancelling waits for an active run to return.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.trigger(ctx) }); err != nil {
		return errors.Wrapf(err, "invalid schedule %q", s.spec)
	}

	log.Printf("[info] scheduling runs at %q", s.spec)
	c.Start()
	<-ctx.Done()

	log.Printf("[info] shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) trigger(ctx context.Context) {
	select {
	case s.sem <- struct{}{}:
	default:
		log.Printf("[warn] skipping scheduled run, previous run still active")
		stats.RunsSkipped.Inc()
		return
	}
	defer func() { <-s.sem }()

	if err := s.run(ctx); err != nil {
		log.Printf("[error] scheduled run failed: %s", err)
	}
}
