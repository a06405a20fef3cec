package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Scheduler runs the periodic maintenance sweeps: the lease reaper, the
// source reliability sweep and the parked outbox retry.
type Scheduler struct {
	log  *logger.Logger
	cron *cron.Cron
}

type sweep struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

func newScheduler(log *logger.Logger) *Scheduler {
	return &Scheduler{
		log:  log.With("service", "Scheduler"),
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (s *Scheduler) add(ctx context.Context, sw sweep) error {
	if sw.schedule == "" || sw.schedule == "off" {
		s.log.Info("Sweep disabled", "sweep", sw.name)
		return nil
	}
	_, err := s.cron.AddFunc(sw.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		n, err := sw.run(ctx)
		if err != nil {
			s.log.Warn("Sweep failed", "sweep", sw.name, "error", err)
			return
		}
		if n > 0 {
			s.log.Info("Sweep finished", "sweep", sw.name, "affected", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", sw.name, sw.schedule, err)
	}
	return nil
}

// Start runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}
