/*
scheduler.go - Periodic invoice generation

PURPOSE:
  Optionally runs invoice generation for the previous month on a fixed
  interval, so invoices appear without an operator calling the generate
  endpoint. Generation is idempotent, so re-running a period is safe.

LIFECYCLE:
  Start() launches a background goroutine; Stop() signals it and waits.
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/invoicing-engine/billing"
	"go.uber.org/zap"
)

// Scheduler triggers invoice generation for the previous month on a
// fixed interval.
type Scheduler struct {
	builder  *billing.Builder
	interval time.Duration
	log      *zap.SugaredLogger

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewScheduler creates a scheduler. interval must be positive.
func NewScheduler(builder *billing.Builder, interval time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		builder:  builder,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Infow("scheduler started", "interval", s.interval)
		for {
			select {
			case <-ticker.C:
				s.run()
			case <-s.stop:
				s.log.Infow("scheduler stopped")
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	period := billing.PeriodOf(s.now()).Previous()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := s.builder.GenerateInvoices(ctx, period)
	if err != nil {
		s.log.Errorw("scheduled generation failed", "period", period.String(), "error", err)
		return
	}
	s.log.Infow("scheduled generation complete",
		"period", period.String(),
		"successful", len(report.Successful),
		"failed", len(report.Failed))
}
