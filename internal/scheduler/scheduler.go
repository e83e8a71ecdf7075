package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

// NoUpcomingSchedule is reported when the expression has no future
// occurrence.
const NoUpcomingSchedule = "No upcoming schedule"

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type ScanFunc func(ctx context.Context) error

// Scheduler runs a scan on every occurrence of a cron expression.
type Scheduler struct {
	expr         string
	schedule     cron.Schedule
	runAtStartup bool
	scan         ScanFunc
	now          func() time.Time
}

// Parse accepts five or six field expressions and descriptors such as
// @hourly or @every 10m.
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid schedule %q: %w", model.ErrScheduling, expr, err)
	}
	return schedule, nil
}

func New(expr string, runAtStartup bool, scan ScanFunc) (*Scheduler, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:         expr,
		schedule:     schedule,
		runAtStartup: runAtStartup,
		scan:         scan,
		now:          time.Now,
	}, nil
}

func (s *Scheduler) Expression() string {
	return s.expr
}

// Next returns the first occurrence strictly after now.
func (s *Scheduler) Next(now time.Time) (time.Time, bool) {
	next := s.schedule.Next(now.UTC())
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// NextScanTime formats the next occurrence as RFC 3339, or returns
// NoUpcomingSchedule.
func (s *Scheduler) NextScanTime() string {
	next, ok := s.Next(s.now())
	if !ok {
		return NoUpcomingSchedule
	}
	return next.Format(time.RFC3339)
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log := logging.GetLogger()
	log.Infof("scheduler started with schedule %s", s.expr)

	if s.runAtStartup {
		log.Info("running full scan at startup")
		s.runScan(ctx)
	}

	for {
		next, ok := s.Next(s.now())
		if !ok {
			log.Warnf("schedule %s has no upcoming occurrence, scheduler idle", s.expr)
			<-ctx.Done()
			return
		}
		log.Infof("next scan at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scheduler stopped")
			return
		case <-timer.C:
			s.runScan(ctx)
		}
	}
}

func (s *Scheduler) runScan(ctx context.Context) {
	if err := s.scan(ctx); err != nil {
		logging.GetLogger().Errorf("scheduled scan failed: %v", err)
	}
}
