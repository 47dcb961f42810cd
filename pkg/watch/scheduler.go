package watch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler owns the two external timers: the daily trigger at a fixed
// local wall-clock time and the midnight reset. Cycles run on their own
// goroutine so a slow extraction can never block the timers.
type Scheduler struct {
	orchestrator *Orchestrator
	config       *Config
	logger       *logrus.Logger
}

// NewScheduler creates a Scheduler for the given orchestrator
func NewScheduler(orchestrator *Orchestrator, config *Config, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		orchestrator: orchestrator,
		config:       config,
		logger:       logger,
	}
}

// Run blocks until the context is cancelled, firing the daily cycle on
// trading days and the midnight reset every day.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"daily_run_at": time.Date(0, 1, 1, s.config.DailyHour, s.config.DailyMinute, 0, 0, time.UTC).Format("15:04"),
		"timezone":     s.config.Location.String(),
	}).Info("Scheduler started")

	if s.config.RunOnStart {
		now := time.Now().In(s.config.Location)
		if IsTradingDay(now) {
			go s.orchestrator.RunDailyCycle(ctx)
		} else {
			s.logger.Info("Not a trading day, skipping startup cycle")
		}
	}

	for {
		now := time.Now().In(s.config.Location)
		dailyTimer := time.NewTimer(time.Until(NextDailyRun(now, s.config.DailyHour, s.config.DailyMinute)))
		midnightTimer := time.NewTimer(time.Until(NextMidnight(now)))

		select {
		case <-ctx.Done():
			dailyTimer.Stop()
			midnightTimer.Stop()
			s.logger.Info("Scheduler stopped")
			return ctx.Err()

		case <-dailyTimer.C:
			midnightTimer.Stop()
			fireTime := time.Now().In(s.config.Location)
			if IsTradingDay(fireTime) {
				go s.orchestrator.RunDailyCycle(ctx)
			} else {
				s.logger.WithField("weekday", fireTime.Weekday().String()).Info("Not a trading day, skipping daily cycle")
			}

		case <-midnightTimer.C:
			dailyTimer.Stop()
			s.orchestrator.ResetDaily()
		}
	}
}

// IsTradingDay is the calendar predicate guarding the daily trigger:
// Monday through Friday in the configured timezone.
func IsTradingDay(t time.Time) bool {
	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// NextDailyRun returns the next occurrence of hour:minute strictly
// after now, in now's location.
func NextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextMidnight returns the upcoming midnight boundary after now, in
// now's location.
func NextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
