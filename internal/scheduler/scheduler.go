// Package scheduler fires the end-of-day reconciliation sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/cod-ledger/internal/model"
	"github.com/nimasrn/cod-ledger/pkg/logger"
)

type Sweeper interface {
	Sweep(ctx context.Context, date string) (*model.SweepResult, error)
}

// Scheduler runs a sweep every day at a fixed wall clock time. Each run covers the current
// day and the previous one, so late submissions for yesterday are still picked up.
type Scheduler struct {
	sweeper Sweeper
	hour    int
	minute  int
	loc     *time.Location
	now     func() time.Time
	after   func(d time.Duration) <-chan time.Time
}

// New parses at as HH:MM in loc.
func New(sweeper Sweeper, at string, loc *time.Location) (*Scheduler, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("sweep time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		sweeper: sweeper,
		hour:    t.Hour(),
		minute:  t.Minute(),
		loc:     loc,
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Next returns the first firing time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	local := from.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.loc)
	}
	return next
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.Next(s.now())
		logger.Info("next daily sweep scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(s.now())):
		}

		s.RunFor(ctx, next)
	}
}

// RunFor sweeps the day containing at and the day before it.
func (s *Scheduler) RunFor(ctx context.Context, at time.Time) {
	local := at.In(s.loc)
	days := []string{
		model.Day(local.AddDate(0, 0, -1), s.loc),
		model.Day(local, s.loc),
	}
	for _, day := range days {
		result, err := s.sweeper.Sweep(ctx, day)
		if err != nil {
			logger.Error("daily sweep failed", "date", day, "error", err)
			continue
		}
		if result.Errors > 0 {
			logger.Warn("daily sweep finished with errors", "date", day, "errors", result.Errors)
		}
	}
}
