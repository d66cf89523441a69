// Package schedule fires the poll cycle on a cron schedule without letting
// two cycles overlap.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSpec fires every 45 seconds.
const DefaultSpec = "@every 45s"

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse validates spec. Both five-field and six-field (leading seconds)
// expressions are accepted, as are descriptors such as "@every 45s".
func Parse(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler runs a Job on a cron schedule.
type Scheduler struct {
	c      *cron.Cron
	logger *slog.Logger
}

// New registers job under spec. A firing that arrives while the previous run
// is still going is skipped; a panicking run is logged and recovered.
func New(ctx context.Context, spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	cl := slogAdapter{logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() { job(ctx) }))
	return &Scheduler{c: c, logger: logger}, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.c.Start()
	s.logger.InfoContext(ctx, "scheduler started", "next", s.Next())
	<-ctx.Done()
	<-s.c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Next reports when the job fires next, or "" before Run.
func (s *Scheduler) Next() string {
	entries := s.c.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return ""
	}
	return entries[0].Next.Format("15:04:05")
}

// slogAdapter satisfies cron.Logger. Cron's routine chatter (start, wake,
// run) goes to Debug; a firing dropped by SkipIfStillRunning is a Warn.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		a.l.Warn("cron: skipped firing; previous poll cycle still running", keysAndValues...)
		return
	}
	a.l.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
