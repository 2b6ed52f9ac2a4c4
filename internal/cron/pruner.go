// Package cron runs periodic housekeeping for long-lived processes.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions and descriptors such as
// @hourly or @every 30m.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Cleaner deletes finished sessions last updated before now-olderThan.
type Cleaner interface {
	CleanupFinishedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Config struct {
	Store     Cleaner
	Schedule  string
	OlderThan time.Duration
	Logger    *slog.Logger
}

// Pruner deletes finished sessions on a cron schedule.
type Pruner struct {
	store     Cleaner
	schedule  cronlib.Schedule
	spec      string
	olderThan time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	c      *cronlib.Cron
	cancel context.CancelFunc
}

// ValidateSchedule reports whether spec is a schedule the pruner accepts.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}

func NewPruner(cfg Config) (*Pruner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("pruner needs a store")
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:     cfg.Store,
		schedule:  sched,
		spec:      cfg.Schedule,
		olderThan: cfg.OlderThan,
		logger:    logger,
	}, nil
}

// Next returns the first run after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

// RunOnce prunes immediately and returns the number of sessions deleted.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	n, err := p.store.CleanupFinishedSessions(ctx, p.olderThan)
	if err != nil {
		p.logger.Error("session prune failed", "error", err)
		return 0, err
	}
	if n > 0 {
		p.logger.Info("sessions pruned", "count", n, "older_than", p.olderThan)
	}
	return n, nil
}

// Start schedules pruning until ctx ends or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.c = cronlib.New(cronlib.WithParser(parser))
	p.c.Schedule(p.schedule, cronlib.FuncJob(func() {
		_, _ = p.RunOnce(ctx)
	}))
	p.c.Start()
	p.logger.Info("session pruner started", "schedule", p.spec, "older_than", p.olderThan)
}

// Stop halts the schedule and waits for a running prune to return.
func (p *Pruner) Stop() {
	p.mu.Lock()
	c, cancel := p.c, p.cancel
	p.c, p.cancel = nil, nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.logger.Info("session pruner stopped")
}
