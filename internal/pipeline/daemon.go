package pipeline

import (
	"context"
	"sync"
	"time"

	"newsintel/internal/aggregation"
	"newsintel/internal/config"
)

// Schedule sets how often each daemon job runs. A zero interval disables the job.
type Schedule struct {
	Triage      time.Duration
	Analysis    time.Duration
	Retriage    time.Duration
	Cleanup     time.Duration
	Aggregation time.Duration
}

// DefaultSchedule returns the standard job intervals.
func DefaultSchedule() Schedule {
	return Schedule{
		Triage:      5 * time.Minute,
		Analysis:    10 * time.Minute,
		Retriage:    30 * time.Minute,
		Cleanup:     time.Hour,
		Aggregation: 6 * time.Hour,
	}
}

// ScheduleFromSettings reads the daemon section of the configuration.
func ScheduleFromSettings(d config.Daemon) Schedule {
	def := DefaultSchedule()
	return Schedule{
		Triage:      config.Duration(d.TriageInterval, def.Triage),
		Analysis:    config.Duration(d.AnalysisInterval, def.Analysis),
		Retriage:    config.Duration(d.RetriageInterval, def.Retriage),
		Cleanup:     config.Duration(d.CleanupInterval, def.Cleanup),
		Aggregation: config.Duration(d.AggregationInterval, def.Aggregation),
	}
}

// Daemon runs the pipeline's batch passes on tickers until its context is
// cancelled.
type Daemon struct {
	pipeline *Pipeline
	schedule Schedule
	wg       sync.WaitGroup
}

// NewDaemon creates a daemon for p.
func NewDaemon(p *Pipeline, schedule Schedule) *Daemon {
	return &Daemon{pipeline: p, schedule: schedule}
}

// Run starts every enabled job, each running once immediately and then on its
// interval, and blocks until ctx is cancelled and the jobs have returned.
func (d *Daemon) Run(ctx context.Context) error {
	p := d.pipeline
	d.start(ctx, "triage", d.schedule.Triage, func(ctx context.Context) error {
		_, err := p.RunTriage(ctx)
		return err
	})
	d.start(ctx, "analysis", d.schedule.Analysis, func(ctx context.Context) error {
		_, err := p.RunAnalysis(ctx)
		return err
	})
	d.start(ctx, "retriage", d.schedule.Retriage, func(ctx context.Context) error {
		_, err := p.Retriage(ctx)
		return err
	})
	d.start(ctx, "cleanup", d.schedule.Cleanup, func(ctx context.Context) error {
		_, err := p.Cleanup(ctx)
		return err
	})
	d.start(ctx, "aggregation", d.schedule.Aggregation, func(ctx context.Context) error {
		_, err := p.Aggregate(ctx, "", aggregation.RunOptions{})
		return err
	})

	p.log.Info("Daemon started",
		"triage", d.schedule.Triage, "analysis", d.schedule.Analysis, "retriage", d.schedule.Retriage,
		"cleanup", d.schedule.Cleanup, "aggregation", d.schedule.Aggregation)
	<-ctx.Done()
	d.wg.Wait()
	p.log.Info("Daemon stopped")
	return nil
}

func (d *Daemon) start(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	if interval <= 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.runJob(ctx, name, job)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.runJob(ctx, name, job)
			}
		}
	}()
}

func (d *Daemon) runJob(ctx context.Context, name string, job func(context.Context) error) {
	if err := job(ctx); err != nil && ctx.Err() == nil {
		d.pipeline.log.Warn("Daemon job failed", "job", name, "error", err)
	}
}
