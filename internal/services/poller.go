package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

// Poller fetches pending jobs from the remote API and hands them to the
// tracker.
type Poller struct {
	api      JobsAPI
	tracker  *Tracker
	registry *state.Registry
	config   *state.ConfigStore
	logger   *slog.Logger
}

func NewPoller(api JobsAPI, tracker *Tracker, registry *state.Registry, config *state.ConfigStore, logger *slog.Logger) *Poller {
	return &Poller{
		api:      api,
		tracker:  tracker,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "job-poller"),
	}
}

// Pending returns the remote jobs for this instance that still need to be
// submitted.
func (p *Poller) Pending(ctx context.Context) ([]model.PrintJob, error) {
	instance := p.config.Get().InstanceName
	jobs, err := p.api.FetchPendingJobs(ctx, instance)
	if err != nil {
		return nil, err
	}
	pending := make([]model.PrintJob, 0, len(jobs))
	for _, job := range jobs {
		if !belongsTo(job, instance) {
			continue
		}
		if p.registry.Contains(job.ID) {
			continue
		}
		if job.Tracked() {
			// Submitted by an earlier run that was never recovered.
			if p.tracker.Adopt(job) {
				p.logger.Info("adopted in-flight job", "job_id", job.ID, "handle", job.CupsJobID)
			}
			continue
		}
		pending = append(pending, job)
	}
	return pending, nil
}

// belongsTo reports whether job still needs printing by instance. Jobs
// without an embedded printer are trusted to the server-side filter.
func belongsTo(job model.PrintJob, instance string) bool {
	if job.IsCompleted || job.Status.IsTerminal() {
		return false
	}
	return job.Printer == nil || job.Printer.SpoolerName == "" || job.Printer.SpoolerName == instance
}

// RunOnce processes every pending job in order and returns how many were
// submitted.
func (p *Poller) RunOnce(ctx context.Context) int {
	jobs, err := p.Pending(ctx)
	if err != nil {
		p.logger.Error("failed to fetch pending jobs", "error", err)
		return 0
	}
	submitted := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ok, err := p.tracker.process(ctx, job)
		if err != nil {
			p.logger.Error("failed to process job", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			submitted++
		}
	}
	if submitted > 0 {
		p.logger.Info("submitted pending jobs", "count", submitted)
	}
	return submitted
}

// Run polls immediately and then on the job-check interval.
func (p *Poller) Run(ctx context.Context) {
	p.RunOnce(ctx)
	utils.Every(ctx, p.logger, func() time.Duration {
		return p.config.Get().JobCheckInterval()
	}, func(ctx context.Context) {
		p.RunOnce(ctx)
	})
}
