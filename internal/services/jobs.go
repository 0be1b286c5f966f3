package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/spooler"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

var ErrNoLocalPrinters = errors.New("no local printers available")

// JobsAPI is the part of the remote API the job pipeline uses.
type JobsAPI interface {
	FetchPendingJobs(ctx context.Context, instance string) ([]model.PrintJob, error)
	FetchJob(ctx context.Context, id int64) (model.PrintJob, error)
	UpdateJobStatus(ctx context.Context, update model.JobStatusUpdate) error
	DownloadMedia(ctx context.Context, mediaID string) (Media, error)
}

// Renderer turns an HTML document into a printable PDF.
type Renderer interface {
	RenderPDF(ctx context.Context, html []byte) ([]byte, error)
}

// Tracker submits remote print jobs to the local spooler and reports their
// progress back until they reach a terminal state.
type Tracker struct {
	api      JobsAPI
	spooler  spooler.Spooler
	printers *state.PrinterSet
	registry *state.Registry
	config   *state.ConfigStore
	renderer Renderer
	logger   *slog.Logger
	flights  singleflight.Group
	now      func() time.Time

	recovered atomic.Bool
}

func NewTracker(api JobsAPI, sp spooler.Spooler, printers *state.PrinterSet, registry *state.Registry, config *state.ConfigStore, renderer Renderer, logger *slog.Logger) *Tracker {
	return &Tracker{
		api:      api,
		spooler:  sp,
		printers: printers,
		registry: registry,
		config:   config,
		renderer: renderer,
		logger:   logger.With("component", "jobs"),
		now:      time.Now,
	}
}

// Process submits job unless it is already in flight. Concurrent calls for
// the same job share one submission.
func (t *Tracker) Process(ctx context.Context, job model.PrintJob) error {
	_, err := t.process(ctx, job)
	return err
}

func (t *Tracker) process(ctx context.Context, job model.PrintJob) (bool, error) {
	if t.registry.Contains(job.ID) {
		return false, nil
	}
	v, err, _ := t.flights.Do(strconv.FormatInt(job.ID, 10), func() (any, error) {
		if t.registry.Contains(job.ID) {
			return false, nil
		}
		if err := t.submit(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (t *Tracker) submit(ctx context.Context, job model.PrintJob) error {
	ctx = model.WithJobID(model.WithRequestID(ctx, uuid.NewString()), job.ID)
	log := t.logger.With("job_id", job.ID, "request_id", model.RequestID(ctx))

	printer, err := t.resolvePrinter(ctx, job, log)
	if err != nil {
		return fmt.Errorf("job %d: %w", job.ID, err)
	}
	log = log.With("printer", printer.SystemName)

	media, err := t.api.DownloadMedia(ctx, job.MediaID.String())
	if err != nil {
		return fmt.Errorf("job %d: download media %s: %w", job.ID, job.MediaID, err)
	}

	path, err := t.writePayload(ctx, log, media)
	if err != nil {
		return fmt.Errorf("job %d: %w", job.ID, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to delete temp file", "path", path, "error", err)
		}
	}()

	title := fmt.Sprintf("Print Job %d", job.ID)
	handle, err := t.spooler.Submit(ctx, printer.SystemName, path, title)
	if errors.Is(err, spooler.ErrPrinterNotFound) {
		fallback, ok := t.fallbackPrinter(ctx, printer.SystemName)
		if !ok {
			return fmt.Errorf("job %d: %w", job.ID, ErrNoLocalPrinters)
		}
		log.Warn("printer disappeared, submitting to another local printer", "fallback", fallback.SystemName)
		printer = fallback
		log = log.With("printer", printer.SystemName)
		handle, err = t.spooler.Submit(ctx, printer.SystemName, path, title)
	}
	if err != nil {
		return fmt.Errorf("job %d: submit to %s: %w", job.ID, printer.SystemName, err)
	}
	log = log.With("handle", handle)
	log.Info("job submitted to local spooler")

	entry := model.InFlightJob{
		JobID:             job.ID,
		LocalHandle:       handle,
		PrinterSystemName: printer.SystemName,
		SubmittedAt:       t.now(),
	}
	err = t.api.UpdateJobStatus(ctx, model.JobStatusUpdate{
		ID:        job.ID,
		Status:    model.JobStatusQueued,
		CupsJobID: handle,
	})
	if err != nil {
		// The status loop reports the next observed state instead.
		log.Warn("failed to report queued status", "error", err)
	} else {
		entry.LastReportedStatus = model.JobStatusQueued
	}
	t.registry.Insert(entry)
	return nil
}

// resolvePrinter picks the local queue for job. The embedded printer wins,
// then the remote printer id, then the display name; when none of those is
// installed locally the first local printer is used.
func (t *Tracker) resolvePrinter(ctx context.Context, job model.PrintJob, log *slog.Logger) (model.Printer, error) {
	set := t.printers
	if set.Len() == 0 {
		local, err := t.localPrinters(ctx)
		if err != nil {
			return model.Printer{}, err
		}
		set = local
	}

	if job.Printer != nil && job.Printer.SystemName != "" {
		if p, ok := set.Get(job.Printer.SystemName); ok {
			return p, nil
		}
	}

	var remoteID *int64
	if job.Printer != nil && job.Printer.ID != 0 {
		remoteID = &job.Printer.ID
	} else if job.PrinterID != nil {
		remoteID = job.PrinterID
	}
	if remoteID != nil {
		if p, ok := set.ByRemoteID(*remoteID); ok {
			return p, nil
		}
	}

	if job.Printer != nil && job.Printer.Name != "" {
		if p, ok := set.ByName(job.Printer.Name); ok {
			return p, nil
		}
	}

	p, ok := set.First()
	if !ok {
		return model.Printer{}, ErrNoLocalPrinters
	}
	attrs := []any{"fallback", p.SystemName}
	if job.Printer != nil {
		attrs = append(attrs, "target", job.Printer.Name)
	}
	if remoteID != nil {
		attrs = append(attrs, "target_id", *remoteID)
	}
	log.Warn("addressed printer is not installed locally, using fallback", attrs...)
	return p, nil
}

// localPrinters asks the spooler directly, for use before the first
// discovery pass has populated the printer set.
func (t *Tracker) localPrinters(ctx context.Context) (*state.PrinterSet, error) {
	all, err := t.spooler.ListPrinters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local printers: %w", err)
	}
	found := model.SyncedPrinterMap{}
	for _, p := range all {
		if p.SystemName != "" && !IsShadowQueue(p.SystemName) {
			found[p.SystemName] = p
		}
	}
	if len(found) == 0 {
		return nil, ErrNoLocalPrinters
	}
	set := state.NewPrinterSet()
	set.Replace(found)
	return set, nil
}

func (t *Tracker) fallbackPrinter(ctx context.Context, missing string) (model.Printer, bool) {
	set := t.printers
	if local, err := t.localPrinters(ctx); err == nil {
		set = local
	}
	for _, name := range set.Names() {
		if name != missing {
			return set.Get(name)
		}
	}
	return model.Printer{}, false
}

func (t *Tracker) writePayload(ctx context.Context, log *slog.Logger, media Media) (string, error) {
	data := media.Data
	ext := extensionFor(media.ContentType)

	if IsHTML(media.ContentType, data) {
		if t.renderer != nil {
			pdf, err := t.renderer.RenderPDF(ctx, data)
			if err != nil {
				return "", fmt.Errorf("render html payload: %w", err)
			}
			data, ext = pdf, ".pdf"
		} else {
			log.Warn("html payload and no renderer configured, submitting as is")
			ext = ".html"
		}
	}

	dir := t.config.Get().Storage.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, "printer-bridge-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return path, nil
}

// IsHTML reports whether a payload is an HTML document, by content type or
// by sniffing its first bytes when the type is missing or generic.
func IsHTML(contentType string, data []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "text/html", "application/xhtml+xml":
			return true
		case "", "application/octet-stream", "text/plain":
		default:
			return false
		}
	}
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func extensionFor(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/pdf":
		return ".pdf"
	case "application/postscript":
		return ".ps"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

// --- Recovery and status ---

// Recover re-populates the registry from jobs the remote still considers
// queued or processing with a known local handle. Until one call succeeds
// the status loop keeps retrying it.
func (t *Tracker) Recover(ctx context.Context) error {
	jobs, err := t.api.FetchPendingJobs(ctx, t.config.Get().InstanceName)
	if err != nil {
		return fmt.Errorf("recover in-flight jobs: %w", err)
	}
	count := 0
	for _, job := range jobs {
		if t.Adopt(job) {
			count++
		}
	}
	t.recovered.Store(true)
	if count > 0 {
		t.logger.Info("recovered in-flight jobs", "count", count)
	}
	return nil
}

// Adopt registers a job an earlier run submitted: one the remote reports
// queued or processing with a local handle. It reports whether the job was
// added to the registry.
func (t *Tracker) Adopt(job model.PrintJob) bool {
	if job.CupsJobID == "" {
		return false
	}
	if job.Status != model.JobStatusQueued && job.Status != model.JobStatusProcessing {
		return false
	}
	printer := handlePrinter(job.CupsJobID.String())
	if job.Printer != nil && job.Printer.SystemName != "" {
		printer = job.Printer.SystemName
	}
	return t.registry.Insert(model.InFlightJob{
		JobID:              job.ID,
		LocalHandle:        job.CupsJobID.String(),
		PrinterSystemName:  printer,
		SubmittedAt:        t.now(),
		LastReportedStatus: job.Status,
	})
}

// handlePrinter derives the queue from a CUPS request id ("Queue-123").
func handlePrinter(handle string) string {
	i := strings.LastIndex(handle, "-")
	if i <= 0 {
		return handle
	}
	if _, err := strconv.Atoi(handle[i+1:]); err != nil {
		return handle
	}
	return handle[:i]
}

type scopeKey struct {
	printer string
	scope   spooler.JobScope
}

// CheckInFlight runs one status cycle over a snapshot of the registry.
func (t *Tracker) CheckInFlight(ctx context.Context) {
	entries := t.registry.Snapshot()
	if len(entries) == 0 {
		return
	}
	timeout := t.config.Get().JobTimeout()
	cache := make(map[scopeKey][]spooler.LocalJob)
	var done []int64

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.LastReportedStatus.IsTerminal() {
			done = append(done, entry.JobID)
			continue
		}
		log := t.logger.With("job_id", entry.JobID, "printer", entry.PrinterSystemName, "handle", entry.LocalHandle)

		local, found := t.lookup(ctx, cache, entry)
		if !found {
			age := t.now().Sub(entry.SubmittedAt)
			if age < timeout {
				continue
			}
			msg := fmt.Sprintf("job not found in local spooler %s after submission", age.Round(time.Second))
			if t.report(ctx, log, entry, model.JobStatusFailed, msg) {
				log.Warn("in-flight job timed out", "age", age.Round(time.Second))
				done = append(done, entry.JobID)
			}
			continue
		}

		status := spooler.Status(local.State)
		if !entry.LastReportedStatus.CanTransition(status) {
			continue
		}
		reason := ""
		if status == model.JobStatusFailed || status == model.JobStatusCancelled {
			reason = local.Reason
		}
		if !t.report(ctx, log, entry, status, reason) {
			continue
		}
		log.Info("job status changed", "from", entry.LastReportedStatus, "to", status)
		if status.IsTerminal() {
			done = append(done, entry.JobID)
		}
	}

	if n := t.registry.Remove(done...); n > 0 {
		t.logger.Debug("removed finished jobs from registry", "count", n)
	}
}

func (t *Tracker) report(ctx context.Context, log *slog.Logger, entry model.InFlightJob, status model.JobStatus, message string) bool {
	update := model.JobStatusUpdate{
		ID:           entry.JobID,
		IsCompleted:  status.IsTerminal(),
		Status:       status,
		CupsJobID:    entry.LocalHandle,
		ErrorMessage: message,
	}
	if status == model.JobStatusCompleted {
		now := t.now().UTC()
		update.PrintedAt = &now
		update.ErrorMessage = ""
	}
	if err := t.api.UpdateJobStatus(model.WithJobID(ctx, entry.JobID), update); err != nil {
		log.Warn("failed to report job status, will retry", "status", status, "error", err)
		return false
	}
	t.registry.SetStatus(entry.JobID, status)
	return true
}

// lookup finds the entry's handle in the printer's active jobs, then in its
// completed history. Each list is fetched at most once per cycle.
func (t *Tracker) lookup(ctx context.Context, cache map[scopeKey][]spooler.LocalJob, entry model.InFlightJob) (spooler.LocalJob, bool) {
	for _, scope := range []spooler.JobScope{spooler.Active, spooler.Completed} {
		key := scopeKey{entry.PrinterSystemName, scope}
		jobs, ok := cache[key]
		if !ok {
			var err error
			jobs, err = t.spooler.Jobs(ctx, entry.PrinterSystemName, scope)
			if err != nil {
				t.logger.Debug("spooler job lookup failed", "printer", entry.PrinterSystemName, "scope", scope, "error", err)
			}
			cache[key] = jobs
		}
		for _, j := range jobs {
			if j.Handle == entry.LocalHandle {
				return j, true
			}
		}
	}
	return spooler.LocalJob{}, false
}

// RunStatusLoop runs StatusCycle on the status-check interval.
func (t *Tracker) RunStatusLoop(ctx context.Context) {
	utils.Every(ctx, t.logger, func() time.Duration {
		return t.config.Get().StatusCheckInterval()
	}, t.StatusCycle)
}

// StatusCycle retries recovery while it has never succeeded, then checks
// the in-flight jobs.
func (t *Tracker) StatusCycle(ctx context.Context) {
	if !t.recovered.Load() {
		if err := t.Recover(ctx); err != nil {
			t.logger.Warn("recovery still failing, retrying next cycle", "error", err)
		}
	}
	t.CheckInFlight(ctx)
}
