package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/spooler"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

// RemoteDirectory is the remote printer registry.
type RemoteDirectory interface {
	ListPrinters(ctx context.Context, instance string) ([]model.RemotePrinter, error)
	CreatePrinter(ctx context.Context, p model.RemotePrinter) (int64, error)
	UpdatePrinter(ctx context.Context, p model.RemotePrinter) error
	DeletePrinter(ctx context.Context, id int64, instance string) error
}

// --- Synchronizer ---

// Synchronizer reconciles locally discovered printers with the remote
// directory and the last synced map.
type Synchronizer struct {
	dir    RemoteDirectory
	config *state.ConfigStore
	logger *slog.Logger
}

func NewSynchronizer(dir RemoteDirectory, config *state.ConfigStore, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		dir:    dir,
		config: config,
		logger: logger.With("component", "printer-sync"),
	}
}

type resolved struct {
	remote *model.RemotePrinter
	legacy bool
}

// Synchronize runs one reconciliation pass and returns the new synced map.
// A failure to list the remote directory aborts the pass; individual
// create, update and delete failures are logged and retried next pass.
func (s *Synchronizer) Synchronize(ctx context.Context, local []model.Printer, synced model.SyncedPrinterMap) (model.SyncedPrinterMap, error) {
	instance := s.config.Get().InstanceName

	remote, err := s.dir.ListPrinters(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("list remote printers: %w", err)
	}

	printers := sortedPrinters(local)
	matches := matchRemote(printers, remote)

	out := make(model.SyncedPrinterMap, len(printers))
	claimed := make(map[int64]bool)

	for i, p := range printers {
		m := matches[i]
		key := p.SystemName
		prev, inSynced := synced[key]
		log := s.logger.With("printer", key)

		id := prev.PrinterID
		if m.remote != nil {
			id = m.remote.ID
		}
		candidate := p.WithID(id)

		if candidate.PrinterID == nil {
			out[key] = s.create(ctx, log, candidate, instance)
			markClaimed(claimed, out[key].PrinterID)
			continue
		}

		var changed bool
		switch {
		case m.legacy:
			log.Info("legacy remote record matched by name, backfilling stable id", "printer_id", *id)
			changed = true
		case inSynced:
			changed = !prev.SameRemoteFields(candidate)
		case m.remote != nil:
			changed = !sameAsRemote(candidate, *m.remote)
		}

		if !changed {
			out[key] = candidate
			markClaimed(claimed, id)
			continue
		}

		err := s.dir.UpdatePrinter(ctx, candidate.ToRemote(instance))
		switch {
		case err == nil:
			log.Info("updated remote printer", "printer_id", *id)
			out[key] = candidate
		case errors.Is(err, ErrNotFound):
			log.Warn("remote printer vanished, re-creating", "printer_id", *id)
			out[key] = s.create(ctx, log, candidate.WithID(nil), instance)
		default:
			log.Error("failed to update remote printer", "printer_id", *id, "error", err)
			if inSynced {
				// Keep the old fields so the next pass sees the difference again.
				out[key] = prev.WithID(id)
			} else {
				out[key] = candidate
			}
		}
		markClaimed(claimed, out[key].PrinterID)
	}

	for _, key := range synced.Keys() {
		if _, ok := out[key]; ok {
			continue
		}
		prev := synced[key]
		log := s.logger.With("printer", key)
		if prev.PrinterID == nil {
			log.Debug("dropping removed printer that was never registered")
			continue
		}
		if claimed[*prev.PrinterID] {
			log.Info("removed printer's remote record now belongs to another queue", "printer_id", *prev.PrinterID)
			continue
		}

		err := s.dir.DeletePrinter(ctx, *prev.PrinterID, instance)
		switch {
		case err == nil:
			log.Info("deleted remote printer", "printer_id", *prev.PrinterID)
		case errors.Is(err, ErrNotFound):
			log.Info("remote printer already gone", "printer_id", *prev.PrinterID)
		default:
			log.Error("failed to delete remote printer, will retry", "printer_id", *prev.PrinterID, "error", err)
			out[key] = prev
		}
	}

	return out, nil
}

func (s *Synchronizer) create(ctx context.Context, log *slog.Logger, p model.Printer, instance string) model.Printer {
	id, err := s.dir.CreatePrinter(ctx, p.ToRemote(instance))
	if err != nil {
		log.Error("failed to create remote printer, will retry", "error", err)
		return p.WithID(nil)
	}
	log.Info("created remote printer", "printer_id", id)
	return p.WithID(&id)
}

// matchRemote pairs each local printer with at most one remote record.
// Stable-id matches are resolved first for every printer; only then are
// leftover legacy records (no system_name) matched by display name.
func matchRemote(local []model.Printer, remote []model.RemotePrinter) []resolved {
	bySystem := make(map[string]int)
	byName := make(map[string]int)
	for i, r := range remote {
		if r.ID == nil {
			continue
		}
		if r.SystemName != "" {
			if _, dup := bySystem[r.SystemName]; !dup {
				bySystem[r.SystemName] = i
			}
			continue
		}
		if _, dup := byName[r.Name]; !dup {
			byName[r.Name] = i
		}
	}

	out := make([]resolved, len(local))
	used := make(map[int]bool)
	for i, p := range local {
		if idx, ok := bySystem[p.SystemName]; ok {
			out[i].remote = &remote[idx]
			used[idx] = true
		}
	}
	for i, p := range local {
		if out[i].remote != nil {
			continue
		}
		idx, ok := byName[p.Name]
		if !ok || used[idx] {
			continue
		}
		out[i].remote = &remote[idx]
		out[i].legacy = true
		used[idx] = true
	}
	return out
}

func sameAsRemote(p model.Printer, r model.RemotePrinter) bool {
	return p.SameRemoteFields(model.Printer{
		Description:  r.Description,
		Location:     r.Location,
		MakeAndModel: r.MakeAndModel,
		MediaSizes:   r.MediaSizes,
		PrinterID:    r.ID,
	})
}

func markClaimed(claimed map[int64]bool, id *int64) {
	if id != nil {
		claimed[*id] = true
	}
}

func sortedPrinters(printers []model.Printer) []model.Printer {
	out := append([]model.Printer(nil), printers...)
	sort.Slice(out, func(i, j int) bool { return out[i].SystemName < out[j].SystemName })
	return out
}

// --- Discovery service ---

// PrinterService runs discovery and synchronization passes and publishes
// the result to the shared printer set.
type PrinterService struct {
	spooler  spooler.Spooler
	sync     *Synchronizer
	store    *utils.PrinterStore
	printers *state.PrinterSet
	config   *state.ConfigStore
	logger   *slog.Logger
}

func NewPrinterService(sp spooler.Spooler, sync *Synchronizer, store *utils.PrinterStore, printers *state.PrinterSet, config *state.ConfigStore, logger *slog.Logger) *PrinterService {
	return &PrinterService{
		spooler:  sp,
		sync:     sync,
		store:    store,
		printers: printers,
		config:   config,
		logger:   logger.With("component", "printer-sync"),
	}
}

// IsShadowQueue reports whether a queue is a network-discovery duplicate
// of a real queue (CUPS names those "Queue@host.local").
func IsShadowQueue(systemName string) bool {
	return strings.Contains(systemName, "@")
}

// Discover lists the local printers worth synchronizing.
func (s *PrinterService) Discover(ctx context.Context) ([]model.Printer, error) {
	all, err := s.spooler.ListPrinters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local printers: %w", err)
	}
	printers := make([]model.Printer, 0, len(all))
	for _, p := range all {
		if p.SystemName == "" {
			continue
		}
		if IsShadowQueue(p.SystemName) {
			s.logger.Debug("skipping shadow queue", "printer", p.SystemName)
			continue
		}
		if len(p.MediaSizes) == 0 {
			s.logger.Warn("no media sizes reported, printer may not be fully configured", "printer", p.SystemName)
		}
		printers = append(printers, p)
	}
	return printers, nil
}

// SyncOnce performs one discovery and synchronization pass and returns the
// printers that were not in the previous synced map.
func (s *PrinterService) SyncOnce(ctx context.Context) ([]model.Printer, error) {
	local, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	synced, err := s.store.Load()
	if err != nil {
		s.logger.Warn("could not read synced printers, starting from empty state", "path", s.store.Path(), "error", err)
		synced = model.SyncedPrinterMap{}
	}

	updated, err := s.sync.Synchronize(ctx, local, synced)
	if err != nil {
		// The directory is unreachable; keep printing to what is installed.
		s.printers.Replace(withKnownIDs(local, synced))
		return nil, err
	}

	if !updated.Equal(synced) {
		if err := s.store.Save(updated); err != nil {
			s.logger.Error("failed to save synced printers", "path", s.store.Path(), "error", err)
		} else {
			s.logger.Info("synced printers saved", "count", len(updated))
		}
	}

	current := make(model.SyncedPrinterMap, len(local))
	var added []model.Printer
	for _, p := range local {
		current[p.SystemName] = updated[p.SystemName]
		if _, ok := synced[p.SystemName]; !ok {
			added = append(added, updated[p.SystemName])
		}
	}
	s.printers.Replace(current)
	return added, nil
}

// Run repeats SyncOnce on the printer-check interval.
func (s *PrinterService) Run(ctx context.Context) {
	utils.Every(ctx, s.logger, func() time.Duration {
		return s.config.Get().PrinterCheckInterval()
	}, func(ctx context.Context) {
		added, err := s.SyncOnce(ctx)
		if err != nil {
			s.logger.Error("printer sync failed", "error", err)
			return
		}
		for _, p := range added {
			s.logger.Info("new printer discovered", "printer", p.SystemName, "name", p.Name)
		}
	})
}

func withKnownIDs(local []model.Printer, synced model.SyncedPrinterMap) model.SyncedPrinterMap {
	out := make(model.SyncedPrinterMap, len(local))
	for _, p := range local {
		out[p.SystemName] = p.WithID(synced[p.SystemName].PrinterID)
	}
	return out
}
