package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

const defaultRestartDelay = 5 * time.Second

// Task is one long-running loop owned by the supervisor. Run returns when
// ctx is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// Supervisor performs the startup pass and keeps the agent's loops running.
type Supervisor struct {
	Config     *state.ConfigStore
	Printers   *PrinterService
	Tracker    *Tracker
	Poller     *Poller
	Push       *PushListener
	Dispatcher *Dispatcher
	// ConfigPath enables the config-watch task when set.
	ConfigPath string
	Logger     *slog.Logger

	RestartDelay time.Duration
}

// Run blocks until ctx is cancelled and every task has stopped or been
// abandoned.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.Logger.With("component", "supervisor")

	added, err := s.Printers.SyncOnce(ctx)
	if err != nil {
		log.Error("initial printer sync failed, continuing with local printers", "error", err)
	} else {
		log.Info("initial printer sync done", "new", len(added))
	}
	if err := s.Tracker.Recover(ctx); err != nil {
		log.Warn("could not recover in-flight jobs", "error", err)
	}

	tasks := s.Tasks()
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	cfg := s.Config.Get()
	log.Info("agent ready", "instance", cfg.InstanceName, "push", cfg.PushEnabled, "tasks", names)

	s.RunTasks(ctx, tasks)
	return nil
}

// Tasks lists the loops to run for the current configuration.
func (s *Supervisor) Tasks() []Task {
	tasks := []Task{{Name: "printer-sync", Run: s.Printers.Run}}

	if s.Config.Get().PushEnabled {
		signals := make(chan model.PushSignal, 16)
		tasks = append(tasks,
			Task{Name: "push-listener", Run: func(ctx context.Context) { s.Push.Run(ctx, signals) }},
			Task{Name: "push-dispatch", Run: func(ctx context.Context) { s.Dispatcher.Run(ctx, signals) }},
		)
	} else {
		tasks = append(tasks, Task{Name: "job-poller", Run: s.Poller.Run})
	}

	tasks = append(tasks, Task{Name: "status-check", Run: s.Tracker.RunStatusLoop})

	if s.ConfigPath != "" {
		tasks = append(tasks, Task{Name: "config-watch", Run: func(ctx context.Context) {
			err := utils.WatchConfig(ctx, s.ConfigPath, s.Logger.With("component", "config"), s.Config.Reload)
			if err != nil {
				s.Logger.Error("config watch stopped", "error", err)
			}
		}})
	}
	return tasks
}

// RunTasks starts every task under a recover boundary, waits for ctx to be
// cancelled and then gives each task the shutdown timeout to return.
func (s *Supervisor) RunTasks(ctx context.Context, tasks []Task) {
	log := s.Logger.With("component", "supervisor")
	done := make([]chan struct{}, len(tasks))
	for i, t := range tasks {
		done[i] = make(chan struct{})
		go s.supervise(ctx, log, t, done[i])
	}

	<-ctx.Done()
	timeout := s.Config.Get().ShutdownTimeout()
	log.Info("shutting down", "timeout_per_task", timeout)

	var abandoned []string
	for i, t := range tasks {
		timer := time.NewTimer(timeout)
		select {
		case <-done[i]:
		case <-timer.C:
			abandoned = append(abandoned, t.Name)
		}
		timer.Stop()
	}
	if len(abandoned) > 0 {
		log.Warn("tasks did not stop in time, abandoning", "tasks", abandoned)
		return
	}
	log.Info("all tasks stopped")
}

func (s *Supervisor) supervise(ctx context.Context, log *slog.Logger, t Task, done chan<- struct{}) {
	defer close(done)
	delay := s.RestartDelay
	if delay <= 0 {
		delay = defaultRestartDelay
	}
	for {
		err := utils.Safe(func() { t.Run(ctx) })
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Error("task panicked, restarting", "task", t.Name, "error", err, "delay", delay)
		} else {
			log.Warn("task exited early, restarting", "task", t.Name, "delay", delay)
		}
		if !utils.Sleep(ctx, delay) {
			return
		}
	}
}
