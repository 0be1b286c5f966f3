package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Riboost-Studio/printer-bridge/internal/services"
	"github.com/Riboost-Studio/printer-bridge/internal/spooler"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

const appVersion = "1.0.0"

// --- Main ---

func main() {
	configFlag := flag.String("config", "", "path to the config file (default "+utils.DefaultConfigPath+")")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("printer-bridge", appVersion)
		return
	}

	if err := run(*configFlag); err != nil {
		fmt.Fprintln(os.Stderr, "printer-bridge:", err)
		os.Exit(1)
	}
}

func run(configFlag string) error {
	// 1. Load configuration
	configPath, err := utils.ResolveConfigPath(configFlag)
	if err != nil {
		return err
	}
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logger := utils.NewLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		"version", appVersion, "config", configPath, "api_url", cfg.APIURL, "instance", cfg.InstanceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Shared state
	store := state.NewConfigStore(cfg)
	printers := state.NewPrinterSet()
	registry := state.NewRegistry()

	// 3. Collaborators
	cups := spooler.NewExecutor(spooler.NewCUPS(spooler.ExecRunner))
	defer cups.Close()

	client := services.NewClient(store, nil, logger, appVersion)

	var renderer services.Renderer
	if path, ok := utils.FindChrome(); ok {
		logger.Info("html rendering enabled", "chrome", path, "chrome_version", utils.ChromeVersion(ctx, path))
		renderer = services.NewChromeRenderer(path, logger)
	} else {
		logger.Warn("chrome not found, html payloads are sent to the spooler unrendered",
			"hint", utils.ChromeInstallHint(runtime.GOOS))
	}

	sync := services.NewSynchronizer(client, store, logger)
	printerService := services.NewPrinterService(cups, sync, utils.NewPrinterStore(cfg.Storage.PrintersFile), printers, store, logger)
	tracker := services.NewTracker(client, cups, printers, registry, store, renderer, logger)
	poller := services.NewPoller(client, tracker, registry, store, logger)

	supervisor := &services.Supervisor{
		Config:     store,
		Printers:   printerService,
		Tracker:    tracker,
		Poller:     poller,
		Push:       services.NewPushListener(store, client, logger, appVersion),
		Dispatcher: services.NewDispatcher(client, poller, tracker, registry, store, logger),
		ConfigPath: configPath,
		Logger:     logger,
	}

	// 4. Run until SIGINT/SIGTERM
	err = supervisor.Run(ctx)
	logger.Info("stopped")
	return err
}
