package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

const DefaultConfigPath = "~/.config/printer-bridge/config.yaml"

// Environment variables that take precedence over the config file.
const (
	EnvAPIURL   = "PRINTER_BRIDGE_API_URL"
	EnvAPIToken = "PRINTER_BRIDGE_API_TOKEN"
	EnvInstance = "PRINTER_BRIDGE_INSTANCE"
	EnvLogLevel = "PRINTER_BRIDGE_LOG_LEVEL"
)

// ResolveConfigPath expands "~" and makes path absolute. An empty path
// selects DefaultConfigPath.
func ResolveConfigPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	return expandPath(path)
}

// LoadConfig reads the config at path. A missing file is created with the
// defaults. Environment overrides are applied on top of the file contents.
func LoadConfig(path string) (model.Config, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg := model.DefaultConfig()
		if err := SaveConfig(path, cfg); err != nil {
			return model.Config{}, fmt.Errorf("write default config: %w", err)
		}
		return finishConfig(path, cfg), nil
	case err != nil:
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(path, data)
}

// parseConfig decodes data over the defaults.
func parseConfig(path string, data []byte) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := decodeConfig(path, data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return finishConfig(path, cfg), nil
}

func finishConfig(path string, cfg model.Config) model.Config {
	applyEnv(&cfg)
	cfg.Storage.PrintersFile = relativeTo(path, cfg.Storage.PrintersFile)
	return cfg
}

// SaveConfig writes cfg to path in the format its extension selects.
func SaveConfig(path string, cfg model.Config) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return atomicWrite(path, data, 0o600)
}

func decodeConfig(path string, data []byte, cfg *model.Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	// JSON is a subset of YAML, so .json configs go through the same decoder.
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func applyEnv(cfg *model.Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv(EnvInstance); v != "" {
		cfg.InstanceName = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// relativeTo resolves a relative storage path against the config directory.
func relativeTo(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// reloadDebounce is how long the watcher waits after the last event on the
// config file before reading it. In-place rewrites truncate first.
const reloadDebounce = 150 * time.Millisecond

// WatchConfig reloads the config file whenever it is written or replaced
// and hands the parsed result to apply. Parse errors are logged and the
// previous configuration stays in effect. Blocks until ctx is cancelled.
func WatchConfig(ctx context.Context, path string, logger *slog.Logger, apply func(model.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory, not the file.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(reloadDebounce)
		case <-timer.C:
			cfg, ok := reloadConfig(path, logger)
			if !ok {
				continue
			}
			apply(cfg)
			logger.Info("config reloaded", "path", path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}

// reloadConfig reads path for a live reload. Unlike LoadConfig it never
// writes defaults, and a missing or empty file keeps the previous config.
func reloadConfig(path string, logger *slog.Logger) (model.Config, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("config reload failed", "path", path, "error", err)
		return model.Config{}, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Debug("config file is empty, waiting for the write to finish", "path", path)
		return model.Config{}, false
	}
	cfg, err := parseConfig(path, data)
	if err != nil {
		logger.Warn("config reload failed", "path", path, "error", err)
		return model.Config{}, false
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("reloaded config is invalid, keeping previous", "path", path, "error", err)
		return model.Config{}, false
	}
	return cfg, true
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

// atomicWrite writes data to a temp file next to path and renames it over
// path, so readers never see a partial file.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".printer-bridge-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
