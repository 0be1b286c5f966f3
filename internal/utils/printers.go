package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

// PrinterStore persists the synced printer map as a JSON object keyed by
// the printer's stable id.
type PrinterStore struct {
	path string
}

func NewPrinterStore(path string) *PrinterStore {
	return &PrinterStore{path: path}
}

func (s *PrinterStore) Path() string {
	return s.path
}

// Load reads the synced map. A missing file is an empty map. The older
// list layout (a JSON array of printers) is accepted and keyed by
// system_name.
func (s *PrinterStore) Load() (model.SyncedPrinterMap, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.SyncedPrinterMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read printers file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return model.SyncedPrinterMap{}, nil
	}

	if data[0] == '[' {
		var list []model.Printer
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse printers file: %w", err)
		}
		synced := make(model.SyncedPrinterMap, len(list))
		for _, p := range list {
			if p.SystemName == "" {
				continue
			}
			synced[p.SystemName] = p
		}
		return synced, nil
	}

	synced := model.SyncedPrinterMap{}
	if err := json.Unmarshal(data, &synced); err != nil {
		return nil, fmt.Errorf("parse printers file: %w", err)
	}
	for key, p := range synced {
		if p.SystemName == "" {
			p.SystemName = key
			synced[key] = p
		}
	}
	return synced, nil
}

// Save replaces the file contents with synced.
func (s *PrinterStore) Save(synced model.SyncedPrinterMap) error {
	if synced == nil {
		synced = model.SyncedPrinterMap{}
	}
	data, err := json.MarshalIndent(synced, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, append(data, '\n'), 0o644)
}
