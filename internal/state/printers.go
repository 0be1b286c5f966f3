package state

import (
	"sort"
	"sync"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

// PrinterSet is the set of local printers seen by the last discovery pass,
// keyed by stable id.
type PrinterSet struct {
	mu       sync.Mutex
	printers map[string]model.Printer
}

func NewPrinterSet() *PrinterSet {
	return &PrinterSet{printers: make(map[string]model.Printer)}
}

// Replace swaps the whole set for the given printers.
func (s *PrinterSet) Replace(printers model.SyncedPrinterMap) {
	next := printers.Clone()
	s.mu.Lock()
	s.printers = next
	s.mu.Unlock()
}

func (s *PrinterSet) Contains(systemName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.printers[systemName]
	return ok
}

func (s *PrinterSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.printers)
}

func (s *PrinterSet) Get(systemName string) (model.Printer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.printers[systemName]
	return p, ok
}

// ByRemoteID finds the printer the remote directory knows under id.
func (s *PrinterSet) ByRemoteID(id int64) (model.Printer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.sortedKeysLocked() {
		p := s.printers[key]
		if p.PrinterID != nil && *p.PrinterID == id {
			return p, true
		}
	}
	return model.Printer{}, false
}

// ByName finds a printer by display name.
func (s *PrinterSet) ByName(name string) (model.Printer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.sortedKeysLocked() {
		if p := s.printers[key]; p.Name == name {
			return p, true
		}
	}
	return model.Printer{}, false
}

// First returns the printer with the lowest stable id.
func (s *PrinterSet) First() (model.Printer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.sortedKeysLocked()
	if len(keys) == 0 {
		return model.Printer{}, false
	}
	return s.printers[keys[0]], true
}

// Names returns the stable ids in sorted order.
func (s *PrinterSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedKeysLocked()
}

func (s *PrinterSet) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.printers))
	for key := range s.printers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
