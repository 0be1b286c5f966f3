package model

import (
	"slices"
	"sort"
)

// Printer is one local print queue as known to this agent.
type Printer struct {
	Name         string   `json:"name"`
	SystemName   string   `json:"system_name"`
	URI          string   `json:"uri,omitempty"`
	Description  string   `json:"description"`
	Location     string   `json:"location"`
	MakeAndModel string   `json:"make_and_model"`
	MediaSizes   []string `json:"media_sizes"`
	PrinterID    *int64   `json:"printer_id,omitempty"` // Assigned by server
}

// SameRemoteFields reports whether the fields mirrored to the remote
// directory are equal.
func (p Printer) SameRemoteFields(o Printer) bool {
	return p.Description == o.Description &&
		p.Location == o.Location &&
		p.MakeAndModel == o.MakeAndModel &&
		slices.Equal(p.MediaSizes, o.MediaSizes) &&
		sameID(p.PrinterID, o.PrinterID)
}

// Equal compares every persisted field.
func (p Printer) Equal(o Printer) bool {
	return p.Name == o.Name &&
		p.SystemName == o.SystemName &&
		p.URI == o.URI &&
		p.SameRemoteFields(o)
}

// WithID returns a copy of p carrying the given remote id.
func (p Printer) WithID(id *int64) Printer {
	if id != nil {
		v := *id
		id = &v
	}
	p.PrinterID = id
	return p
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IntPtr is a small helper for optional remote ids.
func IntPtr(v int64) *int64 {
	return &v
}

// SyncedPrinterMap maps a printer's stable id to its last synced state.
type SyncedPrinterMap map[string]Printer

// Equal reports whether both maps hold the same keys with field-wise equal
// printers.
func (m SyncedPrinterMap) Equal(o SyncedPrinterMap) bool {
	if len(m) != len(o) {
		return false
	}
	for key, p := range m {
		other, ok := o[key]
		if !ok || !p.Equal(other) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m SyncedPrinterMap) Clone() SyncedPrinterMap {
	out := make(SyncedPrinterMap, len(m))
	for key, p := range m {
		p.MediaSizes = slices.Clone(p.MediaSizes)
		out[key] = p.WithID(p.PrinterID)
	}
	return out
}

// Keys returns the stable ids in sorted order.
func (m SyncedPrinterMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// RemotePrinter is the printer record held by the remote directory.
type RemotePrinter struct {
	ID           *int64   `json:"id,omitempty"`
	Name         string   `json:"name"`
	SystemName   string   `json:"system_name,omitempty"`
	URI          string   `json:"uri,omitempty"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	MakeAndModel string   `json:"make_and_model,omitempty"`
	MediaSizes   []string `json:"media_sizes"`
	SpoolerName  string   `json:"spooler_name"`
	IsActive     bool     `json:"is_active"`
}

// ToRemote builds the remote record for p under the given instance.
func (p Printer) ToRemote(instance string) RemotePrinter {
	sizes := p.MediaSizes
	if sizes == nil {
		sizes = []string{}
	}
	return RemotePrinter{
		ID:           p.PrinterID,
		Name:         p.Name,
		SystemName:   p.SystemName,
		URI:          p.URI,
		Description:  p.Description,
		Location:     p.Location,
		MakeAndModel: p.MakeAndModel,
		MediaSizes:   sizes,
		SpoolerName:  instance,
		IsActive:     true,
	}
}
