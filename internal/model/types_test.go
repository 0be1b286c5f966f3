package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_Equal(t *testing.T) {
	a := Printer{Name: "HP", SystemName: "HP", MediaSizes: []string{"A4"}, PrinterID: IntPtr(1)}
	b := a.WithID(IntPtr(1))
	assert.True(t, a.Equal(b))

	b.MediaSizes = []string{"A4", "Letter"}
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(a.WithID(nil)))
	assert.False(t, a.Equal(a.WithID(IntPtr(2))))
}

func TestPrinter_WithIDCopies(t *testing.T) {
	id := int64(5)
	p := Printer{}.WithID(&id)
	id = 6
	assert.Equal(t, int64(5), *p.PrinterID)
}

func TestSyncedPrinterMap_CloneIsDeep(t *testing.T) {
	m := SyncedPrinterMap{"HP": {SystemName: "HP", MediaSizes: []string{"A4"}, PrinterID: IntPtr(1)}}
	c := m.Clone()
	assert.True(t, m.Equal(c))

	c["HP"].MediaSizes[0] = "Letter"
	*c["HP"].PrinterID = 2
	assert.Equal(t, "A4", m["HP"].MediaSizes[0])
	assert.Equal(t, int64(1), *m["HP"].PrinterID)
	assert.False(t, m.Equal(c))
}

func TestSyncedPrinterMap_Keys(t *testing.T) {
	m := SyncedPrinterMap{"b": {}, "a": {}, "c": {}}
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}

func TestPrinter_ToRemote(t *testing.T) {
	r := Printer{Name: "Kitchen", SystemName: "kitchen"}.ToRemote("shop-1")
	assert.Nil(t, r.ID)
	assert.Equal(t, "shop-1", r.SpoolerName)
	assert.True(t, r.IsActive)
	assert.NotNil(t, r.MediaSizes)
}
