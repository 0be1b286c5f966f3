package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

func TestPrinterSet_Lookups(t *testing.T) {
	set := NewPrinterSet()
	_, ok := set.First()
	assert.False(t, ok)

	set.Replace(model.SyncedPrinterMap{
		"Kitchen": {Name: "Kitchen Printer", SystemName: "Kitchen", PrinterID: model.IntPtr(3)},
		"Bar":     {Name: "Bar Printer", SystemName: "Bar"},
	})

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains("Bar"))
	assert.Equal(t, []string{"Bar", "Kitchen"}, set.Names())

	p, ok := set.ByRemoteID(3)
	require.True(t, ok)
	assert.Equal(t, "Kitchen", p.SystemName)

	p, ok = set.ByName("Bar Printer")
	require.True(t, ok)
	assert.Equal(t, "Bar", p.SystemName)

	first, ok := set.First()
	require.True(t, ok)
	assert.Equal(t, "Bar", first.SystemName)

	_, ok = set.ByRemoteID(99)
	assert.False(t, ok)
}

func TestPrinterSet_ReplaceCopies(t *testing.T) {
	m := model.SyncedPrinterMap{"A": {SystemName: "A", MediaSizes: []string{"A4"}}}
	set := NewPrinterSet()
	set.Replace(m)

	m["A"].MediaSizes[0] = "Letter"
	delete(m, "A")

	p, ok := set.Get("A")
	require.True(t, ok)
	assert.Equal(t, []string{"A4"}, p.MediaSizes)

	set.Replace(model.SyncedPrinterMap{})
	assert.False(t, set.Contains("A"))
}
