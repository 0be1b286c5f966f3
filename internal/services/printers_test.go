package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

func localPrinter(systemName string) model.Printer {
	return model.Printer{
		Name:         systemName + " display",
		SystemName:   systemName,
		URI:          "ipp://printers.local/" + systemName,
		Description:  systemName + " description",
		Location:     "Front desk",
		MakeAndModel: "Generic PDF",
		MediaSizes:   []string{"A4"},
	}
}

func remoteRecord(id int64, p model.Printer) model.RemotePrinter {
	return p.WithID(&id).ToRemote("shop-1")
}

func TestSynchronize_CreatesNewPrinters(t *testing.T) {
	dir := newFakeDirectory()
	sync := NewSynchronizer(dir, testConfig(t), discard)

	out, err := sync.Synchronize(context.Background(), []model.Printer{localPrinter("A"), localPrinter("B")}, model.SyncedPrinterMap{})
	require.NoError(t, err)
	require.Len(t, dir.creates, 2)
	for _, c := range dir.creates {
		assert.Equal(t, "shop-1", c.SpoolerName)
		assert.True(t, c.IsActive)
	}
	require.NotNil(t, out["A"].PrinterID)
	require.NotNil(t, out["B"].PrinterID)
	assert.NotEqual(t, *out["A"].PrinterID, *out["B"].PrinterID)
}

func TestPrinterService_IdempotentSync(t *testing.T) {
	cfg := testConfig(t)
	dir := newFakeDirectory()
	sp := newFakeSpooler(localPrinter("A"), localPrinter("B"))
	store := utils.NewPrinterStore(filepath.Join(t.TempDir(), "printers.json"))
	set := state.NewPrinterSet()
	svc := NewPrinterService(sp, NewSynchronizer(dir, cfg, discard), store, set, cfg, discard)

	added, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, added, 2)
	assert.Equal(t, 2, dir.calls())

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(store.Path(), old, old))
	dir.reset()

	added, err = svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Zero(t, dir.calls(), "second pass must not touch the remote directory")

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged map must not be rewritten")
	assert.Equal(t, []string{"A", "B"}, set.Names())
}

func TestSynchronize_StableIDPrecedence(t *testing.T) {
	q1 := localPrinter("Q1")
	q1.Name = "Office"
	q2 := localPrinter("Q2")
	q2.Name = "Office"

	legacy := model.RemotePrinter{ID: model.IntPtr(2), Name: "Office", SpoolerName: "shop-1", IsActive: true}
	dir := newFakeDirectory(remoteRecord(1, q1), legacy)
	sync := NewSynchronizer(dir, testConfig(t), discard)

	out, err := sync.Synchronize(context.Background(), []model.Printer{q2, q1}, model.SyncedPrinterMap{})
	require.NoError(t, err)

	assert.Equal(t, int64(1), *out["Q1"].PrinterID, "stable id match wins")
	assert.Equal(t, int64(2), *out["Q2"].PrinterID, "leftover legacy record goes to the other queue")
	assert.Empty(t, dir.creates)
	require.Len(t, dir.updates, 1, "only the legacy record is backfilled")
	assert.Equal(t, int64(2), *dir.updates[0].ID)
	assert.Equal(t, "Q2", dir.updates[0].SystemName)
}

func TestSynchronize_StableIDNeverFallsBackToName(t *testing.T) {
	q1 := localPrinter("Q1")
	q1.Name = "Office"
	legacy := model.RemotePrinter{ID: model.IntPtr(2), Name: "Office", SpoolerName: "shop-1"}
	dir := newFakeDirectory(remoteRecord(1, q1), legacy)
	sync := NewSynchronizer(dir, testConfig(t), discard)

	out, err := sync.Synchronize(context.Background(), []model.Printer{q1}, model.SyncedPrinterMap{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), *out["Q1"].PrinterID)
	assert.Zero(t, dir.calls())
}

func TestSynchronize_LegacyMatchForcesUpdate(t *testing.T) {
	kitchen := localPrinter("Kitchen_Q")
	kitchen.Name = "Kitchen"
	rec := kitchen.WithID(model.IntPtr(5)).ToRemote("shop-1")
	rec.SystemName = ""
	rec.URI = ""
	dir := newFakeDirectory(rec)
	sync := NewSynchronizer(dir, testConfig(t), discard)

	synced := model.SyncedPrinterMap{"Kitchen_Q": kitchen.WithID(model.IntPtr(5))}
	out, err := sync.Synchronize(context.Background(), []model.Printer{kitchen}, synced)
	require.NoError(t, err)

	require.Len(t, dir.updates, 1)
	assert.Equal(t, "Kitchen_Q", dir.updates[0].SystemName)
	assert.Equal(t, kitchen.URI, dir.updates[0].URI)
	assert.True(t, out.Equal(synced))
}

func TestSynchronize_RemovalCorrectness(t *testing.T) {
	a, b, c := localPrinter("A"), localPrinter("B"), localPrinter("C")
	dir := newFakeDirectory(remoteRecord(1, a), remoteRecord(2, b))
	sync := NewSynchronizer(dir, testConfig(t), discard)

	synced := model.SyncedPrinterMap{
		"A": a.WithID(model.IntPtr(1)),
		"B": b.WithID(model.IntPtr(2)),
		"C": c.WithID(model.IntPtr(3)),
	}
	out, err := sync.Synchronize(context.Background(), []model.Printer{a, b}, synced)
	require.NoError(t, err, "a 404 on delete is success")

	assert.Equal(t, []int64{3}, dir.deletes)
	assert.Empty(t, dir.creates)
	assert.Empty(t, dir.updates)
	assert.Equal(t, []string{"A", "B"}, out.Keys())
}

func TestSynchronize_FailedDeleteIsRetried(t *testing.T) {
	a, c := localPrinter("A"), localPrinter("C")
	dir := newFakeDirectory(remoteRecord(1, a), remoteRecord(3, c))
	dir.deleteErr[3] = errors.New("connection reset")
	sync := NewSynchronizer(dir, testConfig(t), discard)

	synced := model.SyncedPrinterMap{"A": a.WithID(model.IntPtr(1)), "C": c.WithID(model.IntPtr(3))}
	out, err := sync.Synchronize(context.Background(), []model.Printer{a}, synced)
	require.NoError(t, err)
	assert.Contains(t, out, "C", "failed delete stays a removal candidate")

	delete(dir.deleteErr, 3)
	out, err = sync.Synchronize(context.Background(), []model.Printer{a}, out)
	require.NoError(t, err)
	assert.NotContains(t, out, "C")
	assert.Equal(t, []int64{3, 3}, dir.deletes)
}

func TestSynchronize_UnregisteredRemovalIsDropped(t *testing.T) {
	dir := newFakeDirectory()
	sync := NewSynchronizer(dir, testConfig(t), discard)

	out, err := sync.Synchronize(context.Background(), nil, model.SyncedPrinterMap{"Z": localPrinter("Z")})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, dir.deletes)
}

func TestSynchronize_CreateFailureRetriedNextPass(t *testing.T) {
	dir := newFakeDirectory()
	dir.createErr = errors.New("503")
	sync := NewSynchronizer(dir, testConfig(t), discard)

	out, err := sync.Synchronize(context.Background(), []model.Printer{localPrinter("A")}, model.SyncedPrinterMap{})
	require.NoError(t, err)
	require.Contains(t, out, "A")
	assert.Nil(t, out["A"].PrinterID)

	dir.createErr = nil
	out, err = sync.Synchronize(context.Background(), []model.Printer{localPrinter("A")}, out)
	require.NoError(t, err)
	assert.NotNil(t, out["A"].PrinterID)
	assert.Len(t, dir.creates, 2)
}

func TestSynchronize_UpdatesChangedFields(t *testing.T) {
	a := localPrinter("A")
	dir := newFakeDirectory(remoteRecord(1, a))
	sync := NewSynchronizer(dir, testConfig(t), discard)

	synced := model.SyncedPrinterMap{"A": a.WithID(model.IntPtr(1))}
	moved := a
	moved.Location = "Back office"
	moved.MediaSizes = []string{"A4", "Letter"}

	out, err := sync.Synchronize(context.Background(), []model.Printer{moved}, synced)
	require.NoError(t, err)
	require.Len(t, dir.updates, 1)
	assert.Equal(t, "Back office", dir.updates[0].Location)
	assert.Equal(t, "Back office", out["A"].Location)
}

func TestSynchronize_UpdateNotFoundRecreates(t *testing.T) {
	a := localPrinter("A")
	dir := newFakeDirectory()
	sync := NewSynchronizer(dir, testConfig(t), discard)

	changed := a
	changed.Description = "new"
	synced := model.SyncedPrinterMap{"A": a.WithID(model.IntPtr(9))}

	out, err := sync.Synchronize(context.Background(), []model.Printer{changed}, synced)
	require.NoError(t, err)
	require.Len(t, dir.updates, 1)
	require.Len(t, dir.creates, 1)
	require.NotNil(t, out["A"].PrinterID)
	assert.NotEqual(t, int64(9), *out["A"].PrinterID)
}

func TestSynchronize_FailedUpdateKeepsOldFields(t *testing.T) {
	a := localPrinter("A")
	dir := newFakeDirectory(remoteRecord(1, a))
	dir.updateErr = errors.New("timeout")
	sync := NewSynchronizer(dir, testConfig(t), discard)

	synced := model.SyncedPrinterMap{"A": a.WithID(model.IntPtr(1))}
	changed := a
	changed.Description = "new"

	out, err := sync.Synchronize(context.Background(), []model.Printer{changed}, synced)
	require.NoError(t, err)
	assert.Equal(t, a.Description, out["A"].Description)
}

func TestSynchronize_ListFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	dir := newFakeDirectory()
	dir.listErr = errors.New("unreachable")
	sp := newFakeSpooler(localPrinter("A"))
	store := utils.NewPrinterStore(filepath.Join(t.TempDir(), "printers.json"))
	synced := model.SyncedPrinterMap{"A": localPrinter("A").WithID(model.IntPtr(4))}
	require.NoError(t, store.Save(synced))
	set := state.NewPrinterSet()

	svc := NewPrinterService(sp, NewSynchronizer(dir, cfg, discard), store, set, cfg, discard)
	_, err := svc.SyncOnce(context.Background())
	require.Error(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Equal(synced), "store is untouched on a failed pass")

	p, ok := set.Get("A")
	require.True(t, ok, "local printers stay usable")
	assert.Equal(t, int64(4), *p.PrinterID)
}

func TestPrinterService_SkipsShadowQueues(t *testing.T) {
	cfg := testConfig(t)
	dir := newFakeDirectory()
	noMedia := localPrinter("Label")
	noMedia.MediaSizes = nil
	sp := newFakeSpooler(localPrinter("HP"), localPrinter("HP@office.local"), noMedia)
	set := state.NewPrinterSet()
	svc := NewPrinterService(sp, NewSynchronizer(dir, cfg, discard),
		utils.NewPrinterStore(filepath.Join(t.TempDir(), "printers.json")), set, cfg, discard)

	_, err := svc.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"HP", "Label"}, set.Names())
	assert.Len(t, dir.creates, 2)
}

func TestIsShadowQueue(t *testing.T) {
	assert.True(t, IsShadowQueue("Brother@printer.local"))
	assert.False(t, IsShadowQueue("Brother_HL"))
}
