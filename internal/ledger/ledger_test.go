package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/feed"
	"signal-trade-bot-go/internal/signal"
)

func sampleRecord() TradeRecord {
	rec := TradeRecord{
		Trader:      "A",
		Symbol:      "BTC/USDT",
		Side:        signal.SideLong,
		Entries:     []float64{100, 98},
		StopLoss:    signal.Float(95),
		TakeProfits: []float64{110},
	}
	rec.VenueOrders("hyperliquid").Entries = []OrderRef{{ID: "1", Price: 100, Size: 1.25}, {ID: "2", Price: 98, Size: 1.25}}
	return rec
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.json"), zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, l.Len())
	assert.Empty(t, l.UpdatesAnchor())
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, zap.NewNop())
	assert.ErrorContains(t, err, "parse ledger")
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	l.Put("https://x/1", sampleRecord())
	l.SetActiveState(feed.State{Hash: "abc", SeenURLs: []string{"https://x/1"}})
	l.SetUpdatesAnchor("42")
	require.NoError(t, l.Flush())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	reloaded, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	rec, ok := reloaded.Get("https://x/1")
	require.True(t, ok)
	assert.Equal(t, []float64{100, 98}, rec.Entries)
	assert.Equal(t, 95.0, *rec.StopLoss)
	assert.Equal(t, 2.5, rec.Orders["hyperliquid"].EntrySize())
	assert.Equal(t, "abc", reloaded.ActiveState().Hash)
	assert.Equal(t, "42", reloaded.UpdatesAnchor())
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, l.Flush())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean ledger is not written")

	l.SetUpdatesAnchor("1")
	require.NoError(t, l.Flush())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestGet_ReturnsCopy(t *testing.T) {
	l, err := Open("", zap.NewNop())
	require.NoError(t, err)
	l.Put("u", sampleRecord())

	rec, _ := l.Get("u")
	rec.Entries[0] = 1
	*rec.StopLoss = 1
	rec.Orders["hyperliquid"].Entries = nil

	again, _ := l.Get("u")
	assert.Equal(t, 100.0, again.Entries[0])
	assert.Equal(t, 95.0, *again.StopLoss)
	assert.Len(t, again.Orders["hyperliquid"].Entries, 2)
}

func TestURLsAndSnapshot(t *testing.T) {
	l, err := Open("", zap.NewNop())
	require.NoError(t, err)
	l.Put("b", sampleRecord())
	l.Put("a", sampleRecord())

	assert.Equal(t, []string{"a", "b"}, l.URLs())
	assert.True(t, l.Has("a"))
	assert.False(t, l.Has("c"))

	doc := l.Snapshot()
	assert.Len(t, doc.ActiveTrades, 2)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	l.Put("u", sampleRecord())
	require.NoError(t, l.Flush())

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, doc.ActiveTrades, "u")
}

func TestLoad_Missing(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, doc.ActiveTrades)
}
