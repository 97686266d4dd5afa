package trader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/feed"
	"signal-trade-bot-go/internal/ledger"
	"signal-trade-bot-go/internal/metrics"
	"signal-trade-bot-go/internal/signal"
	"signal-trade-bot-go/internal/sizing"
	"signal-trade-bot-go/internal/venue"
)

// MockExecutor is a mock implementation of the venue.Executor interface.
type MockExecutor struct {
	mock.Mock
	name string
}

func (m *MockExecutor) Venue() string { return m.name }

func (m *MockExecutor) PlaceEntries(ctx context.Context, req venue.EntryRequest) ([]venue.Order, error) {
	args := m.Called(ctx, req)
	o, _ := args.Get(0).([]venue.Order)
	return o, args.Error(1)
}

func (m *MockExecutor) CancelOrders(ctx context.Context, symbol string, side signal.Side, scope venue.Scope) (int, error) {
	args := m.Called(ctx, symbol, side, scope)
	return args.Int(0), args.Error(1)
}

func (m *MockExecutor) SetStopTakeProfit(ctx context.Context, req venue.ProtectionRequest) (*venue.Order, []venue.Order, error) {
	args := m.Called(ctx, req)
	stop, _ := args.Get(0).(*venue.Order)
	tps, _ := args.Get(1).([]venue.Order)
	return stop, tps, args.Error(2)
}

func (m *MockExecutor) ClosePosition(ctx context.Context, symbol string, side signal.Side) (bool, error) {
	args := m.Called(ctx, symbol, side)
	return args.Bool(0), args.Error(1)
}

func (m *MockExecutor) PositionSize(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

// fakeSource serves canned channel contents.
type fakeSource struct {
	mu        sync.Mutex
	active    []feed.Item
	updates   []feed.Message
	trades    map[string]string
	activeErr error
	tradeErr  error
}

func (s *fakeSource) ActiveTrades(context.Context) ([]feed.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.Item(nil), s.active...), s.activeErr
}

func (s *fakeSource) TradeUpdates(context.Context) ([]feed.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.Message(nil), s.updates...), nil
}

func (s *fakeSource) Trade(_ context.Context, url string) (feed.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tradeErr != nil {
		return feed.Item{}, s.tradeErr
	}
	return feed.Item{URL: url, Text: s.trades[url]}, nil
}

const (
	tradeURL   = "https://feed/channels/1/100"
	createText = "A APP BTC/USDT long entry 1: 100 entry 2: 98 stop loss: 95 take profit: 110"
)

type testEnv struct {
	engine   *Engine
	source   *fakeSource
	ledger   *ledger.Ledger
	counters *metrics.Counters
	ex       *MockExecutor
	path     string
}

func testConfig() *config.Config {
	return &config.Config{
		Feed:    config.Feed{Dedup: "hash", FollowedTraders: []string{"A", "B"}, PollInterval: 1},
		Trading: config.Trading{RiskPerTrade: 10, MinNotional: 10},
	}
}

func setupEngine(t *testing.T, recorder Recorder) *testEnv {
	return setupEngineWith(t, testConfig(), recorder)
}

func setupEngineWith(t *testing.T, cfg *config.Config, recorder Recorder) *testEnv {
	path := filepath.Join(t.TempDir(), "ledger.json")
	book, err := ledger.Open(path, zap.NewNop())
	require.NoError(t, err)
	counters, err := metrics.NewCounters(nil)
	require.NoError(t, err)

	ex := &MockExecutor{name: "hyperliquid"}
	registry := venue.NewRegistry()
	registry.Register("A", ex)

	src := &fakeSource{trades: map[string]string{}}
	e := NewEngine(zap.NewNop(), cfg, Deps{
		Source:   src,
		Ledger:   book,
		Registry: registry,
		Counters: counters,
		Recorder: recorder,
	})
	return &testEnv{engine: e, source: src, ledger: book, counters: counters, ex: ex, path: path}
}

func entryRequest(entries ...float64) venue.EntryRequest {
	return venue.EntryRequest{Symbol: "BTC/USDT", Side: signal.SideLong, Entries: entries, StopLoss: 95, Risk: 10}
}

func expectCreate(env *testEnv) {
	env.ex.On("PlaceEntries", mock.Anything, entryRequest(100, 98)).Return([]venue.Order{
		{ID: "e1", Price: 100, Size: 1.25},
		{ID: "e2", Price: 98, Size: 1.25},
	}, nil).Once()
	env.ex.On("SetStopTakeProfit", mock.Anything, venue.ProtectionRequest{
		Symbol:      "BTC/USDT",
		Side:        signal.SideLong,
		StopLoss:    signal.Float(95),
		TakeProfits: []float64{110},
		Size:        2.5,
	}).Return(&venue.Order{ID: "sl1", Price: 95, Size: 2.5}, []venue.Order{{ID: "tp1", Price: 110, Size: 2.5}}, nil).Once()
}

func TestRunCycle_CreateScenario(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "journal.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	journal := database.NewJournal(db)

	env := setupEngine(t, journal)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	expectCreate(env)

	require.NoError(t, env.engine.RunCycle(context.Background()))

	rec, ok := env.ledger.Get(tradeURL)
	require.True(t, ok)
	assert.Equal(t, "A", rec.Trader)
	assert.Equal(t, []float64{100, 98}, rec.Entries)
	assert.Equal(t, 95.0, *rec.StopLoss)
	assert.Equal(t, []float64{110}, rec.TakeProfits)
	orders := rec.Orders["hyperliquid"]
	require.NotNil(t, orders)
	assert.Len(t, orders.Entries, 2)
	assert.Equal(t, "sl1", orders.StopLoss.ID)
	assert.Equal(t, "tp1", orders.TakeProfits[0].ID)

	assert.Equal(t, int64(1), env.counters.Get(metrics.ActionableNewTrades))
	assert.Equal(t, int64(1), env.counters.Get(metrics.VenueNewTrades("hyperliquid")))

	_, err = os.Stat(env.path)
	assert.NoError(t, err, "ledger is flushed after a mutating cycle")

	recent, err := journal.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	// unchanged snapshot: nothing reaches the classifier or the venue
	require.NoError(t, env.engine.RunCycle(context.Background()))
	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 1)
	assert.Equal(t, int64(0), env.counters.Get(metrics.NoopUpdates))
	env.ex.AssertExpectations(t)
}

func TestRunCycle_StopOnlyUpdate(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	env.source.updates = []feed.Message{{ID: "1", URL: "https://feed/other"}}
	expectCreate(env)

	require.NoError(t, env.engine.RunCycle(context.Background()))
	assert.Equal(t, "1", env.ledger.UpdatesAnchor(), "first run only initialises the anchor")

	env.source.updates = append(env.source.updates, feed.Message{ID: "2", URL: tradeURL})
	env.source.trades[tradeURL] = "A APP BTC/USDT long entry 1: 100 entry 2: 98 stop loss: 90 take profit: 110"

	env.ex.On("CancelOrders", mock.Anything, "BTC/USDT", signal.SideLong, venue.ScopeProtective).Return(2, nil).Once()
	env.ex.On("PositionSize", mock.Anything, "BTC/USDT").Return(2.5, nil).Once()
	env.ex.On("SetStopTakeProfit", mock.Anything, mock.MatchedBy(func(r venue.ProtectionRequest) bool {
		return *r.StopLoss == 90 && r.Size == 2.5
	})).Return(&venue.Order{ID: "sl2", Price: 90, Size: 2.5}, []venue.Order{{ID: "tp2", Price: 110, Size: 2.5}}, nil).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))

	rec, _ := env.ledger.Get(tradeURL)
	assert.Equal(t, 90.0, *rec.StopLoss)
	assert.Equal(t, []float64{100, 98}, rec.Entries)
	assert.Equal(t, "sl2", rec.Orders["hyperliquid"].StopLoss.ID)
	assert.Equal(t, "2", env.ledger.UpdatesAnchor())
	assert.Equal(t, int64(1), env.counters.Get(metrics.ActionableUpdates))
	assert.Equal(t, int64(1), env.counters.Get(metrics.VenueUpdates("hyperliquid")))
	assert.Zero(t, env.counters.Get(metrics.NonActionableUpdates), "messages at the anchor are not replayed")
	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 1)
	env.ex.AssertExpectations(t)
}

func TestRunCycle_ProtectionFallsBackToEntrySize(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	env.source.updates = []feed.Message{{ID: "1"}}
	expectCreate(env)
	require.NoError(t, env.engine.RunCycle(context.Background()))

	env.source.updates = append(env.source.updates, feed.Message{ID: "2", URL: tradeURL})
	env.source.trades[tradeURL] = "A APP BTC/USDT long entry 1: 100 entry 2: 98 stop loss: 95 take profit: 120"

	env.ex.On("CancelOrders", mock.Anything, "BTC/USDT", signal.SideLong, venue.ScopeProtective).Return(0, nil)
	env.ex.On("PositionSize", mock.Anything, "BTC/USDT").Return(0.0, nil)
	env.ex.On("SetStopTakeProfit", mock.Anything, mock.MatchedBy(func(r venue.ProtectionRequest) bool {
		return r.Size == 2.5 && r.TakeProfits[0] == 120
	})).Return(&venue.Order{ID: "sl2"}, []venue.Order{{ID: "tp2"}}, nil).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))
	rec, _ := env.ledger.Get(tradeURL)
	assert.Equal(t, []float64{120}, rec.TakeProfits)
	env.ex.AssertExpectations(t)
}

func TestRunCycle_PartialEntryFailure(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: "A APP BTC/USDT long entry 1: 100 entry 2: 98 entry 3: 96 stop loss: 90"}}

	req := venue.EntryRequest{Symbol: "BTC/USDT", Side: signal.SideLong, Entries: []float64{100, 98, 96}, StopLoss: 90, Risk: 10}
	env.ex.On("PlaceEntries", mock.Anything, req).Return([]venue.Order{
		{ID: "e1", Price: 100, Size: 1},
		{ID: "e3", Price: 96, Size: 1},
	}, nil).Once()
	env.ex.On("SetStopTakeProfit", mock.Anything, mock.MatchedBy(func(r venue.ProtectionRequest) bool {
		return r.Size == 2 && len(r.TakeProfits) == 0
	})).Return(&venue.Order{ID: "sl"}, nil, nil).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))

	rec, ok := env.ledger.Get(tradeURL)
	require.True(t, ok)
	assert.Equal(t, []float64{100, 96}, rec.Entries, "record reflects only executed entries")
	env.ex.AssertExpectations(t)
}

func TestRunCycle_AbortedCreateIsRetried(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}

	env.ex.On("PlaceEntries", mock.Anything, entryRequest(100, 98)).
		Return(nil, fmt.Errorf("size entries: %w", sizing.ErrZeroStopDistance)).Once()
	require.NoError(t, env.engine.RunCycle(context.Background()))

	assert.False(t, env.ledger.Has(tradeURL), "aborted create writes nothing")
	assert.Equal(t, int64(1), env.counters.Get(metrics.FailedActions))

	expectCreate(env)
	require.NoError(t, env.engine.RunCycle(context.Background()))
	assert.True(t, env.ledger.Has(tradeURL), "deferred url is offered again on an unchanged page")
	env.ex.AssertExpectations(t)
}

func TestRunCycle_FailedProtectionIsRetried(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}

	env.ex.On("PlaceEntries", mock.Anything, entryRequest(100, 98)).Return([]venue.Order{
		{ID: "e1", Price: 100, Size: 1.25},
		{ID: "e2", Price: 98, Size: 1.25},
	}, nil).Once()
	protection := mock.MatchedBy(func(r venue.ProtectionRequest) bool {
		return r.StopLoss != nil && *r.StopLoss == 95 && r.Size == 2.5
	})
	env.ex.On("SetStopTakeProfit", mock.Anything, protection).Return(nil, nil, errors.New("rate limited")).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))

	rec, ok := env.ledger.Get(tradeURL)
	require.True(t, ok, "entries were placed")
	assert.Nil(t, rec.StopLoss, "unprotected position must diff again")
	assert.Empty(t, rec.TakeProfits)
	assert.Equal(t, []float64{100, 98}, rec.Entries)

	// same page, protection is placed from the resting entry size
	env.ex.On("CancelOrders", mock.Anything, "BTC/USDT", signal.SideLong, venue.ScopeProtective).Return(0, nil).Once()
	env.ex.On("PositionSize", mock.Anything, "BTC/USDT").Return(0.0, nil).Once()
	env.ex.On("SetStopTakeProfit", mock.Anything, protection).
		Return(&venue.Order{ID: "sl1", Price: 95, Size: 2.5}, []venue.Order{{ID: "tp1", Price: 110, Size: 2.5}}, nil).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))

	rec, _ = env.ledger.Get(tradeURL)
	require.NotNil(t, rec.StopLoss)
	assert.Equal(t, 95.0, *rec.StopLoss)
	assert.Equal(t, []float64{110}, rec.TakeProfits)
	assert.Equal(t, "sl1", rec.Orders["hyperliquid"].StopLoss.ID)

	// settled: nothing is offered again
	require.NoError(t, env.engine.RunCycle(context.Background()))
	env.ex.AssertNumberOfCalls(t, "SetStopTakeProfit", 2)
	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 1)
	env.ex.AssertExpectations(t)
}

func TestRunCycle_SeenSetDedup(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Dedup = "seen_set"
	env := setupEngineWith(t, cfg, nil)

	const ethURL = "https://feed/channels/1/101"
	btc := feed.Item{URL: tradeURL, Text: createText}
	eth := feed.Item{URL: ethURL, Text: "A APP ETH/USDT short entry 1: 2000 stop loss: 2100"}

	expectCreate(env)
	env.ex.On("PlaceEntries", mock.Anything, mock.MatchedBy(func(r venue.EntryRequest) bool {
		return r.Symbol == "ETH/USDT" && r.Side == signal.SideShort
	})).Return([]venue.Order{{ID: "e3", Price: 2000, Size: 0.1}}, nil).Once()
	env.ex.On("SetStopTakeProfit", mock.Anything, mock.MatchedBy(func(r venue.ProtectionRequest) bool {
		return r.Symbol == "ETH/USDT"
	})).Return(&venue.Order{ID: "sl3"}, nil, nil).Once()

	cycle := func(items ...feed.Item) {
		env.source.mu.Lock()
		env.source.active = items
		env.source.mu.Unlock()
		require.NoError(t, env.engine.RunCycle(context.Background()))
	}

	cycle(btc)
	cycle(btc)
	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 1)

	cycle(btc, eth)
	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 2)
	assert.True(t, env.ledger.Has(ethURL))

	// btc scrolls away and comes back: offered again, absorbed by the ledger
	cycle(eth)
	assert.Equal(t, []string{ethURL}, env.ledger.ActiveState().SeenURLs)
	cycle(btc, eth)

	env.ex.AssertNumberOfCalls(t, "PlaceEntries", 2)
	assert.Equal(t, int64(1), env.counters.Get(metrics.NoopUpdates))
	assert.Equal(t, int64(2), env.counters.Get(metrics.ActionableNewTrades))
	env.ex.AssertExpectations(t)
}

func TestRunCycle_Rejections(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not followed", "Z APP BTC/USDT long entry 1: 100 stop loss: 95"},
		{"unparseable", "hello world"},
		{"followed without route", "B APP BTC/USDT long entry 1: 100 stop loss: 95"},
		{"create without stop", "A APP BTC/USDT long entry 1: 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEngine(t, nil)
			env.source.active = []feed.Item{{URL: tradeURL, Text: tt.text}}

			require.NoError(t, env.engine.RunCycle(context.Background()))

			assert.False(t, env.ledger.Has(tradeURL))
			assert.Equal(t, int64(1), env.counters.Get(metrics.NonActionableNewTrades))
			env.ex.AssertNotCalled(t, "PlaceEntries", mock.Anything, mock.Anything)
		})
	}
}

func TestRunCycle_CloseIsTerminal(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	env.source.updates = []feed.Message{{ID: "1"}}
	expectCreate(env)
	require.NoError(t, env.engine.RunCycle(context.Background()))

	env.source.updates = append(env.source.updates, feed.Message{ID: "2", URL: tradeURL})
	env.source.trades[tradeURL] = createText + " closed price: 105"
	env.ex.On("ClosePosition", mock.Anything, "BTC/USDT", signal.SideLong).Return(true, nil).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))
	rec, _ := env.ledger.Get(tradeURL)
	assert.True(t, rec.Closed)
	assert.Equal(t, 105.0, *rec.ClosedPrice)
	assert.Nil(t, rec.Orders["hyperliquid"].StopLoss)

	env.source.updates = append(env.source.updates, feed.Message{ID: "3", URL: tradeURL})
	env.source.trades[tradeURL] = "A APP BTC/USDT long entry 1: 100 entry 2: 98 stop loss: 80 take profit: 110"
	require.NoError(t, env.engine.RunCycle(context.Background()))

	assert.Equal(t, int64(1), env.counters.Get(metrics.NonActionableUpdates))
	env.ex.AssertNumberOfCalls(t, "SetStopTakeProfit", 1)
	env.ex.AssertExpectations(t)
}

func TestRunCycle_FailedCloseIsRetriedByNextDiff(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	env.source.updates = []feed.Message{{ID: "1"}}
	expectCreate(env)
	require.NoError(t, env.engine.RunCycle(context.Background()))

	env.source.updates = append(env.source.updates, feed.Message{ID: "2", URL: tradeURL})
	env.source.trades[tradeURL] = createText + " closed price: 105"
	env.ex.On("ClosePosition", mock.Anything, "BTC/USDT", signal.SideLong).Return(false, errors.New("venue down")).Once()

	require.NoError(t, env.engine.RunCycle(context.Background()))
	rec, _ := env.ledger.Get(tradeURL)
	assert.False(t, rec.Closed)
	assert.Nil(t, rec.ClosedPrice)
	assert.Equal(t, int64(1), env.counters.Get(metrics.FailedActions))
	assert.Zero(t, env.counters.Get(metrics.VenueUpdates("hyperliquid")))
}

func TestRunCycle_UpdateFetchErrorKeepsAnchor(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	env.source.updates = []feed.Message{{ID: "1"}}
	expectCreate(env)
	require.NoError(t, env.engine.RunCycle(context.Background()))

	env.source.updates = append(env.source.updates, feed.Message{ID: "2", URL: tradeURL})
	env.source.tradeErr = errors.New("timeout")

	err := env.engine.RunCycle(context.Background())
	assert.ErrorContains(t, err, "fetch trade")
	assert.Equal(t, "1", env.ledger.UpdatesAnchor())
}

func TestRunCycle_ActiveFetchError(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.activeErr = errors.New("scraper down")

	err := env.engine.RunCycle(context.Background())
	assert.ErrorContains(t, err, "fetch active trades")
	assert.Empty(t, env.ledger.ActiveState().Hash)
}

func TestRun_StopsBetweenCyclesAndFlushes(t *testing.T) {
	env := setupEngine(t, nil)
	env.source.active = []feed.Item{{URL: tradeURL, Text: createText}}
	expectCreate(env)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, env.engine.Run(ctx))

	assert.True(t, env.ledger.Has(tradeURL), "the in-flight cycle completes")
	reloaded, err := ledger.Open(env.path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, reloaded.Has(tradeURL))
}

func TestMatchEntries(t *testing.T) {
	orders := []venue.Order{{Price: 99.99}, {Price: 96.01}}
	assert.Equal(t, []float64{100, 96}, matchEntries([]float64{100, 98, 96}, orders))
	assert.Empty(t, matchEntries([]float64{100}, nil))
}

func TestIntersectEntries(t *testing.T) {
	got := intersectEntries([]float64{100, 98, 96}, [][]float64{{100, 98, 96}, {100, 96}})
	assert.Equal(t, []float64{100, 96}, got)
}
