package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"signal-trade-bot-go/internal/feed"
)

// Document is the persisted ledger layout.
type Document struct {
	LastActiveTradesHash      string                  `json:"last_active_trades_hash,omitempty"`
	SeenURLs                  []string                `json:"seen_urls,omitempty"`
	LastTradeUpdatesMessageID string                  `json:"last_trade_updates_message_id,omitempty"`
	ActiveTrades              map[string]*TradeRecord `json:"active_trades"`
}

// Ledger maps signal URLs to trade records plus the channel cursors. It is
// the only writer of the document; callers get copies.
type Ledger struct {
	mu     sync.Mutex
	path   string
	doc    Document
	dirty  bool
	logger *zap.Logger
}

// Open loads the ledger at path. A missing file yields an empty ledger.
func Open(path string, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:   path,
		doc:    Document{ActiveTrades: map[string]*TradeRecord{}},
		logger: logger,
	}
	if path == "" {
		return l, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No ledger found, starting empty", zap.String("path", path))
			return l, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, &l.doc); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if l.doc.ActiveTrades == nil {
		l.doc.ActiveTrades = map[string]*TradeRecord{}
	}
	logger.Info("Ledger loaded", zap.String("path", path), zap.Int("trades", len(l.doc.ActiveTrades)))
	return l, nil
}

// Get returns a copy of the record stored for url.
func (l *Ledger) Get(url string) (TradeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.doc.ActiveTrades[url]
	if !ok {
		return TradeRecord{}, false
	}
	return rec.Clone(), true
}

// Has reports whether url has a record.
func (l *Ledger) Has(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.doc.ActiveTrades[url]
	return ok
}

// Put stores rec under url. Records are never removed.
func (l *Ledger) Put(url string, rec TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := rec.Clone()
	l.doc.ActiveTrades[url] = &c
	l.dirty = true
}

// URLs lists the stored identities in sorted order.
func (l *Ledger) URLs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.doc.ActiveTrades))
	for u := range l.doc.ActiveTrades {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Len is the number of stored records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.doc.ActiveTrades)
}

// ActiveState returns the dedup cursor of the active-trades channel.
func (l *Ledger) ActiveState() feed.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return feed.State{
		Hash:     l.doc.LastActiveTradesHash,
		SeenURLs: append([]string(nil), l.doc.SeenURLs...),
	}
}

// SetActiveState replaces the dedup cursor of the active-trades channel.
func (l *Ledger) SetActiveState(s feed.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.Hash == l.doc.LastActiveTradesHash && equalStrings(s.SeenURLs, l.doc.SeenURLs) {
		return
	}
	l.doc.LastActiveTradesHash = s.Hash
	l.doc.SeenURLs = append([]string(nil), s.SeenURLs...)
	l.dirty = true
}

// UpdatesAnchor returns the id of the last processed update message.
func (l *Ledger) UpdatesAnchor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.LastTradeUpdatesMessageID
}

// SetUpdatesAnchor moves the update-channel anchor.
func (l *Ledger) SetUpdatesAnchor(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == l.doc.LastTradeUpdatesMessageID {
		return
	}
	l.doc.LastTradeUpdatesMessageID = id
	l.dirty = true
}

// Snapshot returns a deep copy of the whole document.
func (l *Ledger) Snapshot() Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Document{
		LastActiveTradesHash:      l.doc.LastActiveTradesHash,
		SeenURLs:                  append([]string(nil), l.doc.SeenURLs...),
		LastTradeUpdatesMessageID: l.doc.LastTradeUpdatesMessageID,
		ActiveTrades:              make(map[string]*TradeRecord, len(l.doc.ActiveTrades)),
	}
	for u, r := range l.doc.ActiveTrades {
		c := r.Clone()
		out.ActiveTrades[u] = &c
	}
	return out
}

// Flush writes the document if it changed since the last flush. The file is
// replaced atomically.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty || l.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(l.doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return err
	}
	l.dirty = false
	l.logger.Debug("Ledger flushed", zap.String("path", l.path), zap.Int("trades", len(l.doc.ActiveTrades)))
	return nil
}

// Load reads a ledger document without opening it for writing. A missing
// file yields an empty document.
func Load(path string) (Document, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{ActiveTrades: map[string]*TradeRecord{}}, nil
	}
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return doc, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
