package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// separator joins normalized blocks before hashing. It cannot occur in
// trimmed text.
const separator = "\n\x1e\n"

// State is the dedup cursor of the active-trades channel.
type State struct {
	Hash     string
	SeenURLs []string
}

// Detector decides which visible items are plausibly new since prev. It never
// drops a genuinely new item; re-offering a known one is allowed.
type Detector interface {
	Name() string
	Detect(items []Item, prev State) (candidates []Item, next State)
}

// NewDetector returns the strategy registered under name, defaulting to the
// content hash.
func NewDetector(name string) Detector {
	if name == SeenSetName {
		return SeenSetDetector{}
	}
	return HashDetector{}
}

// HashName and SeenSetName are the configuration names of the strategies.
const (
	HashName    = "hash"
	SeenSetName = "seen_set"
)

// HashDetector treats the whole visible page as one unit: when its content
// hash changes every visible item is a candidate, otherwise none is.
type HashDetector struct{}

func (HashDetector) Name() string { return HashName }

func (HashDetector) Detect(items []Item, prev State) ([]Item, State) {
	h := ContentHash(items)
	next := State{Hash: h, SeenURLs: prev.SeenURLs}
	if h == prev.Hash {
		return nil, next
	}
	return items, next
}

// ContentHash hashes the lower-cased, trimmed text of items in order.
func ContentHash(items []Item) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = strings.ToLower(strings.TrimSpace(it.Text))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(sum[:])
}

// SeenSetDetector compares the set of visible URLs with the stored one. The
// stored set is replaced by the current one on every call, so an item that
// disappears and comes back is offered again.
type SeenSetDetector struct{}

func (SeenSetDetector) Name() string { return SeenSetName }

func (SeenSetDetector) Detect(items []Item, prev State) ([]Item, State) {
	seen := make(map[string]struct{}, len(prev.SeenURLs))
	for _, u := range prev.SeenURLs {
		seen[u] = struct{}{}
	}

	current := make([]string, 0, len(items))
	dup := make(map[string]struct{}, len(items))
	var fresh []Item
	for _, it := range items {
		if _, ok := dup[it.URL]; ok {
			continue
		}
		dup[it.URL] = struct{}{}
		current = append(current, it.URL)
		if _, ok := seen[it.URL]; !ok {
			fresh = append(fresh, it)
		}
	}
	sort.Strings(current)
	return fresh, State{Hash: prev.Hash, SeenURLs: current}
}

// Disappeared lists URLs stored in prev that are no longer visible.
func Disappeared(items []Item, prev State) []string {
	visible := make(map[string]struct{}, len(items))
	for _, it := range items {
		visible[it.URL] = struct{}{}
	}
	var gone []string
	for _, u := range prev.SeenURLs {
		if _, ok := visible[u]; !ok {
			gone = append(gone, u)
		}
	}
	return gone
}

// AfterAnchor returns the messages strictly after anchor and the anchor to
// store once they are processed. With no anchor yet, nothing is returned and
// the anchor moves to the newest message. When the anchor is no longer
// visible every message is returned.
func AfterAnchor(msgs []Message, anchor string) (fresh []Message, next string) {
	if len(msgs) == 0 {
		return nil, anchor
	}
	last := msgs[len(msgs)-1].ID
	if anchor == "" {
		return nil, last
	}
	for i, m := range msgs {
		if m.ID == anchor {
			return msgs[i+1:], last
		}
	}
	return msgs, last
}
