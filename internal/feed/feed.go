package feed

import (
	"context"
)

// Item is one visible signal block on the active-trades channel.
type Item struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Message is one post on the trade-updates channel. ID is ordered: a later
// post always appears after an earlier one in a listing.
type Message struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Source yields the raw feed content for one poll cycle.
type Source interface {
	// ActiveTrades lists the currently visible signal blocks.
	ActiveTrades(ctx context.Context) ([]Item, error)
	// TradeUpdates lists the visible update posts, oldest first.
	TradeUpdates(ctx context.Context) ([]Message, error)
	// Trade fetches the current text of the signal identified by url.
	Trade(ctx context.Context, url string) (Item, error)
}
