package signal

// Side is the direction of a position as announced in the feed.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Opposite returns the side that reduces a position opened on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// IsBuy reports whether opening a position on s requires buying.
func (s Side) IsBuy() bool {
	return s == SideLong
}

// Signal is one trade call as extracted from a feed message. It has no identity
// of its own; the identity is the URL of the message it was read from.
type Signal struct {
	Trader      string    `json:"trader"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Entries     []float64 `json:"entries"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	TakeProfits []float64 `json:"take_profits,omitempty"`
	ClosedPrice *float64  `json:"closed_price,omitempty"`

	// RiskOverride replaces the configured risk budget when set. Zero selects
	// minimum-notional sizing.
	RiskOverride *float64 `json:"risk_override,omitempty"`

	// CloseRequested marks a signal whose source explicitly asked for the
	// position to be closed, independent of a closed price.
	CloseRequested bool `json:"close_requested,omitempty"`
}

// Float returns a pointer to v. Handy for optional price fields.
func Float(v float64) *float64 {
	return &v
}
