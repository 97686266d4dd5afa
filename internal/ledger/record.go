package ledger

import (
	"time"

	"signal-trade-bot-go/internal/signal"
)

// OrderRef is what the ledger keeps of a venue order.
type OrderRef struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// VenueOrders are the order ids a trade holds on one venue.
type VenueOrders struct {
	Entries     []OrderRef `json:"entries,omitempty"`
	StopLoss    *OrderRef  `json:"stop_loss,omitempty"`
	TakeProfits []OrderRef `json:"take_profits,omitempty"`
}

// EntrySize is the total size of the recorded entry orders.
func (v *VenueOrders) EntrySize() float64 {
	if v == nil {
		return 0
	}
	var total float64
	for _, o := range v.Entries {
		total += o.Size
	}
	return total
}

// TradeRecord is the last known state of one signal, keyed by its URL.
type TradeRecord struct {
	Trader      string      `json:"trader"`
	Symbol      string      `json:"symbol"`
	Side        signal.Side `json:"side"`
	Entries     []float64   `json:"entries"`
	StopLoss    *float64    `json:"stop_loss,omitempty"`
	TakeProfits []float64   `json:"take_profits,omitempty"`
	ClosedPrice *float64    `json:"closed_price,omitempty"`
	Closed      bool        `json:"closed,omitempty"`

	// Orders is keyed by venue name.
	Orders map[string]*VenueOrders `json:"orders,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VenueOrders returns the orders held on v, creating the entry if needed.
func (r *TradeRecord) VenueOrders(v string) *VenueOrders {
	if r.Orders == nil {
		r.Orders = map[string]*VenueOrders{}
	}
	vo, ok := r.Orders[v]
	if !ok {
		vo = &VenueOrders{}
		r.Orders[v] = vo
	}
	return vo
}

// Clone returns a deep copy of r.
func (r TradeRecord) Clone() TradeRecord {
	out := r
	out.Entries = append([]float64(nil), r.Entries...)
	out.TakeProfits = append([]float64(nil), r.TakeProfits...)
	out.StopLoss = clonePrice(r.StopLoss)
	out.ClosedPrice = clonePrice(r.ClosedPrice)
	if r.Orders != nil {
		out.Orders = make(map[string]*VenueOrders, len(r.Orders))
		for k, v := range r.Orders {
			vo := &VenueOrders{
				Entries:     append([]OrderRef(nil), v.Entries...),
				TakeProfits: append([]OrderRef(nil), v.TakeProfits...),
			}
			if v.StopLoss != nil {
				sl := *v.StopLoss
				vo.StopLoss = &sl
			}
			out.Orders[k] = vo
		}
	}
	return out
}

func clonePrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
