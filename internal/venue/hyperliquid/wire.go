package hyperliquid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field order matters: the msgpack encoding of an action is hashed for the
// signature and must match the venue's own encoding byte for byte.

type limitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type triggerWire struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	Tpsl      string `msgpack:"tpsl" json:"tpsl"`
}

type orderTypeWire struct {
	Limit   *limitWire   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *triggerWire `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	OrderType  orderTypeWire `msgpack:"t" json:"t"`
	Cloid      string        `msgpack:"c,omitempty" json:"c,omitempty"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type cancelWire struct {
	Asset int   `msgpack:"a" json:"a"`
	Oid   int64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

type signatureWire struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

type exchangeRequest struct {
	Action       any           `json:"action"`
	Nonce        int64         `json:"nonce"`
	Signature    signatureWire `json:"signature"`
	VaultAddress *string       `json:"vaultAddress"`
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type statusesData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// AssetMeta describes one perpetual in the venue universe.
type AssetMeta struct {
	Name       string `json:"name"`
	SzDecimals int    `json:"szDecimals"`
}

// Meta is the response of the "meta" info request.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

// OpenOrder is one entry of the "frontendOpenOrders" info request.
type OpenOrder struct {
	Coin       string `json:"coin"`
	Oid        int64  `json:"oid"`
	Side       string `json:"side"`
	LimitPx    string `json:"limitPx"`
	Sz         string `json:"sz"`
	ReduceOnly bool   `json:"reduceOnly"`
	IsTrigger  bool   `json:"isTrigger"`
	TriggerPx  string `json:"triggerPx"`
	OrderType  string `json:"orderType"`
}

// AssetPosition wraps one position of the "clearinghouseState" info request.
type AssetPosition struct {
	Position struct {
		Coin string `json:"coin"`
		Szi  string `json:"szi"`
	} `json:"position"`
	Type string `json:"type"`
}

// ClearinghouseState is the account state of a user or vault.
type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
}

// formatPrice rounds px to five significant figures and at most
// 6-szDecimals decimals, the precision perpetual prices are accepted at.
func formatPrice(px float64, szDecimals int) (string, error) {
	sig, err := decimal.NewFromString(strconv.FormatFloat(px, 'g', 5, 64))
	if err != nil {
		return "", fmt.Errorf("format price %v: %w", px, err)
	}
	out := sig.Round(int32(6 - szDecimals))
	if !out.IsPositive() {
		return "", fmt.Errorf("price %v rounds to zero", px)
	}
	return out.String(), nil
}

// formatSize rounds sz to the asset's size decimals.
func formatSize(sz float64, szDecimals int) (string, error) {
	out := decimal.NewFromFloat(sz).Round(int32(szDecimals))
	if !out.IsPositive() {
		return "", fmt.Errorf("size %v rounds to zero at %d decimals", sz, szDecimals)
	}
	return out.String(), nil
}

// atLeastNotional raises sz to the smallest size at szDecimals whose value
// at px reaches minNotional. Sizes already worth that much are kept.
func atLeastNotional(sz, px string, minNotional float64, szDecimals int) string {
	if minNotional <= 0 {
		return sz
	}
	size, err := decimal.NewFromString(sz)
	if err != nil {
		return sz
	}
	price, err := decimal.NewFromString(px)
	if err != nil || !price.IsPositive() {
		return sz
	}
	floor := decimal.NewFromFloat(minNotional)
	if size.Mul(price).GreaterThanOrEqual(floor) {
		return sz
	}
	return floor.Div(price).RoundCeil(int32(szDecimals)).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
