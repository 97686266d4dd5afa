package models

import "gorm.io/gorm"

// Execution is one attempted venue action, journaled for audit and the UI.
type Execution struct {
	gorm.Model
	URL       string  `json:"url" gorm:"index"`
	Trader    string  `json:"trader" gorm:"index"`
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Intent    string  `json:"intent"` // "create" or "update"
	Action    string  `json:"action"` // e.g. "place_entries", "close"
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
	OrderIDs  string  `json:"order_ids,omitempty"` // comma separated
	Size      float64 `json:"size,omitempty"`
	Timestamp int64   `json:"timestamp" gorm:"index"` // unix millis
	DryRun    bool    `json:"dry_run"`
}
