package model

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies which upstream read API produced a stock value.
type Source string

const (
	SourceBooks     Source = "BOOKS"
	SourceInventory Source = "INVENTORY"
)

// ParseSource accepts either case and rejects anything else.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToUpper(strings.TrimSpace(s))) {
	case SourceBooks:
		return SourceBooks, nil
	case SourceInventory:
		return SourceInventory, nil
	default:
		return "", fmt.Errorf("unknown stock source %q", s)
	}
}

// StockRecord is the cached available quantity of one product.
// Quantity is never negative; the latest write for an item wins.
type StockRecord struct {
	ItemID    string    `json:"item_id"`
	Quantity  int       `json:"quantity"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InStock reports whether the product can be ordered.
func (r StockRecord) InStock() bool {
	return r.Quantity > 0
}

// SyncMeta records when the stock cache was last fully refreshed.
type SyncMeta struct {
	LastSync  time.Time `json:"last_sync"`
	ItemCount int       `json:"item_count"`
}
