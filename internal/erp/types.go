package erp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// ErrNotFound is returned (wrapped) when the ERP reports that an entity does
// not exist. Callers treat it as a deletion, not a transient failure.
var ErrNotFound = errors.New("erp: entity not found")

// codeDoesNotExist is the ERP application code for a missing entity. It is
// sometimes returned with a non-404 status.
const codeDoesNotExist = 1002

// APIError is a non-successful ERP response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("erp: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

// Unwrap exposes ErrNotFound for missing entities so errors.Is works.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 404 || e.Code == codeDoesNotExist {
		return ErrNotFound
	}
	return nil
}

// Item is the subset of an ERP item the sync engine reads.
type Item struct {
	ItemID               string              `json:"item_id"`
	Name                 string              `json:"name"`
	SKU                  string              `json:"sku"`
	Status               string              `json:"status"`
	AvailableStock       decimal.NullDecimal `json:"available_stock"`
	ActualAvailableStock decimal.NullDecimal `json:"actual_available_stock"`
	ImageDocumentID      string              `json:"image_document_id"`
	ImageName            string              `json:"image_name"`
}

// Quantity returns the sellable quantity as reported by source. Inventory
// prefers actual_available_stock and falls back to available_stock. The
// result is floored and never negative.
func (i Item) Quantity(source model.Source) int {
	v := i.AvailableStock
	if source == model.SourceInventory && i.ActualAvailableStock.Valid {
		v = i.ActualAvailableStock
	}
	if !v.Valid || v.Decimal.IsNegative() {
		return 0
	}
	return int(v.Decimal.Floor().IntPart())
}

// ImageSignals returns the change-detection identifiers, nil when absent.
func (i Item) ImageSignals() (docID, imageName *string) {
	if i.ImageDocumentID != "" {
		v := i.ImageDocumentID
		docID = &v
	}
	if i.ImageName != "" {
		v := i.ImageName
		imageName = &v
	}
	return docID, imageName
}

// PageContext is the ERP pagination block.
type PageContext struct {
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
	HasMorePage bool `json:"has_more_page"`
}

// ItemPage is one page of the item list.
type ItemPage struct {
	Items       []Item      `json:"items"`
	PageContext PageContext `json:"page_context"`
}

// LineItem is an invoice line.
type LineItem struct {
	LineItemID string          `json:"line_item_id"`
	ItemID     string          `json:"item_id"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// Invoice is the subset of an ERP invoice used to find affected items.
type Invoice struct {
	InvoiceID     string     `json:"invoice_id"`
	InvoiceNumber string     `json:"invoice_number"`
	CustomerID    string     `json:"customer_id"`
	Status        string     `json:"status"`
	LineItems     []LineItem `json:"line_items"`
}

// ItemIDs returns the distinct item ids on the invoice in line order.
func (inv Invoice) ItemIDs() []string {
	seen := make(map[string]struct{}, len(inv.LineItems))
	ids := make([]string, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		if li.ItemID == "" {
			continue
		}
		if _, ok := seen[li.ItemID]; ok {
			continue
		}
		seen[li.ItemID] = struct{}{}
		ids = append(ids, li.ItemID)
	}
	return ids
}

// Image is a downloaded product image.
type Image struct {
	Data        []byte
	ContentType string
}

// Extension maps the content type to a file extension, defaulting to jpg.
func (img Image) Extension() string {
	mediaType, _, _ := strings.Cut(img.ContentType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
