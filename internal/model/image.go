package model

import "time"

// ImageRecord maps a product to its durable image URL plus the upstream
// identifiers seen at the last sync. DocID and ImageName are only used for
// change detection.
type ImageRecord struct {
	ItemID    string  `json:"item_id"`
	BlobURL   string  `json:"blob_url,omitempty"`
	DocID     *string `json:"doc_id,omitempty"`
	ImageName *string `json:"image_name,omitempty"`
}

// HasSignals reports whether any change-detection identifier is stored.
func (r ImageRecord) HasSignals() bool {
	return r.DocID != nil || r.ImageName != nil
}

// IsEmpty reports whether nothing at all is stored for the item.
func (r ImageRecord) IsEmpty() bool {
	return r.BlobURL == "" && !r.HasSignals()
}

// SyncStatus is the process-wide progress record of a full image pass.
type SyncStatus struct {
	LastSync    *time.Time `json:"last_sync,omitempty"`
	TotalImages int        `json:"total_images"`
	Synced      int        `json:"synced"`
	Failed      int        `json:"failed"`
	InProgress  bool       `json:"in_progress"`
}
