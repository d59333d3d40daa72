package service

import (
	"context"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
)

// Change detection reasons.
const (
	ReasonNoIdentifiers    = "no_identifiers_provided"
	ReasonNewImage         = "new_image"
	ReasonDocIDChanged     = "docId_changed"
	ReasonImageNameChanged = "imageName_changed"
	ReasonNewDocID         = "new_docId"
	ReasonNewImageName     = "new_imageName"
	ReasonUnchanged        = "unchanged"
)

// Detection is the verdict of a change check.
type Detection struct {
	Changed bool   `json:"changed"`
	Reason  string `json:"reason"`
}

// ChangeDetector compares upstream image identifiers against the ones
// stored at the last sync. Either signal differing forces a re-fetch because
// the ERP does not always rotate the document id when a file is replaced.
type ChangeDetector struct {
	images *repository.ImageStore
}

// NewChangeDetector creates a detector reading stored signals from images.
func NewChangeDetector(images *repository.ImageStore) *ChangeDetector {
	return &ChangeDetector{images: images}
}

// Detect loads the stored signals of itemID and compares them.
func (d *ChangeDetector) Detect(ctx context.Context, itemID string, newDocID, newImageName *string) (Detection, error) {
	docID, name, err := d.images.Signals(ctx, itemID)
	if err != nil {
		return Detection{}, err
	}
	return Compare(model.ImageRecord{ItemID: itemID, DocID: docID, ImageName: name}, newDocID, newImageName), nil
}

// Compare applies the detection rules in order to a stored record.
func Compare(stored model.ImageRecord, newDocID, newImageName *string) Detection {
	newDocID, newImageName = nonEmpty(newDocID), nonEmpty(newImageName)

	switch {
	case newDocID == nil && newImageName == nil:
		return Detection{Changed: true, Reason: ReasonNoIdentifiers}
	case stored.DocID == nil && stored.ImageName == nil:
		return Detection{Changed: true, Reason: ReasonNewImage}
	case newDocID != nil && stored.DocID != nil && *newDocID != *stored.DocID:
		return Detection{Changed: true, Reason: ReasonDocIDChanged}
	case newImageName != nil && stored.ImageName != nil && *newImageName != *stored.ImageName:
		return Detection{Changed: true, Reason: ReasonImageNameChanged}
	case newDocID != nil && stored.DocID == nil:
		return Detection{Changed: true, Reason: ReasonNewDocID}
	case newImageName != nil && stored.ImageName == nil:
		return Detection{Changed: true, Reason: ReasonNewImageName}
	}
	return Detection{Changed: false, Reason: ReasonUnchanged}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
