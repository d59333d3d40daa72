package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

const (
	imageURLPrefix   = "image:"
	imageDocIDPrefix = "image:docId:"
	imageNamePrefix  = "image:name:"
	imageStatusKey   = "image:sync:status"
)

// ImageStore keeps the blob URL and the two change-detection signals of
// each product image under separate keys.
type ImageStore struct {
	cache cache.Cache
}

// NewImageStore creates an image store over c.
func NewImageStore(c cache.Cache) *ImageStore {
	return &ImageStore{cache: c}
}

func (s *ImageStore) getOptional(ctx context.Context, key string) (*string, error) {
	data, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v := string(data)
	return &v, nil
}

// Get returns whatever is stored for itemID. The record is empty, not nil,
// when nothing was ever synced.
func (s *ImageStore) Get(ctx context.Context, itemID string) (*model.ImageRecord, error) {
	rec := &model.ImageRecord{ItemID: itemID}

	url, err := s.getOptional(ctx, imageURLPrefix+itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get image url for %s: %w", itemID, err)
	}
	if url != nil {
		rec.BlobURL = *url
	}

	docID, name, err := s.Signals(ctx, itemID)
	if err != nil {
		return nil, err
	}
	rec.DocID = docID
	rec.ImageName = name
	return rec, nil
}

// Signals returns the stored document id and image name.
func (s *ImageStore) Signals(ctx context.Context, itemID string) (docID, imageName *string, err error) {
	docID, err = s.getOptional(ctx, imageDocIDPrefix+itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get image doc id for %s: %w", itemID, err)
	}
	imageName, err = s.getOptional(ctx, imageNamePrefix+itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get image name for %s: %w", itemID, err)
	}
	return docID, imageName, nil
}

// Save stores the URL and signals. A nil signal removes the stored one so
// the record mirrors the last upstream state exactly.
func (s *ImageStore) Save(ctx context.Context, rec model.ImageRecord) error {
	if rec.ItemID == "" {
		return errors.New("image record requires an item id")
	}

	if rec.BlobURL != "" {
		if err := s.cache.Set(ctx, imageURLPrefix+rec.ItemID, []byte(rec.BlobURL), 0); err != nil {
			return fmt.Errorf("failed to store image url for %s: %w", rec.ItemID, err)
		}
	}

	if err := s.saveSignal(ctx, imageDocIDPrefix+rec.ItemID, rec.DocID); err != nil {
		return fmt.Errorf("failed to store image doc id for %s: %w", rec.ItemID, err)
	}
	if err := s.saveSignal(ctx, imageNamePrefix+rec.ItemID, rec.ImageName); err != nil {
		return fmt.Errorf("failed to store image name for %s: %w", rec.ItemID, err)
	}
	return nil
}

func (s *ImageStore) saveSignal(ctx context.Context, key string, v *string) error {
	if v == nil {
		return s.cache.Delete(ctx, key)
	}
	return s.cache.Set(ctx, key, []byte(*v), 0)
}

// Clear removes the URL and both signals.
func (s *ImageStore) Clear(ctx context.Context, itemID string) error {
	err := s.cache.Delete(ctx,
		imageURLPrefix+itemID,
		imageDocIDPrefix+itemID,
		imageNamePrefix+itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear image for %s: %w", itemID, err)
	}
	return nil
}

// StatusStore persists the image SyncStatus singleton.
type StatusStore struct {
	cache cache.Cache
}

// NewStatusStore creates a status store over c.
func NewStatusStore(c cache.Cache) *StatusStore {
	return &StatusStore{cache: c}
}

// Load returns the stored status, or a zero status when none exists.
func (s *StatusStore) Load(ctx context.Context) (model.SyncStatus, error) {
	var status model.SyncStatus
	data, err := s.cache.Get(ctx, imageStatusKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("failed to load image sync status: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("failed to decode image sync status: %w", err)
	}
	return status, nil
}

// Save overwrites the stored status.
func (s *StatusStore) Save(ctx context.Context, status model.SyncStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, imageStatusKey, data, 0)
}
