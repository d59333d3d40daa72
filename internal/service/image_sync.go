package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/batch"
	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/lock"
	"github.com/Qmop1967/Clients-Console-sub001/internal/metrics"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/storage"
)

// ImageAction is what an image sync did for one item.
type ImageAction string

const (
	ImageUploaded  ImageAction = "uploaded"
	ImageDeleted   ImageAction = "deleted"
	ImageNoImage   ImageAction = "no_image"
	ImageUnchanged ImageAction = "unchanged"
)

// ImageRequest asks for one item's image to be reconciled. Force skips
// change detection and uploads under a cache-busting key.
type ImageRequest struct {
	ItemID    string
	DocID     *string
	ImageName *string
	Force     bool
}

// ImageOutcome reports the action taken for one item.
type ImageOutcome struct {
	ItemID string      `json:"itemId"`
	Action ImageAction `json:"action"`
	Reason string      `json:"reason,omitempty"`
	URL    string      `json:"url,omitempty"`
}

// ImageSyncSummary summarizes a full image pass.
type ImageSyncSummary struct {
	Total      int         `json:"total"`
	Uploaded   int         `json:"uploaded"`
	Unchanged  int         `json:"unchanged"`
	Deleted    int         `json:"deleted"`
	NoImage    int         `json:"noImage"`
	Failed     int         `json:"failed"`
	Errors     []ItemError `json:"errors"`
	DurationMs int64       `json:"durationMs"`
}

// ImageSyncConfig tunes the image syncer.
type ImageSyncConfig struct {
	LockTTL     time.Duration
	BatchSize   int
	Concurrency int
}

// ImageSyncer mirrors ERP product images into object storage.
type ImageSyncer struct {
	catalog Catalog
	source  ImageSource
	images  *repository.ImageStore
	status  *repository.StatusStore
	objects storage.ObjectStorage
	locks   cache.Cache
	cfg     ImageSyncConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewImageSyncer wires an image syncer. locks is the store holding the
// image sync lock; m may be nil.
func NewImageSyncer(
	catalog Catalog,
	source ImageSource,
	images *repository.ImageStore,
	status *repository.StatusStore,
	objects storage.ObjectStorage,
	locks cache.Cache,
	cfg ImageSyncConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ImageSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &ImageSyncer{
		catalog: catalog,
		source:  source,
		images:  images,
		status:  status,
		objects: objects,
		locks:   locks,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("image-sync"),
		now:     time.Now,
	}
}

// SyncItem reconciles one item's image.
func (s *ImageSyncer) SyncItem(ctx context.Context, req ImageRequest) (*ImageOutcome, error) {
	if req.ItemID == "" {
		return nil, errors.New("image sync requires an item id")
	}
	req.DocID, req.ImageName = nonEmpty(req.DocID), nonEmpty(req.ImageName)

	stored, err := s.images.Get(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}

	// No upstream signals means the product has no image any more.
	if req.DocID == nil && req.ImageName == nil {
		if stored.IsEmpty() {
			return s.done(&ImageOutcome{ItemID: req.ItemID, Action: ImageNoImage}), nil
		}
		return s.purge(ctx, stored, "no_upstream_identifiers")
	}

	reason := "forced"
	if !req.Force {
		det := Compare(*stored, req.DocID, req.ImageName)
		if !det.Changed {
			return s.done(&ImageOutcome{ItemID: req.ItemID, Action: ImageUnchanged, Reason: det.Reason, URL: stored.BlobURL}), nil
		}
		reason = det.Reason
	}

	img, err := s.source.GetItemImage(ctx, req.ItemID)
	if errors.Is(err, erp.ErrNotFound) {
		if stored.IsEmpty() {
			return s.done(&ImageOutcome{ItemID: req.ItemID, Action: ImageNoImage, Reason: "not_found_upstream"}), nil
		}
		return s.purge(ctx, stored, "not_found_upstream")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download image for %s: %w", req.ItemID, err)
	}

	key := s.objectKey(req.ItemID, img.Extension(), req.Force)
	url, err := s.objects.Put(ctx, key, img.Data, img.ContentType)
	if err != nil {
		return nil, err
	}

	if stored.BlobURL != "" {
		if prevKey, ok := s.objects.KeyFromURL(stored.BlobURL); ok && prevKey != key {
			if err := s.objects.Delete(ctx, prevKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				s.logger.Warn("failed to delete previous image", zap.String("key", prevKey), zap.Error(err))
			}
		}
	}

	err = s.images.Save(ctx, model.ImageRecord{
		ItemID:    req.ItemID,
		BlobURL:   url,
		DocID:     req.DocID,
		ImageName: req.ImageName,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("image uploaded", zap.String("item_id", req.ItemID), zap.String("key", key), zap.String("reason", reason))
	return s.done(&ImageOutcome{ItemID: req.ItemID, Action: ImageUploaded, Reason: reason, URL: url}), nil
}

// purge removes the stored object and every cached field of the item.
func (s *ImageSyncer) purge(ctx context.Context, stored *model.ImageRecord, reason string) (*ImageOutcome, error) {
	if stored.BlobURL != "" {
		if key, ok := s.objects.KeyFromURL(stored.BlobURL); ok {
			if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				return nil, err
			}
		}
	}
	if err := s.images.Clear(ctx, stored.ItemID); err != nil {
		return nil, err
	}
	s.logger.Info("image deleted", zap.String("item_id", stored.ItemID), zap.String("reason", reason))
	return s.done(&ImageOutcome{ItemID: stored.ItemID, Action: ImageDeleted, Reason: reason}), nil
}

func (s *ImageSyncer) done(o *ImageOutcome) *ImageOutcome {
	s.metrics.ImageOutcome(string(o.Action))
	return o
}

func (s *ImageSyncer) objectKey(itemID, ext string, force bool) string {
	if force {
		return fmt.Sprintf("products/%s_%d.%s", itemID, s.now().Unix(), ext)
	}
	return fmt.Sprintf("products/%s.%s", itemID, ext)
}

// SyncAll runs a full image pass under the image sync lock. It returns
// ErrSyncInProgress when another pass holds the lock.
func (s *ImageSyncer) SyncAll(ctx context.Context, source model.Source) (*ImageSyncSummary, error) {
	l := lock.New(s.locks, lock.ImageSyncKey, s.cfg.LockTTL)
	acquired, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release image sync lock", zap.Error(err))
		}
	}()

	start := s.now()
	status, err := s.status.Load(ctx)
	if err != nil {
		return nil, err
	}
	status.InProgress = true
	if err := s.status.Save(ctx, status); err != nil {
		return nil, err
	}

	summary := &ImageSyncSummary{Errors: []ItemError{}}
	for page := 1; ; page++ {
		resp, err := s.catalog.ListItems(ctx, source, page, s.cfg.BatchSize)
		if err != nil {
			s.logger.Error("failed to list items", zap.Int("page", page), zap.Error(err))
			summary.Errors = append(summary.Errors, ItemError{Page: page, Error: err.Error()})
			break
		}

		reqs := make([]ImageRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			if item.ItemID == "" {
				continue
			}
			docID, name := item.ImageSignals()
			reqs = append(reqs, ImageRequest{ItemID: item.ItemID, DocID: docID, ImageName: name})
		}

		outcomes := batch.Run(ctx, s.cfg.Concurrency, reqs, s.SyncItem)
		for _, o := range outcomes {
			summary.Total++
			if o.Err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, ItemError{ItemID: o.Input.ItemID, Error: o.Err.Error()})
				continue
			}
			switch o.Value.Action {
			case ImageUploaded:
				summary.Uploaded++
			case ImageUnchanged:
				summary.Unchanged++
			case ImageDeleted:
				summary.Deleted++
			case ImageNoImage:
				summary.NoImage++
			}
		}

		if !resp.PageContext.HasMorePage || ctx.Err() != nil {
			break
		}
	}

	finished := s.now().UTC()
	status = model.SyncStatus{
		LastSync:    &finished,
		TotalImages: summary.Uploaded + summary.Unchanged + summary.Failed,
		Synced:      summary.Uploaded + summary.Unchanged,
		Failed:      summary.Failed,
		InProgress:  false,
	}
	if err := s.status.Save(context.WithoutCancel(ctx), status); err != nil {
		s.logger.Warn("failed to save image sync status", zap.Error(err))
	}
	summary.DurationMs = s.now().Sub(start).Milliseconds()

	s.logger.Info("image sync finished",
		zap.Int("total", summary.Total),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
