// Package pipeline accepts uploads and turns them into persisted media
// records with derived assets. The HTTP caller only waits for the
// provisional record; everything else runs on the worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gallery-pipeline/internal/classify"
	"gallery-pipeline/internal/derive"
	"gallery-pipeline/internal/intake"
	"gallery-pipeline/internal/logger"
	"gallery-pipeline/internal/models"
	"gallery-pipeline/internal/notify"
	"gallery-pipeline/internal/objectstore"
	"gallery-pipeline/internal/storage"
	"gallery-pipeline/internal/tracker"
)

// Store persists media records.
type Store interface {
	Create(ctx context.Context, rec *models.MediaRecord) error
	Update(ctx context.Context, id int64, patch models.MediaPatch) error
	Get(ctx context.Context, id int64) (*models.MediaRecord, error)
	FindByUploadID(ctx context.Context, uploadID string) (*models.MediaRecord, error)
	Ping(ctx context.Context) error
}

// AssetGenerator computes the derived assets of one image.
type AssetGenerator interface {
	Generate(ctx context.Context, data []byte) *derive.Result
}

type Deps struct {
	Store      Store
	Tracker    tracker.Tracker
	Uploader   objectstore.Uploader
	Generator  AssetGenerator
	Classifier classify.Classifier
	Notifier   notify.Notifier
	Log        *slog.Logger
}

type Service struct {
	store      Store
	tracker    tracker.Tracker
	uploader   objectstore.Uploader
	generator  AssetGenerator
	classifier classify.Classifier
	notifier   notify.Notifier
	pool       *Pool
	log        *slog.Logger
	now        func() time.Time
}

func NewService(deps Deps, pool *Pool) *Service {
	s := &Service{
		store:      deps.Store,
		tracker:    deps.Tracker,
		uploader:   deps.Uploader,
		generator:  deps.Generator,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		pool:       pool,
		log:        deps.Log,
		now:        time.Now,
	}
	if s.classifier == nil {
		s.classifier = classify.Disabled{}
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

type job struct {
	uploadID    string
	recordID    int64
	filename    string
	contentType string
	payload     []byte
}

// Ingest persists a provisional record, marks the job processing and queues
// the background phase. It returns as soon as the job is queued.
func (s *Service) Ingest(ctx context.Context, up *intake.Upload) (string, error) {
	const op = "pipeline.Ingest"

	rec := recordFromFields(up.Fields)
	rec.UploadID = uuid.NewString()

	if err := s.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.tracker.Start(ctx, rec.UploadID); err != nil {
		s.markFailed(ctx, rec.UploadID, rec.ID)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	j := &job{
		uploadID:    rec.UploadID,
		recordID:    rec.ID,
		filename:    up.Filename,
		contentType: up.ContentType,
		payload:     up.Payload,
	}
	if err := s.pool.Submit(func() { s.process(j) }); err != nil {
		s.fail(context.WithoutCancel(ctx), j, err)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("upload accepted",
		slog.String("upload_id", rec.UploadID),
		slog.Int64("media_id", rec.ID),
		slog.Int("bytes", len(up.Payload)),
	)
	return rec.UploadID, nil
}

// process runs the background phase of one job. It has no caller to report
// to: the outcome is visible only through the tracker and the record.
func (s *Service) process(j *job) {
	ctx := context.Background()
	log := s.log.With(slog.String("upload_id", j.uploadID))
	started := s.now()

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, j, fmt.Errorf("panic: %v", r))
		}
	}()

	res := s.generator.Generate(ctx, j.payload)
	for _, err := range res.Errors {
		log.Warn("derived asset degraded", logger.Err(err))
	}

	key := objectstore.NewKey(s.now())
	imageURL, err := s.uploader.Upload(ctx, key.Original(j.filename), j.payload, j.contentType)
	if err != nil {
		s.fail(ctx, j, err)
		return
	}

	thumbnailURL := imageURL
	if res.Thumbnail != nil {
		u, err := s.uploader.Upload(ctx, key.Thumbnail(derive.ThumbnailExt), res.Thumbnail.Data, res.Thumbnail.ContentType)
		if err != nil {
			log.Warn("thumbnail upload failed, using original", logger.Err(err))
		} else {
			thumbnailURL = u
		}
	}

	metadata := map[string]any{}
	if res.Width > 0 && res.Height > 0 {
		metadata["decodedWidth"] = res.Width
		metadata["decodedHeight"] = res.Height
	}
	if c, err := s.classifier.Classify(ctx, imageURL); err != nil {
		log.Warn("classification skipped", logger.Err(err))
	} else if c != nil {
		metadata["classification"] = classificationMetadata(c)
	}

	err = s.store.Update(ctx, j.recordID, models.MediaPatch{
		Status:   models.StatusCompleted,
		ImageURL: &imageURL,
		Derived: &models.DerivedAssets{
			ThumbnailURL:   thumbnailURL,
			Placeholder:    res.Placeholder,
			PerceptualHash: res.PerceptualHash,
			ContentHash:    res.ContentHash,
			Histogram:      res.Histogram,
		},
		Metadata: metadata,
	})
	if err != nil {
		s.fail(ctx, j, err)
		return
	}

	if err := s.tracker.Finish(ctx, j.uploadID, models.StatusCompleted); err != nil {
		log.Warn("tracker finish failed", logger.Err(err))
	}
	s.publish(ctx, j, models.StatusCompleted, imageURL)

	log.Info("upload processed",
		slog.String("image_url", imageURL),
		slog.Bool("thumbnail_fallback", thumbnailURL == imageURL),
		slog.Duration("took", s.now().Sub(started)),
	)
}

// fail moves a job to failed. Derived assets on the record stay empty.
func (s *Service) fail(ctx context.Context, j *job, cause error) {
	s.log.Error("upload failed", slog.String("upload_id", j.uploadID), logger.Err(cause))
	s.markFailed(ctx, j.uploadID, j.recordID)
	s.publish(ctx, j, models.StatusFailed, "")
}

func (s *Service) markFailed(ctx context.Context, uploadID string, recordID int64) {
	if err := s.store.Update(ctx, recordID, models.MediaPatch{Status: models.StatusFailed}); err != nil {
		s.log.Warn("record status update failed", slog.String("upload_id", uploadID), logger.Err(err))
	}
	if err := s.tracker.Finish(ctx, uploadID, models.StatusFailed); err != nil && !errors.Is(err, tracker.ErrTerminal) {
		s.log.Warn("tracker finish failed", slog.String("upload_id", uploadID), logger.Err(err))
	}
}

func (s *Service) publish(ctx context.Context, j *job, status models.JobStatus, imageURL string) {
	err := s.notifier.Publish(ctx, notify.Event{
		UploadID: j.uploadID,
		MediaID:  j.recordID,
		Status:   status,
		ImageURL: imageURL,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("notify failed", slog.String("upload_id", j.uploadID), logger.Err(err))
	}
}

// Status reports the tracker state of a job. When the tracker no longer
// knows the id the persisted record is consulted instead.
func (s *Service) Status(ctx context.Context, uploadID string) (models.JobStatus, error) {
	const op = "pipeline.Status"

	st, err := s.tracker.Status(ctx, uploadID)
	if err != nil {
		s.log.Warn("tracker read failed", slog.String("upload_id", uploadID), logger.Err(err))
		st = models.StatusUnknown
	}
	if st != models.StatusUnknown {
		return st, nil
	}

	rec, err := s.store.FindByUploadID(ctx, uploadID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return models.StatusUnknown, nil
	case err != nil:
		return models.StatusUnknown, fmt.Errorf("%s: %w", op, err)
	}
	if rec.Status.IsTerminal() {
		return rec.Status, nil
	}
	// a processing record without a tracker entry belongs to a job lost on
	// restart; it will never finish
	return models.StatusUnknown, nil
}

func (s *Service) Media(ctx context.Context, id int64) (*models.MediaRecord, error) {
	return s.store.Get(ctx, id)
}

// Ping checks the record store and the tracker.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := s.tracker.Ping(ctx); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return nil
}

// Shutdown waits for queued jobs and closes the notifier.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.pool.Shutdown(ctx)
	if cerr := s.notifier.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func classificationMetadata(c *models.Classification) map[string]any {
	secondary := make([]any, 0, len(c.Secondary))
	for _, g := range c.Secondary {
		secondary = append(secondary, g)
	}
	var confidence any
	if c.Confidence != nil {
		confidence = *c.Confidence
	}
	return map[string]any{
		"primary":    c.Primary,
		"secondary":  secondary,
		"confidence": confidence,
		"reason":     c.Reason,
	}
}
