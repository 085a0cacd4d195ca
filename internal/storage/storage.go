// internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gallery-pipeline/internal/models"
)

var ErrNotFound = errors.New("media record not found")

type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const mediaColumns = `id, upload_id, status, image_url, width, height, title, location,
	camera_make, camera_model, lens, aperture, shutter_speed, iso, focal_length,
	captured_at, notes, metadata, thumbnail_url, placeholder, perceptual_hash,
	content_hash, histogram, created_at, updated_at`

// Create inserts the provisional record and fills in its id and timestamps.
func (s *Storage) Create(ctx context.Context, rec *models.MediaRecord) error {
	const op = "storage.Create"

	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	hist, err := encodeHistogram(rec.Derived.Histogram)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO media (upload_id, status, image_url, width, height, title, location,
			camera_make, camera_model, lens, aperture, shutter_speed, iso, focal_length,
			captured_at, notes, metadata, thumbnail_url, placeholder, perceptual_hash,
			content_hash, histogram)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`,
		rec.UploadID, rec.Status, rec.ImageURL, rec.Width, rec.Height, rec.Title, rec.Location,
		rec.CameraMake, rec.CameraModel, rec.Lens, rec.Aperture, rec.ShutterSpeed, rec.ISO, rec.FocalLength,
		rec.CapturedAt, rec.Notes, meta, rec.Derived.ThumbnailURL, rec.Derived.Placeholder,
		rec.Derived.PerceptualHash, rec.Derived.ContentHash, hist,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update applies patch to the record in place.
func (s *Storage) Update(ctx context.Context, id int64, patch models.MediaPatch) error {
	const op = "storage.Update"

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Status != "" {
		add("status = $%d", patch.Status)
	}
	if patch.ImageURL != nil {
		add("image_url = $%d", *patch.ImageURL)
	}
	if d := patch.Derived; d != nil {
		hist, err := encodeHistogram(d.Histogram)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		add("thumbnail_url = $%d", d.ThumbnailURL)
		add("placeholder = $%d", d.Placeholder)
		add("perceptual_hash = $%d", d.PerceptualHash)
		add("content_hash = $%d", d.ContentHash)
		add("histogram = $%d", hist)
	}
	if patch.Metadata != nil {
		meta, err := encodeMetadata(patch.Metadata)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		add("metadata = metadata || $%d::jsonb", meta)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE media SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, id int64) (*models.MediaRecord, error) {
	const op = "storage.Get"
	rec, err := s.queryOne(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) FindByUploadID(ctx context.Context, uploadID string) (*models.MediaRecord, error) {
	const op = "storage.FindByUploadID"
	rec, err := s.queryOne(ctx, `SELECT `+mediaColumns+` FROM media WHERE upload_id = $1`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (s *Storage) queryOne(ctx context.Context, query string, arg any) (*models.MediaRecord, error) {
	var (
		rec        models.MediaRecord
		capturedAt *time.Time
		meta, hist []byte
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.UploadID, &rec.Status, &rec.ImageURL, &rec.Width, &rec.Height, &rec.Title, &rec.Location,
		&rec.CameraMake, &rec.CameraModel, &rec.Lens, &rec.Aperture, &rec.ShutterSpeed, &rec.ISO, &rec.FocalLength,
		&capturedAt, &rec.Notes, &meta, &rec.Derived.ThumbnailURL, &rec.Derived.Placeholder,
		&rec.Derived.PerceptualHash, &rec.Derived.ContentHash, &hist, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.CapturedAt = capturedAt
	rec.Metadata = DecodeMetadata(meta)
	rec.Derived.Histogram = decodeHistogram(hist)
	return &rec, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// DecodeMetadata parses the metadata blob. Anything that is not a JSON
// object decodes to an empty map.
func DecodeMetadata(raw []byte) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func encodeHistogram(h *models.Histogram) ([]byte, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}

func decodeHistogram(raw []byte) *models.Histogram {
	if len(raw) == 0 {
		return nil
	}
	var h models.Histogram
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil
	}
	return &h
}
