package storage

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"gallery-pipeline/internal/models"
)

// MemoryStorage is an in-process record store with the same contract as
// Storage. Records are copied on the way in and out.
type MemoryStorage struct {
	mu       sync.RWMutex
	nextID   int64
	records  map[int64]*models.MediaRecord
	byUpload map[string]int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:  make(map[int64]*models.MediaRecord),
		byUpload: make(map[string]int64),
	}
}

func (m *MemoryStorage) Ping(context.Context) error { return nil }

func (m *MemoryStorage) Create(_ context.Context, rec *models.MediaRecord) error {
	const op = "storage.Create"

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUpload[rec.UploadID]; ok {
		return fmt.Errorf("%s: duplicate upload id %q", op, rec.UploadID)
	}
	m.nextID++
	now := time.Now().UTC()
	rec.ID = m.nextID
	rec.CreatedAt, rec.UpdatedAt = now, now

	m.records[rec.ID] = cloneRecord(rec)
	m.byUpload[rec.UploadID] = rec.ID
	return nil
}

func (m *MemoryStorage) Update(_ context.Context, id int64, patch models.MediaPatch) error {
	const op = "storage.Update"

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if patch.Status != "" {
		rec.Status = patch.Status
	}
	if patch.ImageURL != nil {
		rec.ImageURL = *patch.ImageURL
	}
	if patch.Derived != nil {
		rec.Derived = *patch.Derived
	}
	if patch.Metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = map[string]any{}
		}
		maps.Copy(rec.Metadata, patch.Metadata)
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, id int64) (*models.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("storage.Get: %w", ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (m *MemoryStorage) FindByUploadID(_ context.Context, uploadID string) (*models.MediaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUpload[uploadID]
	if !ok {
		return nil, fmt.Errorf("storage.FindByUploadID: %w", ErrNotFound)
	}
	return cloneRecord(m.records[id]), nil
}

// Len reports the number of stored records.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func cloneRecord(rec *models.MediaRecord) *models.MediaRecord {
	c := *rec
	c.Metadata = maps.Clone(rec.Metadata)
	if rec.Derived.Histogram != nil {
		h := *rec.Derived.Histogram
		c.Derived.Histogram = &h
	}
	return &c
}
