// internal/models/models.go
package models

import "time"

// JobStatus is the lifecycle state of one upload job.
type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	// StatusUnknown is only ever returned by reads; it is never stored.
	StatusUnknown JobStatus = "unknown"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Histogram holds normalized per-channel intensity frequencies.
type Histogram struct {
	Red       [256]float64 `json:"red"`
	Green     [256]float64 `json:"green"`
	Blue      [256]float64 `json:"blue"`
	Luminance [256]float64 `json:"luminance"`
}

type DerivedAssets struct {
	ThumbnailURL   string     `json:"thumbnailUrl"`
	Placeholder    []byte     `json:"placeholder,omitempty"`
	PerceptualHash string     `json:"perceptualHash,omitempty"`
	ContentHash    string     `json:"contentHash,omitempty"`
	Histogram      *Histogram `json:"histogram,omitempty"`
}

// Classification is the result of the optional genre classifier.
type Classification struct {
	Primary    string   `json:"primary"`
	Secondary  []string `json:"secondary"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

type MediaRecord struct {
	ID           int64          `db:"id" json:"id"`
	UploadID     string         `db:"upload_id" json:"uploadId"`
	Status       JobStatus      `db:"status" json:"status"` // processing, completed, failed
	ImageURL     string         `db:"image_url" json:"imageUrl"`
	Width        int            `db:"width" json:"width"`
	Height       int            `db:"height" json:"height"`
	Title        string         `db:"title" json:"title"`
	Location     string         `db:"location" json:"location"`
	CameraMake   string         `db:"camera_make" json:"cameraMake,omitempty"`
	CameraModel  string         `db:"camera_model" json:"cameraModel,omitempty"`
	Lens         string         `db:"lens" json:"lens,omitempty"`
	Aperture     string         `db:"aperture" json:"aperture,omitempty"`
	ShutterSpeed string         `db:"shutter_speed" json:"shutterSpeed,omitempty"`
	ISO          string         `db:"iso" json:"iso,omitempty"`
	FocalLength  string         `db:"focal_length" json:"focalLength,omitempty"`
	CapturedAt   *time.Time     `db:"captured_at" json:"capturedAt,omitempty"`
	Notes        string         `db:"notes" json:"notes,omitempty"`
	Metadata     map[string]any `db:"metadata" json:"metadata"`
	Derived      DerivedAssets  `json:"derived"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// MediaPatch carries the fields written once the background phase finishes.
// Nil pointers are left untouched.
type MediaPatch struct {
	Status   JobStatus
	ImageURL *string
	Derived  *DerivedAssets
	Metadata map[string]any
}
