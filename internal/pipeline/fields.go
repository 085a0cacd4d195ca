package pipeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gallery-pipeline/internal/models"
)

// Form field names accepted next to the file part.
const (
	FieldWidth        = "width"
	FieldHeight       = "height"
	FieldTitle        = "title"
	FieldLocation     = "location"
	FieldCameraMake   = "camera_make"
	FieldCameraModel  = "camera_model"
	FieldLens         = "lens"
	FieldAperture     = "aperture"
	FieldShutterSpeed = "shutter_speed"
	FieldISO          = "iso"
	FieldFocalLength  = "focal_length"
	FieldCapturedAt   = "captured_at"
	FieldNotes        = "notes"
)

var capturedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006:01:02 15:04:05", // EXIF DateTimeOriginal
}

// recordFromFields builds the provisional record. Values are trimmed; fields
// without a first class column are kept in Metadata.
func recordFromFields(fields map[string]string) *models.MediaRecord {
	get := func(name string) string {
		return strings.TrimSpace(fields[name])
	}

	rec := &models.MediaRecord{
		Status:       models.StatusProcessing,
		Width:        parseDimension(get(FieldWidth)),
		Height:       parseDimension(get(FieldHeight)),
		Title:        get(FieldTitle),
		Location:     get(FieldLocation),
		CameraMake:   get(FieldCameraMake),
		CameraModel:  get(FieldCameraModel),
		Lens:         get(FieldLens),
		Aperture:     get(FieldAperture),
		ShutterSpeed: get(FieldShutterSpeed),
		ISO:          get(FieldISO),
		FocalLength:  get(FieldFocalLength),
		CapturedAt:   parseCapturedAt(get(FieldCapturedAt)),
		Notes:        get(FieldNotes),
		Metadata:     map[string]any{},
	}

	for name, value := range fields {
		if isColumnField(name) {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			rec.Metadata[name] = v
		}
	}
	// dimensions the integer columns cannot hold are kept verbatim
	if raw := get(FieldWidth); rec.Width == 0 && raw != "" {
		rec.Metadata[FieldWidth] = raw
	}
	if raw := get(FieldHeight); rec.Height == 0 && raw != "" {
		rec.Metadata[FieldHeight] = raw
	}
	return rec
}

func isColumnField(name string) bool {
	switch name {
	case FieldWidth, FieldHeight, FieldTitle, FieldLocation, FieldCameraMake, FieldCameraModel,
		FieldLens, FieldAperture, FieldShutterSpeed, FieldISO, FieldFocalLength, FieldCapturedAt, FieldNotes:
		return true
	}
	return false
}

// parseDimension rounds fractional sizes up so any positive value maps to at
// least 1. Values outside the INTEGER column range yield 0.
func parseDimension(s string) int {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	v = math.Ceil(v)
	if v > math.MaxInt32 {
		return 0
	}
	return int(v)
}

// parseCapturedAt returns nil for empty or unparsable values.
func parseCapturedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range capturedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
