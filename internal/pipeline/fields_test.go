package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallery-pipeline/internal/models"
)

func TestRecordFromFields(t *testing.T) {
	rec := recordFromFields(map[string]string{
		FieldWidth:        "4000.4",
		FieldHeight:       " 3000 ",
		FieldTitle:        "  Dunes ",
		FieldCameraModel:  "X-T5",
		FieldShutterSpeed: "1/250",
		FieldCapturedAt:   "2025:06:01 18:30:00",
		FieldNotes:        "",
		"album":           " namibia ",
		"empty":           "   ",
	})

	assert.Equal(t, models.StatusProcessing, rec.Status)
	assert.Equal(t, 4001, rec.Width)
	assert.Equal(t, 3000, rec.Height)
	assert.Equal(t, "Dunes", rec.Title)
	assert.Equal(t, "X-T5", rec.CameraModel)
	assert.Equal(t, "1/250", rec.ShutterSpeed)
	require.NotNil(t, rec.CapturedAt)
	assert.Equal(t, time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC), *rec.CapturedAt)
	assert.Equal(t, map[string]any{"album": "namibia"}, rec.Metadata)
}

func TestParseCapturedAt(t *testing.T) {
	cases := map[string]bool{
		"2025-06-01T18:30:00+02:00": true,
		"2025-06-01T18:30":          true,
		"2025-06-01":                true,
		"":                          false,
		"yesterday":                 false,
	}
	for in, ok := range cases {
		got := parseCapturedAt(in)
		assert.Equal(t, ok, got != nil, in)
	}

	got := parseCapturedAt("2025-06-01T18:30:00+02:00")
	require.NotNil(t, got)
	assert.Equal(t, 16, got.Hour())
}

func TestParseDimension(t *testing.T) {
	assert.Equal(t, 12, parseDimension("12"))
	assert.Equal(t, 0, parseDimension("-1"))
	assert.Equal(t, 0, parseDimension("NaN"))
	assert.Equal(t, 0, parseDimension(""))
	assert.Equal(t, 1, parseDimension("0.4"))
	assert.Equal(t, 3, parseDimension("2.01"))
	assert.Equal(t, math.MaxInt32, parseDimension("2147483647"))
	assert.Equal(t, 0, parseDimension("3000000000"))
	assert.Equal(t, 0, parseDimension("1e300"))
}

func TestRecordFromFields_OversizedDimensionKeptInMetadata(t *testing.T) {
	rec := recordFromFields(map[string]string{
		FieldWidth:  "1e300",
		FieldHeight: "0.4",
	})

	assert.Zero(t, rec.Width)
	assert.Equal(t, 1, rec.Height)
	assert.Equal(t, map[string]any{FieldWidth: "1e300"}, rec.Metadata)
}
