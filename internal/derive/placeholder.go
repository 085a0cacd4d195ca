package derive

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"go.n16f.net/thumbhash"
)

// The placeholder is a ThumbHash: roughly 25 bytes that decode into a 32px
// blurred preview with the aspect ratio of the source.

const placeholderInputSize = 100

// Placeholder is a decoded low resolution preview.
type Placeholder struct {
	Image       *image.NRGBA
	AspectRatio float64
}

// EncodePlaceholder returns the placeholder bytes for img. The encoder only
// accepts small inputs, so img is shrunk to fit 100x100 first.
func EncodePlaceholder(img image.Image) []byte {
	small := imaging.Fit(img, placeholderInputSize, placeholderInputSize, imaging.Linear)
	return thumbhash.EncodeImage(small)
}

// PlaceholderAspectRatio returns the width to height ratio carried by hash.
func PlaceholderAspectRatio(hash []byte) (float64, bool) {
	ph, ok := DecodePlaceholder(hash)
	if !ok {
		return 0, false
	}
	return ph.AspectRatio, true
}

// DecodePlaceholder expands hash into a blurred preview. Corrupt or truncated
// input yields ok == false.
func DecodePlaceholder(hash []byte) (*Placeholder, bool) {
	img, err := decodeThumbHash(hash)
	if err != nil {
		return nil, false
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, false
	}
	return &Placeholder{
		Image:       imaging.Clone(img),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
	}, true
}

// decodeThumbHash turns a decoder panic on malformed input into an error.
func decodeThumbHash(hash []byte) (img image.Image, err error) {
	const op = "derive.decodeThumbHash"

	if len(hash) == 0 {
		return nil, fmt.Errorf("%s: %w", op, errors.New("empty hash"))
	}
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%s: malformed hash: %v", op, r)
		}
	}()

	img, err = thumbhash.DecodeImage(hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

// PlaceholderDataURL renders hash as a PNG data URL suitable for an <img>
// src attribute.
func PlaceholderDataURL(hash []byte) (string, bool) {
	ph, ok := DecodePlaceholder(hash)
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, ph.Image); err != nil {
		return "", false
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), true
}
