// Package derive computes the assets attached to an uploaded image: the
// thumbnail, the color histogram, the low resolution placeholder and the
// fingerprints. Every function is pure; nothing is shared between calls.
package derive

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	AssetDecode         = "decode"
	AssetThumbnail      = "thumbnail"
	AssetHistogram      = "histogram"
	AssetPlaceholder    = "placeholder"
	AssetPerceptualHash = "perceptual_hash"
)

// DerivedAssetError reports a recoverable failure of one derived asset.
type DerivedAssetError struct {
	Asset string
	Err   error
}

func (e *DerivedAssetError) Error() string {
	return fmt.Sprintf("derive %s: %v", e.Asset, e.Err)
}

func (e *DerivedAssetError) Unwrap() error { return e.Err }

// AssetFailed reports whether err is a DerivedAssetError for asset.
func AssetFailed(err error, asset string) bool {
	var de *DerivedAssetError
	return errors.As(err, &de) && de.Asset == asset
}

var errEmptyImage = errors.New("image has no pixels")

// Decode decodes data, applying the EXIF orientation when present.
func Decode(data []byte) (image.Image, error) {
	const op = "derive.Decode"

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DerivedAssetError{Asset: AssetDecode, Err: fmt.Errorf("%s: %w", op, err)}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DerivedAssetError{Asset: AssetDecode, Err: fmt.Errorf("%s: %w", op, errEmptyImage)}
	}
	return img, nil
}
