package derive

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	DefaultThumbnailSize    = 960
	DefaultThumbnailQuality = 82

	ThumbnailContentType = "image/jpeg"
	ThumbnailExt         = "jpg"
)

type ThumbnailOptions struct {
	// MaxSize bounds both edges of the output.
	MaxSize int
	Quality int
	// Watermark is drawn in the lower left corner when not empty.
	Watermark string
}

func (o ThumbnailOptions) withDefaults() ThumbnailOptions {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultThumbnailSize
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultThumbnailQuality
	}
	return o
}

type Thumbnail struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

// MakeThumbnail fits img inside a MaxSize square without upscaling and
// re-encodes it as JPEG. Any failure is reported as a DerivedAssetError for
// AssetThumbnail.
func MakeThumbnail(img image.Image, opts ThumbnailOptions) (*Thumbnail, error) {
	const op = "derive.MakeThumbnail"
	opts = opts.withDefaults()

	fitted := imaging.Fit(img, opts.MaxSize, opts.MaxSize, imaging.Lanczos)
	if opts.Watermark != "" {
		if err := drawWatermark(fitted, opts.Watermark); err != nil {
			return nil, &DerivedAssetError{Asset: AssetThumbnail, Err: fmt.Errorf("%s: %w", op, err)}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, &DerivedAssetError{Asset: AssetThumbnail, Err: fmt.Errorf("%s: %w", op, err)}
	}

	b := fitted.Bounds()
	return &Thumbnail{
		Data:        buf.Bytes(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		ContentType: ThumbnailContentType,
	}, nil
}

// ThumbnailFromBytes decodes data and builds its thumbnail.
func ThumbnailFromBytes(data []byte, opts ThumbnailOptions) (*Thumbnail, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, &DerivedAssetError{Asset: AssetThumbnail, Err: err}
	}
	return MakeThumbnail(img, opts)
}

func drawWatermark(dst draw.Image, text string) error {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return err
	}

	b := dst.Bounds()
	size := float64(b.Dy()) / 24
	if size < 10 {
		size = 10
	}

	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(size)
	c.SetClip(b)
	c.SetDst(dst)
	c.SetSrc(image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 160}))

	margin := int(size / 2)
	pt := freetype.Pt(b.Min.X+margin, b.Max.Y-margin)
	_, err = c.DrawString(text, pt)
	return err
}
