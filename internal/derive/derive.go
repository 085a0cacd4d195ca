package derive

import (
	"context"
	"fmt"
	"image"
	"sync"

	"golang.org/x/sync/errgroup"

	"gallery-pipeline/internal/models"
)

// Result collects everything derived from one upload. Absent assets are left
// zero and the reason is listed in Errors.
type Result struct {
	Width          int
	Height         int
	Thumbnail      *Thumbnail
	Histogram      *models.Histogram
	Placeholder    []byte
	PerceptualHash string
	ContentHash    string
	Errors         []error
}

// Err returns the recorded failure for asset, if any.
func (r *Result) Err(asset string) error {
	for _, err := range r.Errors {
		if AssetFailed(err, asset) {
			return err
		}
	}
	return nil
}

type Generator struct {
	Thumbnail ThumbnailOptions
}

func NewGenerator(opts ThumbnailOptions) *Generator {
	return &Generator{Thumbnail: opts.withDefaults()}
}

// Generate decodes data once and computes every asset concurrently. It never
// fails as a whole: a decode error only leaves the pixel based assets empty.
func (g *Generator) Generate(ctx context.Context, data []byte) *Result {
	res := &Result{ContentHash: ContentHash(data)}

	img, err := Decode(data)
	if err != nil {
		res.Errors = append(res.Errors, err, &DerivedAssetError{Asset: AssetThumbnail, Err: err})
		return res
	}
	b := img.Bounds()
	res.Width, res.Height = b.Dx(), b.Dy()

	var mu sync.Mutex
	fail := func(asset string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := err.(*DerivedAssetError); !ok {
			err = &DerivedAssetError{Asset: asset, Err: err}
		}
		res.Errors = append(res.Errors, err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	step := func(asset string, fn func(image.Image) error) {
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					fail(asset, fmt.Errorf("panic: %v", r))
				}
			}()
			if ctx.Err() != nil {
				fail(asset, ctx.Err())
				return nil
			}
			if err := fn(img); err != nil {
				fail(asset, err)
			}
			return nil
		})
	}

	step(AssetThumbnail, func(img image.Image) error {
		thumb, err := MakeThumbnail(img, g.Thumbnail)
		if err != nil {
			return err
		}
		res.Thumbnail = thumb
		return nil
	})
	step(AssetHistogram, func(img image.Image) error {
		h := HistogramOf(img)
		if h == nil {
			return errEmptyImage
		}
		res.Histogram = h
		return nil
	})
	step(AssetPlaceholder, func(img image.Image) error {
		res.Placeholder = EncodePlaceholder(img)
		return nil
	})
	step(AssetPerceptualHash, func(img image.Image) error {
		ph, err := PerceptualHash(img)
		if err != nil {
			return err
		}
		res.PerceptualHash = ph
		return nil
	})

	_ = eg.Wait()
	return res
}
