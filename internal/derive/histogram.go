package derive

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"gallery-pipeline/internal/models"
)

// HistogramSampleSize bounds the working resolution of histogram sampling.
const HistogramSampleSize = 256

// ComputeHistogram decodes data and returns its normalized histogram, or nil
// when the image cannot be decoded.
func ComputeHistogram(data []byte) *models.Histogram {
	img, err := Decode(data)
	if err != nil {
		return nil
	}
	return HistogramOf(img)
}

// HistogramOf samples img at no more than 256x256 and returns per channel
// frequencies. Each channel sums to 1.
func HistogramOf(img image.Image) *models.Histogram {
	small := imaging.Fit(img, HistogramSampleSize, HistogramSampleSize, imaging.Box)

	var r, g, b, l [256]uint32
	var total uint32

	w, h := small.Rect.Dx(), small.Rect.Dy()
	for y := 0; y < h; y++ {
		row := small.Pix[y*small.Stride : y*small.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			rv, gv, bv := row[x], row[x+1], row[x+2]
			r[rv]++
			g[gv]++
			b[bv]++
			l[luminance(rv, gv, bv)]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	hist := &models.Histogram{}
	n := float64(total)
	for i := 0; i < 256; i++ {
		hist.Red[i] = float64(r[i]) / n
		hist.Green[i] = float64(g[i]) / n
		hist.Blue[i] = float64(b[i]) / n
		hist.Luminance[i] = float64(l[i]) / n
	}
	return hist
}

func luminance(r, g, b uint8) uint8 {
	v := math.Round(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
