// Package mask holds grayscale mask operations used by the overlay compositor.
package mask

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"
)

// ExtractAlphaMask copies the alpha channel of img into a grayscale mask.
func ExtractAlphaMask(img image.Image) *image.Gray {
	bounds := img.Bounds()
	m := image.NewGray(bounds)

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				m.SetGray(x, y, color.Gray{Y: nrgba.NRGBAAt(x, y).A})
			}
		}
		return m
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			m.SetGray(x, y, color.Gray{Y: uint8(a >> 8)})
		}
	}
	return m
}

// MaxMask returns the per-pixel maximum of masks with identical bounds.
func MaxMask(masks ...*image.Gray) *image.Gray {
	if len(masks) == 0 {
		return nil
	}
	out := image.NewGray(masks[0].Bounds())
	for _, m := range masks {
		if m == nil || m.Bounds() != out.Bounds() {
			continue
		}
		for i, v := range m.Pix {
			if v > out.Pix[i] {
				out.Pix[i] = v
			}
		}
	}
	return out
}

// GaussianBlur softens a mask; sigma is the blur radius in pixels.
func GaussianBlur(m *image.Gray, sigma float32) *image.Gray {
	g := gift.New(gift.GaussianBlur(sigma))
	dst := image.NewGray(g.Bounds(m.Bounds()))
	g.Draw(dst, m)
	return dst
}

// Halo blurs m and boosts the result by gain so the soft edge stays visible
// around thin strokes. The original shape is kept fully opaque.
func Halo(m *image.Gray, sigma float32, gain float64) *image.Gray {
	if sigma <= 0 {
		return MaxMask(m)
	}
	blurred := GaussianBlur(m, sigma)
	for i, v := range blurred.Pix {
		boosted := math.Min(255, math.Round(float64(v)*gain))
		blurred.Pix[i] = max(uint8(boosted), m.Pix[i])
	}
	return blurred
}
