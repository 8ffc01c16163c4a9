package composite

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/gift"

	"github.com/MeKo-Tech/areastats/internal/geojson"
	"github.com/MeKo-Tech/areastats/internal/mask"
	"github.com/MeKo-Tech/areastats/internal/raster"
)

// LayerHalo is the dark glow drawn under road strokes.
const LayerHalo geojson.LayerType = "road_halo"

// DefaultOrder defines the bottom-to-top compositing order for overlay layers.
var DefaultOrder = []geojson.LayerType{
	geojson.LayerSearchArea,
	raster.LayerSearchOutline,
	geojson.LayerBuildings,
	raster.LayerBuildingOutline,
	LayerHalo,
	geojson.LayerPavedRoads,
	geojson.LayerUnpavedRoads,
}

// LayerStyle is the paint applied to one mask.
type LayerStyle struct {
	Color   color.NRGBA
	Opacity float64 // multiplies mask alpha, 0..1
}

// Style configures the overlay look.
type Style struct {
	Layers    map[geojson.LayerType]LayerStyle
	Hidden    map[geojson.LayerType]bool
	HaloSigma float32 // 0 disables the road halo
	Order     []geojson.LayerType
}

// MustHex parses "#rrggbb" and panics on malformed input. Meant for constants.
func MustHex(s string) color.NRGBA {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseHex parses a "#rrggbb" colour.
func ParseHex(s string) (color.NRGBA, error) {
	var c color.NRGBA
	if len(s) != 7 || s[0] != '#' {
		return c, fmt.Errorf("invalid colour %q: want #rrggbb", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return c, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	c.A = 255
	return c, nil
}

// DefaultStyle matches the interactive map: teal circle, amber buildings,
// teal paved roads and red dashed unpaved roads.
func DefaultStyle() Style {
	teal := MustHex("#4fd1c5")
	amber := MustHex("#ffd166")
	red := MustHex("#ff6b6b")
	return Style{
		Layers: map[geojson.LayerType]LayerStyle{
			geojson.LayerSearchArea:     {Color: teal, Opacity: 0.18},
			raster.LayerSearchOutline:   {Color: teal, Opacity: 1},
			geojson.LayerBuildings:      {Color: amber, Opacity: 0.3},
			raster.LayerBuildingOutline: {Color: amber, Opacity: 1},
			LayerHalo:                   {Color: color.NRGBA{A: 255}, Opacity: 0.35},
			geojson.LayerPavedRoads:     {Color: teal, Opacity: 0.95},
			geojson.LayerUnpavedRoads:   {Color: red, Opacity: 0.95},
		},
		Hidden:    map[geojson.LayerType]bool{},
		HaloSigma: 1.5,
		Order:     DefaultOrder,
	}
}

// Clone returns a copy whose maps can be changed without affecting s.
func (s Style) Clone() Style {
	out := s
	if s.Layers == nil {
		return out
	}
	out.Layers = make(map[geojson.LayerType]LayerStyle, len(s.Layers))
	for k, v := range s.Layers {
		out.Layers[k] = v
	}
	out.Hidden = make(map[geojson.LayerType]bool, len(s.Hidden))
	for k, v := range s.Hidden {
		out.Hidden[k] = v
	}
	out.Order = append([]geojson.LayerType(nil), s.Order...)
	return out
}

// Hide turns off a layer and, for buildings, its outline as well.
func (s *Style) Hide(layer geojson.LayerType) {
	if s.Hidden == nil {
		s.Hidden = map[geojson.LayerType]bool{}
	}
	s.Hidden[layer] = true
	switch layer {
	case geojson.LayerBuildings:
		s.Hidden[raster.LayerBuildingOutline] = true
	case geojson.LayerSearchArea:
		s.Hidden[raster.LayerSearchOutline] = true
	}
}

// Tint colours a mask: the output alpha is mask alpha times opacity.
func Tint(m image.Image, ls LayerStyle) *image.NRGBA {
	alpha := mask.ExtractAlphaMask(m)
	dst := image.NewNRGBA(alpha.Bounds())
	opacity := math.Max(0, math.Min(1, ls.Opacity))
	for i, a := range alpha.Pix {
		if a == 0 {
			continue
		}
		j := i * 4
		dst.Pix[j] = ls.Color.R
		dst.Pix[j+1] = ls.Color.G
		dst.Pix[j+2] = ls.Color.B
		dst.Pix[j+3] = uint8(math.Round(float64(a) * opacity * float64(ls.Color.A) / 255))
	}
	return dst
}

// Overlay tints every visible mask and stacks them over a transparent canvas.
func Overlay(masks map[geojson.LayerType]*image.NRGBA, style Style, bounds image.Rectangle) (*image.NRGBA, error) {
	layers := make(map[geojson.LayerType]image.Image, len(masks)+1)
	for layer, m := range masks {
		if style.Hidden[layer] || m == nil {
			continue
		}
		ls, ok := style.Layers[layer]
		if !ok {
			continue
		}
		layers[layer] = Tint(m, ls)
	}

	if style.HaloSigma > 0 && !style.Hidden[LayerHalo] {
		var roads []*image.Gray
		for _, l := range []geojson.LayerType{geojson.LayerPavedRoads, geojson.LayerUnpavedRoads} {
			if m := masks[l]; m != nil && !style.Hidden[l] {
				roads = append(roads, mask.ExtractAlphaMask(m))
			}
		}
		if len(roads) > 0 {
			halo := mask.Halo(mask.MaxMask(roads...), style.HaloSigma, 2)
			layers[LayerHalo] = Tint(grayToAlpha(halo), style.Layers[LayerHalo])
		}
	}

	return CompositeLayers(layers, style.Order, bounds)
}

// CompositeLayersOverBase stacks layers over a pre-filled base image, e.g. a
// base map rendered to the same window.
func CompositeLayersOverBase(
	base image.Image,
	layers map[geojson.LayerType]image.Image,
	order []geojson.LayerType,
	bounds image.Rectangle,
) (*image.NRGBA, error) {
	if bounds.Empty() {
		return nil, fmt.Errorf("canvas bounds must not be empty")
	}

	dst := image.NewNRGBA(bounds)
	if base != nil {
		if base.Bounds() != bounds {
			return nil, fmt.Errorf("base bounds %v do not match expected %v", base.Bounds(), bounds)
		}
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				dst.Set(x, y, base.At(x, y))
			}
		}
	}

	if err := stack(dst, layers, order); err != nil {
		return nil, err
	}
	return dst, nil
}

// CompositeLayers stacks layers using alpha blending.
// Layers are drawn in the provided order (or DefaultOrder when nil). Each layer must match bounds.
func CompositeLayers(
	layers map[geojson.LayerType]image.Image,
	order []geojson.LayerType,
	bounds image.Rectangle,
) (*image.NRGBA, error) {
	return CompositeLayersOverBase(nil, layers, order, bounds)
}

func stack(dst *image.NRGBA, layers map[geojson.LayerType]image.Image, order []geojson.LayerType) error {
	if order == nil {
		order = DefaultOrder
	}
	for _, layer := range order {
		img := layers[layer]
		if img == nil {
			continue
		}
		if img.Bounds() != dst.Bounds() {
			return fmt.Errorf("layer %s bounds %v do not match expected %v", layer, img.Bounds(), dst.Bounds())
		}
		alphaOver(dst, img)
	}
	return nil
}

// Downscale shrinks a supersampled render by factor using Lanczos resampling.
func Downscale(img *image.NRGBA, factor int) *image.NRGBA {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	g := gift.New(gift.Resize(max(1, b.Dx()/factor), max(1, b.Dy()/factor), gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)
	return dst
}

func grayToAlpha(m *image.Gray) *image.NRGBA {
	dst := image.NewNRGBA(m.Bounds())
	for i, v := range m.Pix {
		dst.Pix[i*4+3] = v
	}
	return dst
}

func alphaOver(dst *image.NRGBA, src image.Image) {
	bounds := dst.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			s := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if s.A == 0 {
				continue
			}

			d := dst.NRGBAAt(x, y)

			sa := float64(s.A) / 255.0
			da := float64(d.A) / 255.0

			outA := sa + da*(1.0-sa)
			if outA == 0 {
				dst.SetNRGBA(x, y, color.NRGBA{})
				continue
			}

			blend := func(srcVal, dstVal uint8) uint8 {
				srcPremult := float64(srcVal) * sa
				dstPremult := float64(dstVal) * da
				outPremult := srcPremult + dstPremult*(1.0-sa)
				return uint8(math.Round(outPremult / outA))
			}

			dst.SetNRGBA(x, y, color.NRGBA{
				R: blend(s.R, d.R),
				G: blend(s.G, d.G),
				B: blend(s.B, d.B),
				A: uint8(math.Round(outA * 255.0)),
			})
		}
	}
}
