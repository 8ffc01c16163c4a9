// Package raster turns analysis geometries into per-layer alpha masks.
package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/vector"

	"github.com/MeKo-Tech/areastats/internal/geojson"
	"github.com/MeKo-Tech/areastats/internal/geometry"
	"github.com/MeKo-Tech/areastats/internal/tile"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// Raster-only layers drawn on top of their filled counterparts.
const (
	LayerSearchOutline   geojson.LayerType = "search_outline"
	LayerBuildingOutline geojson.LayerType = "building_outline"
)

// Stroke widths and dash pattern in CSS pixels, before supersampling.
const (
	searchOutlineWidth   = 2.0
	buildingOutlineWidth = 1.0
	roadWidth            = 3.0
	dashOn               = 6.0
	dashOff              = 5.0
	circleSegments       = 128
)

type Renderer struct {
	window    tile.Window
	scale     float64 // device pixels per CSS pixel
	fillColor color.NRGBA
}

// NewRenderer creates a renderer for the given pixel window. scale multiplies
// stroke widths and dash lengths, so a window scaled by 2 should use scale 2.
func NewRenderer(window tile.Window, scale float64) *Renderer {
	if scale <= 0 {
		scale = 1
	}
	return &Renderer{
		window:    window,
		scale:     scale,
		fillColor: color.NRGBA{R: 0, G: 0, B: 0, A: 255},
	}
}

// Bounds returns the canvas rectangle.
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.window.Width, r.window.Height)
}

// RenderLayers rasterizes the search circle and every matched geometry.
// Only the alpha channel of the returned images is meaningful.
func (r *Renderer) RenderLayers(a *types.Analysis) map[geojson.LayerType]*image.NRGBA {
	b := r.Bounds()
	area := image.NewNRGBA(b)
	outline := image.NewNRGBA(b)
	buildings := image.NewNRGBA(b)
	buildingOutlines := image.NewNRGBA(b)
	paved := image.NewNRGBA(b)
	unpaved := image.NewNRGBA(b)

	circle := r.circlePx(a.Region)
	r.fillPx(area, circle)
	r.strokePx(outline, append(circle, circle[0]), searchOutlineWidth*r.scale, nil)

	for _, coords := range a.Features.Buildings {
		ring := r.project(coords)
		r.fillPx(buildings, ring)
		r.strokePx(buildingOutlines, ring, buildingOutlineWidth*r.scale, nil)
	}

	for _, coords := range a.Features.PavedRoads {
		r.strokePx(paved, r.project(coords), roadWidth*r.scale, nil)
	}

	dash := []float64{dashOn * r.scale, dashOff * r.scale}
	for _, coords := range a.Features.UnpavedRoads {
		r.strokePx(unpaved, r.project(coords), roadWidth*r.scale, dash)
	}

	return map[geojson.LayerType]*image.NRGBA{
		geojson.LayerSearchArea:   area,
		LayerSearchOutline:        outline,
		geojson.LayerBuildings:    buildings,
		LayerBuildingOutline:      buildingOutlines,
		geojson.LayerPavedRoads:   paved,
		geojson.LayerUnpavedRoads: unpaved,
	}
}

type pxPoint struct{ x, y float64 }

func (r *Renderer) project(coords []types.DisplayCoord) []pxPoint {
	pts := geometry.FromDisplayCoords(coords)
	out := make([]pxPoint, len(pts))
	for i, p := range pts {
		x, y := r.window.Project(p)
		out[i] = pxPoint{x, y}
	}
	return out
}

// circlePx approximates the search circle in screen space. The radius is
// converted with the ground resolution at the center, like web map circles.
func (r *Renderer) circlePx(region types.SearchRegion) []pxPoint {
	cx, cy := r.window.Project(region.Center)
	radius := region.RadiusMeters / r.window.MetersPerPixel(region.Lat())

	pts := make([]pxPoint, circleSegments)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = pxPoint{cx + radius*math.Cos(theta), cy + radius*math.Sin(theta)}
	}
	return pts
}

func (r *Renderer) fillPx(dst *image.NRGBA, ring []pxPoint) {
	if len(ring) < 3 {
		return
	}

	ras := vector.NewRasterizer(r.window.Width, r.window.Height)
	ras.MoveTo(float32(ring[0].x), float32(ring[0].y))
	for _, p := range ring[1:] {
		ras.LineTo(float32(p.x), float32(p.y))
	}
	ras.ClosePath()

	src := image.NewUniform(r.fillColor)
	ras.Draw(dst, dst.Bounds(), src, image.Point{})
}

// strokePx stamps discs along the path. dash, when set, is an on/off
// pattern measured along the path and carried across vertices.
func (r *Renderer) strokePx(dst *image.NRGBA, line []pxPoint, width float64, dash []float64) {
	if len(line) < 2 {
		return
	}
	radius := width / 2.0
	step := 0.75
	if width >= 5 {
		step = 0.9
	}

	var period float64
	if len(dash) == 2 {
		period = dash[0] + dash[1]
	}
	travelled := 0.0

	for i := 0; i < len(line)-1; i++ {
		x0, y0 := line[i].x, line[i].y
		dx := line[i+1].x - x0
		dy := line[i+1].y - y0
		segLen := math.Hypot(dx, dy)
		if segLen == 0 {
			continue
		}

		steps := int(math.Ceil(segLen / step))
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			if period > 0 && math.Mod(travelled+segLen*t, period) >= dash[0] {
				continue
			}
			r.drawDisc(dst, x0+dx*t, y0+dy*t, radius)
		}
		travelled += segLen
	}
}

func (r *Renderer) drawDisc(dst *image.NRGBA, cx, cy float64, radius float64) {
	minX := max(int(math.Floor(cx-radius)), 0)
	maxX := min(int(math.Ceil(cx+radius)), r.window.Width-1)
	minY := max(int(math.Floor(cy-radius)), 0)
	maxY := min(int(math.Ceil(cy+radius)), r.window.Height-1)

	r2 := radius * radius
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= r2 {
				i := dst.PixOffset(x, y)
				dst.Pix[i+3] = 255
			}
		}
	}
}

// CoveredPixels counts pixels with non-zero alpha.
func CoveredPixels(img *image.NRGBA) int {
	n := 0
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			n++
		}
	}
	return n
}

// PointInside reports whether p lies on a covered pixel of img.
func (r *Renderer) PointInside(img *image.NRGBA, p orb.Point) bool {
	x, y := r.window.Project(p)
	pt := image.Pt(int(x), int(y))
	if !pt.In(img.Bounds()) {
		return false
	}
	return img.NRGBAAt(pt.X, pt.Y).A != 0
}
