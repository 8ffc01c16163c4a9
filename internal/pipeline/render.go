package pipeline

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/MeKo-Tech/areastats/internal/composite"
	"github.com/MeKo-Tech/areastats/internal/raster"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/tile"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// MaxRenderPixels caps the output canvas (width * height) of one overlay.
const MaxRenderPixels = 2048 * 2048

// RenderOptions configures an overlay render.
type RenderOptions struct {
	Zoom        int // 0 picks a zoom that fits the search circle
	TileSize    int
	Supersample int // render at this multiple and downscale; 0 means 2
	Margin      float64
	Style       composite.Style
}

// DefaultRenderOptions returns the options used when nothing is configured.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		TileSize:    tile.DefaultTileSize,
		Supersample: 2,
		Margin:      0.05,
		Style:       composite.DefaultStyle(),
	}
}

// Render draws the search circle and matched geometries as a transparent
// overlay. The returned window locates the image in Web Mercator pixel space.
func Render(a *types.Analysis, opts RenderOptions) (*image.NRGBA, tile.Window, error) {
	if a == nil {
		return nil, tile.Window{}, fmt.Errorf("nothing to render")
	}
	opts = opts.withDefaults(a.Region.RadiusMeters)

	bounds := a.Region.Bounds().ExpandByFraction(opts.Margin)
	window := tile.WindowForBounds(bounds, opts.Zoom, opts.TileSize)
	if window.Width*window.Height > MaxRenderPixels {
		return nil, window, fmt.Errorf("overlay of %dx%d pixels at zoom %d is too large; lower the zoom",
			window.Width, window.Height, window.Zoom)
	}

	img, err := renderWindow(a, window, opts)
	return img, window, err
}

func (opts RenderOptions) withDefaults(radiusMeters float64) RenderOptions {
	if opts.Zoom <= 0 {
		opts.Zoom = report.ZoomForRadius(radiusMeters)
	}
	if opts.TileSize <= 0 {
		opts.TileSize = tile.DefaultTileSize
	}
	if opts.Supersample <= 0 {
		opts.Supersample = 2
	}
	if opts.Style.Layers == nil {
		opts.Style = composite.DefaultStyle()
	}
	return opts
}

func renderWindow(a *types.Analysis, window tile.Window, opts RenderOptions) (*image.NRGBA, error) {
	hi := window.Scale(opts.Supersample)
	r := raster.NewRenderer(hi, float64(opts.Supersample))
	masks := r.RenderLayers(a)

	img, err := composite.Overlay(masks, opts.Style, r.Bounds())
	if err != nil {
		return nil, fmt.Errorf("failed to composite overlay: %w", err)
	}
	return composite.Downscale(img, opts.Supersample), nil
}

// RenderPNG renders the overlay and encodes it as PNG.
func RenderPNG(w io.Writer, a *types.Analysis, opts RenderOptions) (tile.Window, error) {
	img, window, err := Render(a, opts)
	if err != nil {
		return window, err
	}
	return window, EncodePNG(w, img)
}

// EncodePNG writes an overlay with best-speed compression.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode overlay: %w", err)
	}
	return nil
}
