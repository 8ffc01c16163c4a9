package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/MeKo-Tech/areastats/internal/tile"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// TileSink receives encoded overlay tiles. *mbtiles.Writer is one.
type TileSink interface {
	WriteTile(c tile.Coords, png []byte) error
}

// RenderTiles renders every web map tile covering the search circle for
// each zoom in [minZoom, maxZoom]. Each tile is its own render window, so
// large circles at high zoom stay within memory. Fully transparent tiles
// are skipped. It returns the number of tiles written.
func RenderTiles(ctx context.Context, a *types.Analysis, opts RenderOptions, minZoom, maxZoom int, sink TileSink) (int, error) {
	if a == nil {
		return 0, fmt.Errorf("nothing to render")
	}
	if minZoom < 1 || maxZoom > tile.MaxZoom || minZoom > maxZoom {
		return 0, fmt.Errorf("invalid zoom range %d-%d", minZoom, maxZoom)
	}
	opts = opts.withDefaults(a.Region.RadiusMeters)
	bounds := a.Region.Bounds().ExpandByFraction(opts.Margin)
	ts := opts.TileSize

	written := 0
	var buf bytes.Buffer
	for z := minZoom; z <= maxZoom; z++ {
		for _, c := range tile.TilesInBounds(bounds, z) {
			if err := ctx.Err(); err != nil {
				return written, err
			}

			window := tile.Window{
				Zoom:     z,
				TileSize: ts,
				MinX:     float64(int(c.X) * ts),
				MinY:     float64(int(c.Y) * ts),
				Width:    ts,
				Height:   ts,
			}
			img, err := renderWindow(a, window, opts)
			if err != nil {
				return written, fmt.Errorf("tile %s: %w", c.Slippy(), err)
			}
			if transparent(img) {
				continue
			}

			buf.Reset()
			if err := EncodePNG(&buf, img); err != nil {
				return written, err
			}
			if err := sink.WriteTile(c, bytes.Clone(buf.Bytes())); err != nil {
				return written, fmt.Errorf("writing tile %s: %w", c.Slippy(), err)
			}
			written++
		}
	}
	return written, nil
}

func transparent(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			return false
		}
	}
	return true
}
