package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/internal/geojson"
	"github.com/MeKo-Tech/areastats/internal/mbtiles"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/types"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the analyzed features as a transparent PNG overlay",
	Example: `  areastats render --lat 52.3759 --lon 9.7320 --radius 0.5 -o hannover.png
  areastats render --place Celle --zoom 15 --hide unpaved_roads
  areastats render --place Celle --radius 2 --mbtiles celle.mbtiles --min-zoom 12 --max-zoom 17`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	addRegionFlags(renderCmd, "render")

	renderCmd.Flags().StringP("output", "o", "overlay.png", "Output PNG file")
	renderCmd.Flags().IntP("zoom", "z", 0, "Web Mercator zoom level (0 fits the circle)")
	renderCmd.Flags().Int("tile-size", 256, "Tile size in pixels (512 for Hi-DPI)")
	renderCmd.Flags().String("mbtiles", "", "Write an overlay tileset to this MBTiles file instead of a single PNG")
	renderCmd.Flags().Int("min-zoom", 12, "Lowest zoom level of the MBTiles tileset")
	renderCmd.Flags().Int("max-zoom", 17, "Highest zoom level of the MBTiles tileset")
	renderCmd.Flags().StringSlice("hide", nil, "Layers to leave out (search_area, buildings, paved_roads, unpaved_roads)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, renderCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("render.output", "output")
	mustBind("render.zoom", "zoom")
	mustBind("render.tile_size", "tile-size")
	mustBind("render.hide", "hide")
	mustBind("render.mbtiles", "mbtiles")
	mustBind("render.min_zoom", "min-zoom")
	mustBind("render.max_zoom", "max-zoom")
}

func runRender(cmd *cobra.Command, args []string) error {
	opts, err := renderOptions(viper.GetInt("render.zoom"), viper.GetInt("render.tile_size"), viper.GetStringSlice("render.hide"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	region, label, err := resolveRegion(ctx, a.geocoder, regionInputFromConfig("render"))
	if err != nil {
		return err
	}

	res, err := a.analyzer.Analyze(ctx, region, pipeline.OriginCLI)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if path := viper.GetString("render.mbtiles"); path != "" {
		return writeTileset(ctx, path, label, res.Analysis, opts)
	}

	path := viper.GetString("render.output")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	window, err := pipeline.RenderPNG(f, res.Analysis, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to render overlay: %w", err)
	}

	logger.Info("Overlay rendered",
		"path", path,
		"label", label,
		"zoom", window.Zoom,
		"width", window.Width,
		"height", window.Height,
	)
	return nil
}

func writeTileset(ctx context.Context, path, label string, a *types.Analysis, opts pipeline.RenderOptions) error {
	minZoom, maxZoom := viper.GetInt("render.min_zoom"), viper.GetInt("render.max_zoom")

	w, err := mbtiles.New(path, mbtiles.OverlayMetadata(label, a.Region, minZoom, maxZoom))
	if err != nil {
		return err
	}
	n, err := pipeline.RenderTiles(ctx, a, opts, minZoom, maxZoom, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write tileset: %w", err)
	}

	logger.Info("Tileset written", "path", path, "tiles", n, "min_zoom", minZoom, "max_zoom", maxZoom)
	return nil
}

// renderOptions applies command line overrides to the default render options.
func renderOptions(zoom, tileSize int, hide []string) (pipeline.RenderOptions, error) {
	opts := pipeline.DefaultRenderOptions()
	if zoom < 0 || zoom > 20 {
		return opts, fmt.Errorf("invalid zoom %d: must be between 0 and 20", zoom)
	}
	opts.Zoom = zoom
	if tileSize > 0 {
		opts.TileSize = tileSize
	}
	if len(hide) > 0 {
		opts.Style = opts.Style.Clone()
		for _, name := range hide {
			layer := geojson.LayerType(strings.TrimSpace(name))
			if _, ok := opts.Style.Layers[layer]; !ok {
				return opts, fmt.Errorf("unknown layer %q", name)
			}
			opts.Style.Hide(layer)
		}
	}
	return opts, nil
}
