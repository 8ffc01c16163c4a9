package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/internal/geojson"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze buildings and roads around one point",
	Example: `  areastats analyze --lat 52.3759 --lon 9.7320 --radius 1
  areastats analyze --place "Hannover Hbf" --radius 0.5 --units mi --format geojson`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addRegionFlags(analyzeCmd, "analyze")

	analyzeCmd.Flags().StringP("format", "f", "text", "Output format: text, json or geojson")
	analyzeCmd.Flags().StringP("output", "o", "", "Write output to this file instead of stdout")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, analyzeCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("analyze.format", "format")
	mustBind("analyze.output", "output")
}

// addRegionFlags adds the location flags shared by analyze and render and
// binds them below prefix.
func addRegionFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().String("lat", "", "Latitude of the circle center")
	cmd.Flags().String("lon", "", "Longitude of the circle center")
	cmd.Flags().StringP("place", "p", "", "Place name or \"lat, lon\" to geocode instead of --lat/--lon")
	cmd.Flags().Float64P("radius", "r", 1, "Circle radius")
	cmd.Flags().StringP("units", "u", "km", "Radius units: km or mi")

	for _, name := range []string{"lat", "lon", "place", "radius", "units"} {
		if err := viper.BindPFlag(prefix+"."+name, cmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
}

func regionInputFromConfig(prefix string) regionInput {
	return regionInput{
		Lat:    viper.GetString(prefix + ".lat"),
		Lon:    viper.GetString(prefix + ".lon"),
		Place:  viper.GetString(prefix + ".place"),
		Radius: viper.GetFloat64(prefix + ".radius"),
		Units:  viper.GetString(prefix + ".units"),
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format := viper.GetString("analyze.format")
	switch format {
	case "text", "json", "geojson":
	default:
		return fmt.Errorf("invalid format %q: must be text, json or geojson", format)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	region, label, err := resolveRegion(ctx, a.geocoder, regionInputFromConfig("analyze"))
	if err != nil {
		return err
	}

	logger.Info("Analyzing area", "region", region.String(), "label", label)

	res, err := a.analyzer.Analyze(ctx, region, pipeline.OriginCLI)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	logger.Info("Analysis complete",
		"buildings", res.Analysis.Metrics.BuildingCount,
		"features", geojson.LayerSummary(res.Analysis.Features),
		"cached", res.Source.Cached,
		"fetch_ms", res.Fetch.Milliseconds(),
		"compute_ms", res.Compute.Milliseconds(),
	)

	out := cmd.OutOrStdout()
	if path := viper.GetString("analyze.output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(analysisJSON{
			Label:    label,
			Region:   res.Analysis.Region.String(),
			Metrics:  res.Analysis.Metrics,
			Summary:  res.Summary,
			Features: res.Analysis.Features.FeatureCounts(),
			Source:   res.Source,
		})
	case "geojson":
		data, err := geojson.ToGeoJSONBytes(res.Analysis)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	default:
		report.WriteText(out, label, region, res.Summary)
		return nil
	}
}

type analysisJSON struct {
	Label    string              `json:"label"`
	Region   string              `json:"region"`
	Metrics  types.MetricsResult `json:"metrics"`
	Summary  report.Summary      `json:"summary"`
	Features map[string]int      `json:"feature_counts"`
	Source   pipeline.SourceInfo `json:"source"`
}
