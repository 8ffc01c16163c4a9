package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/MeKo-Tech/areastats/internal/worker"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file|->",
	Short: "Analyze many areas from a CSV file",
	Long: `Analyze every row of a CSV file in parallel.

Each row reads name,lat,lon,radius[,units]. Lines starting with # and a
header row (name,lat,lon,radius) are skipped. Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("workers", "w", 2, "Number of areas analyzed in parallel")
	batchCmd.Flags().StringP("units", "u", "km", "Radius units for rows without a units column")
	batchCmd.Flags().Bool("progress", true, "Show progress bar on stderr")
	batchCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some areas fail")
	batchCmd.Flags().StringP("format", "f", "table", "Output format: table or json")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"batch.workers", "workers"},
		{"batch.units", "units"},
		{"batch.progress", "progress"},
		{"batch.allow_failures", "allow-failures"},
		{"batch.format", "format"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, batchCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	format := viper.GetString("batch.format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", format)
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open task file: %w", err)
		}
		defer f.Close()
		in = f
	}
	tasks, err := parseTasks(in, viper.GetString("batch.units"))
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

	workers := viper.GetInt("batch.workers")
	logger.Info("Starting batch analysis", "areas", len(tasks), "workers", workers)

	progress := worker.NewProgress(len(tasks), viper.GetBool("batch.progress"))
	pool := worker.New(worker.Config{
		Workers:    workers,
		Analyzer:   a.analyzer,
		OnProgress: progress.Callback(),
	})
	results := pool.Run(ctx, tasks)
	progress.Done()
	logger.Info(progress.Summary())

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batchJSON(results)); err != nil {
			return err
		}
	} else {
		report.WriteBatch(out, worker.Rows(results))
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Warn("Area failed", "name", r.Task.Name, "region", r.Task.Region.String(), "error", r.Err)
		}
	}
	if failed > 0 && !viper.GetBool("batch.allow_failures") {
		return fmt.Errorf("%d of %d areas failed", failed, len(results))
	}
	return nil
}

type batchEntry struct {
	Name      string               `json:"name"`
	Lat       float64              `json:"lat"`
	Lon       float64              `json:"lon"`
	RadiusM   float64              `json:"radius_m"`
	Metrics   *types.MetricsResult `json:"metrics,omitempty"`
	Summary   *report.Summary      `json:"summary,omitempty"`
	Error     string               `json:"error,omitempty"`
	ElapsedMs int64                `json:"elapsed_ms"`
}

func batchJSON(results []worker.Result) []batchEntry {
	out := make([]batchEntry, 0, len(results))
	for _, r := range results {
		e := batchEntry{
			Name:      r.Task.Name,
			Lat:       r.Task.Region.Lat(),
			Lon:       r.Task.Region.Lon(),
			RadiusM:   r.Task.Region.RadiusMeters,
			ElapsedMs: r.Elapsed.Milliseconds(),
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
		} else if r.Result != nil {
			metrics := r.Result.Analysis.Metrics
			summary := r.Result.Summary
			e.Metrics = &metrics
			e.Summary = &summary
		}
		out = append(out, e)
	}
	return out
}
