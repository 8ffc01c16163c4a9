package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/assets"
	"github.com/MeKo-Tech/areastats/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API and the map UI",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().Int("max-concurrent-analyses", runtime.NumCPU(), "Max analyses running at once (default: number of CPUs)")
	serveCmd.Flags().Duration("analysis-timeout", 90*time.Second, "Timeout per analysis, including the Overpass fetch")
	serveCmd.Flags().Float64("rate-limit", 2, "Per-client API requests per second (0 disables the limit)")
	serveCmd.Flags().Int("rate-burst", 10, "Per-client API burst")
	serveCmd.Flags().Int64("max-body-bytes", 64<<20, "Max size of raw Overpass uploads")
	serveCmd.Flags().Bool("ui", true, "Serve the embedded map UI at /")
	serveCmd.Flags().Duration("shutdown-timeout", 15*time.Second, "Time allowed for in-flight requests on shutdown")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("serve.addr", "addr")
	mustBind("serve.max_concurrent_analyses", "max-concurrent-analyses")
	mustBind("serve.analysis_timeout", "analysis-timeout")
	mustBind("serve.rate_limit", "rate-limit")
	mustBind("serve.rate_burst", "rate-burst")
	mustBind("serve.max_body_bytes", "max-body-bytes")
	mustBind("serve.ui", "ui")
	mustBind("serve.shutdown_timeout", "shutdown-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	addr := viper.GetString("serve.addr")
	cfg := server.DefaultConfig()
	cfg.MaxConcurrentAnalyses = viper.GetInt("serve.max_concurrent_analyses")
	cfg.AnalysisTimeout = viper.GetDuration("serve.analysis_timeout")
	cfg.RateLimit = viper.GetFloat64("serve.rate_limit")
	cfg.RateBurst = viper.GetInt("serve.rate_burst")
	cfg.MaxBodyBytes = viper.GetInt64("serve.max_body_bytes")
	if viper.GetBool("serve.ui") {
		cfg.UI = assets.Web()
	}

	srv := server.New(a.analyzer, a.geocoder, a.queue, a.source, cfg, logger)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server listening",
		"addr", addr,
		"overpass", a.source.Endpoint(),
		"max_concurrent_analyses", cfg.MaxConcurrentAnalyses,
		"rate_limit", cfg.RateLimit,
		"ui", cfg.UI != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Received interrupt signal, shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("serve.shutdown_timeout"))
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
