package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/geocode"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/tracing"
)

// app holds the collaborators every command shares.
type app struct {
	source   *datasource.OverpassDataSource
	queue    *datasource.FetchQueue
	analyzer *pipeline.Analyzer
	geocoder *geocode.Resolver
	shutdown func(context.Context) error
}

// newApp wires the Overpass source behind a fetch queue, the analyzer and the
// geocoder from the current viper config. Call close when done.
func newApp(ctx context.Context) (*app, error) {
	if logger == nil {
		initLogging()
	}

	shutdown, err := tracing.Init(ctx, viper.GetString("tracing.endpoint"), Version)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	userAgent := viper.GetString("user_agent")
	source := datasource.NewOverpassDataSource(datasource.OverpassConfig{
		Endpoint:        viper.GetString("overpass.endpoint"),
		UserAgent:       userAgent,
		QueryTimeout:    viper.GetInt("overpass.timeout"),
		RequestsPerSec:  viper.GetFloat64("overpass.rps"),
		CacheSize:       viper.GetInt("overpass.cache_size"),
		RelationCenters: viper.GetBool("overpass.relation_centers"),
	}, logger)

	qcfg := datasource.DefaultFetchQueueConfig()
	if n := viper.GetInt("overpass.fetch_workers"); n > 0 {
		qcfg.Workers = n
	}
	qcfg.Logger = logger
	queue := datasource.NewFetchQueue(source, qcfg)
	queue.Start()

	logger.Debug("data source configured",
		"endpoint", source.Endpoint(),
		"cache_size", viper.GetInt("overpass.cache_size"),
		"fetch_workers", qcfg.Workers,
	)

	return &app{
		source:   source,
		queue:    queue,
		analyzer: pipeline.NewAnalyzer(queue, logger),
		geocoder: geocode.NewResolver(geocode.Config{
			Endpoint:  viper.GetString("nominatim.endpoint"),
			UserAgent: userAgent,
		}, logger),
		shutdown: shutdown,
	}, nil
}

func (a *app) close() {
	a.queue.Stop()
	if err := a.source.Close(); err != nil {
		logger.Warn("closing data source", "error", err)
	}
	if err := a.shutdown(context.Background()); err != nil {
		logger.Warn("flushing traces", "error", err)
	}
}
