package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/geocode"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "areastats",
	Short: "Building and road statistics for a circle on the map",
	Long: `AreaStats counts buildings, roofed area and paved/unpaved road length
inside a circle around a point, using OpenStreetMap data from Overpass.

It can analyze single places, run batches, render overlay images, serve an
HTTP API with a small map UI, and expose the analysis as an MCP tool.`,
	SilenceUsage: true,
	Version:      Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.Bool("verbose", false, "Enable verbose logging")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("user-agent", datasource.DefaultUserAgent, "User-Agent sent to Overpass and Nominatim")

	pf.String("overpass-endpoint", datasource.DefaultOverpassEndpoint, "Overpass interpreter URL")
	pf.Int("overpass-timeout", datasource.DefaultQueryTimeout, "Overpass query timeout in seconds")
	pf.Float64("overpass-rps", 1, "Max Overpass requests per second (0 disables the limit)")
	pf.Int("cache-size", 64, "Number of cached Overpass responses (0 disables the cache)")
	pf.Bool("relation-centers", false, "Ask Overpass for relation centers (counts multipolygon buildings)")
	pf.Int("fetch-workers", 2, "Concurrent Overpass fetches")

	pf.String("nominatim-endpoint", geocode.DefaultEndpoint, "Nominatim base URL")
	pf.String("tracing-endpoint", "", "OTLP gRPC endpoint for traces (default $OTLP_ENDPOINT)")

	mustBindPersistent := func(key, name string) {
		if err := viper.BindPFlag(key, pf.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBindPersistent("verbose", "verbose")
	mustBindPersistent("log_format", "log-format")
	mustBindPersistent("user_agent", "user-agent")
	mustBindPersistent("overpass.endpoint", "overpass-endpoint")
	mustBindPersistent("overpass.timeout", "overpass-timeout")
	mustBindPersistent("overpass.rps", "overpass-rps")
	mustBindPersistent("overpass.cache_size", "cache-size")
	mustBindPersistent("overpass.relation_centers", "relation-centers")
	mustBindPersistent("overpass.fetch_workers", "fetch-workers")
	mustBindPersistent("nominatim.endpoint", "nominatim-endpoint")
	mustBindPersistent("tracing.endpoint", "tracing-endpoint")
}

func initConfig() {
	// A missing .env is normal; only malformed files are worth a warning.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("AREASTATS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}
