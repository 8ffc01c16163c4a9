package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <place>",
	Short: "Resolve a place name to coordinates",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGeocode,
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
}

func runGeocode(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	loc, err := a.geocoder.Resolve(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.6f, %.6f\t%s\n", loc.Lat, loc.Lon, loc.Label)
	return err
}
