package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/areastats/internal/geocode"
	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/MeKo-Tech/areastats/internal/worker"
)

type locator interface {
	Resolve(ctx context.Context, input string) (*geocode.Location, error)
}

// regionInput is the location part shared by analyze and render.
type regionInput struct {
	Lat, Lon string // empty when not given
	Place    string
	Radius   float64
	Units    string
}

// resolveRegion turns flags into a validated search region and a label.
// Explicit coordinates win over --place; a place needs a geocoder.
func resolveRegion(ctx context.Context, loc locator, in regionInput) (types.SearchRegion, string, error) {
	unit, err := types.ParseUnit(in.Units)
	if err != nil {
		return types.SearchRegion{}, "", err
	}
	meters, err := types.RadiusMeters(in.Radius, unit)
	if err != nil {
		return types.SearchRegion{}, "", err
	}

	var lat, lon float64
	var label string
	switch {
	case in.Lat != "" || in.Lon != "":
		if lat, err = parseCoordinate(in.Lat, "latitude", types.CodeInvalidLatitude); err != nil {
			return types.SearchRegion{}, "", err
		}
		if lon, err = parseCoordinate(in.Lon, "longitude", types.CodeInvalidLongitude); err != nil {
			return types.SearchRegion{}, "", err
		}
		label = geocode.CoordinateLabel
	case strings.TrimSpace(in.Place) != "":
		if loc == nil {
			return types.SearchRegion{}, "", errors.New("no geocoder configured")
		}
		found, err := loc.Resolve(ctx, in.Place)
		if err != nil {
			return types.SearchRegion{}, "", fmt.Errorf("resolving %q: %w", in.Place, err)
		}
		lat, lon, label = found.Lat, found.Lon, found.Label
	default:
		return types.SearchRegion{}, "", types.ValidationError{
			Code:     types.CodeInvalidInput,
			Message:  "no location given",
			Guidance: "Pass --lat and --lon, or --place",
		}
	}

	region := types.NewSearchRegion(lat, lon, meters)
	if err := region.Validate(); err != nil {
		return types.SearchRegion{}, "", err
	}
	return region, label, nil
}

func parseCoordinate(s, name, code string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, types.ValidationError{Code: code, Message: "missing " + name}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, types.ValidationError{Code: code, Message: fmt.Sprintf("%s %q is not a number", name, s)}
	}
	return v, nil
}

// parseTasks reads batch rows of the form name,lat,lon,radius[,units].
// Blank lines and lines starting with # are skipped, as is a header row
// whose latitude column reads "lat". defaultUnits applies to rows without
// a units column.
func parseTasks(r io.Reader, defaultUnits string) ([]worker.Task, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var tasks []worker.Task
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tasks: %w", err)
		}
		if line == 1 && len(rec) > 1 && strings.EqualFold(strings.TrimSpace(rec[1]), "lat") {
			continue
		}
		task, err := parseTaskRecord(rec, defaultUnits)
		if err != nil {
			row, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", row, err)
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks found")
	}
	return tasks, nil
}

func parseTaskRecord(rec []string, defaultUnits string) (worker.Task, error) {
	if len(rec) < 4 || len(rec) > 5 {
		return worker.Task{}, fmt.Errorf("expected name,lat,lon,radius[,units], got %d fields", len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	lat, err := parseCoordinate(rec[1], "latitude", types.CodeInvalidLatitude)
	if err != nil {
		return worker.Task{}, err
	}
	lon, err := parseCoordinate(rec[2], "longitude", types.CodeInvalidLongitude)
	if err != nil {
		return worker.Task{}, err
	}
	radius, err := strconv.ParseFloat(rec[3], 64)
	if err != nil {
		return worker.Task{}, types.ValidationError{Code: types.CodeInvalidRadius, Message: fmt.Sprintf("radius %q is not a number", rec[3])}
	}

	units := defaultUnits
	if len(rec) == 5 && rec[4] != "" {
		units = rec[4]
	}
	unit, err := types.ParseUnit(units)
	if err != nil {
		return worker.Task{}, err
	}
	meters, err := types.RadiusMeters(radius, unit)
	if err != nil {
		return worker.Task{}, err
	}

	region := types.NewSearchRegion(lat, lon, meters)
	if err := region.Validate(); err != nil {
		return worker.Task{}, err
	}

	name := rec[0]
	if name == "" {
		name = fmt.Sprintf("%.5f,%.5f", lat, lon)
	}
	return worker.Task{Name: name, Region: region}, nil
}
