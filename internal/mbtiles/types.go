// Package mbtiles stores rendered overlay tiles in an MBTiles (SQLite) file
// so they can be served by any MBTiles-aware tile server.
package mbtiles

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/areastats/internal/types"
)

// Metadata is the MBTiles metadata table.
type Metadata struct {
	Name        string
	Format      string // always png for overlays
	Attribution string
	Description string
	Type        string // "overlay" or "baselayer"
	Version     string
	Bounds      types.BoundingBox
	CenterLon   float64
	CenterLat   float64
	CenterZoom  int
	MinZoom     int
	MaxZoom     int
}

// OverlayMetadata describes an analysis overlay tileset for region.
func OverlayMetadata(name string, region types.SearchRegion, minZoom, maxZoom int) Metadata {
	return Metadata{
		Name:        name,
		Format:      "png",
		Attribution: "© OpenStreetMap contributors",
		Description: fmt.Sprintf("Buildings and roads within %s", region.String()),
		Type:        "overlay",
		Version:     "1.0",
		Bounds:      region.Bounds(),
		CenterLon:   region.Lon(),
		CenterLat:   region.Lat(),
		CenterZoom:  minZoom,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
	}
}

// toMap returns the metadata rows; empty fields are left out.
func (m Metadata) toMap() map[string]string {
	out := map[string]string{
		"minzoom": strconv.Itoa(m.MinZoom),
		"maxzoom": strconv.Itoa(m.MaxZoom),
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("name", m.Name)
	set("format", m.Format)
	set("attribution", m.Attribution)
	set("description", m.Description)
	set("type", m.Type)
	set("version", m.Version)
	if m.Bounds != (types.BoundingBox{}) {
		out["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", m.Bounds.MinLon, m.Bounds.MinLat, m.Bounds.MaxLon, m.Bounds.MaxLat)
	}
	if m.CenterLon != 0 || m.CenterLat != 0 {
		out["center"] = fmt.Sprintf("%.6f,%.6f,%d", m.CenterLon, m.CenterLat, m.CenterZoom)
	}
	return out
}

// metadataFromMap parses rows written by toMap. Unparseable numbers are left zero.
func metadataFromMap(rows map[string]string) Metadata {
	m := Metadata{
		Name:        rows["name"],
		Format:      rows["format"],
		Attribution: rows["attribution"],
		Description: rows["description"],
		Type:        rows["type"],
		Version:     rows["version"],
	}
	m.MinZoom, _ = strconv.Atoi(rows["minzoom"])
	m.MaxZoom, _ = strconv.Atoi(rows["maxzoom"])

	if f := floats(rows["bounds"]); len(f) == 4 {
		m.Bounds = types.BoundingBox{MinLon: f[0], MinLat: f[1], MaxLon: f[2], MaxLat: f[3]}
	}
	if f := floats(rows["center"]); len(f) == 3 {
		m.CenterLon, m.CenterLat, m.CenterZoom = f[0], f[1], int(f[2])
	}
	return m
}

func floats(s string) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}
