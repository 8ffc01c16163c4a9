package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/MeKo-Tech/areastats/internal/types"
)

// DefaultTileSize is the edge length of a standard web map tile in pixels.
const DefaultTileSize = 256

// MaxZoom is the highest zoom a Window is computed for.
const MaxZoom = 20

// maxLat is the Web Mercator latitude limit.
const maxLat = 85.05112877980659

// Coords represents a tile coordinate in the Web Mercator tile system (z/x/y)
type Coords struct {
	Z uint32 // Zoom level
	X uint32 // X coordinate (column)
	Y uint32 // Y coordinate (row)
}

// String returns the tile coordinate as "z{zoom}_x{x}_y{y}"
func (c Coords) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

// Slippy returns the coordinate as the z/x/y path used by tile servers.
func (c Coords) Slippy() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bounds returns the WGS84 bounding box of the tile
func (c Coords) Bounds() types.BoundingBox {
	b := c.Tile().Bound()
	return types.BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}
}

// TilesInBounds returns the tiles at zoom that intersect bounds.
func TilesInBounds(bounds types.BoundingBox, zoom int) []Coords {
	z := maptile.Zoom(zoom)
	minTile := maptile.At(orb.Point{bounds.MinLon, clampLat(bounds.MaxLat)}, z)
	maxTile := maptile.At(orb.Point{bounds.MaxLon, clampLat(bounds.MinLat)}, z)

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	tiles := make([]Coords, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, Coords{Z: uint32(zoom), X: x, Y: y})
		}
	}
	return tiles
}

// Window is a rectangle of global Web Mercator pixels at one zoom level.
// Overlays are rendered into a Window so they line up with base map tiles.
type Window struct {
	Zoom     int
	TileSize int
	MinX     float64 // global pixel x of the left edge
	MinY     float64 // global pixel y of the top edge
	Width    int
	Height   int
}

// WindowForBounds returns the pixel window covering bounds at zoom.
func WindowForBounds(bounds types.BoundingBox, zoom, tileSize int) Window {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	if zoom < 0 {
		zoom = 0
	}
	if zoom > MaxZoom {
		zoom = MaxZoom
	}

	x0, y0 := GlobalPixel(orb.Point{bounds.MinLon, bounds.MaxLat}, zoom, tileSize)
	x1, y1 := GlobalPixel(orb.Point{bounds.MaxLon, bounds.MinLat}, zoom, tileSize)

	minX, minY := math.Floor(x0), math.Floor(y0)
	return Window{
		Zoom:     zoom,
		TileSize: tileSize,
		MinX:     minX,
		MinY:     minY,
		Width:    max(1, int(math.Ceil(x1-minX))),
		Height:   max(1, int(math.Ceil(y1-minY))),
	}
}

// Project converts a lon/lat point to pixel coordinates inside the window.
func (w Window) Project(p orb.Point) (x, y float64) {
	gx, gy := GlobalPixel(p, w.Zoom, w.TileSize)
	return gx - w.MinX, gy - w.MinY
}

// Scale returns a copy of the window with every pixel dimension multiplied by f.
// Scaling by 2 is the same as moving one zoom level in.
func (w Window) Scale(f int) Window {
	return Window{
		Zoom:     w.Zoom,
		TileSize: w.TileSize * f,
		MinX:     w.MinX * float64(f),
		MinY:     w.MinY * float64(f),
		Width:    w.Width * f,
		Height:   w.Height * f,
	}
}

// MetersPerPixel is the ground resolution at lat.
func (w Window) MetersPerPixel(lat float64) float64 {
	const earthCircumference = 2 * math.Pi * 6378137.0
	return earthCircumference * math.Cos(lat*math.Pi/180) / (float64(w.TileSize) * math.Exp2(float64(w.Zoom)))
}

// GlobalPixel projects a lon/lat point to Web Mercator pixel coordinates
// at zoom, with the origin at the north-west corner of the world.
func GlobalPixel(p orb.Point, zoom, tileSize int) (x, y float64) {
	world := float64(tileSize) * math.Exp2(float64(zoom))
	lat := clampLat(p.Lat()) * math.Pi / 180

	x = (p.Lon() + 180) / 360 * world
	y = (0.5 - math.Log(math.Tan(math.Pi/4+lat/2))/(2*math.Pi)) * world
	return x, y
}

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}
