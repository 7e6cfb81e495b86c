package main

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
)

// TileSize 默认瓦片大小
const TileSize = 256

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 22

const webMercatorLatLimit float64 = 85.05112877980659

// Tile 自定义瓦片存储
type Tile struct {
	T maptile.Tile
	C []byte
}

func (tile Tile) flipY() uint32 {
	return (1 << uint32(tile.T.Z)) - tile.T.Y - 1
}

// ErrTile 下载失败的瓦片记录
type ErrTile struct {
	X   uint32 `json:"x"`
	Y   uint32 `json:"y"`
	Z   uint32 `json:"z"`
	Res string `json:"res"`
}

// LngLatBbox bounding box in decimal degrees
type LngLatBbox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Intersects returns true if this bounding box intersects with the other bounding box.
func (b *LngLatBbox) Intersects(o *LngLatBbox) bool {
	latOverlaps := (o.North > b.South) && (o.South < b.North)
	lngOverlaps := (o.East > b.West) && (o.West < b.East)
	return latOverlaps && lngOverlaps
}

// Layer 级别&瓦片数
type Layer struct {
	Zoom       uint32
	Count      int64
	Bound      *LngLatBbox
	Collection orb.Collection
}

// splitBoxes splits a bbox crossing the antimeridian into two plain boxes and
// clamps each to web mercator limits.
func splitBoxes(bounds *LngLatBbox) []*LngLatBbox {
	var boxes []*LngLatBbox
	if bounds.West > bounds.East {
		boxes = []*LngLatBbox{
			{West: -180.0, South: bounds.South, East: bounds.East, North: bounds.North},
			{West: bounds.West, South: bounds.South, East: 180.0, North: bounds.North},
		}
	} else {
		boxes = []*LngLatBbox{bounds}
	}
	clamped := make([]*LngLatBbox, 0, len(boxes))
	for _, box := range boxes {
		clamped = append(clamped, &LngLatBbox{
			West:  math.Max(-180.0, box.West),
			South: math.Max(-webMercatorLatLimit, box.South),
			East:  math.Min(180.0, box.East),
			North: math.Min(webMercatorLatLimit, box.North),
		})
	}
	return clamped
}

// tileRange returns the inclusive x/y tile ranges covering one clamped box.
func tileRange(box *LngLatBbox, zoom uint32) (minX, maxX, minY, maxY uint32) {
	z := maptile.Zoom(zoom)
	ll := maptile.At(orb.Point{box.West, box.South}, z)
	ur := maptile.At(orb.Point{box.East, box.North}, z)
	last := uint32(1<<zoom) - 1
	minX, maxX = ll.X, ur.X
	if maxX > last {
		maxX = last
	}
	// y grows southwards in the xyz scheme
	minY, maxY = ur.Y, ll.Y
	if maxY > last {
		maxY = last
	}
	return
}

// GetTileCount 计算瓦片总数
func GetTileCount(bounds *LngLatBbox, zoom uint32) int64 {
	var count int64
	for _, box := range splitBoxes(bounds) {
		minX, maxX, minY, maxY := tileRange(box, zoom)
		count += int64(maxX-minX+1) * int64(maxY-minY+1)
	}
	return count
}

// GenerateTiles 按范围生成瓦片序列
func GenerateTiles(bounds *LngLatBbox, zoom uint32, consumer chan maptile.Tile) {
	defer close(consumer)
	for _, box := range splitBoxes(bounds) {
		minX, maxX, minY, maxY := tileRange(box, zoom)
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				consumer <- maptile.New(x, y, maptile.Zoom(zoom))
			}
		}
	}
}

// CoverCollection 依据geojson几何覆盖生成瓦片集
func CoverCollection(c orb.Collection, zoom uint32) (maptile.Set, error) {
	set := make(maptile.Set)
	for _, g := range c {
		cover, err := tilecover.Geometry(g, maptile.Zoom(zoom))
		if err != nil {
			return nil, err
		}
		for t, ok := range cover {
			if ok {
				set[t] = true
			}
		}
	}
	return set, nil
}

// TileKey redis及缓存使用的瓦片键
func TileKey(t maptile.Tile) string {
	return fmt.Sprintf("tile_%d_%d_%d", t.X, t.Y, t.Z)
}
