package main

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

var world = &LngLatBbox{West: -180, South: -85, East: 180, North: 85}

func TestGetTileCountWorld(t *testing.T) {
	tests := []struct {
		zoom uint32
		want int64
	}{
		{0, 1},
		{1, 4},
		{2, 16},
	}
	for _, tt := range tests {
		if got := GetTileCount(world, tt.zoom); got != tt.want {
			t.Errorf("GetTileCount(world, %d) = %d, want %d", tt.zoom, got, tt.want)
		}
	}
}

func TestGetTileCountAntimeridian(t *testing.T) {
	crossing := &LngLatBbox{West: 170, South: -10, East: -170, North: 10}
	east := &LngLatBbox{West: 170, South: -10, East: 180, North: 10}
	west := &LngLatBbox{West: -180, South: -10, East: -170, North: 10}

	got := GetTileCount(crossing, 6)
	want := GetTileCount(east, 6) + GetTileCount(west, 6)
	if got != want {
		t.Errorf("GetTileCount(crossing, 6) = %d, want %d (sum of halves)", got, want)
	}
}

func TestGenerateTilesWorldZoom1(t *testing.T) {
	consumer := make(chan maptile.Tile)
	go GenerateTiles(world, 1, consumer)

	seen := make(map[maptile.Tile]bool)
	for tile := range consumer {
		seen[tile] = true
	}
	if len(seen) != 4 {
		t.Fatalf("generated %d tiles, want 4", len(seen))
	}
	for x := uint32(0); x < 2; x++ {
		for y := uint32(0); y < 2; y++ {
			if !seen[maptile.New(x, y, 1)] {
				t.Errorf("missing tile %d/%d/1", x, y)
			}
		}
	}
}

func TestTileCountMatchesGenerated(t *testing.T) {
	bounds := &LngLatBbox{West: -74.3, South: 40.1, East: -73.9, North: 40.5}
	for _, zoom := range []uint32{8, 10, 12} {
		consumer := make(chan maptile.Tile)
		go GenerateTiles(bounds, zoom, consumer)
		var generated int64
		for range consumer {
			generated++
		}
		if count := GetTileCount(bounds, zoom); count != generated {
			t.Errorf("zoom %d: GetTileCount = %d, generated = %d", zoom, count, generated)
		}
	}
}

func TestFlipY(t *testing.T) {
	tests := []struct {
		z, y, want uint32
	}{
		{1, 0, 1},
		{1, 1, 0},
		{15, 13288, 19479},
	}
	for _, tt := range tests {
		tile := Tile{T: maptile.New(0, tt.y, maptile.Zoom(tt.z))}
		if got := tile.flipY(); got != tt.want {
			t.Errorf("flipY(z=%d, y=%d) = %d, want %d", tt.z, tt.y, got, tt.want)
		}
	}
}

func TestTileKey(t *testing.T) {
	if got := TileKey(maptile.New(6294, 13288, 15)); got != "tile_6294_13288_15" {
		t.Errorf("TileKey = %q, want tile_6294_13288_15", got)
	}
}

func TestIntersects(t *testing.T) {
	a := &LngLatBbox{West: -10, South: -10, East: 10, North: 10}
	if !a.Intersects(&LngLatBbox{West: 0, South: 0, East: 20, North: 20}) {
		t.Error("overlapping boxes must intersect")
	}
	if a.Intersects(&LngLatBbox{West: 20, South: 20, East: 30, North: 30}) {
		t.Error("disjoint boxes must not intersect")
	}
}

func TestCoverCollection(t *testing.T) {
	c := orb.Collection{orb.Point{-73.98, 40.75}}
	set, err := CoverCollection(c, 10)
	if err != nil {
		t.Fatalf("CoverCollection() error = %v", err)
	}
	if len(set) != 1 {
		t.Fatalf("cover size = %d, want 1 tile for a point", len(set))
	}
	want := maptile.At(orb.Point{-73.98, 40.75}, 10)
	if !set[want] {
		t.Errorf("cover missing tile %v", want)
	}
}
