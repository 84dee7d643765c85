package domain

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

func TestFloorDiv(t *testing.T) {
	for _, tc := range []struct{ a, b, want int }{
		{0, 2048, 0},
		{2047, 2048, 0},
		{2048, 2048, 1},
		{-1, 2048, -1},
		{-2048, 2048, -1},
		{-2049, 2048, -2},
	} {
		if got := floorDiv(tc.a, tc.b); got != tc.want {
			t.Fatalf("floorDiv(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPixelScale(t *testing.T) {
	for _, tc := range []struct{ tile, max, want int }{
		{2048, 4096, 2},
		{4096, 4096, 1},
		{8192, 4096, 1},
		{512, 4096, 8},
	} {
		if got := PixelScale(tc.tile, tc.max); got != tc.want {
			t.Fatalf("PixelScale(%d, %d) = %d, want %d", tc.tile, tc.max, got, tc.want)
		}
	}
}

func TestCanvasBoundsUsesDimensionsWhenFinite(t *testing.T) {
	b := CanvasBounds(300, 200, []storage.Pixel{{X: 999, Y: 999}})
	if b != (Bounds{MaxX: 300, MaxY: 200}) {
		t.Fatalf("bounds = %+v", b)
	}
}

func TestCanvasBoundsFallsBackToBoundingBox(t *testing.T) {
	b := CanvasBounds(0, 0, []storage.Pixel{{X: -5, Y: 3}, {X: 10, Y: -2}})
	want := Bounds{MinX: -5, MinY: -2, MaxX: 11, MaxY: 4}
	if b != want {
		t.Fatalf("bounds = %+v, want %+v", b, want)
	}
	if !CanvasBounds(0, 0, nil).Empty() {
		t.Fatal("no pixels on an unbounded canvas should give empty bounds")
	}
}

func TestGroupByTileOnlyNonEmptyTiles(t *testing.T) {
	pixels := []storage.Pixel{
		{X: 0, Y: 0}, {X: 2047, Y: 2047},
		{X: 2048, Y: 0},
		{X: 4999, Y: 4999},
		{X: 6000, Y: 0},
	}
	groups, inside := GroupByTile(pixels, 2048, Bounds{MaxX: 5000, MaxY: 5000})
	if inside != 4 {
		t.Fatalf("inside = %d, want 4", inside)
	}
	want := []TileIndex{{0, 0}, {1, 0}, {2, 2}}
	if len(groups) != len(want) {
		t.Fatalf("groups = %+v, want %v", groups, want)
	}
	for i, g := range groups {
		if g.Index != want[i] {
			t.Fatalf("group %d index = %+v, want %+v", i, g.Index, want[i])
		}
	}
	if len(groups[0].Pixels) != 2 {
		t.Fatalf("tile (0,0) pixels = %d, want 2", len(groups[0].Pixels))
	}
}

func TestTileGridCoversBounds(t *testing.T) {
	first, x, y := TileGrid(Bounds{MaxX: 5000, MaxY: 5000}, 2048)
	if first != (TileIndex{}) || x != 3 || y != 3 {
		t.Fatalf("grid = %+v %dx%d, want origin 3x3", first, x, y)
	}
	first, x, y = TileGrid(Bounds{MinX: -10, MinY: 0, MaxX: 10, MaxY: 1}, 2048)
	if first != (TileIndex{X: -1}) || x != 2 || y != 1 {
		t.Fatalf("grid = %+v %dx%d, want (-1,0) 2x1", first, x, y)
	}
}

func TestRenderTilePaintsScaledBlocks(t *testing.T) {
	rect := TileRect(TileIndex{X: 0, Y: 0}, 4, Bounds{MaxX: 3, MaxY: 2})
	if rect.Dx() != 3 || rect.Dy() != 2 {
		t.Fatalf("rect = %v, want clipped 3x2", rect)
	}
	img := RenderTile(rect, 2, []storage.Pixel{{X: 1, Y: 1, Color: "FF0000"}})
	if img.Bounds().Dx() != 6 || img.Bounds().Dy() != 4 {
		t.Fatalf("image = %v, want 6x4", img.Bounds())
	}
	red := color.NRGBA{R: 0xff, A: 0xff}
	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for _, pt := range [][2]int{{2, 2}, {3, 2}, {2, 3}, {3, 3}} {
		if got := img.NRGBAAt(pt[0], pt[1]); got != red {
			t.Fatalf("pixel %v = %v, want red", pt, got)
		}
	}
	if got := img.NRGBAAt(0, 0); got != white {
		t.Fatalf("background = %v, want white", got)
	}
}

func TestThumbnailScale(t *testing.T) {
	for _, tc := range []struct {
		w, h int
		want float64
	}{
		{5000, 5000, 0.16},
		{1600, 400, 0.5},
		{400, 300, 1},
		{100, 8000, 0.1},
	} {
		if got := ThumbnailScale(tc.w, tc.h, 800); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("ThumbnailScale(%d, %d) = %v, want %v", tc.w, tc.h, got, tc.want)
		}
	}
}

func TestRenderThumbnailFloorsPlacement(t *testing.T) {
	b := Bounds{MaxX: 5000, MaxY: 5000}
	img, scale := RenderThumbnail(b, 800, []storage.Pixel{{X: 13, Y: 4999, Color: "0000FF"}})
	if scale != 0.16 {
		t.Fatalf("scale = %v", scale)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 800 {
		t.Fatalf("thumbnail = %v, want 800x800", img.Bounds())
	}
	// floor(13*0.16)=2, floor(4999*0.16)=799
	if got := img.NRGBAAt(2, 799); got != (color.NRGBA{B: 0xff, A: 0xff}) {
		t.Fatalf("thumbnail pixel = %v, want blue", got)
	}
}

func TestRenderThumbnailLastPixelWins(t *testing.T) {
	b := Bounds{MaxX: 1600, MaxY: 1600}
	img, _ := RenderThumbnail(b, 800, []storage.Pixel{
		{X: 10, Y: 10, Color: "FF0000"},
		{X: 11, Y: 11, Color: "00FF00"},
	})
	if got := img.NRGBAAt(5, 5); got != (color.NRGBA{G: 0xff, A: 0xff}) {
		t.Fatalf("thumbnail pixel = %v, want green", got)
	}
}

func TestRenderThumbnailNegativeOrigin(t *testing.T) {
	b := Bounds{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10}
	img, _ := RenderThumbnail(b, 800, []storage.Pixel{{X: -10, Y: -10, Color: "000000"}})
	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{A: 0xff}) {
		t.Fatalf("origin pixel = %v, want black", got)
	}
}

func TestEncodePNGRoundTrips(t *testing.T) {
	img := RenderTile(TileRect(TileIndex{}, 8, Bounds{MaxX: 8, MaxY: 8}), 1, []storage.Pixel{{X: 0, Y: 0, Color: "123456"}})
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := decoded.At(0, 0).RGBA()
	if r>>8 != 0x12 || g>>8 != 0x34 || b>>8 != 0x56 {
		t.Fatalf("decoded color = %x %x %x", r>>8, g>>8, b>>8)
	}
}
