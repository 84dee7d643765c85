package domain

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strconv"

	"github.com/louisbranch/pixelwall/internal/services/canvas/storage"
)

// Bounds is a half-open rectangle of canvas coordinates.
type Bounds struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Width is the horizontal extent in cells.
func (b Bounds) Width() int { return b.MaxX - b.MinX }

// Height is the vertical extent in cells.
func (b Bounds) Height() int { return b.MaxY - b.MinY }

// Empty reports whether the bounds contain no cells.
func (b Bounds) Empty() bool { return b.Width() <= 0 || b.Height() <= 0 }

// Contains reports whether (x, y) lies inside the bounds.
func (b Bounds) Contains(x, y int) bool {
	return x >= b.MinX && x < b.MaxX && y >= b.MinY && y < b.MaxY
}

// CanvasBounds returns [0,width)×[0,height) for a finite canvas and the
// bounding box of pixels otherwise.
func CanvasBounds(width, height int, pixels []storage.Pixel) Bounds {
	if width > 0 && height > 0 {
		return Bounds{MaxX: width, MaxY: height}
	}
	if len(pixels) == 0 {
		return Bounds{}
	}
	b := Bounds{MinX: pixels[0].X, MinY: pixels[0].Y, MaxX: pixels[0].X + 1, MaxY: pixels[0].Y + 1}
	for _, p := range pixels[1:] {
		b.MinX = min(b.MinX, p.X)
		b.MinY = min(b.MinY, p.Y)
		b.MaxX = max(b.MaxX, p.X+1)
		b.MaxY = max(b.MaxY, p.Y+1)
	}
	return b
}

// TileIndex addresses one tile of the canvas grid.
type TileIndex struct {
	X, Y int
}

// TileOf returns the tile holding (x, y): (floor(x/T), floor(y/T)).
func TileOf(x, y, tileSize int) TileIndex {
	return TileIndex{X: floorDiv(x, tileSize), Y: floorDiv(y, tileSize)}
}

// PixelScale is the block edge each cell is painted with so that a tile
// image stays within maxTileImagePixels on a side.
func PixelScale(tileSize, maxTileImagePixels int) int {
	return max(1, maxTileImagePixels/tileSize)
}

// TileGrid reports the first tile index covered by b and how many tiles
// span it on each axis.
func TileGrid(b Bounds, tileSize int) (first TileIndex, tilesX, tilesY int) {
	if b.Empty() {
		return TileIndex{}, 0, 0
	}
	first = TileOf(b.MinX, b.MinY, tileSize)
	last := TileOf(b.MaxX-1, b.MaxY-1, tileSize)
	return first, last.X - first.X + 1, last.Y - first.Y + 1
}

// TileRect is the canvas region a tile covers, clipped to b.
func TileRect(idx TileIndex, tileSize int, b Bounds) image.Rectangle {
	r := image.Rect(idx.X*tileSize, idx.Y*tileSize, (idx.X+1)*tileSize, (idx.Y+1)*tileSize)
	return r.Intersect(image.Rect(b.MinX, b.MinY, b.MaxX, b.MaxY))
}

// TileGroup is one non-empty tile and the pixels inside it.
type TileGroup struct {
	Index  TileIndex
	Pixels []storage.Pixel
}

// GroupByTile buckets the pixels inside b by tile. Only tiles with at least
// one pixel are returned, ordered by row then column. The second result is
// the number of pixels that fell inside b.
func GroupByTile(pixels []storage.Pixel, tileSize int, b Bounds) ([]TileGroup, int) {
	byIndex := make(map[TileIndex][]storage.Pixel)
	inside := 0
	for _, p := range pixels {
		if !b.Contains(p.X, p.Y) {
			continue
		}
		inside++
		idx := TileOf(p.X, p.Y, tileSize)
		byIndex[idx] = append(byIndex[idx], p)
	}
	groups := make([]TileGroup, 0, len(byIndex))
	for idx, members := range byIndex {
		groups = append(groups, TileGroup{Index: idx, Pixels: members})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Index.Y != groups[j].Index.Y {
			return groups[i].Index.Y < groups[j].Index.Y
		}
		return groups[i].Index.X < groups[j].Index.X
	})
	return groups, inside
}

// RenderTile paints pixels into an image covering rect at scale cells per
// block, on a white background.
func RenderTile(rect image.Rectangle, scale int, pixels []storage.Pixel) *image.NRGBA {
	img := newWhiteImage(rect.Dx()*scale, rect.Dy()*scale)
	for _, p := range pixels {
		if !image.Pt(p.X, p.Y).In(rect) {
			continue
		}
		c := parseHexColor(p.Color)
		ox := (p.X - rect.Min.X) * scale
		oy := (p.Y - rect.Min.Y) * scale
		for dy := range scale {
			for dx := range scale {
				img.SetNRGBA(ox+dx, oy+dy, c)
			}
		}
	}
	return img
}

// ThumbnailScale is min(maxDim/width, maxDim/height, 1).
func ThumbnailScale(width, height, maxDim int) float64 {
	if width <= 0 || height <= 0 {
		return 1
	}
	return math.Min(math.Min(float64(maxDim)/float64(width), float64(maxDim)/float64(height)), 1)
}

// ThumbnailPoint maps a canvas coordinate relative to the origin onto the
// thumbnail: floor(offset*scale).
func ThumbnailPoint(offset int, scale float64) int {
	return int(math.Floor(float64(offset) * scale))
}

// RenderThumbnail draws the whole of b scaled to fit maxDim. Cells that land
// on the same thumbnail pixel resolve to the last one painted.
func RenderThumbnail(b Bounds, maxDim int, pixels []storage.Pixel) (*image.NRGBA, float64) {
	scale := ThumbnailScale(b.Width(), b.Height(), maxDim)
	w := max(1, int(math.Floor(float64(b.Width())*scale)))
	h := max(1, int(math.Floor(float64(b.Height())*scale)))
	img := newWhiteImage(w, h)
	for _, p := range pixels {
		if !b.Contains(p.X, p.Y) {
			continue
		}
		tx := min(ThumbnailPoint(p.X-b.MinX, scale), w-1)
		ty := min(ThumbnailPoint(p.Y-b.MinY, scale), h-1)
		img.SetNRGBA(tx, ty, parseHexColor(p.Color))
	}
	return img, scale
}

// EncodePNG encodes img favoring speed over size.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func newWhiteImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

// parseHexColor decodes RRGGBB. Invalid input paints black.
func parseHexColor(hex string) color.NRGBA {
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil || len(hex) != 6 {
		return color.NRGBA{A: 0xff}
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
