package nn

import (
	"github.com/chewxy/math32"
)

// Rect is a region in top-left/size form, the shape bounding boxes
// take on the bus.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameRect is the rect covering a full width x height frame.
func FrameRect(width, height int) Rect {
	return Rect{Width: width, Height: height}
}

func (r Rect) Area() int {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// BoxFromCorners rounds raw model corner coordinates to whole pixels,
// clamps them to the frame, and normalizes inverted corners, so the
// returned Box always satisfies the corner invariant and lies inside
// the frame.
func BoxFromCorners(x1, y1, x2, y2 float32, frame Rect) Box {
	b := Box{
		X1: clampInt(int(math32.Round(x1)), frame.X, frame.X+frame.Width),
		Y1: clampInt(int(math32.Round(y1)), frame.Y, frame.Y+frame.Height),
		X2: clampInt(int(math32.Round(x2)), frame.X, frame.X+frame.Width),
		Y2: clampInt(int(math32.Round(y2)), frame.Y, frame.Y+frame.Height),
	}
	if b.X2 < b.X1 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y2 < b.Y1 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
