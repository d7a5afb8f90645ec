package feature

import (
	"github.com/dhconnelly/rtreego"
)

// Bounds represents an axis-aligned bounding box in layer coordinates.
type Bounds struct {
	MinX float64 // Western edge
	MaxX float64 // Eastern edge
	MinY float64 // Southern edge
	MaxY float64 // Northern edge
}

// Contains returns true if the point (x, y) is within the bounds.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY
}

// Intersects returns true if the given bounds intersects with this bounds.
func (b Bounds) Intersects(other Bounds) bool {
	return !(other.MaxX < b.MinX ||
		other.MinX > b.MaxX ||
		other.MaxY < b.MinY ||
		other.MinY > b.MaxY)
}

// Union returns the smallest bounds containing both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	out := b
	if other.MinX < out.MinX {
		out.MinX = other.MinX
	}
	if other.MaxX > out.MaxX {
		out.MaxX = other.MaxX
	}
	if other.MinY < out.MinY {
		out.MinY = other.MinY
	}
	if other.MaxY > out.MaxY {
		out.MaxY = other.MaxY
	}
	return out
}

// Expand returns a new Bounds expanded by the given margin in all directions.
func (b Bounds) Expand(margin float64) Bounds {
	return Bounds{
		MinX: b.MinX - margin,
		MaxX: b.MaxX + margin,
		MinY: b.MinY - margin,
		MaxY: b.MaxY + margin,
	}
}

// Rect converts the bounds to an R-tree rectangle.
//
// R-tree rectangles require non-zero dimensions, so degenerate bounds
// (points, horizontal or vertical lines) are widened to a small epsilon.
func (b Bounds) Rect() rtreego.Rect {
	const epsilon = 1e-9

	width := b.MaxX - b.MinX
	height := b.MaxY - b.MinY
	if width < epsilon {
		width = epsilon
	}
	if height < epsilon {
		height = epsilon
	}

	rect, _ := rtreego.NewRect(rtreego.Point{b.MinX, b.MinY}, []float64{width, height})
	return rect
}
