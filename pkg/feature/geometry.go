package feature

import "math"

// GeometryType represents the type of geometry.
type GeometryType int

const (
	// GeometryTypeUnknown is used for layers mixing geometry types
	// and for features without geometry.
	GeometryTypeUnknown GeometryType = iota

	// GeometryTypePoint represents a single point location.
	GeometryTypePoint

	// GeometryTypeLineString represents a line composed of connected points.
	GeometryTypeLineString

	// GeometryTypePolygon represents a closed polygon area.
	GeometryTypePolygon
)

// String returns the geometry type name as reported by the OGR_GEOMETRY
// special field.
func (g GeometryType) String() string {
	switch g {
	case GeometryTypePoint:
		return "POINT"
	case GeometryTypeLineString:
		return "LINESTRING"
	case GeometryTypePolygon:
		return "POLYGON"
	default:
		return "UNKNOWN"
	}
}

// Geometry represents the spatial representation of a feature.
//
// Coordinates are [x, y] pairs. Binary geometry decoding belongs to the
// format readers; this type only carries what filtering, extent reporting
// and the area special field need.
type Geometry struct {
	Type        GeometryType
	Coordinates [][]float64
}

// Bounds calculates the bounding box of the geometry.
// The second return value is false for an empty geometry.
func (g *Geometry) Bounds() (Bounds, bool) {
	if g == nil || len(g.Coordinates) == 0 {
		return Bounds{}, false
	}

	first := g.Coordinates[0]
	bounds := Bounds{MinX: first[0], MaxX: first[0], MinY: first[1], MaxY: first[1]}
	for _, coord := range g.Coordinates[1:] {
		x, y := coord[0], coord[1]
		if x < bounds.MinX {
			bounds.MinX = x
		}
		if x > bounds.MaxX {
			bounds.MaxX = x
		}
		if y < bounds.MinY {
			bounds.MinY = y
		}
		if y > bounds.MaxY {
			bounds.MaxY = y
		}
	}
	return bounds, true
}

// Area returns the planar area of a polygon (shoelace formula).
// Points and lines have zero area.
func (g *Geometry) Area() float64 {
	if g == nil || g.Type != GeometryTypePolygon || len(g.Coordinates) < 3 {
		return 0
	}

	var sum float64
	n := len(g.Coordinates)
	for i := 0; i < n; i++ {
		a := g.Coordinates[i]
		b := g.Coordinates[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return math.Abs(sum) / 2
}

// Clone returns a deep copy of the geometry.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	coords := make([][]float64, len(g.Coordinates))
	for i, c := range g.Coordinates {
		coords[i] = append([]float64(nil), c...)
	}
	return &Geometry{Type: g.Type, Coordinates: coords}
}
