package feature

import "strings"

// FieldType is the semantic type of an attribute field.
type FieldType int

const (
	FieldTypeInteger FieldType = iota
	FieldTypeReal
	FieldTypeString
	FieldTypeIntegerList
	FieldTypeRealList
	FieldTypeStringList
)

// String returns the type name.
func (t FieldType) String() string {
	switch t {
	case FieldTypeInteger:
		return "Integer"
	case FieldTypeReal:
		return "Real"
	case FieldTypeString:
		return "String"
	case FieldTypeIntegerList:
		return "IntegerList"
	case FieldTypeRealList:
		return "RealList"
	case FieldTypeStringList:
		return "StringList"
	default:
		return "Unknown"
	}
}

// IsList reports whether the type is a collection type.
func (t FieldType) IsList() bool {
	return t == FieldTypeIntegerList || t == FieldTypeRealList || t == FieldTypeStringList
}

// FieldDefn describes one attribute field of a layer schema.
type FieldDefn struct {
	Name      string
	Type      FieldType
	Width     int // Maximum string width; 0 means unbounded
	Precision int
}

// SpecialField is a computed per-feature value addressable like a field
// but not stored in the schema.
type SpecialField struct {
	Name string
	Type FieldType
}

// SpecialFields lists the pseudo-fields every layer exposes. A special
// field is addressed by index FieldCount()+k where k is its position here.
var SpecialFields = []SpecialField{
	{Name: "FID", Type: FieldTypeInteger},
	{Name: "OGR_GEOMETRY", Type: FieldTypeString},
	{Name: "OGR_STYLE", Type: FieldTypeString},
	{Name: "OGR_GEOM_AREA", Type: FieldTypeReal},
}

const (
	SpecialFID = iota
	SpecialGeometryType
	SpecialStyle
	SpecialGeomArea
)

// LayerDefn is the schema shared by all features of a layer.
type LayerDefn struct {
	name     string
	fields   []FieldDefn
	geomType GeometryType
}

// NewLayerDefn creates a schema with the given fields.
func NewLayerDefn(name string, fields ...FieldDefn) *LayerDefn {
	return &LayerDefn{
		name:   name,
		fields: append([]FieldDefn(nil), fields...),
	}
}

// Name returns the layer name.
func (d *LayerDefn) Name() string { return d.name }

// FieldCount returns the number of regular fields.
func (d *LayerDefn) FieldCount() int { return len(d.fields) }

// Field returns the definition of regular field i.
func (d *LayerDefn) Field(i int) FieldDefn { return d.fields[i] }

// AddField appends a field to the schema.
func (d *LayerDefn) AddField(f FieldDefn) { d.fields = append(d.fields, f) }

// GeometryType returns the layer geometry type.
func (d *LayerDefn) GeometryType() GeometryType { return d.geomType }

// SetGeometryType sets the layer geometry type.
func (d *LayerDefn) SetGeometryType(t GeometryType) { d.geomType = t }

// FieldIndex returns the index of the named field, matching case-insensitively.
// Special field names resolve to FieldCount()+k. Returns -1 if not found.
func (d *LayerDefn) FieldIndex(name string) int {
	for i, f := range d.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	for k, sf := range SpecialFields {
		if strings.EqualFold(sf.Name, name) {
			return len(d.fields) + k
		}
	}
	return -1
}

// IsSpecial reports whether idx addresses a special field.
func (d *LayerDefn) IsSpecial(idx int) bool {
	return idx >= len(d.fields) && idx < len(d.fields)+len(SpecialFields)
}

// ValidIndex reports whether idx addresses a regular or special field.
func (d *LayerDefn) ValidIndex(idx int) bool {
	return idx >= 0 && idx < len(d.fields)+len(SpecialFields)
}

// FieldOrSpecial returns the definition of a regular or special field.
func (d *LayerDefn) FieldOrSpecial(idx int) FieldDefn {
	if d.IsSpecial(idx) {
		sf := SpecialFields[idx-len(d.fields)]
		return FieldDefn{Name: sf.Name, Type: sf.Type}
	}
	return d.fields[idx]
}

// Clone returns an independent copy of the schema.
func (d *LayerDefn) Clone() *LayerDefn {
	c := NewLayerDefn(d.name, d.fields...)
	c.geomType = d.geomType
	return c
}
