package feature

// NullFID marks a feature that has not been assigned an identifier.
const NullFID int64 = -1

// Feature is one record of a layer: an identifier, an optional geometry,
// a style string and one value per schema field.
type Feature struct {
	defn     *LayerDefn
	fid      int64
	values   []Value
	geometry *Geometry
	style    string
}

// New creates an empty feature with all fields unset.
func New(defn *LayerDefn) *Feature {
	return &Feature{
		defn:   defn,
		fid:    NullFID,
		values: make([]Value, defn.FieldCount()),
	}
}

// Defn returns the schema of the feature.
func (f *Feature) Defn() *LayerDefn { return f.defn }

// FID returns the feature identifier, or NullFID.
func (f *Feature) FID() int64 { return f.fid }

// SetFID assigns the feature identifier.
func (f *Feature) SetFID(fid int64) { f.fid = fid }

// Geometry returns the feature geometry, or nil.
func (f *Feature) Geometry() *Geometry { return f.geometry }

// SetGeometry stores a copy of g.
func (f *Feature) SetGeometry(g *Geometry) { f.geometry = g.Clone() }

// Style returns the feature style string.
func (f *Feature) Style() string { return f.style }

// SetStyle sets the feature style string.
func (f *Feature) SetStyle(s string) { f.style = s }

// IsFieldSet reports whether field i holds a value.
func (f *Feature) IsFieldSet(i int) bool {
	return i >= 0 && i < len(f.values) && f.values[i].IsSet()
}

// UnsetField clears field i.
func (f *Feature) UnsetField(i int) {
	if i >= 0 && i < len(f.values) {
		f.values[i] = Unset()
	}
}

// Raw returns the raw value of field i.
func (f *Feature) Raw(i int) Value {
	if i < 0 || i >= len(f.values) {
		return Unset()
	}
	return f.values[i]
}

// SetRaw stores v into field i, converting it to the field type when the
// types differ.
func (f *Feature) SetRaw(i int, v Value) {
	if i < 0 || i >= len(f.values) {
		return
	}
	f.values[i] = v.Convert(f.defn.Field(i).Type)
}

// SetInteger sets field i from an integer.
func (f *Feature) SetInteger(i int, v int64) { f.SetRaw(i, IntegerValue(v)) }

// SetReal sets field i from a float.
func (f *Feature) SetReal(i int, v float64) { f.SetRaw(i, RealValue(v)) }

// SetString sets field i from a string.
func (f *Feature) SetString(i int, v string) { f.SetRaw(i, StringValue(v)) }

// IntegerField returns field i as an integer.
func (f *Feature) IntegerField(i int) int64 { return f.Raw(i).Integer() }

// RealField returns field i as a float.
func (f *Feature) RealField(i int) float64 { return f.Raw(i).Real() }

// StringField returns field i formatted as text.
func (f *Feature) StringField(i int) string { return f.Raw(i).String() }

// FieldOrSpecial returns the value of a regular field or, for indexes at or
// beyond FieldCount(), the computed special field value.
func (f *Feature) FieldOrSpecial(idx int) Value {
	n := f.defn.FieldCount()
	if idx < n {
		return f.Raw(idx)
	}
	return f.special(idx - n)
}

func (f *Feature) special(k int) Value {
	switch k {
	case SpecialFID:
		return IntegerValue(f.fid)
	case SpecialGeometryType:
		if f.geometry == nil {
			return Unset()
		}
		return StringValue(f.geometry.Type.String())
	case SpecialStyle:
		if f.style == "" {
			return Unset()
		}
		return StringValue(f.style)
	case SpecialGeomArea:
		if f.geometry == nil {
			return Unset()
		}
		return RealValue(f.geometry.Area())
	}
	return Unset()
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	c := &Feature{
		defn:     f.defn,
		fid:      f.fid,
		values:   append([]Value(nil), f.values...),
		geometry: f.geometry.Clone(),
		style:    f.style,
	}
	return c
}
