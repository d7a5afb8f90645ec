package feature

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a raw field value. The zero Value is unset.
//
// Values are copied between features without passing through their string
// form, so numeric precision survives projection and joins.
type Value struct {
	set   bool
	kind  FieldType
	i     int64
	f     float64
	s     string
	ints  []int64
	reals []float64
	strs  []string
}

// Unset returns the unset value.
func Unset() Value { return Value{} }

// IntegerValue returns a set Integer value.
func IntegerValue(v int64) Value { return Value{set: true, kind: FieldTypeInteger, i: v} }

// RealValue returns a set Real value.
func RealValue(v float64) Value { return Value{set: true, kind: FieldTypeReal, f: v} }

// StringValue returns a set String value.
func StringValue(v string) Value { return Value{set: true, kind: FieldTypeString, s: v} }

// IntegerListValue returns a set IntegerList value.
func IntegerListValue(v []int64) Value {
	return Value{set: true, kind: FieldTypeIntegerList, ints: append([]int64(nil), v...)}
}

// RealListValue returns a set RealList value.
func RealListValue(v []float64) Value {
	return Value{set: true, kind: FieldTypeRealList, reals: append([]float64(nil), v...)}
}

// StringListValue returns a set StringList value.
func StringListValue(v []string) Value {
	return Value{set: true, kind: FieldTypeStringList, strs: append([]string(nil), v...)}
}

// IsSet reports whether the value carries data.
func (v Value) IsSet() bool { return v.set }

// Type returns the type the value was created with.
func (v Value) Type() FieldType { return v.kind }

// Integer returns the value converted to an integer. Strings that do not
// parse as numbers convert to 0; reals are truncated.
func (v Value) Integer() int64 {
	if !v.set {
		return 0
	}
	switch v.kind {
	case FieldTypeInteger:
		return v.i
	case FieldTypeReal:
		return int64(v.f)
	case FieldTypeString:
		s := strings.TrimSpace(v.s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

// Real returns the value converted to a float.
func (v Value) Real() float64 {
	if !v.set {
		return 0
	}
	switch v.kind {
	case FieldTypeInteger:
		return float64(v.i)
	case FieldTypeReal:
		return v.f
	case FieldTypeString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return f
		}
	}
	return 0
}

// String returns the value formatted as text. Unset values format as "".
func (v Value) String() string {
	if !v.set {
		return ""
	}
	switch v.kind {
	case FieldTypeInteger:
		return strconv.FormatInt(v.i, 10)
	case FieldTypeReal:
		return formatReal(v.f)
	case FieldTypeString:
		return v.s
	case FieldTypeIntegerList:
		parts := make([]string, len(v.ints))
		for i, n := range v.ints {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return fmt.Sprintf("(%d:%s)", len(parts), strings.Join(parts, ","))
	case FieldTypeRealList:
		parts := make([]string, len(v.reals))
		for i, f := range v.reals {
			parts[i] = formatReal(f)
		}
		return fmt.Sprintf("(%d:%s)", len(parts), strings.Join(parts, ","))
	case FieldTypeStringList:
		return fmt.Sprintf("(%d:%s)", len(v.strs), strings.Join(v.strs, ","))
	}
	return ""
}

// Convert returns the value converted to type t. Unset stays unset and
// list values are only kept when t is the same list type.
func (v Value) Convert(t FieldType) Value {
	if !v.set || v.kind == t {
		return v
	}
	switch t {
	case FieldTypeInteger:
		return IntegerValue(v.Integer())
	case FieldTypeReal:
		return RealValue(v.Real())
	case FieldTypeString:
		return StringValue(v.String())
	}
	return Unset()
}

// Compare orders two set values: numerically when both are numeric,
// otherwise by byte-wise comparison of their string forms.
func Compare(a, b Value) int {
	if isNumeric(a.kind) && isNumeric(b.kind) {
		if a.kind == FieldTypeInteger && b.kind == FieldTypeInteger {
			switch {
			case a.i < b.i:
				return -1
			case a.i > b.i:
				return 1
			}
			return 0
		}
		x, y := a.Real(), b.Real()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(a.String(), b.String())
}

// Equal reports whether both values are set and compare equal, or both unset.
func (v Value) Equal(o Value) bool {
	if v.set != o.set {
		return false
	}
	if !v.set {
		return true
	}
	return Compare(v, o) == 0
}

func isNumeric(t FieldType) bool {
	return t == FieldTypeInteger || t == FieldTypeReal
}

func formatReal(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}
