package attrindex

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// KeyType is the encoding of keys held by one index slot.
type KeyType uint8

const (
	KeyInteger KeyType = 1
	KeyReal    KeyType = 2
	KeyString  KeyType = 3
)

func (k KeyType) String() string {
	switch k {
	case KeyInteger:
		return "Integer"
	case KeyReal:
		return "Real"
	case KeyString:
		return "String"
	}
	return "Unknown"
}

func (k KeyType) valid() bool {
	return k == KeyInteger || k == KeyReal || k == KeyString
}

// numericKeyWidth is the encoded width of Integer and Real keys.
const numericKeyWidth = 8

// encodeInteger writes v big-endian with the sign bit flipped, so byte order
// matches numeric order.
func encodeInteger(v int64) []byte {
	b := make([]byte, numericKeyWidth)
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return b
}

// encodeReal writes the IEEE-754 bits of v transformed so that byte order
// matches numeric order: positive values get the sign bit set, negative
// values are inverted.
func encodeReal(v float64) []byte {
	if v == 0 {
		v = 0 // -0 and +0 share a key
	}
	bits := math.Float64bits(v)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	b := make([]byte, numericKeyWidth)
	binary.BigEndian.PutUint64(b, bits)
	return b
}

// encodeString upper-cases s and truncates or zero-pads it to width bytes.
// String lookups are case-insensitive.
func encodeString(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, strings.ToUpper(s))
	return b
}

// encodeKey converts v to the key space of a slot.
func encodeKey(t KeyType, width int, v feature.Value) []byte {
	switch t {
	case KeyInteger:
		return encodeInteger(v.Integer())
	case KeyReal:
		return encodeReal(v.Real())
	default:
		return encodeString(v.String(), width)
	}
}

// keyTypeFor maps a field type to its key encoding. List types have none.
func keyTypeFor(t feature.FieldType) (KeyType, bool) {
	switch t {
	case feature.FieldTypeInteger:
		return KeyInteger, true
	case feature.FieldTypeReal:
		return KeyReal, true
	case feature.FieldTypeString:
		return KeyString, true
	}
	return 0, false
}
