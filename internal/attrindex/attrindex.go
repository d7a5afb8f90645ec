// Package attrindex maintains on-disk attribute indexes for a feature layer.
//
// All indexes of a layer share one container file (.ind) holding one slot
// per index. A small XML catalogue (.idm) next to the layer records which
// field is indexed in which slot, so indexes survive across process runs.
//
// Feature identifiers are 0-based in this API and 1-based on disk, where 0
// means no match.
package attrindex

import (
	"fmt"
	"math"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// AttrIndex is the index of one field. Lookups match the encoded key
// exactly; there are no range queries.
type AttrIndex interface {
	// FieldIndex returns the indexed field.
	FieldIndex() int
	// AddEntry records fid under the key of v.
	AddEntry(v feature.Value, fid int64) error
	// FirstMatch returns the first fid stored under v, or feature.NullFID.
	FirstMatch(v feature.Value) (int64, error)
	// AllMatches returns every fid stored under v in insertion order.
	AllMatches(v feature.Value) ([]int64, error)
	// RemoveEntry is not supported and returns feature.ErrNotSupported.
	RemoveEntry(v feature.Value, fid int64) error
	// Clear is not supported and returns feature.ErrNotSupported.
	Clear() error
}

// fieldIndex is an AttrIndex backed by one slot of an IndexFile.
type fieldIndex struct {
	file  *IndexFile
	slot  int
	field int
}

func (x *fieldIndex) FieldIndex() int { return x.field }

func (x *fieldIndex) AddEntry(v feature.Value, fid int64) error {
	if fid < 0 {
		return feature.ErrNoFID
	}
	if fid >= math.MaxUint32 {
		return fmt.Errorf("fid %d exceeds index id range", fid)
	}
	key, err := x.file.BuildKey(x.slot, v)
	if err != nil {
		return err
	}
	return x.file.AddEntry(x.slot, key, uint32(fid+1))
}

func (x *fieldIndex) FirstMatch(v feature.Value) (int64, error) {
	key, err := x.file.BuildKey(x.slot, v)
	if err != nil {
		return feature.NullFID, err
	}
	id, err := x.file.FindFirst(x.slot, key)
	if err != nil || id == 0 {
		return feature.NullFID, err
	}
	return int64(id) - 1, nil
}

func (x *fieldIndex) AllMatches(v feature.Value) ([]int64, error) {
	key, err := x.file.BuildKey(x.slot, v)
	if err != nil {
		return nil, err
	}

	var fids []int64
	id, err := x.file.FindFirst(x.slot, key)
	for err == nil && id != 0 {
		fids = append(fids, int64(id)-1)
		id, err = x.file.FindNext(x.slot, key)
	}
	if err != nil {
		return nil, err
	}
	return fids, nil
}

func (x *fieldIndex) RemoveEntry(feature.Value, int64) error {
	return feature.ErrNotSupported
}

func (x *fieldIndex) Clear() error {
	return feature.ErrNotSupported
}
