package memlayer

import (
	"slices"

	"github.com/dhconnelly/rtreego"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// spatialIndex provides O(log n) envelope queries using an R-tree.
type spatialIndex struct {
	rtree *rtreego.Rtree
}

// indexedFeature wraps a feature envelope for R-tree storage.
type indexedFeature struct {
	fid    int64
	bounds feature.Bounds
}

// Bounds implements rtreego.Spatial.
func (f *indexedFeature) Bounds() rtreego.Rect {
	return f.bounds.Rect()
}

func newSpatialIndex() *spatialIndex {
	return &spatialIndex{rtree: rtreego.NewTree(2, 25, 50)}
}

func (s *spatialIndex) insert(fid int64, b feature.Bounds) {
	s.rtree.Insert(&indexedFeature{fid: fid, bounds: b})
}

// search returns the fids whose envelope intersects b, in ascending order.
func (s *spatialIndex) search(b feature.Bounds) []int64 {
	spatials := s.rtree.SearchIntersect(b.Rect())
	fids := make([]int64, 0, len(spatials))
	for _, sp := range spatials {
		indexed := sp.(*indexedFeature)
		// the query rectangle is widened for degenerate bounds
		if indexed.bounds.Intersects(b) {
			fids = append(fids, indexed.fid)
		}
	}
	slices.Sort(fids)
	return fids
}
