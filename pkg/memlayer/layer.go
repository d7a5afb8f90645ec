// Package memlayer implements feature.Layer over features held in memory.
//
// Spatial filters are answered from an R-tree of feature envelopes. When an
// attribute filter contains "field = literal" conditions on an indexed
// field, the candidate features are read from the attribute index and the
// full filter is evaluated on each candidate only.
package memlayer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/beetlebugorg/mitab/internal/attrindex"
	"github.com/beetlebugorg/mitab/internal/filter"
	"github.com/beetlebugorg/mitab/internal/logger"
	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// Options configures a Layer.
type Options struct {
	// SpatialRef is reported by SpatialRef; it is not interpreted.
	SpatialRef string
	Logger     *slog.Logger
}

// Layer is an in-memory feature layer. Feature identifiers are assigned
// sequentially from 0. It is not safe for concurrent use.
type Layer struct {
	defn     *feature.LayerDefn
	opts     Options
	log      *slog.Logger
	features []*feature.Feature

	spatial   *spatialIndex
	extent    feature.Bounds
	hasExtent bool

	attrFilter    *filter.Expr
	spatialFilter *feature.Bounds

	// candidates is the ascending fid list of the current scan; nil means
	// every feature. planned is false until it has been computed.
	candidates []int64
	planned    bool
	pos        int

	indexes *attrindex.Manager
}

// New creates an empty layer with the given schema.
func New(defn *feature.LayerDefn, opts Options) *Layer {
	l := &Layer{
		defn:    defn,
		opts:    opts,
		log:     logger.Or(opts.Logger),
		spatial: newSpatialIndex(),
	}
	return l
}

func (l *Layer) Name() string                { return l.defn.Name() }
func (l *Layer) Defn() *feature.LayerDefn    { return l.defn }
func (l *Layer) SpatialRef() string          { return l.opts.SpatialRef }
func (l *Layer) Indexes() *attrindex.Manager { return l.indexes }

// CreateFeature stores a copy of f, assigns it the next fid and adds it to
// the spatial and attribute indexes. It returns the assigned fid.
func (l *Layer) CreateFeature(f *feature.Feature) (int64, error) {
	if f.Defn().FieldCount() != l.defn.FieldCount() {
		return feature.NullFID, fmt.Errorf("feature has %d fields, layer %s has %d",
			f.Defn().FieldCount(), l.Name(), l.defn.FieldCount())
	}

	stored := feature.New(l.defn)
	for i := 0; i < l.defn.FieldCount(); i++ {
		stored.SetRaw(i, f.Raw(i))
	}
	stored.SetStyle(f.Style())
	if g := f.Geometry(); g != nil {
		stored.SetGeometry(g)
	}

	fid := int64(len(l.features))
	stored.SetFID(fid)
	l.features = append(l.features, stored)

	if b, ok := stored.Geometry().Bounds(); ok {
		l.spatial.insert(fid, b)
		if l.hasExtent {
			l.extent = l.extent.Union(b)
		} else {
			l.extent, l.hasExtent = b, true
		}
	}

	if l.indexes != nil {
		if err := l.indexes.AddToIndex(stored, attrindex.AllFields); err != nil {
			return fid, err
		}
	}
	l.planned = false
	return fid, nil
}

// ResetReading rewinds the read cursor.
func (l *Layer) ResetReading() {
	l.pos = 0
}

// SetAttributeFilter compiles expr against the layer schema. An empty
// expression clears the filter.
func (l *Layer) SetAttributeFilter(expr string) error {
	if expr == "" {
		l.attrFilter = nil
	} else {
		e, err := filter.Compile(expr, l.defn)
		if err != nil {
			return err
		}
		l.attrFilter = e
	}
	l.planned = false
	l.pos = 0
	return nil
}

// SetSpatialFilter restricts reads to features whose envelope intersects b.
func (l *Layer) SetSpatialFilter(b *feature.Bounds) {
	if b == nil {
		l.spatialFilter = nil
	} else {
		cp := *b
		l.spatialFilter = &cp
	}
	l.planned = false
	l.pos = 0
}

func (l *Layer) filtered() bool {
	return l.attrFilter != nil || l.spatialFilter != nil
}

// plan computes the candidate fids for the current filters.
func (l *Layer) plan() {
	if l.planned {
		return
	}
	l.planned = true
	l.candidates = nil

	var fromIndex []int64
	usedIndex := false
	if l.attrFilter != nil && l.indexes != nil {
		for _, eq := range l.attrFilter.Equalities() {
			idx := l.indexes.Index(eq.Field)
			if idx == nil {
				continue
			}
			fids, err := idx.AllMatches(eq.Value)
			if err != nil {
				l.log.Warn("attribute index lookup failed, scanning", "layer", l.Name(), "error", err)
				continue
			}
			// entries for fids the layer no longer has are ignored
			fromIndex = slices.DeleteFunc(slices.Clone(fids), func(fid int64) bool {
				return fid < 0 || fid >= int64(len(l.features))
			})
			slices.Sort(fromIndex)
			usedIndex = true
			l.log.Debug("attribute filter uses index", "layer", l.Name(),
				"field", l.defn.Field(eq.Field).Name, "candidates", len(fromIndex))
			break
		}
	}

	switch {
	case l.spatialFilter != nil && usedIndex:
		inBounds := l.spatial.search(*l.spatialFilter)
		l.candidates = intersectSorted(fromIndex, inBounds)
	case l.spatialFilter != nil:
		l.candidates = l.spatial.search(*l.spatialFilter)
	case usedIndex:
		l.candidates = fromIndex
	}
	if l.candidates == nil && (usedIndex || l.spatialFilter != nil) {
		l.candidates = []int64{}
	}
}

func intersectSorted(a, b []int64) []int64 {
	out := []int64{}
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// scanLen and scanAt walk the candidate list, or every feature when there
// is none.
func (l *Layer) scanLen() int {
	if l.candidates != nil {
		return len(l.candidates)
	}
	return len(l.features)
}

func (l *Layer) scanAt(i int) *feature.Feature {
	if l.candidates != nil {
		return l.features[l.candidates[i]]
	}
	return l.features[i]
}

func (l *Layer) matches(f *feature.Feature) bool {
	if l.spatialFilter != nil {
		b, ok := f.Geometry().Bounds()
		if !ok || !b.Intersects(*l.spatialFilter) {
			return false
		}
	}
	return l.attrFilter == nil || l.attrFilter.Matches(f)
}

// NextFeature returns a copy of the next feature passing the filters, or
// io.EOF.
func (l *Layer) NextFeature() (*feature.Feature, error) {
	l.plan()
	for l.pos < l.scanLen() {
		f := l.scanAt(l.pos)
		l.pos++
		if l.matches(f) {
			metrics.FeaturesRead.WithLabelValues("memory").Inc()
			return f.Clone(), nil
		}
	}
	return nil, io.EOF
}

// Feature returns a copy of the feature with the given fid, ignoring filters.
func (l *Layer) Feature(fid int64) (*feature.Feature, error) {
	if fid < 0 || fid >= int64(len(l.features)) {
		return nil, fmt.Errorf("layer %s feature %d: %w", l.Name(), fid, feature.ErrNoSuchFeature)
	}
	return l.features[fid].Clone(), nil
}

// SetNextByIndex positions the cursor so the next read returns the
// index-th feature passing the filters.
func (l *Layer) SetNextByIndex(index int64) error {
	if index < 0 {
		return fmt.Errorf("negative feature index %d", index)
	}
	l.plan()
	if !l.filtered() {
		if index > int64(len(l.features)) {
			return fmt.Errorf("feature index %d: %w", index, feature.ErrNoSuchFeature)
		}
		l.pos = int(index)
		return nil
	}

	l.ResetReading()
	for i := int64(0); i < index; i++ {
		if _, err := l.NextFeature(); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("feature index %d: %w", index, feature.ErrNoSuchFeature)
			}
			return err
		}
	}
	return nil
}

// FeatureCount returns the number of features passing the filters. The
// read cursor is not moved.
func (l *Layer) FeatureCount(bool) (int64, error) {
	if !l.filtered() {
		return int64(len(l.features)), nil
	}
	l.plan()
	var n int64
	for i := 0; i < l.scanLen(); i++ {
		if l.matches(l.scanAt(i)) {
			n++
		}
	}
	return n, nil
}

// Extent returns the envelope of every feature geometry, ignoring filters.
func (l *Layer) Extent(bool) (feature.Bounds, error) {
	if !l.hasExtent {
		return feature.Bounds{}, feature.ErrNoExtent
	}
	return l.extent, nil
}

func (l *Layer) TestCapability(c feature.Capability) bool {
	switch c {
	case feature.CapSequentialRead, feature.CapRandomRead,
		feature.CapFastGetExtent, feature.CapFastSpatialFilter:
		return true
	case feature.CapFastFeatureCount, feature.CapFastSetNextByIndex:
		return !l.filtered()
	}
	return false
}

// AttachIndexes sets up attribute indexing for the layer, loading any
// indexes already recorded next to basePath.
func (l *Layer) AttachIndexes(basePath string, opts attrindex.Options) error {
	if opts.Logger == nil {
		opts.Logger = l.log
	}
	m, err := attrindex.NewManager(l, basePath, opts)
	if err != nil {
		return err
	}
	l.indexes = m
	l.planned = false
	return nil
}

// CreateAttributeIndex indexes the named field and adds every existing
// feature to the new index.
func (l *Layer) CreateAttributeIndex(name string) error {
	if l.indexes == nil {
		return fmt.Errorf("layer %s: no index location attached", l.Name())
	}
	field := l.defn.FieldIndex(name)
	if field < 0 || l.defn.IsSpecial(field) {
		return fmt.Errorf("layer %s has no field %q", l.Name(), name)
	}
	if err := l.indexes.CreateIndex(field); err != nil {
		return err
	}

	// index every feature, not just those passing the current filters
	attr, spatial := l.attrFilter, l.spatialFilter
	l.attrFilter, l.spatialFilter, l.planned = nil, nil, false
	err := l.indexes.IndexAllFeatures(field)
	l.attrFilter, l.spatialFilter, l.planned = attr, spatial, false
	if err != nil {
		return err
	}
	return l.indexes.Sync()
}

// DropAttributeIndex removes the index of the named field.
func (l *Layer) DropAttributeIndex(name string) error {
	if l.indexes == nil {
		return fmt.Errorf("layer %s: no index location attached", l.Name())
	}
	field := l.defn.FieldIndex(name)
	if field < 0 || l.defn.IsSpecial(field) {
		return fmt.Errorf("layer %s has no field %q", l.Name(), name)
	}
	l.planned = false
	return l.indexes.DropIndex(field)
}

// Close flushes attribute indexes.
func (l *Layer) Close() error {
	if l.indexes == nil {
		return nil
	}
	return l.indexes.Close()
}
