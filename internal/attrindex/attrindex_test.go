package attrindex

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/mitab/internal/minixml"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// sliceLayer is a minimal sequential layer over a fixed feature slice.
type sliceLayer struct {
	defn     *feature.LayerDefn
	features []*feature.Feature
	pos      int
	resets   int
}

func (l *sliceLayer) Name() string                           { return l.defn.Name() }
func (l *sliceLayer) Defn() *feature.LayerDefn               { return l.defn }
func (l *sliceLayer) ResetReading()                          { l.pos = 0; l.resets++ }
func (l *sliceLayer) SetNextByIndex(int64) error             { return feature.ErrNotSupported }
func (l *sliceLayer) SetAttributeFilter(string) error        { return feature.ErrNotSupported }
func (l *sliceLayer) SetSpatialFilter(*feature.Bounds)       {}
func (l *sliceLayer) TestCapability(feature.Capability) bool { return false }
func (l *sliceLayer) SpatialRef() string                     { return "" }

func (l *sliceLayer) NextFeature() (*feature.Feature, error) {
	if l.pos >= len(l.features) {
		return nil, io.EOF
	}
	f := l.features[l.pos]
	l.pos++
	return f, nil
}

func (l *sliceLayer) Feature(fid int64) (*feature.Feature, error) {
	for _, f := range l.features {
		if f.FID() == fid {
			return f, nil
		}
	}
	return nil, feature.ErrNoSuchFeature
}

func (l *sliceLayer) FeatureCount(bool) (int64, error) { return int64(len(l.features)), nil }

func (l *sliceLayer) Extent(bool) (feature.Bounds, error) {
	return feature.Bounds{}, feature.ErrNoExtent
}

func newRoads() *sliceLayer {
	defn := feature.NewLayerDefn("roads",
		feature.FieldDefn{Name: "id", Type: feature.FieldTypeInteger},
		feature.FieldDefn{Name: "name", Type: feature.FieldTypeString, Width: 20},
		feature.FieldDefn{Name: "length", Type: feature.FieldTypeReal},
		feature.FieldDefn{Name: "lanes", Type: feature.FieldTypeIntegerList},
	)
	l := &sliceLayer{defn: defn}
	rows := []struct {
		id     int64
		name   string
		length float64
	}{
		{30, "Main", 1.5},
		{10, "main", 2.5},
		{20, "", 1.5},
		{10, "High", -4},
	}
	for i, r := range rows {
		f := feature.New(defn)
		f.SetFID(int64(i))
		f.SetInteger(0, r.id)
		if r.name != "" {
			f.SetString(1, r.name)
		}
		f.SetReal(2, r.length)
		l.features = append(l.features, f)
	}
	return l
}

func TestIntegerKeysPreserveOrder(t *testing.T) {
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 7, 1 << 40, math.MaxInt64}
	for i := 1; i < len(values); i++ {
		assert.Negative(t, bytes.Compare(encodeInteger(values[i-1]), encodeInteger(values[i])),
			"%d < %d", values[i-1], values[i])
	}
}

func TestRealKeysPreserveOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e300, -2.5, -1e-300, 0, 1e-300, 0.5, 2.5, 1e300, math.Inf(1)}
	for i := 1; i < len(values); i++ {
		assert.Negative(t, bytes.Compare(encodeReal(values[i-1]), encodeReal(values[i])),
			"%g < %g", values[i-1], values[i])
	}
	assert.Equal(t, encodeReal(0), encodeReal(math.Copysign(0, -1)))
}

func TestStringKeys(t *testing.T) {
	assert.Equal(t, []byte{'A', 'B', 'C', 0, 0}, encodeString("abc", 5))
	assert.Equal(t, []byte("ABC"), encodeString("abcdef", 3))
	assert.Equal(t, encodeString("Main", 8), encodeString("MAIN", 8))
}

func TestIndexFileLookups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.ind")
	f, err := CreateIndexFile(path)
	require.NoError(t, err)

	slot, err := f.CreateIndex(KeyInteger, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	inserts := []struct {
		v  int64
		id uint32
	}{{5, 1}, {-3, 2}, {5, 3}, {100, 4}, {5, 5}, {0, 6}}
	for _, in := range inserts {
		key, err := f.BuildKey(slot, feature.IntegerValue(in.v))
		require.NoError(t, err)
		require.NoError(t, f.AddEntry(slot, key, in.id))
	}

	collect := func(f *IndexFile, v int64) []uint32 {
		key, err := f.BuildKey(slot, feature.IntegerValue(v))
		require.NoError(t, err)
		var ids []uint32
		id, err := f.FindFirst(slot, key)
		for ; err == nil && id != 0; id, err = f.FindNext(slot, key) {
			ids = append(ids, id)
		}
		require.NoError(t, err)
		return ids
	}

	assert.Equal(t, []uint32{1, 3, 5}, collect(f, 5))
	assert.Equal(t, []uint32{2}, collect(f, -3))
	assert.Equal(t, []uint32{6}, collect(f, 0))
	assert.Empty(t, collect(f, 42))

	require.NoError(t, f.Close())

	reopened, err := OpenIndexFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.SlotCount())
	assert.Equal(t, []uint32{1, 3, 5}, collect(reopened, 5))
	assert.Equal(t, []uint32{4}, collect(reopened, 100))

	key, err := reopened.BuildKey(slot, feature.IntegerValue(1))
	require.NoError(t, err)
	assert.ErrorIs(t, reopened.AddEntry(slot, key, 9), ErrReadOnly)
	_, err = reopened.CreateIndex(KeyString, 10)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestIndexFileRejectsBadInput(t *testing.T) {
	f, err := CreateIndexFile(filepath.Join(t.TempDir(), "x.ind"))
	require.NoError(t, err)

	slot, err := f.CreateIndex(KeyString, 4)
	require.NoError(t, err)

	assert.Error(t, f.AddEntry(slot, []byte("AB"), 1), "short key")
	assert.Error(t, f.AddEntry(slot, []byte("ABCD"), 0), "zero id")
	assert.Error(t, f.AddEntry(slot+1, []byte("ABCD"), 1), "missing slot")
	_, err = f.CreateIndex(KeyType(9), 4)
	assert.Error(t, err)
	_, err = f.FindFirst(0, []byte("ABCD"))
	assert.Error(t, err)
}

func TestOpenCorruptIndexFile(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string][]byte{
		"short.ind":     []byte("MI"),
		"magic.ind":     []byte("XXXX\x00\x01\x00\x00"),
		"version.ind":   []byte("MIND\x00\x09\x00\x00"),
		"truncated.ind": []byte("MIND\x00\x01\x00\x01\x01\x00\x08\x00\x00\x00\x02"),
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err := OpenIndexFile(path, false)
		var ferr *FormatError
		assert.True(t, errors.As(err, &ferr), name)
	}

	_, err := OpenIndexFile(filepath.Join(dir, "missing.ind"), false)
	assert.Error(t, err)
}

func TestFieldIndex(t *testing.T) {
	f, err := CreateIndexFile(filepath.Join(t.TempDir(), "x.ind"))
	require.NoError(t, err)
	slot, err := f.CreateIndex(KeyString, 8)
	require.NoError(t, err)
	x := &fieldIndex{file: f, slot: slot, field: 1}

	require.NoError(t, x.AddEntry(feature.StringValue("b"), 4))
	require.NoError(t, x.AddEntry(feature.StringValue("a"), 0))
	require.NoError(t, x.AddEntry(feature.StringValue("B"), 2))
	assert.ErrorIs(t, x.AddEntry(feature.StringValue("c"), feature.NullFID), feature.ErrNoFID)

	fid, err := x.FirstMatch(feature.StringValue("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fid)

	fid, err = x.FirstMatch(feature.StringValue("zzz"))
	require.NoError(t, err)
	assert.Equal(t, feature.NullFID, fid)

	all, err := x.AllMatches(feature.StringValue("b"))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2}, all)

	assert.ErrorIs(t, x.RemoveEntry(feature.StringValue("b"), 4), feature.ErrNotSupported)
	assert.ErrorIs(t, x.Clear(), feature.ErrNotSupported)
	assert.Equal(t, 1, x.FieldIndex())
}

func newManager(t *testing.T, layer feature.Layer, dir string) (*Manager, *report.Recorder) {
	t.Helper()
	rec := &report.Recorder{}
	opts := DefaultOptions()
	opts.Reporter = rec
	m, err := NewManager(layer, filepath.Join(dir, "roads.tab"), opts)
	require.NoError(t, err)
	return m, rec
}

func TestManagerCreateIndexPersistsCatalogue(t *testing.T) {
	dir := t.TempDir()
	layer := newRoads()
	m, _ := newManager(t, layer, dir)

	assert.Equal(t, filepath.Join(dir, "roads.idm"), m.CataloguePath())
	assert.Equal(t, filepath.Join(dir, "roads.ind"), m.ContainerPath())
	assert.False(t, m.HasIndexes())

	require.NoError(t, m.CreateIndex(1))
	require.FileExists(t, m.CataloguePath())
	require.FileExists(t, m.ContainerPath())

	root, err := minixml.ParseFile(m.CataloguePath())
	require.NoError(t, err)
	assert.Equal(t, "roads.ind", minixml.GetValue(root, "=LayerAttrIndex.ContainerFile", ""))
	assert.Equal(t, "1", minixml.GetValue(root, "=LayerAttrIndex.AttrIndex.FieldIndex", ""))
	assert.Equal(t, "name", minixml.GetValue(root, "=LayerAttrIndex.AttrIndex.FieldName", ""))
	assert.Equal(t, "1", minixml.GetValue(root, "=LayerAttrIndex.AttrIndex.IndexIndex", ""))
}

func TestManagerRejectsDuplicateAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	m, rec := newManager(t, newRoads(), dir)
	require.NoError(t, m.CreateIndex(0))

	before, err := os.ReadFile(m.CataloguePath())
	require.NoError(t, err)

	var dup *DuplicateIndexError
	assert.True(t, errors.As(m.CreateIndex(0), &dup))

	var fte *FieldTypeError
	assert.True(t, errors.As(m.CreateIndex(3), &fte))
	assert.Equal(t, feature.FieldTypeIntegerList, fte.Type)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, report.CodeNotSupported, last.Code)

	assert.Error(t, m.CreateIndex(99))
	assert.Error(t, m.CreateIndex(-1))

	after, err := os.ReadFile(m.CataloguePath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []int{0}, m.IndexedFields())
}

func TestManagerIndexAllAndReload(t *testing.T) {
	dir := t.TempDir()
	layer := newRoads()
	m, _ := newManager(t, layer, dir)

	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.CreateIndex(1))
	require.NoError(t, m.CreateIndex(2))
	require.NoError(t, m.IndexAllFeatures(AllFields))
	assert.Equal(t, 2, layer.resets)
	assert.Equal(t, 0, layer.pos)

	check := func(m *Manager) {
		ids, err := m.Index(0).AllMatches(feature.IntegerValue(10))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids)

		ids, err = m.Index(1).AllMatches(feature.StringValue("MAIN"))
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1}, ids)

		ids, err = m.Index(2).AllMatches(feature.RealValue(1.5))
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 2}, ids)

		fid, err := m.Index(1).FirstMatch(feature.StringValue("High"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), fid)
	}
	check(m)
	require.NoError(t, m.Close())

	reloaded, _ := newManager(t, layer, dir)
	assert.Equal(t, []int{0, 1, 2}, reloaded.IndexedFields())
	check(reloaded)
	assert.Nil(t, reloaded.Index(3))
}

func TestManagerIndexSingleField(t *testing.T) {
	m, _ := newManager(t, newRoads(), t.TempDir())
	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.CreateIndex(1))
	require.NoError(t, m.IndexAllFeatures(0))

	ids, err := m.Index(0).AllMatches(feature.IntegerValue(30))
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, ids)

	ids, err = m.Index(1).AllMatches(feature.StringValue("main"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	var nie *NoIndexError
	assert.True(t, errors.As(m.IndexAllFeatures(2), &nie))
}

func TestManagerEmptyLayer(t *testing.T) {
	layer := &sliceLayer{defn: newRoads().defn}
	m, _ := newManager(t, layer, t.TempDir())
	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.IndexAllFeatures(AllFields))

	fid, err := m.Index(0).FirstMatch(feature.IntegerValue(1))
	require.NoError(t, err)
	assert.Equal(t, feature.NullFID, fid)
}

func TestManagerAddToIndex(t *testing.T) {
	layer := newRoads()
	m, _ := newManager(t, layer, t.TempDir())
	require.NoError(t, m.CreateIndex(1))

	transient := feature.New(layer.defn)
	transient.SetString(1, "Side")
	assert.ErrorIs(t, m.AddToIndex(transient, AllFields), feature.ErrNoFID)

	unset := feature.New(layer.defn)
	unset.SetFID(7)
	require.NoError(t, m.AddToIndex(unset, AllFields))

	set := layer.features[0].Clone()
	set.SetFID(8)
	require.NoError(t, m.AddToIndex(set, AllFields))

	ids, err := m.Index(1).AllMatches(feature.StringValue("main"))
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, ids)

	assert.ErrorIs(t, m.RemoveFromIndex(set), feature.ErrNotSupported)
}

func TestManagerDropIndex(t *testing.T) {
	dir := t.TempDir()
	m, _ := newManager(t, newRoads(), dir)
	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.CreateIndex(1))

	require.NoError(t, m.DropIndex(0))
	assert.Equal(t, []int{1}, m.IndexedFields())
	root, err := minixml.ParseFile(m.CataloguePath())
	require.NoError(t, err)
	assert.Equal(t, "1", minixml.GetValue(root, "=LayerAttrIndex.AttrIndex.FieldIndex", ""))

	var nie *NoIndexError
	assert.True(t, errors.As(m.DropIndex(0), &nie))

	require.NoError(t, m.DropIndex(1))
	assert.NoFileExists(t, m.CataloguePath())
	assert.NoFileExists(t, m.ContainerPath())

	require.NoError(t, m.CreateIndex(1), "indexes can be created again after the files are gone")
	assert.FileExists(t, m.ContainerPath())
}

func TestManagerSkipsCorruptCatalogueEntries(t *testing.T) {
	dir := t.TempDir()
	layer := newRoads()
	m, _ := newManager(t, layer, dir)
	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.IndexAllFeatures(AllFields))
	require.NoError(t, m.Close())

	root, err := minixml.ParseFile(m.CataloguePath())
	require.NoError(t, err)
	cat := minixml.GetNode(root, "="+catalogueRoot)
	for _, bad := range [][2]string{{"x", "1"}, {"42", "1"}, {"1", "9"}, {"0", "1"}} {
		n := minixml.CreateChild(cat, minixml.Element, catalogueEntry)
		minixml.CreateElementAndValue(n, catalogueField, bad[0])
		minixml.CreateElementAndValue(n, catalogueSlotTag, bad[1])
	}
	require.NoError(t, minixml.SerializeToFile(root, m.CataloguePath()))

	reloaded, rec := newManager(t, layer, dir)
	assert.Equal(t, []int{0}, reloaded.IndexedFields())

	warnings := slices.DeleteFunc(rec.Entries(), func(e report.Entry) bool {
		return e.Severity != report.SeverityWarning
	})
	assert.Len(t, warnings, 4)
}

func TestManagerBadCatalogue(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roads.idm"), []byte("<LayerAttrIndex>"), 0o644))

	opts := DefaultOptions()
	opts.Reporter = report.Discard
	_, err := NewManager(newRoads(), filepath.Join(dir, "roads.tab"), opts)
	var perr *minixml.ParseError
	assert.True(t, errors.As(err, &perr))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "roads.idm"), []byte("<Other/>"), 0o644))
	_, err = NewManager(newRoads(), filepath.Join(dir, "roads.tab"), opts)
	assert.Error(t, err)
}

func TestManagerReadOnly(t *testing.T) {
	dir := t.TempDir()
	layer := newRoads()
	m, _ := newManager(t, layer, dir)
	require.NoError(t, m.CreateIndex(0))
	require.NoError(t, m.IndexAllFeatures(AllFields))
	require.NoError(t, m.Close())

	opts := DefaultOptions()
	opts.ReadOnly = true
	opts.Reporter = report.Discard
	ro, err := NewManager(layer, filepath.Join(dir, "roads.tab"), opts)
	require.NoError(t, err)

	ids, err := ro.Index(0).AllMatches(feature.IntegerValue(10))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
	assert.ErrorIs(t, ro.CreateIndex(1), ErrReadOnly)
	assert.ErrorIs(t, ro.DropIndex(0), ErrReadOnly)
	assert.Equal(t, []int{0}, ro.IndexedFields())
	require.NoError(t, ro.Close())

	assert.FileExists(t, filepath.Join(dir, "roads.idm"))
	assert.FileExists(t, filepath.Join(dir, "roads.ind"))

	reopened, err := NewManager(layer, filepath.Join(dir, "roads.tab"), opts)
	require.NoError(t, err)
	assert.NotNil(t, reopened.Index(0))
}
