package memlayer

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/mitab/internal/attrindex"
	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

func roadsDefn() *feature.LayerDefn {
	return feature.NewLayerDefn("roads",
		feature.FieldDefn{Name: "id", Type: feature.FieldTypeInteger},
		feature.FieldDefn{Name: "name", Type: feature.FieldTypeString, Width: 16},
	)
}

// newRoads builds five point features at x = 0..4 on y = 0.
func newRoads(t *testing.T) *Layer {
	t.Helper()
	l := New(roadsDefn(), Options{SpatialRef: "EPSG:4326"})
	names := []string{"Main", "High", "Main", "", "Low"}
	for i, name := range names {
		f := feature.New(l.Defn())
		f.SetInteger(0, int64(100+i))
		if name != "" {
			f.SetString(1, name)
		}
		f.SetGeometry(&feature.Geometry{
			Type:        feature.GeometryTypePoint,
			Coordinates: [][]float64{{float64(i), 0}},
		})
		fid, err := l.CreateFeature(f)
		require.NoError(t, err)
		require.Equal(t, int64(i), fid)
	}
	return l
}

func readIDs(t *testing.T, l feature.Layer) []int64 {
	t.Helper()
	var ids []int64
	for {
		f, err := l.NextFeature()
		if errors.Is(err, io.EOF) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, f.FID())
	}
}

func TestSequentialAndRandomRead(t *testing.T) {
	l := newRoads(t)

	before := testutil.ToFloat64(metrics.FeaturesRead.WithLabelValues("memory"))
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, readIDs(t, l))
	assert.Equal(t, before+5, testutil.ToFloat64(metrics.FeaturesRead.WithLabelValues("memory")))

	_, err := l.NextFeature()
	assert.ErrorIs(t, err, io.EOF)

	l.ResetReading()
	f, err := l.NextFeature()
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.IntegerField(0))

	f.SetString(1, "changed")
	again, err := l.Feature(0)
	require.NoError(t, err)
	assert.Equal(t, "Main", again.StringField(1), "reads return copies")

	_, err = l.Feature(5)
	assert.ErrorIs(t, err, feature.ErrNoSuchFeature)
	assert.Equal(t, "EPSG:4326", l.SpatialRef())
}

func TestCreateFeatureRejectsForeignSchema(t *testing.T) {
	l := newRoads(t)
	other := feature.New(feature.NewLayerDefn("x", feature.FieldDefn{Name: "a", Type: feature.FieldTypeInteger}))
	_, err := l.CreateFeature(other)
	assert.Error(t, err)
}

func TestFilters(t *testing.T) {
	l := newRoads(t)

	require.NoError(t, l.SetAttributeFilter("name = 'Main'"))
	assert.Equal(t, []int64{0, 2}, readIDs(t, l))
	n, err := l.FeatureCount(true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.False(t, l.TestCapability(feature.CapFastFeatureCount))

	l.SetSpatialFilter(&feature.Bounds{MinX: 1.5, MaxX: 10, MinY: -1, MaxY: 1})
	assert.Equal(t, []int64{2}, readIDs(t, l))

	require.NoError(t, l.SetAttributeFilter(""))
	assert.Equal(t, []int64{2, 3, 4}, readIDs(t, l))

	l.SetSpatialFilter(nil)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, readIDs(t, l))
	assert.True(t, l.TestCapability(feature.CapFastFeatureCount))

	assert.Error(t, l.SetAttributeFilter("nosuch = 1"))
}

func TestSetNextByIndex(t *testing.T) {
	l := newRoads(t)

	require.NoError(t, l.SetNextByIndex(3))
	assert.Equal(t, []int64{3, 4}, readIDs(t, l))

	require.NoError(t, l.SetAttributeFilter("id >= 101"))
	require.NoError(t, l.SetNextByIndex(2))
	assert.Equal(t, []int64{3, 4}, readIDs(t, l))

	assert.ErrorIs(t, l.SetNextByIndex(10), feature.ErrNoSuchFeature)
	assert.Error(t, l.SetNextByIndex(-1))
}

func TestExtent(t *testing.T) {
	l := newRoads(t)
	b, err := l.Extent(false)
	require.NoError(t, err)
	assert.Equal(t, feature.Bounds{MinX: 0, MaxX: 4, MinY: 0, MaxY: 0}, b)

	empty := New(roadsDefn(), Options{})
	_, err = empty.Extent(true)
	assert.ErrorIs(t, err, feature.ErrNoExtent)
}

func TestAttributeIndexPushdown(t *testing.T) {
	dir := t.TempDir()
	l := newRoads(t)

	opts := attrindex.DefaultOptions()
	opts.Reporter = report.Discard
	require.NoError(t, l.AttachIndexes(filepath.Join(dir, "roads.tab"), opts))

	// an active filter must not limit what gets indexed
	require.NoError(t, l.SetAttributeFilter("id = 104"))
	require.NoError(t, l.CreateAttributeIndex("name"))

	require.NoError(t, l.SetAttributeFilter("name = 'Main'"))
	assert.Equal(t, []int64{0, 2}, readIDs(t, l))
	assert.Equal(t, []int64{0, 2}, l.candidates, "candidates come from the index")

	// the index is case-insensitive; the filter is re-evaluated exactly
	require.NoError(t, l.SetAttributeFilter("name = 'MAIN'"))
	assert.Empty(t, readIDs(t, l))
	assert.Equal(t, []int64{0, 2}, l.candidates)

	require.NoError(t, l.SetAttributeFilter("name = 'Main' AND id > 100"))
	assert.Equal(t, []int64{2}, readIDs(t, l))

	f := feature.New(l.Defn())
	f.SetString(1, "Main")
	fid, err := l.CreateFeature(f)
	require.NoError(t, err)
	require.NoError(t, l.SetAttributeFilter("name = 'Main'"))
	assert.Equal(t, []int64{0, 2, fid}, readIDs(t, l), "new features are indexed")

	l.SetSpatialFilter(&feature.Bounds{MinX: 1, MaxX: 3, MinY: -1, MaxY: 1})
	assert.Equal(t, []int64{2}, readIDs(t, l))
	require.NoError(t, l.Close())

	reloaded := newRoads(t)
	require.NoError(t, reloaded.AttachIndexes(filepath.Join(dir, "roads.tab"), opts))
	require.NotNil(t, reloaded.Indexes().Index(1))
	require.NoError(t, reloaded.SetAttributeFilter("name = 'Main'"))
	assert.Equal(t, []int64{0, 2}, readIDs(t, reloaded))

	require.NoError(t, reloaded.DropAttributeIndex("name"))
	assert.Nil(t, reloaded.Indexes().Index(1))
	assert.Equal(t, []int64{0, 2}, readIDs(t, reloaded))
	assert.Error(t, reloaded.DropAttributeIndex("nosuch"))
}

func TestCreateAttributeIndexWithoutLocation(t *testing.T) {
	l := newRoads(t)
	assert.Error(t, l.CreateAttributeIndex("name"))
	assert.Error(t, l.DropAttributeIndex("name"))
	assert.NoError(t, l.Close())
}

func TestDataSource(t *testing.T) {
	roads := newRoads(t)
	ds := NewDataSource("mem", roads)
	assert.Equal(t, "mem", ds.Name())
	assert.Equal(t, 1, ds.LayerCount())
	assert.Same(t, roads, ds.Layer(0))
	assert.Nil(t, ds.Layer(1))
	assert.Same(t, roads, ds.LayerByName("ROADS"))
	assert.Nil(t, ds.LayerByName("rivers"))

	ds.AddLayer(New(feature.NewLayerDefn("rivers"), Options{}))
	assert.NotNil(t, ds.LayerByName("rivers"))
	assert.NoError(t, ds.Close())
}
