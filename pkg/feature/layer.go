// Package feature defines the generic feature model shared by every layer
// implementation: schemas, raw field values, features, geometry envelopes,
// and the Layer capability set that query and index code depends on.
package feature

import "errors"

// Capability names a layer capability that callers may test for.
type Capability string

const (
	CapSequentialRead     Capability = "SequentialRead"
	CapRandomRead         Capability = "RandomRead"
	CapFastFeatureCount   Capability = "FastFeatureCount"
	CapFastGetExtent      Capability = "FastGetExtent"
	CapFastSpatialFilter  Capability = "FastSpatialFilter"
	CapFastSetNextByIndex Capability = "FastSetNextByIndex"
)

var (
	// ErrNotSupported is returned for operations a component deliberately
	// does not implement.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNoSuchFeature is returned when a feature identifier does not exist.
	ErrNoSuchFeature = errors.New("no such feature")

	// ErrNoFID is returned when a feature without an assigned identifier is
	// used where one is required.
	ErrNoFID = errors.New("feature has no FID")

	// ErrNoExtent is returned when a layer has no geometry to compute an extent from.
	ErrNoExtent = errors.New("layer has no extent")
)

// Layer is the feature-source capability set. Sequential reads return
// io.EOF once the cursor is exhausted.
type Layer interface {
	Name() string
	Defn() *LayerDefn

	ResetReading()
	NextFeature() (*Feature, error)
	Feature(fid int64) (*Feature, error)
	SetNextByIndex(index int64) error

	// SetAttributeFilter installs a filter expression; "" clears it.
	SetAttributeFilter(expr string) error
	// SetSpatialFilter restricts reads to features whose envelope intersects
	// b; nil clears it.
	SetSpatialFilter(b *Bounds)

	FeatureCount(force bool) (int64, error)
	Extent(force bool) (Bounds, error)
	TestCapability(c Capability) bool
	SpatialRef() string
}

// DataSource is a named collection of layers.
type DataSource interface {
	Name() string
	LayerCount() int
	Layer(i int) Layer
	// LayerByName returns the named layer or nil.
	LayerByName(name string) Layer
}
