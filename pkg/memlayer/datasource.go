package memlayer

import (
	"errors"
	"strings"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// DataSource is a named set of in-memory layers.
type DataSource struct {
	name   string
	layers []*Layer
}

// NewDataSource creates an empty data source.
func NewDataSource(name string, layers ...*Layer) *DataSource {
	return &DataSource{name: name, layers: layers}
}

// AddLayer appends l to the data source.
func (d *DataSource) AddLayer(l *Layer) {
	d.layers = append(d.layers, l)
}

func (d *DataSource) Name() string    { return d.name }
func (d *DataSource) LayerCount() int { return len(d.layers) }

func (d *DataSource) Layer(i int) feature.Layer {
	if i < 0 || i >= len(d.layers) {
		return nil
	}
	return d.layers[i]
}

// LayerByName returns the layer with the given name, matching
// case-insensitively, or nil.
func (d *DataSource) LayerByName(name string) feature.Layer {
	if l := d.MemLayer(name); l != nil {
		return l
	}
	return nil
}

// MemLayer is LayerByName returning the concrete type.
func (d *DataSource) MemLayer(name string) *Layer {
	for _, l := range d.layers {
		if strings.EqualFold(l.Name(), name) {
			return l
		}
	}
	return nil
}

// Close closes every layer.
func (d *DataSource) Close() error {
	var errs []error
	for _, l := range d.layers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
