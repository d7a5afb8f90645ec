// Package sqlresult implements the result layer of a SELECT-like query over
// feature layers.
//
// A result Layer wraps the primary table of a query and is itself a
// feature.Layer. Depending on the query mode it either streams translated
// source rows (projection, joins, ORDER BY), produces a single row of
// aggregate values, or enumerates the distinct values of one column.
//
// Basic usage:
//
//	sel := &sqlresult.Select{
//	    Tables:  []sqlresult.Table{{Name: "people"}, {Name: "cities"}},
//	    Columns: []sqlresult.Column{{Table: 0, Field: 2}, {Table: 1, Field: 1}},
//	    Joins:   []sqlresult.Join{{SecondaryTable: 1, PrimaryField: 1, SecondaryField: 0}},
//	    Orders:  []sqlresult.Order{{Field: 2, Ascending: false}},
//	}
//	layer, err := sqlresult.New(sel, ds, sqlresult.Options{})
//	if err != nil {
//	    return err
//	}
//	defer layer.Close()
//
//	for {
//	    f, err := layer.NextFeature()
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	}
//
// A result layer is not safe for concurrent use, and while it is scanning
// it owns the filters of its source layers.
package sqlresult

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/beetlebugorg/mitab/internal/filter"
	"github.com/beetlebugorg/mitab/internal/logger"
	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// ResultLayerName is the name reported by every result layer.
const ResultLayerName = "SELECT"

// ErrNoSuchLayer is wrapped by a TableError when a data source has no
// layer of the requested name.
var ErrNoSuchLayer = errors.New("no such layer")

// Registry opens the data sources of tables that do not live in the
// primary data source. Every data source opened is released when the
// result layer is closed.
type Registry interface {
	Open(name string) (feature.DataSource, error)
	Release(ds feature.DataSource) error
}

// Options configures a result layer.
type Options struct {
	// Where is the attribute filter applied to the primary table. It is
	// handed to the primary layer during scans; if the layer does not
	// support attribute filters it is evaluated here instead.
	Where string

	// SpatialFilter restricts the primary table during scans.
	SpatialFilter *feature.Bounds

	// Registry opens data sources named by Table.DataSource.
	Registry Registry

	Logger   *slog.Logger
	Reporter report.Reporter
}

type scanState int

const (
	scanIdle scanState = iota
	scanActive
	scanDone
	scanFailed // scanErr is returned until ResetReading
)

// Layer is the result of a query.
type Layer struct {
	sel      *Select
	opts     Options
	log      *slog.Logger
	reporter report.Reporter

	primary feature.Layer
	tables  []feature.Layer
	extra   []feature.DataSource
	columns []Column
	defn    *feature.LayerDefn

	// localWhere is set when the primary layer cannot evaluate Where.
	localWhere *filter.Expr

	attrFilter    *filter.Expr
	spatialFilter *feature.Bounds

	state      scanState
	scanErr    error
	filtersSet bool
	pos        int64

	order      []int64
	orderBuilt bool

	// rows holds the summary row or the distinct list once computed.
	rows []*feature.Feature

	closed bool
}

var _ feature.Layer = (*Layer)(nil)

// New creates the result layer for sel. Tables whose DataSource is empty
// (or names ds) are looked up in ds; others are opened through
// opts.Registry.
//
// New takes ownership of sel; it must not be modified afterwards. A table
// that cannot be resolved, or a descriptor that does not fit its mode,
// fails construction.
func New(sel *Select, ds feature.DataSource, opts Options) (*Layer, error) {
	l := &Layer{
		sel:      sel,
		opts:     opts,
		log:      logger.Or(opts.Logger),
		reporter: opts.Reporter,
	}
	if l.reporter == nil {
		l.reporter = report.NewSlog(l.log)
	}
	if sel == nil || ds == nil {
		return nil, l.fail(report.CodeIllegalArg, &QueryError{Reason: "missing query or data source"})
	}
	if opts.SpatialFilter != nil {
		b := *opts.SpatialFilter
		l.opts.SpatialFilter = &b
	}

	if err := l.resolveTables(ds); err != nil {
		_ = l.releaseExtra()
		return nil, l.fail(report.CodeOpenFailed, err)
	}
	if err := l.buildSchema(); err != nil {
		_ = l.releaseExtra()
		return nil, l.fail(report.CodeIllegalArg, err)
	}

	// settle once whether Where runs in the primary layer or here
	if opts.Where != "" {
		if err := l.installFilters(); err != nil {
			_ = l.releaseExtra()
			return nil, l.fail(report.CodeIllegalArg, fmt.Errorf("WHERE %q: %w", opts.Where, err))
		}
		l.clearFilters()
	}

	l.log.Debug("query prepared",
		"mode", sel.Mode.String(),
		"primary", l.primary.Name(),
		"tables", len(l.tables),
		"columns", len(l.columns),
		"joins", len(sel.Joins),
		"orders", len(sel.Orders))
	return l, nil
}

func (l *Layer) fail(code report.Code, err error) error {
	l.reporter.Report(report.SeverityFailure, code, "%v", err)
	return err
}

func (l *Layer) resolveTables(primary feature.DataSource) error {
	if len(l.sel.Tables) == 0 {
		return &QueryError{Reason: "no tables"}
	}
	l.tables = make([]feature.Layer, len(l.sel.Tables))
	for i, t := range l.sel.Tables {
		ds := primary
		if t.DataSource != "" && !strings.EqualFold(t.DataSource, primary.Name()) {
			if l.opts.Registry == nil {
				return &TableError{Table: i, DataSource: t.DataSource, Name: t.Name,
					Err: errors.New("no data source registry configured")}
			}
			opened, err := l.opts.Registry.Open(t.DataSource)
			if err != nil {
				return &TableError{Table: i, DataSource: t.DataSource, Name: t.Name, Err: err}
			}
			l.extra = append(l.extra, opened)
			ds = opened
		}
		layer := ds.LayerByName(t.Name)
		if layer == nil {
			return &TableError{Table: i, DataSource: t.DataSource, Name: t.Name, Err: ErrNoSuchLayer}
		}
		l.tables[i] = layer
	}
	l.primary = l.tables[0]
	return nil
}

func (l *Layer) buildSchema() error {
	sel := l.sel
	if err := l.expandColumns(); err != nil {
		return err
	}

	joined := make(map[int]bool)
	for i, j := range sel.Joins {
		if j.SecondaryTable < 1 || j.SecondaryTable >= len(l.tables) {
			return &QueryError{Reason: fmt.Sprintf("join %d: secondary table %d out of range", i, j.SecondaryTable)}
		}
		if !l.primary.Defn().ValidIndex(j.PrimaryField) {
			return &QueryError{Reason: fmt.Sprintf("join %d: primary field %d out of range", i, j.PrimaryField)}
		}
		if !l.tables[j.SecondaryTable].Defn().ValidIndex(j.SecondaryField) {
			return &QueryError{Reason: fmt.Sprintf("join %d: secondary field %d out of range", i, j.SecondaryField)}
		}
		// join lookups filter and rewind the secondary layer, which would
		// restart the primary scan if both are the same reader
		if l.tables[j.SecondaryTable] == l.primary {
			return &QueryError{Reason: fmt.Sprintf("join %d: table %d is the primary layer; self-joins are not supported", i, j.SecondaryTable)}
		}
		joined[j.SecondaryTable] = true
	}
	for _, o := range sel.Orders {
		if !l.primary.Defn().ValidIndex(o.Field) {
			return &QueryError{Reason: fmt.Sprintf("ORDER BY field %d out of range", o.Field)}
		}
	}

	for i, c := range l.columns {
		if c.Table != 0 && !joined[c.Table] {
			return &QueryError{Reason: fmt.Sprintf("column %d uses table %d, which is not joined", i, c.Table)}
		}
		switch sel.Mode {
		case ModeRecordset:
			if c.Func != FuncNone {
				return &QueryError{Reason: fmt.Sprintf("column %d: %s() requires a summary query", i, c.Func)}
			}
		case ModeSummaryRecord:
			if c.Func == FuncNone {
				return &QueryError{Reason: fmt.Sprintf("column %d: summary queries only take aggregate columns", i)}
			}
			if c.Table != 0 {
				return &QueryError{Reason: fmt.Sprintf("column %d: only primary table fields can be summarized", i)}
			}
		case ModeDistinctList:
			if len(l.columns) != 1 || c.Func != FuncNone || c.Table != 0 {
				return &QueryError{Reason: "DISTINCT lists take exactly one primary table column"}
			}
		default:
			return &QueryError{Reason: fmt.Sprintf("unknown mode %d", sel.Mode)}
		}
	}
	if sel.Mode != ModeRecordset && len(l.columns) == 0 {
		return &QueryError{Reason: fmt.Sprintf("%s query without columns", sel.Mode)}
	}

	l.defn = feature.NewLayerDefn(ResultLayerName)
	if sel.Mode == ModeRecordset {
		l.defn.SetGeometryType(l.primary.Defn().GeometryType())
	}
	for _, c := range l.columns {
		l.defn.AddField(l.outputField(c))
	}
	return nil
}

// expandColumns replaces "*" columns with one column per regular field.
func (l *Layer) expandColumns() error {
	for i, c := range l.sel.Columns {
		if c.Table < 0 || c.Table >= len(l.tables) {
			return &QueryError{Reason: fmt.Sprintf("column %d: table %d out of range", i, c.Table)}
		}
		defn := l.tables[c.Table].Defn()
		if c.Field != FieldAll {
			if !defn.ValidIndex(c.Field) {
				return &QueryError{Reason: fmt.Sprintf("column %d: field %d out of range", i, c.Field)}
			}
			l.columns = append(l.columns, c)
			continue
		}
		switch {
		case c.Func == FuncCount:
			if c.Distinct {
				return &QueryError{Reason: "COUNT(DISTINCT *) is not supported"}
			}
			l.columns = append(l.columns, c)
		case c.Func != FuncNone:
			return &QueryError{Reason: fmt.Sprintf("%s(*) is not supported", c.Func)}
		default:
			for f := 0; f < defn.FieldCount(); f++ {
				l.columns = append(l.columns, Column{Table: c.Table, Field: f})
			}
		}
	}
	return nil
}

// outputField derives the definition of a result column.
func (l *Layer) outputField(c Column) feature.FieldDefn {
	src := l.tables[c.Table].Defn()
	if c.Func == FuncNone {
		fd := src.FieldOrSpecial(c.Field)
		if c.Alias != "" {
			fd.Name = c.Alias
		}
		return fd
	}

	name := c.Alias
	if name == "" {
		field := "*"
		if c.Field != FieldAll {
			field = src.FieldOrSpecial(c.Field).Name
		}
		name = c.Func.String() + "_" + field
	}
	switch c.Func {
	case FuncCount:
		return feature.FieldDefn{Name: name, Type: feature.FieldTypeInteger}
	case FuncAvg:
		return feature.FieldDefn{Name: name, Type: feature.FieldTypeReal}
	case FuncSum:
		if src.FieldOrSpecial(c.Field).Type == feature.FieldTypeInteger {
			return feature.FieldDefn{Name: name, Type: feature.FieldTypeInteger}
		}
		return feature.FieldDefn{Name: name, Type: feature.FieldTypeReal}
	default:
		fd := src.FieldOrSpecial(c.Field)
		fd.Name = name
		return fd
	}
}

func (l *Layer) Name() string             { return ResultLayerName }
func (l *Layer) Defn() *feature.LayerDefn { return l.defn }
func (l *Layer) SpatialRef() string       { return l.primary.SpatialRef() }

// Mode returns the query mode.
func (l *Layer) Mode() Mode { return l.sel.Mode }

// installFilters hands Where and the spatial filter to the primary layer
// for the duration of a scan.
func (l *Layer) installFilters() error {
	if l.filtersSet {
		return nil
	}
	if l.opts.Where != "" && l.localWhere == nil {
		err := l.primary.SetAttributeFilter(l.opts.Where)
		switch {
		case errors.Is(err, feature.ErrNotSupported):
			expr, cerr := filter.Compile(l.opts.Where, l.primary.Defn())
			if cerr != nil {
				return cerr
			}
			l.localWhere = expr
			l.log.Debug("primary layer cannot filter, evaluating WHERE locally", "layer", l.primary.Name())
		case err != nil:
			return err
		}
	}
	if l.opts.SpatialFilter != nil {
		l.primary.SetSpatialFilter(l.opts.SpatialFilter)
	}
	l.filtersSet = true
	return nil
}

// clearFilters removes whatever installFilters set on the primary layer.
func (l *Layer) clearFilters() {
	if !l.filtersSet {
		return
	}
	if l.opts.Where != "" && l.localWhere == nil {
		if err := l.primary.SetAttributeFilter(""); err != nil {
			l.log.Warn("clearing primary attribute filter", "layer", l.primary.Name(), "error", err)
		}
	}
	if l.opts.SpatialFilter != nil {
		l.primary.SetSpatialFilter(nil)
	}
	l.filtersSet = false
}

// residual reports whether rows are filtered here rather than by the
// primary layer.
func (l *Layer) residual() bool {
	return l.localWhere != nil || l.attrFilter != nil || l.spatialFilter != nil
}

func (l *Layer) passesResidual(out *feature.Feature) bool {
	if l.spatialFilter != nil {
		b, ok := out.Geometry().Bounds()
		if !ok || !b.Intersects(*l.spatialFilter) {
			return false
		}
	}
	return l.attrFilter == nil || l.attrFilter.Matches(out)
}

// ResetReading rewinds the result layer and releases the primary layer's
// filters if a scan was in progress.
func (l *Layer) ResetReading() {
	l.clearFilters()
	l.state = scanIdle
	l.scanErr = nil
	l.pos = 0
}

// SetAttributeFilter filters result rows with an expression over the
// result schema. It is evaluated by the result layer itself.
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
	l.ResetReading()
	return nil
}

// SetSpatialFilter filters result rows by the envelope of their geometry.
func (l *Layer) SetSpatialFilter(b *feature.Bounds) {
	if b == nil {
		l.spatialFilter = nil
	} else {
		cp := *b
		l.spatialFilter = &cp
	}
	l.ResetReading()
}

// NextFeature returns the next result row, or io.EOF.
func (l *Layer) NextFeature() (*feature.Feature, error) {
	var (
		f   *feature.Feature
		err error
	)
	switch {
	case l.sel.Mode != ModeRecordset:
		f, err = l.nextSummaryRow()
	case len(l.sel.Orders) > 0:
		f, err = l.nextOrdered()
	default:
		f, err = l.nextSequential()
	}
	if err == nil {
		metrics.FeaturesRead.WithLabelValues("result").Inc()
	}
	return f, err
}

// Feature returns the result row with the given identifier. Recordset rows
// share the identifier of their source feature; summary rows are numbered
// from 0.
func (l *Layer) Feature(fid int64) (*feature.Feature, error) {
	if l.sel.Mode != ModeRecordset {
		if err := l.buildSummary(); err != nil {
			return nil, err
		}
		if fid < 0 || fid >= int64(len(l.rows)) {
			return nil, fmt.Errorf("result feature %d: %w", fid, feature.ErrNoSuchFeature)
		}
		return l.rows[fid].Clone(), nil
	}
	src, err := l.primary.Feature(fid)
	if err != nil {
		return nil, err
	}
	return l.translateFeature(src)
}

// SetNextByIndex positions the cursor so the next read returns the
// index-th result row.
func (l *Layer) SetNextByIndex(index int64) error {
	if index < 0 {
		return fmt.Errorf("negative feature index %d", index)
	}
	switch {
	case l.sel.Mode != ModeRecordset:
		if err := l.buildSummary(); err != nil {
			return err
		}
		if l.attrFilter != nil || l.spatialFilter != nil {
			return l.skipTo(index)
		}
		if index > int64(len(l.rows)) {
			return fmt.Errorf("feature index %d: %w", index, feature.ErrNoSuchFeature)
		}
		l.pos = index
		return nil

	case len(l.sel.Orders) > 0:
		if err := l.buildOrderIndex(); err != nil {
			return err
		}
		if l.attrFilter != nil || l.spatialFilter != nil {
			return l.skipTo(index)
		}
		if index > int64(len(l.order)) {
			return fmt.Errorf("feature index %d: %w", index, feature.ErrNoSuchFeature)
		}
		l.pos = index
		return nil

	case !l.residual() && l.primary.TestCapability(feature.CapFastSetNextByIndex):
		l.ResetReading()
		if err := l.beginScan(); err != nil {
			return err
		}
		if err := l.primary.SetNextByIndex(index); err != nil {
			l.ResetReading()
			return err
		}
		return nil
	}
	return l.skipTo(index)
}

// skipTo rewinds and reads index rows.
func (l *Layer) skipTo(index int64) error {
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

// FeatureCount returns the number of result rows. Summary and distinct
// queries always report 1. When rows are filtered by the result layer the
// count is taken by reading every row, which rewinds the cursor.
func (l *Layer) FeatureCount(force bool) (int64, error) {
	if l.sel.Mode != ModeRecordset {
		return 1, nil
	}
	if l.residual() {
		return l.countByReading()
	}
	if l.orderBuilt {
		return int64(len(l.order)), nil
	}
	if l.filtersSet {
		return l.primary.FeatureCount(force)
	}
	if err := l.installFilters(); err != nil {
		return 0, err
	}
	defer l.clearFilters()
	return l.primary.FeatureCount(force)
}

func (l *Layer) countByReading() (int64, error) {
	l.ResetReading()
	defer l.ResetReading()
	var n int64
	for {
		_, err := l.NextFeature()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n++
	}
}

// Extent returns the primary layer's extent, or the extent of the rows
// read when the result layer filters rows itself. Summary rows carry no
// geometry.
func (l *Layer) Extent(force bool) (feature.Bounds, error) {
	if l.sel.Mode != ModeRecordset {
		return feature.Bounds{}, feature.ErrNoExtent
	}
	if l.residual() {
		return l.extentByReading()
	}
	return l.primary.Extent(force)
}

func (l *Layer) extentByReading() (feature.Bounds, error) {
	l.ResetReading()
	defer l.ResetReading()
	var ext feature.Bounds
	found := false
	for {
		f, err := l.NextFeature()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return feature.Bounds{}, err
		}
		b, ok := f.Geometry().Bounds()
		switch {
		case !ok:
		case found:
			ext = ext.Union(b)
		default:
			ext, found = b, true
		}
	}
	if !found {
		return feature.Bounds{}, feature.ErrNoExtent
	}
	return ext, nil
}

// TestCapability passes capabilities of the primary layer through as long
// as the result layer does not filter rows itself. Summary and distinct
// queries only offer sequential reads.
func (l *Layer) TestCapability(c feature.Capability) bool {
	if c == feature.CapSequentialRead {
		return true
	}
	if l.sel.Mode != ModeRecordset {
		return false
	}
	switch c {
	case feature.CapFastGetExtent, feature.CapRandomRead, feature.CapFastFeatureCount, feature.CapFastSetNextByIndex:
		return !l.residual() && l.primary.TestCapability(c)
	}
	return false
}

// Close ends any scan in progress and releases the data sources opened
// for the query.
func (l *Layer) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.ResetReading()
	return l.releaseExtra()
}

func (l *Layer) releaseExtra() error {
	var errs []error
	for _, ds := range l.extra {
		if err := l.opts.Registry.Release(ds); err != nil {
			errs = append(errs, err)
		}
	}
	l.extra = nil
	return errors.Join(errs...)
}
