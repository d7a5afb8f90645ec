package sqlresult

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

func (l *Layer) beginScan() error {
	if err := l.installFilters(); err != nil {
		return err
	}
	l.primary.ResetReading()
	l.state = scanActive
	return nil
}

// endScan clears the primary layer's filters as soon as it is exhausted.
func (l *Layer) endScan() {
	l.clearFilters()
	l.state = scanDone
}

// nextSource returns the next primary feature passing Where.
func (l *Layer) nextSource() (*feature.Feature, error) {
	switch l.state {
	case scanDone:
		return nil, io.EOF
	case scanFailed:
		return nil, l.scanErr
	case scanIdle:
		if err := l.beginScan(); err != nil {
			return nil, err
		}
	}
	for {
		f, err := l.primary.NextFeature()
		if errors.Is(err, io.EOF) {
			l.endScan()
			return nil, err
		}
		if err != nil {
			l.clearFilters()
			l.state, l.scanErr = scanFailed, err
			return nil, err
		}
		if l.localWhere != nil && !l.localWhere.Matches(f) {
			continue
		}
		return f, nil
	}
}

func (l *Layer) nextSequential() (*feature.Feature, error) {
	for {
		src, err := l.nextSource()
		if err != nil {
			return nil, err
		}
		out, err := l.translateFeature(src)
		if err != nil {
			l.ResetReading()
			return nil, err
		}
		if l.passesResidual(out) {
			return out, nil
		}
	}
}

func (l *Layer) nextOrdered() (*feature.Feature, error) {
	if err := l.buildOrderIndex(); err != nil {
		return nil, err
	}
	for l.pos < int64(len(l.order)) {
		fid := l.order[l.pos]
		l.pos++
		src, err := l.primary.Feature(fid)
		if err != nil {
			return nil, err
		}
		out, err := l.translateFeature(src)
		if err != nil {
			return nil, err
		}
		if l.passesResidual(out) {
			return out, nil
		}
	}
	return nil, io.EOF
}

// translateFeature builds the result row for a primary feature. Field
// values are copied raw so numbers keep their precision.
func (l *Layer) translateFeature(src *feature.Feature) (*feature.Feature, error) {
	out := feature.New(l.defn)
	out.SetFID(src.FID())
	if g := src.Geometry(); g != nil {
		out.SetGeometry(g)
	}
	out.SetStyle(src.Style())

	for i, c := range l.columns {
		if c.Table == 0 {
			out.SetRaw(i, src.FieldOrSpecial(c.Field))
		}
	}
	for j := range l.sel.Joins {
		if err := l.joinRow(out, src, j); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// joinRow fills the columns of join j from the first secondary feature
// whose key equals the primary key. Rows with an unset key are not joined.
func (l *Layer) joinRow(out, src *feature.Feature, j int) error {
	jn := l.sel.Joins[j]
	key := src.FieldOrSpecial(jn.PrimaryField)
	if !key.IsSet() {
		metrics.JoinLookups.WithLabelValues("skipped").Inc()
		return nil
	}

	secondary := l.tables[jn.SecondaryTable]
	field := secondary.Defn().FieldOrSpecial(jn.SecondaryField)
	keyType := l.primary.Defn().FieldOrSpecial(jn.PrimaryField).Type
	expr := field.Name + " = " + joinLiteral(key, keyType)

	secondary.ResetReading()
	if err := secondary.SetAttributeFilter(expr); err != nil {
		err = fmt.Errorf("join %d on %s: %w", j, secondary.Name(), err)
		return l.fail(report.CodeAppDefined, err)
	}
	match, err := secondary.NextFeature()
	if cerr := secondary.SetAttributeFilter(""); cerr != nil {
		l.log.Warn("clearing join filter", "layer", secondary.Name(), "error", cerr)
	}
	if errors.Is(err, io.EOF) {
		metrics.JoinLookups.WithLabelValues("unmatched").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("join %d on %s: %w", j, secondary.Name(), err)
	}
	metrics.JoinLookups.WithLabelValues("matched").Inc()

	for i, c := range l.columns {
		if c.Table == jn.SecondaryTable {
			out.SetRaw(i, match.FieldOrSpecial(c.Field))
		}
	}
	return nil
}

// joinLiteral formats a join key for an attribute filter: integers in
// decimal, reals with 16 significant digits, strings double-quoted with
// backslash and quote characters escaped.
func joinLiteral(v feature.Value, t feature.FieldType) string {
	switch t {
	case feature.FieldTypeInteger:
		return strconv.FormatInt(v.Integer(), 10)
	case feature.FieldTypeReal:
		return fmt.Sprintf("%.16g", v.Real())
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v.String() {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

type orderRow struct {
	fid  int64
	keys []feature.Value
}

// buildOrderIndex reads every primary feature passing the filters once,
// snapshots its ORDER BY keys and stable-sorts the result into the
// permutation used by later reads.
func (l *Layer) buildOrderIndex() error {
	if l.orderBuilt {
		return nil
	}

	var rows []orderRow
	if l.primary.TestCapability(feature.CapFastFeatureCount) && l.opts.Where == "" && l.opts.SpatialFilter == nil {
		if n, err := l.primary.FeatureCount(false); err == nil && n > 0 {
			rows = make([]orderRow, 0, n)
		}
	}

	l.state = scanIdle
	for {
		f, err := l.nextSource()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.ResetReading()
			return err
		}
		if f.FID() == feature.NullFID {
			l.ResetReading()
			return l.fail(report.CodeNotSupported,
				fmt.Errorf("ORDER BY on %s: %w", l.primary.Name(), feature.ErrNoFID))
		}
		row := orderRow{fid: f.FID(), keys: make([]feature.Value, len(l.sel.Orders))}
		for i, o := range l.sel.Orders {
			row.keys[i] = f.FieldOrSpecial(o.Field)
		}
		rows = append(rows, row)
	}
	l.state = scanIdle

	slices.SortStableFunc(rows, func(a, b orderRow) int {
		return l.compareKeys(a.keys, b.keys)
	})
	l.order = make([]int64, len(rows))
	for i, r := range rows {
		l.order[i] = r.fid
	}
	l.orderBuilt = true
	l.pos = 0

	metrics.OrderIndexBuilds.Inc()
	l.log.Debug("built ORDER BY index", "layer", l.primary.Name(), "rows", len(rows), "keys", len(l.sel.Orders))
	return nil
}

// compareKeys evaluates the order keys in sequence. A key unset on either
// side compares equal.
func (l *Layer) compareKeys(a, b []feature.Value) int {
	for i, o := range l.sel.Orders {
		x, y := a[i], b[i]
		if !x.IsSet() || !y.IsSet() {
			continue
		}
		c := feature.Compare(x, y)
		if c == 0 {
			continue
		}
		if !o.Ascending {
			c = -c
		}
		return c
	}
	return 0
}
