package sqlresult

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/beetlebugorg/mitab/internal/metrics"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
)

// accumulator collects one aggregate column over a summary pass.
type accumulator struct {
	col     Column
	name    string
	srcType feature.FieldType

	count int64
	isum  int64
	sum   float64
	min   feature.Value
	max   feature.Value

	seen     map[string]struct{}
	distinct []feature.Value
}

func valueKey(v feature.Value) string {
	return fmt.Sprintf("%d:%s", v.Type(), v.String())
}

func (a *accumulator) add(v feature.Value) error {
	if a.col.Field == FieldAll {
		a.count++
		return nil
	}
	if !v.IsSet() {
		return nil
	}
	if a.seen != nil {
		k := valueKey(v)
		if _, ok := a.seen[k]; ok {
			return nil
		}
		a.seen[k] = struct{}{}
		a.distinct = append(a.distinct, v)
	}

	switch a.col.Func {
	case FuncSum, FuncAvg:
		switch v.Type() {
		case feature.FieldTypeInteger:
			sum, ok := addInt64(a.isum, v.Integer())
			if !ok && a.col.Func == FuncSum && a.srcType == feature.FieldTypeInteger {
				return &SummarizeError{Column: a.name, Func: a.col.Func, Reason: "integer overflow"}
			}
			a.isum = sum
		case feature.FieldTypeReal:
		default:
			return &SummarizeError{Column: a.name, Func: a.col.Func,
				Reason: fmt.Sprintf("%s values are not numeric", v.Type())}
		}
		a.sum += v.Real()
	case FuncMin, FuncMax:
		if !a.min.IsSet() || feature.Compare(v, a.min) < 0 {
			a.min = v
		}
		if !a.max.IsSet() || feature.Compare(v, a.max) > 0 {
			a.max = v
		}
	}
	a.count++
	return nil
}

// addInt64 returns x+y and whether the sum fits in an int64.
func addInt64(x, y int64) (int64, bool) {
	sum := x + y
	return sum, (x >= 0) != (y >= 0) || (sum >= 0) == (x >= 0)
}

// result returns the aggregate value. Aggregates over no values are unset,
// except COUNT which is 0.
func (a *accumulator) result() feature.Value {
	switch a.col.Func {
	case FuncCount:
		return feature.IntegerValue(a.count)
	case FuncSum:
		if a.count == 0 {
			return feature.Unset()
		}
		if a.srcType == feature.FieldTypeInteger {
			return feature.IntegerValue(a.isum)
		}
		return feature.RealValue(a.sum)
	case FuncAvg:
		if a.count == 0 {
			return feature.Unset()
		}
		return feature.RealValue(a.sum / float64(a.count))
	case FuncMin:
		return a.min
	case FuncMax:
		return a.max
	}
	return feature.Unset()
}

// countOnly reports whether every column is a plain COUNT(*), which the
// primary layer may answer without a scan.
func (l *Layer) countOnly() bool {
	if l.localWhere != nil {
		return false
	}
	for _, c := range l.columns {
		if c.Func != FuncCount || c.Field != FieldAll || c.Distinct {
			return false
		}
	}
	return true
}

// fastCount answers a COUNT(*) summary from the primary layer's feature
// count. It reports false if the layer cannot count cheaply.
func (l *Layer) fastCount() (bool, error) {
	if err := l.installFilters(); err != nil {
		return false, err
	}
	defer l.clearFilters()
	if !l.primary.TestCapability(feature.CapFastFeatureCount) {
		return false, nil
	}
	n, err := l.primary.FeatureCount(true)
	if err != nil {
		return false, err
	}

	row := feature.New(l.defn)
	row.SetFID(0)
	for i := range l.columns {
		row.SetInteger(i, n)
	}
	l.rows = []*feature.Feature{row}
	metrics.SummaryPasses.WithLabelValues("fast").Inc()
	l.log.Debug("COUNT(*) answered by feature count", "layer", l.primary.Name(), "count", n)
	return true, nil
}

// buildSummary computes the summary row or the distinct list with a single
// pass over the primary layer. A value rejected by an aggregate aborts the
// pass and nothing is kept.
func (l *Layer) buildSummary() error {
	if l.rows != nil {
		return nil
	}
	if l.sel.Mode == ModeSummaryRecord && l.countOnly() {
		ok, err := l.fastCount()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	src := l.primary.Defn()
	accs := make([]*accumulator, len(l.columns))
	for i, c := range l.columns {
		a := &accumulator{col: c, name: l.defn.Field(i).Name}
		if c.Field != FieldAll {
			a.srcType = src.FieldOrSpecial(c.Field).Type
		}
		if c.Distinct || l.sel.Mode == ModeDistinctList {
			a.seen = make(map[string]struct{})
		}
		accs[i] = a
	}

	saved := l.pos
	l.state = scanIdle
	var scanned int64
	for {
		f, err := l.nextSource()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.ResetReading()
			return err
		}
		scanned++
		for _, a := range accs {
			v := feature.Unset()
			if a.col.Field != FieldAll {
				v = f.FieldOrSpecial(a.col.Field)
			}
			if err := a.add(v); err != nil {
				l.ResetReading()
				return l.fail(report.CodeAppDefined, err)
			}
		}
	}
	l.state = scanIdle
	l.pos = saved
	metrics.SummaryPasses.WithLabelValues("scan").Inc()

	if l.sel.Mode == ModeDistinctList {
		l.rows = l.distinctRows(accs[0].distinct)
	} else {
		row := feature.New(l.defn)
		row.SetFID(0)
		for i, a := range accs {
			row.SetRaw(i, a.result())
		}
		l.rows = []*feature.Feature{row}
	}
	l.log.Debug("summary computed", "layer", l.primary.Name(), "mode", l.sel.Mode.String(),
		"scanned", scanned, "rows", len(l.rows))
	return nil
}

// distinctRows numbers the distinct values from 0, sorted in the direction
// of the first ORDER BY key when there is one and in first-seen order
// otherwise.
func (l *Layer) distinctRows(values []feature.Value) []*feature.Feature {
	if len(l.sel.Orders) > 0 {
		asc := l.sel.Orders[0].Ascending
		slices.SortStableFunc(values, func(a, b feature.Value) int {
			if asc {
				return feature.Compare(a, b)
			}
			return feature.Compare(b, a)
		})
	}
	rows := make([]*feature.Feature, len(values))
	for i, v := range values {
		row := feature.New(l.defn)
		row.SetFID(int64(i))
		row.SetRaw(0, v)
		rows[i] = row
	}
	return rows
}

func (l *Layer) nextSummaryRow() (*feature.Feature, error) {
	if err := l.buildSummary(); err != nil {
		return nil, err
	}
	for l.pos < int64(len(l.rows)) {
		row := l.rows[l.pos]
		l.pos++
		if l.passesResidual(row) {
			return row.Clone(), nil
		}
	}
	return nil, io.EOF
}
