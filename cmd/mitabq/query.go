package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/datasource"
	"github.com/beetlebugorg/mitab/pkg/feature"
	"github.com/beetlebugorg/mitab/pkg/sqlresult"
)

type queryFlags struct {
	tables   []string
	selects  string
	joins    []string
	where    string
	orders   []string
	distinct bool
	bbox     string
}

func (a *app) newQueryCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a SELECT over one or more tables and print the result as CSV",
		Long: `Run a SELECT over one or more tables and print the result as CSV.

The first --table is the primary table. Columns are written as
[table.]field, FUNC([DISTINCT] [table.]field) or COUNT(*), each with an
optional "AS alias". A query with aggregate columns returns one summary
row; --distinct lists the distinct values of a single column.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runQuery(cmd.OutOrStdout(), qf)
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&qf.tables, "table", nil, "CSV table, optionally as alias=path (repeatable)")
	f.StringVar(&qf.selects, "select", "*", "comma separated column list")
	f.StringArrayVar(&qf.joins, "join", nil, "equi-join as primary.field = table.field (repeatable)")
	f.StringVar(&qf.where, "where", "", "attribute filter on the primary table")
	f.StringArrayVar(&qf.orders, "order", nil, "ORDER BY field [ASC|DESC] on the primary table (repeatable)")
	f.BoolVar(&qf.distinct, "distinct", false, "list the distinct values of the selected column")
	f.StringVar(&qf.bbox, "bbox", "", "spatial filter as minx,miny,maxx,maxy")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

// queryTable is one table of the FROM list.
type queryTable struct {
	alias string
	path  string
	ds    feature.DataSource
	layer feature.Layer
}

func (a *app) runQuery(out io.Writer, qf queryFlags) error {
	reg := datasource.NewRegistry(func(path string) (feature.DataSource, error) {
		return a.openTable(path, true)
	}, a.cfg.MaxIdleSources)
	defer reg.Clear()

	tables := make([]queryTable, len(qf.tables))
	paths := make([]string, len(qf.tables))
	for i, spec := range qf.tables {
		alias, path, ok := strings.Cut(spec, "=")
		if !ok {
			path, alias = spec, ""
		}
		tables[i] = queryTable{alias: alias, path: path}
		paths[i] = path
	}

	sources, err := reg.OpenAll(paths, datasource.OpenOptions{
		Progress: func(opened, total int) {
			a.log.Debug("tables opened", "opened", opened, "total", total)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.ReleaseAll(sources); err != nil {
			a.log.Warn("releasing tables", "error", err)
		}
	}()
	for i, ds := range sources {
		tables[i].ds, tables[i].layer = ds, ds.Layer(0)
		if tables[i].alias == "" {
			tables[i].alias = tables[i].layer.Name()
		}
	}

	sel, err := buildSelect(tables, qf)
	if err != nil {
		return err
	}
	opts := sqlresult.Options{
		Where:    qf.where,
		Registry: reg,
		Logger:   a.log,
		Reporter: report.NewSlog(a.log),
	}
	if qf.bbox != "" {
		b, err := parseBBox(qf.bbox)
		if err != nil {
			return err
		}
		opts.SpatialFilter = &b
	}

	result, err := sqlresult.New(sel, tables[0].ds, opts)
	if err != nil {
		return err
	}
	defer result.Close()
	return writeResult(out, result)
}

func writeResult(out io.Writer, layer feature.Layer) error {
	w := csv.NewWriter(out)
	defn := layer.Defn()
	header := make([]string, defn.FieldCount())
	for i := range header {
		header[i] = defn.Field(i).Name
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for {
		f, err := layer.NextFeature()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		for i := range row {
			row[i] = f.StringField(i)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// buildSelect turns the command line into a query descriptor.
func buildSelect(tables []queryTable, qf queryFlags) (*sqlresult.Select, error) {
	sel := &sqlresult.Select{Mode: sqlresult.ModeRecordset}
	for i, t := range tables {
		st := sqlresult.Table{Name: t.layer.Name(), Alias: t.alias}
		if i > 0 {
			st.DataSource = t.path
		}
		sel.Tables = append(sel.Tables, st)
	}

	for _, item := range splitColumns(qf.selects) {
		col, err := parseColumnExpr(tables, item)
		if err != nil {
			return nil, err
		}
		if col.Func != sqlresult.FuncNone {
			sel.Mode = sqlresult.ModeSummaryRecord
		}
		if col.Func == sqlresult.FuncNone && col.Distinct {
			sel.Mode = sqlresult.ModeDistinctList
		}
		sel.Columns = append(sel.Columns, col)
	}
	if qf.distinct {
		if sel.Mode == sqlresult.ModeSummaryRecord {
			return nil, errors.New("--distinct cannot be combined with aggregate columns")
		}
		sel.Mode = sqlresult.ModeDistinctList
	}

	for _, spec := range qf.joins {
		j, err := parseJoin(tables, spec)
		if err != nil {
			return nil, err
		}
		sel.Joins = append(sel.Joins, j)
	}
	for _, spec := range qf.orders {
		o, err := parseOrder(tables, spec)
		if err != nil {
			return nil, err
		}
		sel.Orders = append(sel.Orders, o)
	}
	return sel, nil
}

func splitColumns(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

var (
	aggregateExpr = regexp.MustCompile(`(?i)^(COUNT|MIN|MAX|SUM|AVG)\s*\(\s*(DISTINCT\s+)?([^)\s]+)\s*\)(?:\s+AS\s+(\S+))?$`)
	plainExpr     = regexp.MustCompile(`(?i)^(DISTINCT\s+)?([^\s()]+)(?:\s+AS\s+(\S+))?$`)
)

var funcNames = map[string]sqlresult.Func{
	"COUNT": sqlresult.FuncCount,
	"MIN":   sqlresult.FuncMin,
	"MAX":   sqlresult.FuncMax,
	"SUM":   sqlresult.FuncSum,
	"AVG":   sqlresult.FuncAvg,
}

func parseColumnExpr(tables []queryTable, item string) (sqlresult.Column, error) {
	if m := aggregateExpr.FindStringSubmatch(item); m != nil {
		table, field, err := resolveField(tables, m[3], true)
		if err != nil {
			return sqlresult.Column{}, err
		}
		return sqlresult.Column{
			Table:    table,
			Field:    field,
			Func:     funcNames[strings.ToUpper(m[1])],
			Distinct: m[2] != "",
			Alias:    m[4],
		}, nil
	}
	if m := plainExpr.FindStringSubmatch(item); m != nil {
		table, field, err := resolveField(tables, m[2], true)
		if err != nil {
			return sqlresult.Column{}, err
		}
		return sqlresult.Column{Table: table, Field: field, Distinct: m[1] != "", Alias: m[3]}, nil
	}
	return sqlresult.Column{}, fmt.Errorf("cannot parse column %q", item)
}

// resolveField maps [table.]field to a table index and field index. An
// unqualified name is looked up in the primary table first, then in the
// others.
func resolveField(tables []queryTable, ref string, allowStar bool) (int, int, error) {
	tableRef, fieldRef, qualified := strings.Cut(ref, ".")
	if !qualified {
		tableRef, fieldRef = "", ref
	}

	candidates := make([]int, 0, len(tables))
	for i, t := range tables {
		if !qualified || strings.EqualFold(t.alias, tableRef) || strings.EqualFold(t.layer.Name(), tableRef) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 0, 0, fmt.Errorf("unknown table %q in %q", tableRef, ref)
	}

	if fieldRef == "*" {
		if !allowStar {
			return 0, 0, fmt.Errorf("%q is not allowed here", ref)
		}
		return candidates[0], sqlresult.FieldAll, nil
	}
	for _, i := range candidates {
		if idx := tables[i].layer.Defn().FieldIndex(fieldRef); idx >= 0 {
			return i, idx, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown field %q", ref)
}

func parseJoin(tables []queryTable, spec string) (sqlresult.Join, error) {
	left, right, ok := strings.Cut(spec, "=")
	if !ok {
		return sqlresult.Join{}, fmt.Errorf("join %q: expected left = right", spec)
	}
	lt, lf, err := resolveField(tables, strings.TrimSpace(left), false)
	if err != nil {
		return sqlresult.Join{}, fmt.Errorf("join %q: %w", spec, err)
	}
	rt, rf, err := resolveField(tables, strings.TrimSpace(right), false)
	if err != nil {
		return sqlresult.Join{}, fmt.Errorf("join %q: %w", spec, err)
	}
	if rt == 0 {
		lt, lf, rt, rf = rt, rf, lt, lf
	}
	if lt != 0 || rt == 0 {
		return sqlresult.Join{}, fmt.Errorf("join %q must compare the primary table with another table", spec)
	}
	return sqlresult.Join{SecondaryTable: rt, PrimaryField: lf, SecondaryField: rf}, nil
}

func parseOrder(tables []queryTable, spec string) (sqlresult.Order, error) {
	parts := strings.Fields(spec)
	if len(parts) == 0 || len(parts) > 2 {
		return sqlresult.Order{}, fmt.Errorf("cannot parse ORDER BY %q", spec)
	}
	o := sqlresult.Order{Ascending: true}
	if len(parts) == 2 {
		switch strings.ToUpper(parts[1]) {
		case "ASC":
		case "DESC":
			o.Ascending = false
		default:
			return sqlresult.Order{}, fmt.Errorf("ORDER BY %q: expected ASC or DESC", spec)
		}
	}
	_, field, err := resolveField(tables[:1], parts[0], false)
	if err != nil {
		return sqlresult.Order{}, fmt.Errorf("ORDER BY %q: %w", spec, err)
	}
	o.Field = field
	return o, nil
}

func parseBBox(s string) (feature.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return feature.Bounds{}, fmt.Errorf("bbox %q: expected minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return feature.Bounds{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return feature.Bounds{}, fmt.Errorf("bbox %q: minimum exceeds maximum", s)
	}
	return feature.Bounds{MinX: v[0], MinY: v[1], MaxX: v[2], MaxY: v[3]}, nil
}
