package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beetlebugorg/mitab/internal/attrindex"
	"github.com/beetlebugorg/mitab/internal/report"
	"github.com/beetlebugorg/mitab/pkg/feature"
	"github.com/beetlebugorg/mitab/pkg/memlayer"
)

type coordinate int

const (
	coordNone coordinate = iota
	coordX
	coordY
)

// columnSpec describes one CSV column, parsed from a header cell of the
// form name[:Type[(width)]].
type columnSpec struct {
	name  string
	typ   feature.FieldType
	width int
	coord coordinate
}

func parseColumn(cell string) (columnSpec, error) {
	cell = strings.TrimSpace(cell)
	name, typ, typed := strings.Cut(cell, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return columnSpec{}, fmt.Errorf("empty column name in %q", cell)
	}
	spec := columnSpec{name: name, typ: feature.FieldTypeString}
	if !typed {
		switch strings.ToLower(name) {
		case "x":
			spec.coord = coordX
		case "y":
			spec.coord = coordY
		}
		return spec, nil
	}

	typ = strings.TrimSpace(typ)
	if open := strings.IndexByte(typ, '('); open >= 0 {
		if !strings.HasSuffix(typ, ")") {
			return columnSpec{}, fmt.Errorf("column %s: malformed width in %q", name, typ)
		}
		w, err := strconv.Atoi(strings.TrimSpace(typ[open+1 : len(typ)-1]))
		if err != nil || w <= 0 {
			return columnSpec{}, fmt.Errorf("column %s: invalid width in %q", name, typ)
		}
		spec.width = w
		typ = strings.TrimSpace(typ[:open])
	}

	switch strings.ToLower(typ) {
	case "integer", "int", "smallint":
		spec.typ = feature.FieldTypeInteger
	case "real", "float", "double", "decimal":
		spec.typ = feature.FieldTypeReal
	case "string", "char", "text":
		spec.typ = feature.FieldTypeString
	default:
		return columnSpec{}, fmt.Errorf("column %s: unknown type %q", name, typ)
	}
	return spec, nil
}

// readCSV reads a CSV table into a new in-memory layer named name. Empty
// cells leave the field unset.
func readCSV(name string, r io.Reader, log *slog.Logger) (*memlayer.Layer, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: missing header", name)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	specs := make([]columnSpec, len(header))
	fields := make([]int, len(header))
	defn := feature.NewLayerDefn(name)
	xCol, yCol := -1, -1
	for i, cell := range header {
		spec, err := parseColumn(cell)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		specs[i] = spec
		fields[i] = -1
		switch spec.coord {
		case coordX:
			xCol = i
		case coordY:
			yCol = i
		default:
			if defn.FieldIndex(spec.name) >= 0 && !defn.IsSpecial(defn.FieldIndex(spec.name)) {
				return nil, fmt.Errorf("%s: duplicate column %s", name, spec.name)
			}
			fields[i] = defn.FieldCount()
			defn.AddField(feature.FieldDefn{Name: spec.name, Type: spec.typ, Width: spec.width})
		}
	}
	hasPoints := xCol >= 0 && yCol >= 0
	if hasPoints {
		defn.SetGeometryType(feature.GeometryTypePoint)
	}

	layer := memlayer.New(defn, memlayer.Options{Logger: log})
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := cr.FieldPos(0)

		f := feature.New(defn)
		for i, cell := range record {
			if fields[i] < 0 || strings.TrimSpace(cell) == "" {
				continue
			}
			v, err := parseCell(specs[i].typ, cell)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", name, line, specs[i].name, err)
			}
			f.SetRaw(fields[i], v)
		}
		if hasPoints && record[xCol] != "" && record[yCol] != "" {
			x, errX := strconv.ParseFloat(strings.TrimSpace(record[xCol]), 64)
			y, errY := strconv.ParseFloat(strings.TrimSpace(record[yCol]), 64)
			if err := errors.Join(errX, errY); err != nil {
				return nil, fmt.Errorf("%s line %d: invalid coordinates: %w", name, line, err)
			}
			f.SetGeometry(&feature.Geometry{Type: feature.GeometryTypePoint, Coordinates: [][]float64{{x, y}}})
		}
		if _, err := layer.CreateFeature(f); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
	}
	return layer, nil
}

func parseCell(t feature.FieldType, cell string) (feature.Value, error) {
	cell = strings.TrimSpace(cell)
	switch t {
	case feature.FieldTypeInteger:
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return feature.Value{}, err
		}
		return feature.IntegerValue(n), nil
	case feature.FieldTypeReal:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return feature.Value{}, err
		}
		return feature.RealValue(f), nil
	}
	return feature.StringValue(cell), nil
}

// tableName is the layer name of a CSV file: its base name without
// extension.
func tableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// openTable loads the CSV file at path as a single-layer data source named
// after the path, with the attribute indexes stored next to it attached.
func (a *app) openTable(path string, readOnly bool) (*memlayer.DataSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer file.Close()

	layer, err := readCSV(tableName(path), file, a.log)
	if err != nil {
		return nil, err
	}

	opts := attrindex.DefaultOptions()
	opts.DefaultStringWidth = a.cfg.IndexStringWidth
	if opts.MaxStringWidth < opts.DefaultStringWidth {
		opts.MaxStringWidth = opts.DefaultStringWidth
	}
	opts.ReadOnly = readOnly
	opts.Logger = a.log
	opts.Reporter = report.NewSlog(a.log)
	if err := layer.AttachIndexes(path, opts); err != nil {
		return nil, err
	}

	a.log.Debug("table loaded", "path", path, "layer", layer.Name(),
		"fields", layer.Defn().FieldCount(), "indexes", len(layer.Indexes().IndexedFields()))
	return memlayer.NewDataSource(path, layer), nil
}
