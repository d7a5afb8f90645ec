package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beetlebugorg/mitab/pkg/feature"
	"github.com/beetlebugorg/mitab/pkg/sqlresult"
)

const peopleCSV = `id:Integer,name:String(16),age:Integer,cityId:Integer,x,y
1,Ann,30,10,0,0
2,Bob,40,20,1,1
3,Cid,,10,2,2
4,Dee,50,30,3,3
`

const citiesCSV = `cityId:Integer,cityName:String
10,Paris
20,Rome
`

func writeTables(t *testing.T) (people, cities string) {
	t.Helper()
	dir := t.TempDir()
	people = filepath.Join(dir, "people.csv")
	cities = filepath.Join(dir, "cities.csv")
	require.NoError(t, os.WriteFile(people, []byte(peopleCSV), 0o644))
	require.NoError(t, os.WriteFile(cities, []byte(citiesCSV), 0o644))
	return people, cities
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		cell    string
		want    columnSpec
		wantErr bool
	}{
		{cell: "name", want: columnSpec{name: "name", typ: feature.FieldTypeString}},
		{cell: "id:Integer", want: columnSpec{name: "id", typ: feature.FieldTypeInteger}},
		{cell: " area : real ", want: columnSpec{name: "area", typ: feature.FieldTypeReal}},
		{cell: "code:String(8)", want: columnSpec{name: "code", typ: feature.FieldTypeString, width: 8}},
		{cell: "X", want: columnSpec{name: "X", typ: feature.FieldTypeString, coord: coordX}},
		{cell: "y", want: columnSpec{name: "y", typ: feature.FieldTypeString, coord: coordY}},
		{cell: "x:Real", want: columnSpec{name: "x", typ: feature.FieldTypeReal}},
		{cell: ":Integer", wantErr: true},
		{cell: "id:Date", wantErr: true},
		{cell: "code:String(0)", wantErr: true},
		{cell: "code:String(8", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, err := parseColumn(tt.cell)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCSV(t *testing.T) {
	layer, err := readCSV("people", strings.NewReader(peopleCSV), slog.Default())
	require.NoError(t, err)

	defn := layer.Defn()
	assert.Equal(t, 4, defn.FieldCount())
	assert.Equal(t, feature.GeometryTypePoint, defn.GeometryType())
	assert.Equal(t, 16, defn.Field(1).Width)

	n, err := layer.FeatureCount(true)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	cid, err := layer.Feature(2)
	require.NoError(t, err)
	assert.Equal(t, "Cid", cid.StringField(1))
	assert.False(t, cid.IsFieldSet(2))

	b, ok := cid.Geometry().Bounds()
	require.True(t, ok)
	assert.Equal(t, feature.Bounds{MinX: 2, MinY: 2, MaxX: 2, MaxY: 2}, b)
}

func TestReadCSVErrors(t *testing.T) {
	tests := map[string]string{
		"empty":     "",
		"duplicate": "a:Integer,A:String\n1,x\n",
		"bad int":   "a:Integer\nnope\n",
		"bad coord": "x,y\n1,nope\n",
		"ragged":    "a,b\n1\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := readCSV("t", strings.NewReader(input), slog.Default())
			assert.Error(t, err)
		})
	}
}

func TestBuildSelect(t *testing.T) {
	layer, err := readCSV("people", strings.NewReader(peopleCSV), slog.Default())
	require.NoError(t, err)
	cities, err := readCSV("cities", strings.NewReader(citiesCSV), slog.Default())
	require.NoError(t, err)
	tables := []queryTable{
		{alias: "p", path: "people.csv", layer: layer},
		{alias: "cities", path: "cities.csv", layer: cities},
	}

	sel, err := buildSelect(tables, queryFlags{
		selects: "p.name AS who, cityName",
		joins:   []string{"cities.cityId = p.cityId"},
		orders:  []string{"age desc"},
	})
	require.NoError(t, err)
	assert.Equal(t, sqlresult.ModeRecordset, sel.Mode)
	assert.Equal(t, []sqlresult.Table{
		{Name: "people", Alias: "p"},
		{DataSource: "cities.csv", Name: "cities", Alias: "cities"},
	}, sel.Tables)
	assert.Equal(t, []sqlresult.Column{
		{Table: 0, Field: 1, Alias: "who"},
		{Table: 1, Field: 1},
	}, sel.Columns)
	assert.Equal(t, []sqlresult.Join{{SecondaryTable: 1, PrimaryField: 3, SecondaryField: 0}}, sel.Joins)
	assert.Equal(t, []sqlresult.Order{{Field: 2, Ascending: false}}, sel.Orders)

	sel, err = buildSelect(tables, queryFlags{selects: "count(*), Sum(DISTINCT age) AS total"})
	require.NoError(t, err)
	assert.Equal(t, sqlresult.ModeSummaryRecord, sel.Mode)
	assert.Equal(t, []sqlresult.Column{
		{Field: sqlresult.FieldAll, Func: sqlresult.FuncCount},
		{Field: 2, Func: sqlresult.FuncSum, Distinct: true, Alias: "total"},
	}, sel.Columns)

	sel, err = buildSelect(tables, queryFlags{selects: "DISTINCT cityId"})
	require.NoError(t, err)
	assert.Equal(t, sqlresult.ModeDistinctList, sel.Mode)

	for _, qf := range []queryFlags{
		{selects: "nope"},
		{selects: "other.name"},
		{selects: "name(", joins: nil},
		{selects: "COUNT(*)", distinct: true},
		{selects: "*", joins: []string{"p.cityId"}},
		{selects: "*", joins: []string{"p.id = p.age"}},
		{selects: "*", orders: []string{"cityName"}},
		{selects: "*", orders: []string{"age sideways"}},
	} {
		_, err := buildSelect(tables, qf)
		assert.Error(t, err, "%+v", qf)
	}
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("0, 1, 2.5, 3")
	require.NoError(t, err)
	assert.Equal(t, feature.Bounds{MinX: 0, MinY: 1, MaxX: 2.5, MaxY: 3}, b)

	for _, s := range []string{"1,2,3", "a,b,c,d", "3,0,1,1"} {
		_, err := parseBBox(s)
		assert.Error(t, err, s)
	}
}

func TestQueryJoinOrdered(t *testing.T) {
	people, cities := writeTables(t)
	out, err := run(t, "query",
		"--table", people, "--table", cities,
		"--select", "people.name, cities.cityName",
		"--join", "people.cityId = cities.cityId",
		"--order", "name DESC")
	require.NoError(t, err)
	assert.Equal(t, "name,cityName\nDee,\nCid,Paris\nBob,Rome\nAnn,Paris\n", out)
}

func TestQuerySummary(t *testing.T) {
	people, _ := writeTables(t)
	out, err := run(t, "query", "--table", people, "--select", "COUNT(*), AVG(age), MAX(name)")
	require.NoError(t, err)
	assert.Equal(t, "COUNT_*,AVG_age,MAX_name\n4,40,Dee\n", out)
}

func TestQueryDistinct(t *testing.T) {
	people, _ := writeTables(t)
	out, err := run(t, "query", "--table", people, "--select", "cityId", "--distinct", "--order", "cityId DESC")
	require.NoError(t, err)
	assert.Equal(t, "cityId\n30\n20\n10\n", out)
}

func TestQueryWhereAndBBox(t *testing.T) {
	people, _ := writeTables(t)
	out, err := run(t, "query", "--table", people, "--select", "id", "--where", "age >= 40")
	require.NoError(t, err)
	assert.Equal(t, "id\n2\n4\n", out)

	out, err = run(t, "query", "--table", people, "--select", "id", "--bbox", "0.5,0.5,2.5,2.5")
	require.NoError(t, err)
	assert.Equal(t, "id\n2\n3\n", out)
}

func TestQueryErrors(t *testing.T) {
	people, _ := writeTables(t)

	_, err := run(t, "query", "--table", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, err = run(t, "query", "--table", people, "--where", "nosuchfield = 1")
	assert.Error(t, err)

	_, err = run(t, "query", "--table", people, "--index-string-width", "0")
	assert.Error(t, err)

	// both tables share one opened source, so the join is refused
	_, err = run(t, "query", "--table", people, "--table", "p2="+people,
		"--select", "people.name, p2.name", "--join", "people.cityId = p2.cityId")
	var qe *sqlresult.QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestIndexCommands(t *testing.T) {
	people, _ := writeTables(t)
	dir := filepath.Dir(people)

	_, err := run(t, "index", "create", people, "name", "cityId")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "people.idm"))
	assert.FileExists(t, filepath.Join(dir, "people.ind"))

	out, err := run(t, "index", "list", people)
	require.NoError(t, err)
	assert.Equal(t, "name\tString\ncityId\tInteger\n", out)

	out, err = run(t, "index", "lookup", people, "cityId", "10")
	require.NoError(t, err)
	assert.Equal(t, "0\n2\n", out)

	out, err = run(t, "index", "lookup", people, "name", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, "index", "lookup", people, "age", "30")
	assert.Error(t, err, "age is not indexed")
	_, err = run(t, "index", "lookup", people, "cityId", "ten")
	assert.Error(t, err)

	// queries open tables read-only and use the stored index
	out, err = run(t, "query", "--table", people, "--select", "name", "--where", "cityId = 10")
	require.NoError(t, err)
	assert.Equal(t, "name\nAnn\nCid\n", out)

	_, err = run(t, "index", "rebuild", people)
	require.NoError(t, err)
	out, err = run(t, "index", "lookup", people, "name", "Dee")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	_, err = run(t, "index", "drop", people, "name")
	require.NoError(t, err)
	_, err = run(t, "index", "drop", people, "cityId")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "people.idm"))

	out, err = run(t, "index", "list", people)
	require.NoError(t, err)
	assert.Empty(t, out)
}
