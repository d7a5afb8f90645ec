package sqlresult

// Mode selects how a query produces its rows. It is fixed for the life of
// a result layer.
type Mode int

const (
	// ModeRecordset returns one row per matching source feature.
	ModeRecordset Mode = iota

	// ModeSummaryRecord returns a single row of aggregate values.
	ModeSummaryRecord

	// ModeDistinctList returns one row per distinct value of a single column.
	ModeDistinctList
)

func (m Mode) String() string {
	switch m {
	case ModeRecordset:
		return "recordset"
	case ModeSummaryRecord:
		return "summary"
	case ModeDistinctList:
		return "distinct"
	default:
		return "unknown"
	}
}

// Func is an aggregate function applied to a column.
type Func int

const (
	FuncNone Func = iota
	FuncCount
	FuncMin
	FuncMax
	FuncSum
	FuncAvg
)

// String returns the SQL name of the function, as used in generated
// column names.
func (f Func) String() string {
	switch f {
	case FuncCount:
		return "COUNT"
	case FuncMin:
		return "MIN"
	case FuncMax:
		return "MAX"
	case FuncSum:
		return "SUM"
	case FuncAvg:
		return "AVG"
	default:
		return ""
	}
}

// FieldAll stands for "*" in a column: every field in a recordset, or
// every row for COUNT(*).
const FieldAll = -1

// Table is one entry of the FROM list. Tables[0] is the primary table.
type Table struct {
	// DataSource names the data source holding the layer. Empty means the
	// primary data source passed to New; anything else is opened through
	// the Registry.
	DataSource string
	Name       string
	Alias      string
}

// Column is one projected column.
type Column struct {
	Table int // index into Select.Tables
	// Field is a field index in the table's schema. Indexes at or past
	// FieldCount() address special fields; FieldAll means "*".
	Field    int
	Func     Func
	Distinct bool
	Alias    string
}

// Join is a single-level equi-join of the primary table with a secondary
// table.
type Join struct {
	SecondaryTable int
	PrimaryField   int
	SecondaryField int
}

// Order is one ORDER BY key on a primary table field.
type Order struct {
	Field     int
	Ascending bool
}

// Select is a parsed query.
type Select struct {
	Mode    Mode
	Tables  []Table
	Columns []Column
	Joins   []Join
	Orders  []Order
}
