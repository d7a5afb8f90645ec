package sqlresult

import (
	"fmt"
)

// QueryError indicates a query descriptor that cannot be executed.
type QueryError struct {
	Reason string
}

func (e *QueryError) Error() string {
	return "invalid query: " + e.Reason
}

// TableError indicates a table of the FROM list could not be resolved.
type TableError struct {
	Table      int
	DataSource string
	Name       string
	Err        error
}

func (e *TableError) Error() string {
	if e.DataSource != "" {
		return fmt.Sprintf("table %d (%s in %s): %v", e.Table, e.Name, e.DataSource, e.Err)
	}
	return fmt.Sprintf("table %d (%s): %v", e.Table, e.Name, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// SummarizeError indicates an aggregate function rejected a value. The
// summary pass that hit it is discarded.
type SummarizeError struct {
	Column string
	Func   Func
	Reason string
}

func (e *SummarizeError) Error() string {
	return fmt.Sprintf("%s() on column %s: %s", e.Func, e.Column, e.Reason)
}
