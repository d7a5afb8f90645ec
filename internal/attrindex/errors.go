package attrindex

import (
	"fmt"

	"github.com/beetlebugorg/mitab/pkg/feature"
)

// FieldTypeError indicates a field whose type cannot be indexed.
type FieldTypeError struct {
	Field string
	Type  feature.FieldType
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("cannot index field %s: unsupported field type %v", e.Field, e.Type)
}

// DuplicateIndexError indicates a field that already has an index.
type DuplicateIndexError struct {
	Field string
}

func (e *DuplicateIndexError) Error() string {
	return fmt.Sprintf("field %s already has an index", e.Field)
}

// NoIndexError indicates an operation on a field that has no index.
type NoIndexError struct {
	Field int
}

func (e *NoIndexError) Error() string {
	return fmt.Sprintf("field %d has no index", e.Field)
}
