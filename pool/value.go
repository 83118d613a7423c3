package pool

import (
	"fmt"
	"time"
)

// ValueKind tags the dynamic type carried by a Value, mirroring the
// column types crawshaw.io/sqlite reports for a result column.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueInt
	ValueFloat
	ValueText
	ValueBlob
)

// Value is a single cell of a Row. Exactly one field is meaningful,
// selected by Kind. Rows are exposed this way (rather than as
// string-keyed maps, as the original Python implementation does)
// because Go has no dynamic dict literal that round-trips through a
// typed column description; callers needing a map can build one with
// Row.Map, and callers with a known shape should use Row.Scan into a
// list of destination pointers.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Blob  []byte
}

// IsNull reports whether the column was SQL NULL.
func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Any returns the value boxed as the most natural Go type, or nil for
// NULL. Useful for logging and for callers that don't care about the
// static Kind.
func (v Value) Any() any {
	switch v.Kind {
	case ValueInt:
		return v.Int
	case ValueFloat:
		return v.Float
	case ValueText:
		return v.Text
	case ValueBlob:
		return v.Blob
	default:
		return nil
	}
}

// Column is a single named, typed cell within a Row.
type Column struct {
	Name  string
	Value Value
}

// Row is an ordered sequence of Columns, replacing the source's
// string-keyed row dict. Duplicate column names are collapsed to the
// last occurrence, matching the documented behavior of the original.
type Row []Column

// Map projects the Row into a string-keyed map of the boxed values,
// for callers that want the original's dict-of-values shape.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r))
	for _, col := range r {
		m[col.Name] = col.Value.Any()
	}
	return m
}

// Get returns the value of the named column and whether it was present.
func (r Row) Get(name string) (Value, bool) {
	for _, col := range r {
		if col.Name == name {
			return col.Value, true
		}
	}
	return Value{}, false
}

// Scan copies the Row's columns, in order, into dest. Each element of
// dest must be one of *int64, *float64, *string, *[]byte, *Value, or
// *any; the last accepts any column kind including NULL. Scan
// returns an error if the column and destination counts differ or a
// column's Kind doesn't match its destination's type.
func (r Row) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("pool: Scan: %d columns but %d destinations", len(r), len(dest))
	}
	for i, col := range r {
		if err := scanValue(col.Value, dest[i]); err != nil {
			return fmt.Errorf("pool: Scan: column %q: %w", col.Name, err)
		}
	}
	return nil
}

func scanValue(v Value, dest any) error {
	switch d := dest.(type) {
	case *any:
		*d = v.Any()
	case *Value:
		*d = v
	case *int64:
		if v.Kind != ValueInt {
			return fmt.Errorf("not an integer column")
		}
		*d = v.Int
	case *float64:
		if v.Kind != ValueFloat {
			return fmt.Errorf("not a float column")
		}
		*d = v.Float
	case *string:
		if v.Kind != ValueText {
			return fmt.Errorf("not a text column")
		}
		*d = v.Text
	case *[]byte:
		if v.Kind != ValueBlob {
			return fmt.Errorf("not a blob column")
		}
		*d = v.Blob
	default:
		return fmt.Errorf("unsupported destination type %T", dest)
	}
	return nil
}

// Result is the outcome of running one Request on a Connection. Which
// fields are meaningful depends on the request kind: Execute populates
// RowsAffected/LastInsertID, ExecuteMany populates RowsAffected only,
// FetchOne/FetchAll populate Rows, and Begin/Commit/Rollback populate
// neither (they signal success by returning a nil error).
type Result struct {
	Rows         []Row
	RowsAffected int64
	LastInsertID int64
	Elapsed      time.Duration
}
