package pool

import "strings"

// StatementKind is the coarse classification of a SQL statement's
// leading keyword, ported from the original implementation
// (web_sqlite3/connection.py: _detect_query_type). Callers use it to
// decide how to interpret a Result without string-matching SQL
// themselves.
type StatementKind int

const (
	StatementOther StatementKind = iota
	StatementSelect
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementCreate
	StatementDrop
	StatementAlter
)

func (k StatementKind) String() string {
	switch k {
	case StatementSelect:
		return "SELECT"
	case StatementInsert:
		return "INSERT"
	case StatementUpdate:
		return "UPDATE"
	case StatementDelete:
		return "DELETE"
	case StatementCreate:
		return "CREATE"
	case StatementDrop:
		return "DROP"
	case StatementAlter:
		return "ALTER"
	default:
		return "OTHER"
	}
}

// classifyStatement inspects the leading keyword of a SQL statement,
// ignoring leading whitespace and case.
func classifyStatement(sql string) StatementKind {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "WITH"), strings.HasPrefix(upper, "PRAGMA"):
		return StatementSelect
	case strings.HasPrefix(upper, "INSERT"):
		return StatementInsert
	case strings.HasPrefix(upper, "UPDATE"):
		return StatementUpdate
	case strings.HasPrefix(upper, "DELETE"):
		return StatementDelete
	case strings.HasPrefix(upper, "CREATE"):
		return StatementCreate
	case strings.HasPrefix(upper, "DROP"):
		return StatementDrop
	case strings.HasPrefix(upper, "ALTER"):
		return StatementAlter
	default:
		return StatementOther
	}
}

// isSelectLike reports whether a statement is expected to produce rows
// rather than mutate the database.
func isSelectLike(kind StatementKind) bool {
	return kind == StatementSelect
}
