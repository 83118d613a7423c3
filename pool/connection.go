package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
)

// RequestKind selects which driver operation Connection.Run performs,
// mirroring the Request.kind enumeration in spec §3.
type RequestKind int

const (
	KindExecute RequestKind = iota
	KindExecuteMany
	KindFetchOne
	KindFetchAll
	KindBegin
	KindCommit
	KindRollback
	KindRaw
)

func (k RequestKind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindExecuteMany:
		return "executemany"
	case KindFetchOne:
		return "fetchone"
	case KindFetchAll:
		return "fetchall"
	case KindBegin:
		return "begin"
	case KindCommit:
		return "commit"
	case KindRollback:
		return "rollback"
	default:
		return "raw"
	}
}

// Connection wraps one crawshaw.io/sqlite driver handle, carrying the
// identity and lifecycle bookkeeping described in spec §3. A Connection
// is used by at most one caller at a time; that exclusion is enforced
// by the Pool, not by a lock inside Connection (spec §5, "Shared
// resources").
type Connection struct {
	ID         string
	conn       *sqlite.Conn
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	healthy    bool
	logger     *slog.Logger
}

func newConnection(conn *sqlite.Conn, now time.Time, logger *slog.Logger) *Connection {
	return &Connection{
		ID:         uuid.NewString(),
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
		healthy:    true,
		logger:     logger,
	}
}

// CreatedAt returns when the underlying driver handle was opened.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// LastUsedAt returns the time of the most recent Run call.
func (c *Connection) LastUsedAt() time.Time { return c.lastUsedAt }

// UseCount returns the number of Run calls served by this Connection
// across all request kinds, per spec §9 Open Question 2 (max_queries
// counts total use_count, not statements of a particular kind).
func (c *Connection) UseCount() int64 { return c.useCount }

// Healthy reports whether the last driver call left this Connection in
// a known-good state.
func (c *Connection) Healthy() bool { return c.healthy }

func (c *Connection) markUnhealthy() { c.healthy = false }

// Ping issues a cheap statement to assert liveness, following the
// driver's recommended no-op probe. It marks the Connection unhealthy
// on failure and returns the resulting health state.
func (c *Connection) Ping() bool {
	if c.conn == nil || !c.healthy {
		return false
	}
	if err := sqlitex.Exec(c.conn, "PRAGMA schema_version;", nil); err != nil {
		c.healthy = false
		return false
	}
	return true
}

// Close releases the underlying driver handle. It is idempotent.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Run executes one Request's operation against the pinned driver
// handle. It is synchronous from the caller's perspective — concurrency
// in this module comes from running multiple Connections in parallel,
// never from sharing one (spec §4.1). ctx bounds the call: it is wired
// into the driver via Conn.SetInterrupt so a statement already running
// when the deadline lands is actually aborted, not just left to run to
// completion after the caller stops waiting (spec §4.4's third
// checkpoint, "driver execution").
func (c *Connection) Run(ctx context.Context, kind RequestKind, sql string, params []any, batch [][]any) (*Result, error) {
	start := time.Now()
	c.lastUsedAt = start
	c.useCount++

	if c.logger != nil {
		c.logger.Debug("sql", "connection", c.ID, "kind", kind, "sql", sql)
	}

	if c.conn != nil {
		prev := c.conn.SetInterrupt(ctx.Done())
		defer c.conn.SetInterrupt(prev)
	}

	var (
		result *Result
		err    error
	)

	switch kind {
	case KindBegin:
		err = c.execNoResult(sql)
	case KindCommit:
		err = c.execNoResult("COMMIT")
	case KindRollback:
		err = c.execNoResult("ROLLBACK")
	case KindExecute:
		result, err = c.runExecute(sql, params)
	case KindExecuteMany:
		result, err = c.runExecuteMany(sql, batch)
	case KindFetchOne, KindFetchAll:
		result, err = c.runFetch(sql, params)
	case KindRaw:
		// KindRaw covers PRAGMAs and other statements a caller submits
		// without declaring whether they produce rows (spec §4.6); the
		// statement's own leading keyword decides the Result shape.
		if isSelectLike(classifyStatement(sql)) {
			result, err = c.runFetch(sql, params)
		} else {
			result, err = c.runExecute(sql, params)
		}
	default:
		err = fmt.Errorf("pool: unknown request kind %v", kind)
	}

	err = translateInterrupt(ctx, err)

	if err != nil && isConnectionLevelError(err) {
		c.markUnhealthy()
	}

	if result == nil {
		result = &Result{}
	}
	result.Elapsed = time.Since(start)
	return result, err
}

// translateInterrupt rewrites a SQLITE_INTERRUPT error raised by
// Conn.SetInterrupt firing into the ctx.Err() that caused it
// (context.DeadlineExceeded or context.Canceled), so callers can match
// it with errors.Is against the standard context sentinels instead of
// a driver-specific error code.
func translateInterrupt(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite.SQLITE_INTERRUPT {
		return fmt.Errorf("pool: interrupted: %w", ctx.Err())
	}
	return err
}

func (c *Connection) execNoResult(sql string) error {
	if c.conn == nil {
		return errors.New("pool: connection closed")
	}
	return sqlitex.Exec(c.conn, sql, nil)
}

func (c *Connection) runExecute(sql string, params []any) (*Result, error) {
	if c.conn == nil {
		return nil, errors.New("pool: connection closed")
	}

	// crawshaw.io/sqlite's autocommit mode already commits a bare
	// execute outside an explicit BEGIN, so no statement kind here
	// needs special commit handling.
	if err := sqlitex.Exec(c.conn, sql, nil, params...); err != nil {
		return nil, fmt.Errorf("pool: execute failed: %w", err)
	}

	return &Result{
		RowsAffected: int64(c.conn.Changes()),
		LastInsertID: c.conn.LastInsertRowID(),
	}, nil
}

func (c *Connection) runExecuteMany(sql string, batch [][]any) (*Result, error) {
	if c.conn == nil {
		return nil, errors.New("pool: connection closed")
	}

	stmt, err := c.conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("pool: prepare failed: %w", err)
	}

	var affected int64
	for _, params := range batch {
		stmt.Reset()
		if err := bindParams(stmt, params); err != nil {
			return nil, fmt.Errorf("pool: bind failed: %w", err)
		}
		if _, err := stmt.Step(); err != nil {
			return nil, fmt.Errorf("pool: executemany step failed: %w", err)
		}
		affected += int64(c.conn.Changes())
	}

	return &Result{RowsAffected: affected}, nil
}

func (c *Connection) runFetch(sql string, params []any) (*Result, error) {
	if c.conn == nil {
		return nil, errors.New("pool: connection closed")
	}

	var rows []Row
	resultFn := func(stmt *sqlite.Stmt) error {
		rows = append(rows, extractRow(stmt))
		return nil
	}

	if err := sqlitex.Exec(c.conn, sql, resultFn, params...); err != nil {
		return nil, fmt.Errorf("pool: fetch failed: %w", err)
	}

	return &Result{Rows: rows}, nil
}

// extractRow converts the current result row of stmt into a Row,
// keeping the last value for any duplicate column name per spec §4.1.
func extractRow(stmt *sqlite.Stmt) Row {
	n := stmt.ColumnCount()
	row := make(Row, 0, n)
	index := make(map[string]int, n)

	for i := 0; i < n; i++ {
		name := stmt.ColumnName(i)
		val := columnValue(stmt, i)
		if pos, ok := index[name]; ok {
			row[pos].Value = val
			continue
		}
		index[name] = len(row)
		row = append(row, Column{Name: name, Value: val})
	}
	return row
}

func columnValue(stmt *sqlite.Stmt, i int) Value {
	switch stmt.ColumnType(i) {
	case sqlite.SQLITE_INTEGER:
		return Value{Kind: ValueInt, Int: stmt.ColumnInt64(i)}
	case sqlite.SQLITE_FLOAT:
		return Value{Kind: ValueFloat, Float: stmt.ColumnFloat(i)}
	case sqlite.SQLITE_TEXT:
		return Value{Kind: ValueText, Text: stmt.ColumnText(i)}
	case sqlite.SQLITE_BLOB:
		buf := make([]byte, stmt.ColumnLen(i))
		stmt.ColumnBytes(i, buf)
		return Value{Kind: ValueBlob, Blob: buf}
	default:
		return Value{Kind: ValueNull}
	}
}

// bindParams binds a positional parameter list to a prepared
// statement, used by the hand-rolled executemany loop since
// crawshaw.io/sqlite has no native batched-execute helper.
func bindParams(stmt *sqlite.Stmt, params []any) error {
	for i, p := range params {
		idx := i + 1
		switch v := p.(type) {
		case nil:
			stmt.BindNull(idx)
		case int:
			stmt.BindInt64(idx, int64(v))
		case int64:
			stmt.BindInt64(idx, v)
		case float64:
			stmt.BindFloat(idx, v)
		case string:
			stmt.BindText(idx, v)
		case []byte:
			stmt.BindBytes(idx, v)
		case bool:
			stmt.BindBool(idx, v)
		default:
			return fmt.Errorf("pool: unsupported parameter type %T at position %d", p, i)
		}
	}
	return nil
}

// isConnectionLevelError reports whether err represents a failure of
// the connection itself (I/O, corruption, protocol violation) rather
// than an ordinary SQL error the connection can keep serving after
// (spec §4.4 step (f): "marking it unhealthy only if the driver
// reported a connection-level failure").
func isConnectionLevelError(err error) bool {
	var sqliteErr sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code {
	case sqlite.SQLITE_IOERR, sqlite.SQLITE_CORRUPT, sqlite.SQLITE_NOTADB,
		sqlite.SQLITE_PROTOCOL, sqlite.SQLITE_CANTOPEN, sqlite.SQLITE_NOMEM:
		return true
	default:
		return false
	}
}
