package pool

import "context"

// PinnedConn hands one Connection to a caller for a sequence of
// operations that must land on the same underlying handle without the
// BEGIN/COMMIT framing Tx adds — used by callers issuing PRAGMAs or
// maintenance statements that are sensitive to autocommit state (spec
// §4.1, "callers may also acquire a Connection directly").
type PinnedConn struct {
	pool *Pool
	conn *Connection
}

// Pin acquires a Connection from p and returns it wrapped as a
// PinnedConn. The caller must call Release exactly once.
func Pin(ctx context.Context, p *Pool) (*PinnedConn, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &PinnedConn{pool: p, conn: conn}, nil
}

// Execute runs sql directly on the pinned Connection.
func (pc *PinnedConn) Execute(ctx context.Context, sql string, params ...any) (*Result, error) {
	return pc.conn.Run(ctx, KindExecute, sql, params, nil)
}

// FetchAll runs sql directly on the pinned Connection and returns all
// resulting rows.
func (pc *PinnedConn) FetchAll(ctx context.Context, sql string, params ...any) (*Result, error) {
	return pc.conn.Run(ctx, KindFetchAll, sql, params, nil)
}

// Raw runs sql, for PRAGMAs and other statements that are neither a
// plain fetch nor a DML execute, and lets the statement's leading
// keyword choose the Result shape: SELECT, WITH and PRAGMA statements
// return Rows, anything else returns RowsAffected and LastInsertID.
func (pc *PinnedConn) Raw(ctx context.Context, sql string, params ...any) (*Result, error) {
	return pc.conn.Run(ctx, KindRaw, sql, params, nil)
}

// ID returns the identity of the underlying Connection, for logging.
func (pc *PinnedConn) ID() string { return pc.conn.ID }

// Release returns the underlying Connection to the Pool.
func (pc *PinnedConn) Release() { pc.pool.Release(pc.conn) }
