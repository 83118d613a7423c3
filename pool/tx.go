package pool

import (
	"context"
	"fmt"
	"sync"
)

// Tx pins one Connection for the lifetime of a transaction, following
// the scoping rules in spec §4.5: every statement issued through a Tx
// runs on the same Connection, and the Connection is always returned
// to the Pool on Commit, Rollback, or Close, never left checked out.
type Tx struct {
	pool *Pool
	conn *Connection

	mu        sync.Mutex
	done      bool
	isolation string
}

// Begin acquires a Connection from p and issues BEGIN, optionally with
// the isolation level from p's Config (spec §9 Open Question 4: the
// Pool's configured isolation level always wins).
func Begin(ctx context.Context, p *Pool) (*Tx, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: begin: %w", err)
	}

	begin := "BEGIN"
	if p.cfg.IsolationLevel != "" {
		begin = fmt.Sprintf("BEGIN %s", p.cfg.IsolationLevel)
	}

	if _, err := conn.Run(ctx, KindBegin, begin, nil, nil); err != nil {
		p.Release(conn)
		return nil, fmt.Errorf("pool: begin: %w", err)
	}

	return &Tx{pool: p, conn: conn, isolation: p.cfg.IsolationLevel}, nil
}

// Execute runs a single statement on the Tx's pinned Connection.
func (tx *Tx) Execute(ctx context.Context, sql string, params ...any) (*Result, error) {
	return tx.run(ctx, KindExecute, sql, params, nil)
}

// ExecuteMany runs sql once per row of batch on the Tx's pinned
// Connection, matching executemany semantics (spec §4.1).
func (tx *Tx) ExecuteMany(ctx context.Context, sql string, batch [][]any) (*Result, error) {
	return tx.run(ctx, KindExecuteMany, sql, nil, batch)
}

// FetchOne runs sql and returns only its first row (or none).
func (tx *Tx) FetchOne(ctx context.Context, sql string, params ...any) (*Result, error) {
	res, err := tx.run(ctx, KindFetchOne, sql, params, nil)
	if err != nil || res == nil || len(res.Rows) <= 1 {
		return res, err
	}
	res.Rows = res.Rows[:1]
	return res, err
}

// FetchAll runs sql and returns every row.
func (tx *Tx) FetchAll(ctx context.Context, sql string, params ...any) (*Result, error) {
	return tx.run(ctx, KindFetchAll, sql, params, nil)
}

func (tx *Tx) run(ctx context.Context, kind RequestKind, sql string, params []any, batch [][]any) (*Result, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil, fmt.Errorf("pool: transaction already closed")
	}
	return tx.conn.Run(ctx, kind, sql, params, batch)
}

// Commit issues COMMIT and releases the pinned Connection back to the
// Pool. Calling Commit more than once is an error.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return fmt.Errorf("pool: transaction already closed")
	}
	_, err := tx.conn.Run(ctx, KindCommit, "COMMIT", nil, nil)
	tx.done = true
	// A failed COMMIT can leave the connection mid-transaction with
	// contested locks (e.g. SQLITE_BUSY), a state Release's ordinary
	// health check never sees since it isn't a connection-level driver
	// error. Spec §4.5 marks the connection unhealthy unconditionally
	// on COMMIT/ROLLBACK failure so it is discarded, not recycled.
	if err != nil {
		tx.conn.markUnhealthy()
	}
	tx.pool.Release(tx.conn)
	return err
}

// Rollback issues ROLLBACK and releases the pinned Connection back to
// the Pool. Calling Rollback after Commit, or more than once, is a
// no-op, mirroring the original's "rollback never raises on an already
// closed transaction" behavior.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.done {
		return nil
	}
	_, err := tx.conn.Run(ctx, KindRollback, "ROLLBACK", nil, nil)
	tx.done = true
	if err != nil {
		tx.conn.markUnhealthy()
	}
	tx.pool.Release(tx.conn)
	return err
}

// Close rolls back the transaction if it was never committed or rolled
// back explicitly, guaranteeing the pinned Connection is always
// returned to the Pool (spec §4.5, "always released").
func (tx *Tx) Close(ctx context.Context) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()
	return tx.Rollback(ctx)
}
