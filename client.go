// Package websqlite3 is a concurrent, priority-scheduled access layer
// in front of an embedded SQLite database: a bounded connection pool
// feeding a small worker pool that runs queued Requests in priority
// order, plus transaction scoping on top (spec §1).
package websqlite3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webquery/websqlite3/executor"
	"github.com/webquery/websqlite3/pool"
)

// Priority re-exports executor.Priority so callers never need to
// import the executor package directly.
type Priority = executor.Priority

const (
	PriorityLow      = executor.PriorityLow
	PriorityNormal   = executor.PriorityNormal
	PriorityHigh     = executor.PriorityHigh
	PriorityCritical = executor.PriorityCritical
)

// QueryOption configures one call's priority and deadline, without
// growing Query/Execute's parameter list per call site.
type QueryOption func(*queryOpts)

type queryOpts struct {
	priority   Priority
	hasTimeout bool
	timeout    time.Duration
}

// WithPriority sets the scheduling priority for a single call.
func WithPriority(p Priority) QueryOption {
	return func(o *queryOpts) { o.priority = p }
}

// WithTimeout bounds a single call's wait for a Connection and its
// run time. A zero duration means the deadline has already passed —
// the call fails immediately with ErrTimeout without touching the
// driver, matching spec §6's literal "timeout=0" scenario.
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOpts) {
		o.hasTimeout = true
		o.timeout = d
	}
}

func resolveOpts(opts []QueryOption) queryOpts {
	o := queryOpts{priority: PriorityNormal}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o queryOpts) deadline(now time.Time) time.Time {
	if !o.hasTimeout {
		return time.Time{}
	}
	return now.Add(o.timeout)
}

// Client is the façade tying a Pool and an Executor together behind
// the request/priority/transaction model described in spec §1-§5.
type Client struct {
	pool *pool.Pool
	exec *executor.Executor
	opts Options

	defaultTimeout time.Duration

	cancel context.CancelFunc
}

// Open builds a Pool and Executor from cfg and starts the Executor's
// worker goroutines.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindConfiguration, "open", err)
	}

	var o Options
	for _, fn := range opts {
		fn(&o)
	}

	pcfg := cfg.poolConfig()
	if o.Clock != nil {
		pcfg.Clock = o.Clock
	}
	if cfg.Pool.Echo {
		pcfg.Echo = true
		pcfg.Logger = o.Logger
		if pcfg.Logger == nil {
			pcfg.Logger = slog.Default()
		}
	}

	p, err := pool.Open(pcfg)
	if err != nil {
		return nil, newError(KindConnection, "open", err)
	}

	ecfg := cfg.executorConfig()
	if o.WorkerCount > 0 {
		ecfg.Workers = o.WorkerCount
	}
	if o.Clock != nil {
		ecfg.Clock = o.Clock
	}

	execCtx, cancel := context.WithCancel(context.Background())
	e := executor.New(execCtx, p, ecfg)

	return &Client{pool: p, exec: e, opts: o, defaultTimeout: cfg.defaultTimeout(), cancel: cancel}, nil
}

// Execute runs a single statement and returns the rows-affected/last-
// insert-id outcome.
func (c *Client) Execute(ctx context.Context, sql string, params []any, opts ...QueryOption) (*pool.Result, error) {
	return c.submit(ctx, pool.KindExecute, sql, params, nil, opts)
}

// ExecuteMany runs sql once per row of batch.
func (c *Client) ExecuteMany(ctx context.Context, sql string, batch [][]any, opts ...QueryOption) (*pool.Result, error) {
	return c.submit(ctx, pool.KindExecuteMany, sql, nil, batch, opts)
}

// FetchOne runs sql and returns only its first row, if any.
func (c *Client) FetchOne(ctx context.Context, sql string, params []any, opts ...QueryOption) (*pool.Result, error) {
	res, err := c.submit(ctx, pool.KindFetchOne, sql, params, nil, opts)
	if err != nil || res == nil || len(res.Rows) <= 1 {
		return res, err
	}
	res.Rows = res.Rows[:1]
	return res, err
}

// FetchAll runs sql and returns every matching row.
func (c *Client) FetchAll(ctx context.Context, sql string, params []any, opts ...QueryOption) (*pool.Result, error) {
	return c.submit(ctx, pool.KindFetchAll, sql, params, nil, opts)
}

func (c *Client) submit(ctx context.Context, kind pool.RequestKind, sql string, params []any, batch [][]any, opts []QueryOption) (*pool.Result, error) {
	o := resolveOpts(opts)
	if !o.hasTimeout && c.defaultTimeout > 0 {
		o.hasTimeout = true
		o.timeout = c.defaultTimeout
	}

	now := time.Now()
	if clk := c.opts.Clock; clk != nil {
		now = clk.Now()
	}

	start := now
	future, err := c.exec.Submit(kind, sql, params, batch, o.priority, o.deadline(now))
	if err != nil {
		return nil, newError(KindClosed, "submit", err)
	}

	res, err := future.Wait(ctx)
	if c.opts.Observer != nil {
		elapsed := time.Since(start)
		if clk := c.opts.Clock; clk != nil {
			elapsed = clk.Now().Sub(start)
		}
		c.opts.Observer.ObserveQuery(kind.String(), elapsed, err)
	}
	if err != nil {
		return nil, classifyClientError("submit", err)
	}
	return res, nil
}

// Transaction runs fn within a Tx acquired directly from the Pool,
// bypassing the Executor's queue — BEGIN/COMMIT/ROLLBACK must all land
// on the same Connection, which priority-queued submission to a
// multi-worker executor cannot guarantee (spec §4.5). fn's error, if
// any, triggers a Rollback; otherwise the Tx is committed.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context, tx *pool.Tx) error) error {
	tx, err := pool.Begin(ctx, c.pool)
	if err != nil {
		return classifyTransactionError("transaction", err)
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTransactionError("transaction", err)
	}
	return nil
}

// Acquire hands the caller a Connection directly, bypassing the
// Executor's priority queue, for callers issuing PRAGMAs or other
// statements sensitive to autocommit framing (spec §4.6's "scoped
// acquisition without BEGIN/COMMIT framing").
func (c *Client) Acquire(ctx context.Context) (*pool.PinnedConn, error) {
	pc, err := pool.Pin(ctx, c.pool)
	if err != nil {
		return nil, classifyClientError("acquire", err)
	}
	return pc, nil
}

// Stats reports the combined pool/executor occupancy, matching the
// shape described in spec §7.
type Stats struct {
	Pool     pool.Stats
	Executor executor.Stats
}

// Stats returns a point-in-time snapshot of the Client's state.
func (c *Client) Stats() Stats {
	return Stats{Pool: c.pool.Stats(), Executor: c.exec.Stats()}
}

// Close stops the Executor's workers and closes the underlying Pool.
// It first cancels the context the workers run under, which interrupts
// any statement already executing, then closes the Executor (still
// queued Requests resolve with executor.ErrShutdown) and waits up to
// Options.ShutdownGrace (default 5s) for the workers to return before
// closing the Pool regardless, matching spec §6's bounded-grace
// shutdown.
func (c *Client) Close() error {
	grace := c.opts.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	c.cancel()

	done := make(chan error, 1)
	go func() { done <- c.exec.Close() }()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("executor close error", "error", err)
		}
	case <-time.After(grace):
		slog.Warn("executor did not drain within shutdown grace period", "grace", grace)
	}

	if err := c.pool.Close(); err != nil {
		return fmt.Errorf("websqlite3: close: %w", err)
	}
	return nil
}

func classifyClientError(op string, err error) error {
	if err == nil {
		return nil
	}
	// A Request dropped from the queue by Future.Cancel or Executor.Close
	// (own cancelled ctx, or the Client shutting down) surfaces the same
	// way an operation after Close does: refused, not a driver failure.
	if errors.Is(err, executor.ErrShutdown) || errors.Is(err, context.Canceled) {
		return newError(KindClosed, op, err)
	}
	// Pool exhaustion is checked before the generic deadline check: a
	// request-scoped deadline expiring while still waiting on Acquire
	// and one expiring mid-execution both surface as
	// context.DeadlineExceeded, but only the pool package can tell them
	// apart (spec §4.2/§7's "pool_exhausted" vs "timeout").
	if errors.Is(err, pool.ErrPoolExhausted) {
		return newError(KindPoolExhausted, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, op, err)
	}
	return newError(KindQuery, op, err)
}

// classifyTransactionError is classifyClientError specialized for
// Client.Transaction: a BEGIN/COMMIT/ROLLBACK failure that isn't
// actually a pool-exhaustion, timeout, or shutdown surfaces as
// TransactionError rather than the generic QueryError fallback (spec
// §7's "Transaction" row: "BEGIN/COMMIT/ROLLBACK failure... surfaced
// as TransactionError").
func classifyTransactionError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, executor.ErrShutdown) || errors.Is(err, context.Canceled) {
		return newError(KindClosed, op, err)
	}
	if errors.Is(err, pool.ErrPoolExhausted) {
		return newError(KindPoolExhausted, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, op, err)
	}
	return newError(KindTransaction, op, err)
}
