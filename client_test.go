package websqlite3

import (
	"context"
	"errors"
	"testing"

	"github.com/webquery/websqlite3/pool"
)

func setupClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		Connection: ConnectionConfig{Database: "file:" + t.Name() + "?mode=memory&cache=shared"},
		Pool:       PoolSettings{MaxSize: 2, MinSize: 1},
	}
	client, err := Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientExecuteAndFetch(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := client.Execute(ctx, "INSERT INTO t (name) VALUES (?)", []any{"alice"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := client.FetchAll(ctx, "SELECT name FROM t", nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(res.Rows))
	}
}

func TestClientFetchOneTrimsToFirstRow(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, n INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := client.ExecuteMany(ctx, "INSERT INTO t (n) VALUES (?)", [][]any{{1}, {2}, {3}}); err != nil {
		t.Fatalf("executemany: %v", err)
	}

	res, err := client.FetchOne(ctx, "SELECT n FROM t ORDER BY n", nil)
	if err != nil {
		t.Fatalf("fetchone: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(res.Rows))
	}
	v, _ := res.Rows[0].Get("n")
	if v.Int != 1 {
		t.Errorf("n = %d, want 1", v.Int)
	}
}

func TestClientTransactionCommitsOnSuccess(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, n INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := client.Transaction(ctx, func(ctx context.Context, tx *pool.Tx) error {
		_, err := tx.Execute(ctx, "INSERT INTO t (n) VALUES (?)", 1)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	res, err := client.FetchAll(ctx, "SELECT count(*) AS c FROM t", nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	v, _ := res.Rows[0].Get("c")
	if v.Int != 1 {
		t.Errorf("count = %d, want 1", v.Int)
	}
}

func TestClientTransactionRollsBackOnError(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	if _, err := client.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, n INTEGER)", nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errTestBoom
	err := client.Transaction(ctx, func(ctx context.Context, tx *pool.Tx) error {
		if _, err := tx.Execute(ctx, "INSERT INTO t (n) VALUES (?)", 1); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("Transaction error = %v, want %v", err, boom)
	}

	res, err := client.FetchAll(ctx, "SELECT count(*) AS c FROM t", nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	v, _ := res.Rows[0].Get("c")
	if v.Int != 0 {
		t.Errorf("count = %d, want 0 (rollback expected)", v.Int)
	}
}

func TestClientWithTimeoutZeroFailsImmediately(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	_, err := client.Execute(ctx, "SELECT 1", nil, WithTimeout(0))
	if err == nil {
		t.Fatal("expected WithTimeout(0) to fail before touching the driver")
	}
}

func TestClientStatsReportsOccupancy(t *testing.T) {
	client := setupClient(t)
	stats := client.Stats()
	if stats.Pool.Size < 1 {
		t.Errorf("Pool.Size = %d, want >= 1", stats.Pool.Size)
	}
}

func TestClientOpenFailureIsConnectionKind(t *testing.T) {
	cfg := Config{
		Connection: ConnectionConfig{Database: "/nonexistent-dir-websqlite3-test/data.db"},
		Pool:       PoolSettings{MaxSize: 1, MinSize: 1},
	}
	_, err := Open(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected Open to fail for an unopenable database path")
	}
	var werr *Error
	if !errors.As(err, &werr) || werr.Kind != KindConnection {
		t.Errorf("err = %v, want KindConnection", err)
	}
}

var errTestBoom = &Error{Kind: KindQuery, Op: "test", Err: nil}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := setupClient(t)
	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
