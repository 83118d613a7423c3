package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webquery/websqlite3"
)

func priorityFromFlag(s string) websqlite3.Priority {
	switch s {
	case "low":
		return websqlite3.PriorityLow
	case "high":
		return websqlite3.PriorityHigh
	case "critical":
		return websqlite3.PriorityCritical
	default:
		return websqlite3.PriorityNormal
	}
}

func openClient(ctx context.Context) (*websqlite3.Client, error) {
	dbPath, maxSize, minSize, workers := configFromViper()
	if err := requireDB(dbPath); err != nil {
		return nil, err
	}

	cfg := websqlite3.Config{
		Connection: websqlite3.ConnectionConfig{Database: dbPath},
		Pool:       websqlite3.PoolSettings{MaxSize: maxSize, MinSize: minSize},
		Workers:    workers,
	}

	client, err := websqlite3.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("wsql3: open: %w", err)
	}
	return client, nil
}

func runFetch(ctx context.Context, sql string, params []any, priority string) error {
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.FetchAll(ctx, sql, params, websqlite3.WithPriority(priorityFromFlag(priority)))
	if err != nil {
		return fmt.Errorf("wsql3: query: %w", err)
	}

	for _, row := range res.Rows {
		fmt.Println(row.Map())
	}
	slog.Info("query complete", "rows", len(res.Rows), "elapsed", res.Elapsed)
	return nil
}

func runExecute(ctx context.Context, sql string, params []any, priority string) error {
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Execute(ctx, sql, params, websqlite3.WithPriority(priorityFromFlag(priority)))
	if err != nil {
		return fmt.Errorf("wsql3: exec: %w", err)
	}

	slog.Info("exec complete", "rows_affected", res.RowsAffected, "last_insert_id", res.LastInsertID, "elapsed", res.Elapsed)
	return nil
}

func printStats(ctx context.Context) error {
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	stats := client.Stats()
	fmt.Printf("pool: size=%d idle=%d in_use=%d waiters=%d created_total=%d closed_total=%d\n",
		stats.Pool.Size, stats.Pool.Idle, stats.Pool.InUse, stats.Pool.Waiters, stats.Pool.CreatedTotal, stats.Pool.ClosedTotal)
	fmt.Printf("executor: queued=%d workers=%d active_workers=%d total_executed=%d total_failed=%d total_timed_out=%d\n",
		stats.Executor.Queued, stats.Executor.Workers, stats.Executor.ActiveWorkers,
		stats.Executor.TotalExecuted, stats.Executor.TotalFailed, stats.Executor.TotalTimedOut)
	return nil
}
