package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/webquery/websqlite3/internal/clock"
)

func setupPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = "file:" + t.Name() + "?mode=memory&cache=shared"
	}
	p, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolAcquireRelease(t *testing.T) {
	p := setupPool(t, Config{MaxSize: 2, MinSize: 1})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if conn == nil {
		t.Fatal("Acquire returned nil connection")
	}

	stats := p.Stats()
	if stats.InUse != 1 {
		t.Errorf("InUse = %d, want 1", stats.InUse)
	}

	p.Release(conn)
	stats = p.Stats()
	if stats.InUse != 0 {
		t.Errorf("InUse after release = %d, want 0", stats.InUse)
	}
}

func TestPoolAcquireBlocksAtMaxSize(t *testing.T) {
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	if err == nil {
		t.Fatal("second Acquire should have blocked and timed out")
	}
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Acquire err = %v, want errors.Is(err, ErrPoolExhausted)", err)
	}

	p.Release(conn)
}

func TestPoolAcquireDistinguishesExhaustionFromExecutionTimeout(t *testing.T) {
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(conn)

	// Every connection is held, so this Acquire fails purely from
	// contention — never touching the driver — and must be classified
	// as exhaustion even though a request-scoped deadline (not the
	// pool's own AcquireTimeout) is what actually expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("err = %v, want errors.Is(err, ErrPoolExhausted)", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want the underlying context.DeadlineExceeded still reachable via errors.Is", err)
	}
}

func TestPoolSweepEvictsIdleConnectionsAboveMinSize(t *testing.T) {
	fake := clock.NewFake(time.Now())
	p := setupPool(t, Config{
		MaxSize:       3,
		MinSize:       1,
		MaxIdleTime:   time.Minute,
		SweepInterval: 10 * time.Millisecond,
		Clock:         fake,
	})

	var conns []*Connection
	for i := 0; i < 3; i++ {
		conn, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		p.Release(conn)
	}
	if stats := p.Stats(); stats.Size != 3 {
		t.Fatalf("Size after releasing all = %d, want 3", stats.Size)
	}

	fake.Advance(2 * time.Minute)

	// No Acquire call happens here: the background sweep, not
	// traffic-driven recycling, must shed connections above MinSize.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().Size == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Size = %d after idle sweep, want 1 (MinSize)", p.Stats().Size)
}

func TestPoolRecyclesOnMaxIdleTime(t *testing.T) {
	fake := clock.NewFake(time.Now())
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1, MaxIdleTime: time.Minute, Clock: fake})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	firstID := conn.ID
	p.Release(conn)

	fake.Advance(2 * time.Minute)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if conn2.ID == firstID {
		t.Error("idle-expired connection should have been recycled, not reused")
	}
	p.Release(conn2)
}

func TestPoolRecyclesOnMaxLifetime(t *testing.T) {
	fake := clock.NewFake(time.Now())
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1, MaxLifetime: time.Hour, Clock: fake})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	firstID := conn.ID
	p.Release(conn)

	fake.Advance(2 * time.Hour)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if conn2.ID == firstID {
		t.Error("aged-out connection should have been recycled, not reused")
	}
	p.Release(conn2)
}

func TestPoolRecyclesUnhealthyConnection(t *testing.T) {
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	firstID := conn.ID
	conn.markUnhealthy()
	p.Release(conn)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if conn2.ID == firstID {
		t.Error("unhealthy connection should have been recycled, not reused")
	}
	p.Release(conn2)
}

func TestPoolCloseUnblocksWaiters(t *testing.T) {
	p := setupPool(t, Config{MaxSize: 1, MinSize: 1})

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_ = conn

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Acquire on a closing pool should have failed")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Close")
	}
}
