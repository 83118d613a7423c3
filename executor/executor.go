package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webquery/websqlite3/internal/clock"
	"github.com/webquery/websqlite3/pool"
)

// ErrShutdown is delivered to a Request's Future when the Request is
// dropped from the queue before a worker claims it, whether because the
// caller cancelled its own wait or because the Executor is closing
// (spec §5, "close() cancels all outstanding Requests with Shutdown").
// Submit also returns it, wrapped, once Close has been called.
var ErrShutdown = errors.New("executor: request dropped before it started")

// Config configures an Executor.
type Config struct {
	// Workers is the number of goroutines pulling Requests off the
	// queue. When zero, New starts a single worker; the root package's
	// Config defaults it to the Pool's MaxSize before calling New (spec
	// §9 Open Question 3), since that is the most Connections that
	// could ever be in flight at once.
	Workers int
	Clock   clock.Clock
}

// Executor pulls Requests off a priority queue and runs each on a
// Connection acquired from a pool.Pool, using a fixed worker pool
// the way the original's single-threaded event loop serialized work
// onto one connection at a time, generalized here to N concurrent
// workers bounded by the Pool's own MaxSize (spec §5).
type Executor struct {
	pool *pool.Pool
	cfg  Config

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *priorityQueue
	closed  bool
	closeCh chan struct{}

	group *errgroup.Group

	activeWorkers atomic.Int64
	totalExecuted atomic.Int64
	totalFailed   atomic.Int64
	totalTimedOut atomic.Int64
}

// New creates an Executor bound to p and starts its worker goroutines.
// Callers must call Close to stop the workers and release resources.
func New(ctx context.Context, p *pool.Pool, cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	group, gctx := errgroup.WithContext(ctx)

	e := &Executor{
		pool:    p,
		cfg:     cfg,
		queue:   newPriorityQueue(),
		closeCh: make(chan struct{}),
		group:   group,
	}
	e.cond = sync.NewCond(&e.mu)

	go func() {
		select {
		case <-gctx.Done():
		case <-e.closeCh:
		}
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	}()

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			e.workerLoop(gctx)
			return nil
		})
	}

	return e
}

// Submit enqueues a Request and returns a Future the caller can Wait
// on. Submit never blocks on the database itself — only a full
// in-memory queue (which this implementation does not bound) could
// block it, matching spec §4.2's "scheduling never blocks on I/O".
func (e *Executor) Submit(kind pool.RequestKind, sql string, params []any, batch [][]any, priority Priority, deadline time.Time) (*Future, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("executor: closed: %w", ErrShutdown)
	}
	req := newRequest(kind, sql, params, batch, priority, deadline)
	e.queue.enqueue(req)
	e.cond.Signal()
	e.mu.Unlock()

	return &Future{req: req, exec: e}, nil
}

// cancel removes req from the queue if a worker has not yet claimed
// it and resolves it with ErrShutdown. It reports whether req was
// still queued.
func (e *Executor) cancel(req *Request) bool {
	e.mu.Lock()
	removed := e.queue.remove(req)
	e.mu.Unlock()
	if !removed {
		return false
	}
	req.result <- outcome{err: ErrShutdown}
	return true
}

// workerLoop is the body run by each worker goroutine: claim the
// highest-priority ready Request, run it on an acquired Connection,
// deliver the outcome, repeat until the Executor is closed.
func (e *Executor) workerLoop(ctx context.Context) {
	for {
		req := e.next(ctx)
		if req == nil {
			return
		}
		e.run(ctx, req)
	}
}

// next blocks until a Request is ready to claim, the Executor is
// closed, or ctx is done, waking on cond.Signal from Submit (one
// waiter per submitted Request) or cond.Broadcast on Close, the same
// way sync.Cond-based worker pools in the examples hand work to idle
// goroutines without polling.
func (e *Executor) next(ctx context.Context) *Request {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		if req := e.queue.dequeue(); req != nil {
			return req
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.closeCh:
			return nil
		default:
		}
		e.cond.Wait()
	}
}

func (e *Executor) run(ctx context.Context, req *Request) {
	f := &Future{req: req, exec: e}

	e.activeWorkers.Add(1)
	defer e.activeWorkers.Add(-1)

	now := e.cfg.Clock.Now()
	if req.expired(now) {
		e.totalTimedOut.Add(1)
		f.deliver(nil, fmt.Errorf("executor: %w: deadline exceeded before acquire", context.DeadlineExceeded))
		return
	}

	runCtx, cancel := req.boundContext(ctx)
	defer cancel()

	conn, err := e.pool.Acquire(runCtx)
	if err != nil {
		e.totalFailed.Add(1)
		f.deliver(nil, fmt.Errorf("executor: acquire: %w", err))
		return
	}
	defer e.pool.Release(conn)

	res, err := conn.Run(runCtx, req.Kind, req.SQL, req.Params, req.Batch)
	switch {
	case err == nil:
		e.totalExecuted.Add(1)
	case errors.Is(err, context.DeadlineExceeded):
		e.totalTimedOut.Add(1)
	default:
		e.totalFailed.Add(1)
	}
	f.deliver(res, err)
}

// Stats reports the Executor's worker occupancy and lifetime request
// counters, matching the shape described in spec §7.
type Stats struct {
	Queued        int
	Workers       int
	ActiveWorkers int64
	TotalExecuted int64
	TotalFailed   int64
	TotalTimedOut int64
}

// Stats returns a point-in-time snapshot of queue depth and worker
// activity.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	queued := e.queue.Len()
	e.mu.Unlock()
	return Stats{
		Queued:        queued,
		Workers:       e.cfg.Workers,
		ActiveWorkers: e.activeWorkers.Load(),
		TotalExecuted: e.totalExecuted.Load(),
		TotalFailed:   e.totalFailed.Load(),
		TotalTimedOut: e.totalTimedOut.Load(),
	}
}

// Close stops accepting new Requests, drains everything still waiting
// in the queue with ErrShutdown, then signals all workers to return and
// waits for them to finish whatever they already claimed (spec §5,
// "close() — idempotent stop: refuses new submissions, drains queue
// with Shutdown cancellation, stops workers, closes all Connections").
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	drained := e.queue.drain()
	e.cond.Broadcast()
	e.mu.Unlock()

	for _, req := range drained {
		req.result <- outcome{err: ErrShutdown}
	}

	close(e.closeCh)
	return e.group.Wait()
}
