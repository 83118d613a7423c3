package executor

import (
	"context"

	"github.com/webquery/websqlite3/pool"
)

// Future is the caller-facing handle returned by Submit. It resolves
// once a worker has run the Request, matching the original's
// awaitable-future submission model (spec §5.2).
type Future struct {
	req  *Request
	exec *Executor
}

// Wait blocks until the Request completes or ctx is cancelled,
// whichever happens first. If ctx is cancelled before a worker has
// claimed the Request, Wait drops it from the queue (spec §5,
// "cancelling the awaiting caller... if the Request has not started,
// it is dropped from the queue"); if a worker already claimed it, the
// worker keeps running it to completion for no one.
func (f *Future) Wait(ctx context.Context) (*pool.Result, error) {
	select {
	case out := <-f.req.result:
		return out.res, out.err
	case <-ctx.Done():
		f.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel drops the Request from the priority queue if a worker has not
// yet claimed it, resolving the Future with ErrShutdown. It reports
// whether the Request was still queued; false means a worker already
// claimed it or it has already resolved.
func (f *Future) Cancel() bool {
	return f.exec.cancel(f.req)
}

func (f *Future) deliver(res *pool.Result, err error) {
	f.req.result <- outcome{res: res, err: err}
}
