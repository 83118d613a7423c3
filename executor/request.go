// Package executor schedules database Requests onto a fixed pool of
// worker goroutines in priority order, as described in spec §5
// (Executor / Scheduling).
package executor

import (
	"context"
	"time"

	"github.com/webquery/websqlite3/pool"
)

// Priority orders pending Requests; higher values run first. The
// ordering CRITICAL > HIGH > NORMAL > LOW matches spec §3's priority
// enumeration.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Request is one unit of scheduled work: a single statement, batch, or
// transaction-control operation bound for some Connection, carrying
// its own priority and deadline (spec §4.1).
type Request struct {
	Kind     pool.RequestKind
	SQL      string
	Params   []any
	Batch    [][]any
	Priority Priority
	Deadline time.Time // zero means no deadline

	// seq is assigned by the Queue at enqueue time and breaks ties
	// between Requests of equal Priority in arrival order (spec §4.2,
	// "FIFO among equal priorities").
	seq int64

	result chan outcome
}

type outcome struct {
	res *pool.Result
	err error
}

// newRequest builds a Request with its result channel initialized;
// callers use Submit rather than constructing Requests directly.
func newRequest(kind pool.RequestKind, sql string, params []any, batch [][]any, priority Priority, deadline time.Time) *Request {
	return &Request{
		Kind:     kind,
		SQL:      sql,
		Params:   params,
		Batch:    batch,
		Priority: priority,
		Deadline: deadline,
		result:   make(chan outcome, 1),
	}
}

// expired reports whether the Request's deadline has already passed
// as of now. A zero Deadline never expires.
func (r *Request) expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// boundContext returns the context to run this Request under: either the
// caller's own ctx, or ctx bounded additionally by Deadline.
func (r *Request) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, r.Deadline)
}
