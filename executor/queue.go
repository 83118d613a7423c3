package executor

import "container/heap"

// priorityQueue orders pending Requests by Priority, breaking ties by
// arrival order (seq), using container/heap the way
// bureau-ticket-service's gate.go orders its timer wheel — a small
// heap.Interface type rather than a hand-rolled sorted slice.
type priorityQueue struct {
	items   []*Request
	nextSeq int64
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{}
}

func (q *priorityQueue) Len() int { return len(q.items) }

func (q *priorityQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (q *priorityQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *priorityQueue) Push(x any) {
	q.items = append(q.items, x.(*Request))
}

func (q *priorityQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = nil
	q.items = q.items[:n-1]
	return item
}

// enqueue adds req to the queue, stamping it with the next arrival
// sequence number for FIFO tie-breaking.
func (q *priorityQueue) enqueue(req *Request) {
	req.seq = q.nextSeq
	q.nextSeq++
	heap.Push(q, req)
}

// dequeue removes and returns the highest-priority, earliest-arrived
// Request, or nil if the queue is empty.
func (q *priorityQueue) dequeue() *Request {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*Request)
}

// remove deletes req from the queue if it is still waiting to be
// claimed, reporting whether it was found. Used by Future.Cancel to
// drop an unstarted Request (spec §5, "if the Request has not started,
// it is dropped from the queue"); Executor.Close empties the whole
// queue with drain instead.
func (q *priorityQueue) remove(req *Request) bool {
	for i, item := range q.items {
		if item == req {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

// drain empties the queue and returns everything it held, for
// Executor.Close to resolve with a Shutdown error rather than leaving
// them to run after the caller has stopped waiting.
func (q *priorityQueue) drain() []*Request {
	items := q.items
	q.items = nil
	return items
}
