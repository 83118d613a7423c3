package executor

import (
	"testing"
	"time"
)

var zeroTime = time.Time{}

func TestPriorityQueueOrdersByPriorityThenArrival(t *testing.T) {
	q := newPriorityQueue()

	low := newRequest(0, "low", nil, nil, PriorityLow, zeroTime)
	normal1 := newRequest(0, "normal1", nil, nil, PriorityNormal, zeroTime)
	normal2 := newRequest(0, "normal2", nil, nil, PriorityNormal, zeroTime)
	critical := newRequest(0, "critical", nil, nil, PriorityCritical, zeroTime)

	q.enqueue(low)
	q.enqueue(normal1)
	q.enqueue(critical)
	q.enqueue(normal2)

	want := []string{"critical", "normal1", "normal2", "low"}
	for _, w := range want {
		got := q.dequeue()
		if got == nil || got.SQL != w {
			t.Fatalf("dequeue() = %v, want %q", got, w)
		}
	}

	if q.dequeue() != nil {
		t.Error("dequeue on empty queue should return nil")
	}
}

func TestPriorityQueueLen(t *testing.T) {
	q := newPriorityQueue()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	q.enqueue(newRequest(0, "a", nil, nil, PriorityNormal, zeroTime))
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	q.dequeue()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after dequeue", q.Len())
	}
}
