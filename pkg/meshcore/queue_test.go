package meshcore

import (
	"testing"
	"time"
)

func fillQueue(q *IngestQueue, n int) {
	base := time.Unix(1700000000, 0).Unix()
	for i := 0; i < n; i++ {
		q.Push(textPacket(uint32(i%10+1), uint32(i%10+2), "x", base))
	}
}

func TestQueuePushDropsAtCap(t *testing.T) {
	q := NewIngestQueue()
	q.MaxQueue = 10
	fillQueue(q, 15)
	if q.Len() != 10 {
		t.Errorf("Len = %d, want 10", q.Len())
	}
	if q.Dropped() != 5 {
		t.Errorf("Dropped = %d, want 5", q.Dropped())
	}
	q.Push(nil)
	if q.Len() != 10 {
		t.Error("nil push changed the queue")
	}
}

func TestFlushStopsAtItemCap(t *testing.T) {
	q := NewIngestQueue()
	q.MaxPerFlush = 5
	fillQueue(q, 20)

	pr := NewProcessor(NewState(), nil)
	// A frozen clock never exhausts the time budget.
	frozen := time.Unix(1700000000, 0)
	_, processed := q.Flush(pr, func() time.Time { return frozen })
	if processed != 5 {
		t.Errorf("processed = %d, want 5", processed)
	}
	if q.Len() != 15 {
		t.Errorf("remaining = %d, want 15", q.Len())
	}
}

func TestFlushStopsAtTimeBudget(t *testing.T) {
	q := NewIngestQueue()
	q.MaxPerFlush = 1000
	q.FlushBudget = 6 * time.Millisecond
	fillQueue(q, 100)

	// Each apply "costs" 2ms on the fake clock, so the budget admits 3
	// packets before the post-item check trips.
	current := time.Unix(1700000000, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls > 1 {
			current = current.Add(2 * time.Millisecond)
		}
		return current
	}
	pr := NewProcessor(NewState(), nil)
	_, processed := q.Flush(pr, clock)
	if processed != 3 {
		t.Errorf("processed = %d, want 3", processed)
	}
	if q.Len() != 97 {
		t.Errorf("remaining = %d", q.Len())
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	q := NewIngestQueue()
	pr := NewProcessor(NewState(), nil)
	res, processed := q.Flush(pr, nil)
	if processed != 0 || res.Processed {
		t.Errorf("processed=%d res=%+v", processed, res)
	}
}

func TestFlushDrainsBacklogAcrossCalls(t *testing.T) {
	q := NewIngestQueue()
	q.MaxPerFlush = 50
	fillQueue(q, 120)

	pr := NewProcessor(NewState(), nil)
	frozen := time.Unix(1700000000, 0)
	clock := func() time.Time { return frozen }
	total := 0
	for i := 0; i < 3; i++ {
		_, n := q.Flush(pr, clock)
		total += n
	}
	if total != 120 || q.Len() != 0 {
		t.Errorf("total=%d remaining=%d", total, q.Len())
	}
}

func TestThrottle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	th := Throttle{Interval: 600 * time.Millisecond}
	if !th.Ready(now) {
		t.Error("first call should be ready")
	}
	if th.Ready(now.Add(300 * time.Millisecond)) {
		t.Error("ready again inside the interval")
	}
	if !th.Ready(now.Add(700 * time.Millisecond)) {
		t.Error("not ready after the interval")
	}
}
