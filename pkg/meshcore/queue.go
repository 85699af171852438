package meshcore

import (
	"log"
	"sync"
	"time"
)

// Flush pacing. One flush runs per engine tick and stops at whichever
// bound hits first, so per-frame processing cost stays capped no matter
// how hard the feed bursts; excess packets wait in the queue.
const (
	DefaultMaxPerFlush = 200
	DefaultFlushBudget = 6 * time.Millisecond
	DefaultMaxQueue    = 5000

	StatsRefreshInterval = 600 * time.Millisecond
)

// IngestQueue buffers packets between the feed goroutines and the engine
// tick. Push is safe for concurrent use; Flush must only run on the
// engine's update tick.
type IngestQueue struct {
	mu    sync.Mutex
	items []*Packet

	MaxQueue    int
	MaxPerFlush int
	FlushBudget time.Duration

	dropped  int64
	dropLast time.Time
}

func NewIngestQueue() *IngestQueue {
	return &IngestQueue{
		MaxQueue:    DefaultMaxQueue,
		MaxPerFlush: DefaultMaxPerFlush,
		FlushBudget: DefaultFlushBudget,
	}
}

// Push enqueues one packet. When the backlog cap is hit the packet is
// dropped; the feed is best-effort and a later summary poll reconciles.
func (q *IngestQueue) Push(p *Packet) {
	if p == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.MaxQueue {
		q.dropped++
		if time.Since(q.dropLast) > 5*time.Second {
			q.dropLast = time.Now()
			log.Printf("Ingest queue full (%d), dropping packets (total dropped: %d)", len(q.items), q.dropped)
		}
		return
	}
	q.items = append(q.items, p)
}

func (q *IngestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *IngestQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Flush dequeues and applies packets until the item cap or the time
// budget is exhausted, then yields. The clock is injectable so the
// budget bound is testable.
func (q *IngestQueue) Flush(pr *Processor, clock func() time.Time) (ApplyResult, int) {
	var res ApplyResult
	if clock == nil {
		clock = time.Now
	}
	start := clock()
	processed := 0
	for processed < q.MaxPerFlush {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		p := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		res.merge(pr.Apply(p, start))
		processed++

		if clock().Sub(start) >= q.FlushBudget {
			break
		}
	}
	return res, processed
}

// Throttle rate-limits repeated work to a fixed interval, used for the
// stats-only refresh path after flushes that changed nothing visual.
type Throttle struct {
	Interval time.Duration
	last     time.Time
}

func (t *Throttle) Ready(now time.Time) bool {
	if now.Sub(t.last) < t.Interval {
		return false
	}
	t.last = now
	return true
}
