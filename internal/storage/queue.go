package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 10000
	defaultBatchSize = 100

	// insertWait bounds how long a full queue may hold up a producer before
	// the record is dropped.
	insertWait = 100 * time.Millisecond

	// collectWindow is how long the writer gathers a batch after the first
	// record arrives.
	collectWindow = 100 * time.Millisecond

	flushPoll = 50 * time.Millisecond
)

// QueueStats is a snapshot of write-queue counters.
type QueueStats struct {
	Queued   int64 `json:"queued_total"`
	Written  int64 `json:"written_total"`
	Dropped  int64 `json:"dropped_total"`
	Errors   int64 `json:"errors_total"`
	Depth    int   `json:"queue_size"`
	Capacity int   `json:"max_queue_size"`
}

// WriteQueue decouples generation workers from SQLite. Producers enqueue
// records without blocking on disk; a single writer goroutine drains the
// queue in batches. Under sustained overload records are dropped (and
// counted) rather than stalling the pipeline.
type WriteQueue struct {
	store     *Store
	ch        chan Record
	batchSize int

	queued  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64
	errs    atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWriteQueue builds a queue in front of store. queueSize and batchSize
// fall back to defaults when <= 0.
func NewWriteQueue(store *Store, queueSize, batchSize int) *WriteQueue {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &WriteQueue{
		store:     store,
		ch:        make(chan Record, queueSize),
		batchSize: batchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (q *WriteQueue) Start() {
	q.startOnce.Do(func() {
		go q.writer()
	})
}

// Insert enqueues a record for persistence. It never blocks for more than
// insertWait; when the queue stays full the record is dropped and counted.
// The return value reports whether the record was accepted.
func (q *WriteQueue) Insert(rec Record) bool {
	select {
	case q.ch <- rec:
		q.queued.Add(1)
		return true
	default:
	}

	t := time.NewTimer(insertWait)
	defer t.Stop()
	select {
	case q.ch <- rec:
		q.queued.Add(1)
		return true
	case <-t.C:
	case <-q.stop:
	}
	q.dropped.Add(1)
	slog.Warn("write queue full, dropping example", "scenario_id", rec.ScenarioID, "depth", len(q.ch))
	return false
}

// Flush waits until every accepted record has been written (or failed).
func (q *WriteQueue) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pending := q.queued.Load() - q.written.Load() - q.errs.Load()
		if pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("flush timed out with %d records pending", pending)
		}
		time.Sleep(flushPoll)
	}
}

// Stop drains whatever is queued and stops the writer. Safe to call more
// than once.
func (q *WriteQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
		<-q.done
	})
}

// Stats returns a snapshot of the queue counters.
func (q *WriteQueue) Stats() QueueStats {
	return QueueStats{
		Queued:   q.queued.Load(),
		Written:  q.written.Load(),
		Dropped:  q.dropped.Load(),
		Errors:   q.errs.Load(),
		Depth:    len(q.ch),
		Capacity: cap(q.ch),
	}
}

func (q *WriteQueue) writer() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		case rec := <-q.ch:
			q.flush(q.collect(rec))
		}
	}
}

// collect gathers up to batchSize records, waiting at most collectWindow
// after the first one.
func (q *WriteQueue) collect(first Record) []Record {
	batch := make([]Record, 1, q.batchSize)
	batch[0] = first

	t := time.NewTimer(collectWindow)
	defer t.Stop()
	for len(batch) < q.batchSize {
		select {
		case rec := <-q.ch:
			batch = append(batch, rec)
		case <-t.C:
			return batch
		}
	}
	return batch
}

// drain empties the queue synchronously during shutdown.
func (q *WriteQueue) drain() {
	batch := make([]Record, 0, q.batchSize)
	for {
		select {
		case rec := <-q.ch:
			batch = append(batch, rec)
			if len(batch) == q.batchSize {
				q.flush(batch)
				batch = make([]Record, 0, q.batchSize)
			}
		default:
			q.flush(batch)
			return
		}
	}
}

func (q *WriteQueue) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	if err := q.store.WriteBatch(batch); err != nil {
		q.errs.Add(int64(len(batch)))
		slog.Error("write queue batch failed", "size", len(batch), "error", err)
		return
	}
	q.written.Add(int64(len(batch)))
}
