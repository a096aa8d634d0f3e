package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/dexterai/traingen/internal/example"
)

func TestWriteQueue_WritesThrough(t *testing.T) {
	s := openTestStore(t)
	q := NewWriteQueue(s, 100, 10)
	q.Start()
	defer q.Stop()

	for i := 0; i < 25; i++ {
		if !q.Insert(testRecord(t, fmt.Sprintf("scen-%d", i), example.StatusValid)) {
			t.Fatalf("Insert %d rejected with free capacity", i)
		}
	}
	if err := q.Flush(5 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 25 {
		t.Errorf("total = %d, want 25", st.Total)
	}

	qs := q.Stats()
	if qs.Written != 25 || qs.Dropped != 0 {
		t.Errorf("queue stats = %+v", qs)
	}
}

func TestWriteQueue_AtLeastOnceReplay(t *testing.T) {
	s := openTestStore(t)
	q := NewWriteQueue(s, 100, 10)
	q.Start()
	defer q.Stop()

	rec := testRecord(t, "replayed", example.StatusValid)
	q.Insert(rec)
	q.Insert(rec)
	q.Insert(rec)
	if err := q.Flush(5 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 {
		t.Errorf("total = %d, want 1 after replays", st.Total)
	}
}

// Every submitted record is either written or counted as dropped, even when
// producers outrun the queue capacity.
func TestWriteQueue_OverloadAccounting(t *testing.T) {
	s := openTestStore(t)
	q := NewWriteQueue(s, 8, 4)

	// Writer not started yet: fill capacity, then overflow.
	const submitted = 16
	for i := 0; i < submitted; i++ {
		q.Insert(testRecord(t, fmt.Sprintf("scen-%d", i), example.StatusValid))
	}

	qs := q.Stats()
	if qs.Dropped == 0 {
		t.Fatal("expected drops with a stalled writer")
	}
	if qs.Queued+qs.Dropped != submitted {
		t.Errorf("queued %d + dropped %d != submitted %d", qs.Queued, qs.Dropped, submitted)
	}

	q.Start()
	if err := q.Flush(5 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	q.Stop()

	qs = q.Stats()
	if qs.Written+qs.Dropped != submitted {
		t.Errorf("written %d + dropped %d != submitted %d", qs.Written, qs.Dropped, submitted)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != int(qs.Written) {
		t.Errorf("stored %d rows, queue reports %d written", st.Total, qs.Written)
	}
}

func TestWriteQueue_StopDrains(t *testing.T) {
	s := openTestStore(t)
	q := NewWriteQueue(s, 100, 10)
	q.Start()

	for i := 0; i < 30; i++ {
		q.Insert(testRecord(t, fmt.Sprintf("scen-%d", i), example.StatusValid))
	}
	q.Stop()

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 30 {
		t.Errorf("total = %d, want 30 after Stop drain", st.Total)
	}
}

func TestWriteQueue_StopIdempotent(t *testing.T) {
	s := openTestStore(t)
	q := NewWriteQueue(s, 10, 5)
	q.Start()
	q.Stop()
	q.Stop()
}
