package coordinator

import (
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type revealRecorder struct {
	mu      sync.Mutex
	reveals []revealCall
}

type revealCall struct {
	jobID string
	ids   []string
}

func (r *revealRecorder) reveal(jobID string, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reveals = append(r.reveals, revealCall{jobID: jobID, ids: ids})
}

func (r *revealRecorder) calls() []revealCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]revealCall(nil), r.reveals...)
}

func TestSingleOutputRevealsImmediately(t *testing.T) {
	rec := &revealRecorder{}
	c := New(rec.reveal, zerolog.Nop())

	c.OnCompletion("j1", "a1", 1)

	calls := rec.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d reveals, want 1", len(calls))
	}
	if calls[0].jobID != "j1" || !reflect.DeepEqual(calls[0].ids, []string{"a1"}) {
		t.Errorf("unexpected reveal: %+v", calls[0])
	}
	if c.PendingJobs() != 0 {
		t.Errorf("buffer not discarded after reveal")
	}
}

func TestMultiOutputBuffersUntilComplete(t *testing.T) {
	rec := &revealRecorder{}
	c := New(rec.reveal, zerolog.Nop())

	c.OnCompletion("j2", "a1", 4)
	c.OnCompletion("j2", "a2", 4)
	c.OnCompletion("j2", "a3", 4)

	if got := rec.calls(); len(got) != 0 {
		t.Fatalf("revealed before batch complete: %+v", got)
	}

	c.OnCompletion("j2", "a4", 4)

	calls := rec.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d reveals, want 1", len(calls))
	}
	got := append([]string(nil), calls[0].ids...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"a1", "a2", "a3", "a4"}) {
		t.Errorf("reveal ids = %v", got)
	}
}

func TestDuplicateDeliveryIdempotent(t *testing.T) {
	rec := &revealRecorder{}
	c := New(rec.reveal, zerolog.Nop())

	c.OnCompletion("j3", "a1", 2)
	c.OnCompletion("j3", "a1", 2)
	c.OnCompletion("j3", "a1", 2)

	if got := rec.calls(); len(got) != 0 {
		t.Fatalf("duplicates counted toward batch: %+v", got)
	}

	c.OnCompletion("j3", "a2", 2)
	if got := rec.calls(); len(got) != 1 {
		t.Fatalf("got %d reveals, want 1", len(got))
	}
}

func TestMalformedDeclaredTotalTreatedAsOne(t *testing.T) {
	for _, declared := range []int{0, -1, -100} {
		rec := &revealRecorder{}
		c := New(rec.reveal, zerolog.Nop())

		c.OnCompletion("j4", "a1", declared)

		if got := rec.calls(); len(got) != 1 {
			t.Errorf("declared=%d: got %d reveals, want 1", declared, len(got))
		}
	}
}

func TestIndependentJobsDoNotInterfere(t *testing.T) {
	rec := &revealRecorder{}
	c := New(rec.reveal, zerolog.Nop())

	c.OnCompletion("jA", "a1", 2)
	c.OnCompletion("jB", "b1", 1)
	c.OnCompletion("jA", "a2", 2)

	calls := rec.calls()
	if len(calls) != 2 {
		t.Fatalf("got %d reveals, want 2", len(calls))
	}
	if calls[0].jobID != "jB" {
		t.Errorf("first reveal = %s, want jB", calls[0].jobID)
	}
	if calls[1].jobID != "jA" {
		t.Errorf("second reveal = %s, want jA", calls[1].jobID)
	}
}

func TestEvictStale(t *testing.T) {
	rec := &revealRecorder{}
	c := New(rec.reveal, zerolog.Nop())

	now := time.Now()
	c.now = func() time.Time { return now }

	c.OnCompletion("old", "a1", 4)
	now = now.Add(20 * time.Minute)
	c.OnCompletion("recent", "b1", 4)

	if evicted := c.EvictStale(15 * time.Minute); evicted != 1 {
		t.Errorf("EvictStale() = %d, want 1", evicted)
	}
	if c.PendingJobs() != 1 {
		t.Errorf("PendingJobs() = %d, want 1", c.PendingJobs())
	}

	// Late arrivals for an evicted job start a fresh buffer; they never
	// complete the original declared count retroactively.
	c.OnCompletion("old", "a2", 4)
	if got := rec.calls(); len(got) != 0 {
		t.Fatalf("evicted job revealed: %+v", got)
	}
}
