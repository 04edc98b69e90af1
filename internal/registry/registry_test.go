package registry

import (
	"testing"
	"time"

	"github.com/ehrlich-b/streambash/internal/session"
)

func TestAddAndGetRunning(t *testing.T) {
	r := New(DefaultTTL)
	defer r.Close()

	s := session.New("true", "", nil, 1000)
	r.Add(s)

	got, ok := r.GetRunning(s.ID)
	if !ok || got.ID != s.ID {
		t.Fatalf("GetRunning failed: ok=%v got=%v", ok, got)
	}
	if _, ok := r.GetFinished(s.ID); ok {
		t.Fatal("should not be in finished yet")
	}
}

func TestMarkExitedTransitionsPartition(t *testing.T) {
	r := New(DefaultTTL)
	defer r.Close()

	s := session.New("true", "", nil, 1000)
	r.Add(s)

	code := 0
	r.MarkExited(s, &code, "", session.Completed)

	if _, ok := r.GetRunning(s.ID); ok {
		t.Fatal("should have left running")
	}
	got, ok := r.GetFinished(s.ID)
	if !ok || got.Status != session.Completed {
		t.Fatalf("GetFinished failed: ok=%v status=%v", ok, got.Status)
	}
}

func TestMarkExitedIsIdempotent(t *testing.T) {
	r := New(DefaultTTL)
	defer r.Close()

	s := session.New("true", "", nil, 1000)
	r.Add(s)

	r.MarkExited(s, nil, "SIGKILL", session.Killed)
	code := 0
	r.MarkExited(s, &code, "", session.Completed) // late natural exit must not overwrite Killed

	got, _ := r.GetFinished(s.ID)
	if got.Status != session.Killed {
		t.Fatalf("status = %v, want Killed (first write wins)", got.Status)
	}
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	r := New(time.Hour)
	defer r.Close()

	old := session.New("true", "", nil, 1000)
	r.Add(old)
	r.MarkExited(old, nil, "", session.Completed)
	old.EndedAt = time.Now().Add(-2 * time.Hour)

	fresh := session.New("true", "", nil, 1000)
	r.Add(fresh)
	r.MarkExited(fresh, nil, "", session.Completed)

	r.Sweep(time.Now())

	if _, ok := r.GetFinished(old.ID); ok {
		t.Fatal("expired session should have been evicted")
	}
	if _, ok := r.GetFinished(fresh.ID); !ok {
		t.Fatal("fresh session should survive sweep")
	}
}

func TestListLimitZeroIsEmptyNilIsUnbounded(t *testing.T) {
	r := New(DefaultTTL)
	defer r.Close()

	for i := 0; i < 3; i++ {
		s := session.New("true", "", nil, 1000)
		r.Add(s)
	}

	zero := 0
	if got := r.List(&zero); len(got) != 0 {
		t.Fatalf("List(0) returned %d entries, want 0", len(got))
	}
	if got := r.List(nil); len(got) != 3 {
		t.Fatalf("List(nil) returned %d entries, want 3", len(got))
	}
}

func TestEvictRemovesFromEitherPartition(t *testing.T) {
	r := New(DefaultTTL)
	defer r.Close()

	s := session.New("true", "", nil, 1000)
	r.Add(s)
	r.Evict(s.ID)
	if _, ok := r.GetRunning(s.ID); ok {
		t.Fatal("expected eviction from running")
	}
}
