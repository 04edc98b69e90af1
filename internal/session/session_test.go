package session

import "testing"

func TestDrainClearsPendingButNotRing(t *testing.T) {
	s := New("true", "", nil, 1000)
	s.AppendStdout([]byte("out"))
	s.AppendStderr([]byte("err"))

	stdout, stderr := s.Drain()
	if stdout != "out" || stderr != "err" {
		t.Fatalf("drain = %q/%q", stdout, stderr)
	}

	stdout2, stderr2 := s.Drain()
	if stdout2 != "" || stderr2 != "" {
		t.Fatalf("second drain should be empty, got %q/%q", stdout2, stderr2)
	}

	if s.Ring.Aggregated() != "outerr" && s.Ring.Aggregated() != "errout" {
		t.Fatalf("ring should still hold both chunks, got %q", s.Ring.Aggregated())
	}
}

func TestMarkExitedIdempotent(t *testing.T) {
	s := New("true", "", nil, 1000)
	code := 1
	s.MarkExited(&code, "", Failed)
	firstEnded := s.EndedAt

	code2 := 0
	s.MarkExited(&code2, "", Completed)

	if s.Status != Failed {
		t.Fatalf("status = %v, want Failed (first write wins)", s.Status)
	}
	if s.EndedAt != firstEnded {
		t.Fatal("EndedAt should not change on the second call")
	}
}

func TestBackgroundedDefaultsFalse(t *testing.T) {
	s := New("true", "", nil, 1000)
	if s.IsBackgrounded() {
		t.Fatal("new session must not start backgrounded")
	}
	s.SetBackgrounded()
	if !s.IsBackgrounded() {
		t.Fatal("expected backgrounded after SetBackgrounded")
	}
}

func TestStatusInvariant(t *testing.T) {
	s := New("true", "", nil, 1000)
	if s.Status != Running || s.HasExited() {
		t.Fatal("new session must be Running and not exited")
	}
	code := 0
	s.MarkExited(&code, "", Completed)
	if !s.HasExited() || s.CurrentStatus() == Running {
		t.Fatal("after MarkExited, session must no longer be Running")
	}
}
