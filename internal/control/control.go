// Package control implements the five pure operations over the registry
// that a host exposes as management actions on a backgrounded session:
// poll, write-stdin, kill, list, and log.
package control

import (
	"fmt"
	"strings"

	"github.com/ehrlich-b/streambash/internal/bgerrors"
	"github.com/ehrlich-b/streambash/internal/registry"
	"github.com/ehrlich-b/streambash/internal/session"
	"github.com/ehrlich-b/streambash/internal/shellexec"
)

// PollResult is the response to Poll.
type PollResult struct {
	Status     session.Status
	ExitCode   *int
	ExitSignal string
	Content    string
}

// Poll drains whatever output has arrived since the last poll/log call.
// A still-running session returns the drained text with a
// "Process still running." suffix; a session observed transitioning to
// terminal state within this call includes the drain plus an exit
// suffix. A session already moved to the finished partition (the common
// case, since the supervisor transitions it the moment the child exits)
// returns its retained tail instead.
func Poll(reg *registry.Registry, id string) (*PollResult, error) {
	if s, ok := reg.GetRunning(id); ok {
		stdout, stderr := s.Drain()
		content := joinDrain(stdout, stderr)
		if s.HasExited() {
			status := s.CurrentStatus()
			return &PollResult{
				Status:     status,
				ExitCode:   s.ExitCode,
				ExitSignal: s.ExitSignal,
				Content:    content + "\n" + exitSuffix(s.ExitCode, s.ExitSignal),
			}, nil
		}
		return &PollResult{
			Status:  session.Running,
			Content: content + "\nProcess still running.",
		}, nil
	}
	if s, ok := reg.GetFinished(id); ok {
		return &PollResult{
			Status:     s.CurrentStatus(),
			ExitCode:   s.ExitCode,
			ExitSignal: s.ExitSignal,
			Content:    tailOrNotice(s),
		}, nil
	}
	return nil, bgerrors.ErrSessionNotFound
}

func exitSuffix(code *int, signal string) string {
	if signal != "" {
		return fmt.Sprintf("Process exited with signal %s.", signal)
	}
	c := -1
	if code != nil {
		c = *code
	}
	return fmt.Sprintf("Process exited with code %d.", c)
}

func joinDrain(stdout, stderr string) string {
	var parts []string
	if s := strings.TrimRight(stdout, "\r\n"); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimRight(stderr, "\r\n"); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "(no new output)"
	}
	return strings.Join(parts, "\n")
}

func tailOrNotice(s *session.Session) string {
	tail := s.Ring.Tail(0)
	if tail == "" {
		return "(no output)"
	}
	if s.Ring.Truncated() {
		return "[output truncated]\n" + tail
	}
	return tail
}

// WriteResult is the response to WriteStdin.
type WriteResult struct {
	Status       session.Status
	BytesWritten int
}

// WriteStdin writes data to the child's stdin. The session must be
// running and backgrounded; otherwise a typed error is returned instead
// of attempting the write.
func WriteStdin(reg *registry.Registry, id string, data []byte, eof bool) (*WriteResult, error) {
	s, ok := reg.GetRunning(id)
	if !ok {
		if _, ok2 := reg.GetFinished(id); ok2 {
			return nil, bgerrors.ErrSessionExited
		}
		return nil, bgerrors.ErrSessionNotFound
	}
	if !s.IsBackgrounded() {
		return nil, bgerrors.ErrSessionNotBackgrounded
	}
	if s.HasExited() {
		return nil, bgerrors.ErrSessionExited
	}
	if s.StdinWriter == nil || s.StdinClosed() {
		return nil, bgerrors.ErrStdinNotWritable
	}
	n, err := s.StdinWriter.Write(data)
	if err != nil {
		return nil, bgerrors.ErrStdinNotWritable
	}
	if eof {
		_ = s.StdinWriter.Close()
		s.MarkStdinClosed()
	}
	return &WriteResult{Status: session.Running, BytesWritten: n}, nil
}

// KillResult is the response to Kill.
type KillResult struct {
	Status session.Status
}

// Kill terminates the session's process tree and immediately records the
// synthetic Killed terminal state, rather than waiting for the child's
// own exit notification to arrive.
func Kill(reg *registry.Registry, adapter shellexec.Adapter, id string) (*KillResult, error) {
	s, ok := reg.GetRunning(id)
	if !ok {
		if _, ok2 := reg.GetFinished(id); ok2 {
			return nil, bgerrors.ErrSessionExited
		}
		return nil, bgerrors.ErrSessionNotFound
	}
	if !s.IsBackgrounded() {
		return nil, bgerrors.ErrSessionNotBackgrounded
	}
	_ = adapter.KillProcessTree(s.Pid)
	reg.MarkExited(s, nil, "SIGKILL", session.Killed)
	return &KillResult{Status: session.Killed}, nil
}

const summaryMaxLen = 120

// List returns a snapshot of running and finished sessions sorted by
// start time descending, each summarized to at most 120 characters for
// command and tail.
func List(reg *registry.Registry, limit *int) []registry.Snapshot {
	entries := reg.List(limit)
	out := make([]registry.Snapshot, len(entries))
	for i, e := range entries {
		e.Command = truncateMiddle(e.Command, summaryMaxLen)
		e.Tail = truncateMiddle(oneLine(e.Tail), summaryMaxLen)
		out[i] = e
	}
	return out
}

func oneLine(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " ")
}

// truncateMiddle shortens s to at most max characters, replacing the
// middle with an ellipsis so both the start and end remain visible.
func truncateMiddle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	keep := max - 3
	head := keep / 2
	tail := keep - head
	return s[:head] + "..." + s[len(s)-tail:]
}

// LogResult is the response to Log.
type LogResult struct {
	Slice      string
	TotalLen   int
	Truncated  bool
	Status     session.Status
	ExitCode   *int
	ExitSignal string
}

// Log returns aggregated[offset:offset+limit] (or to end). For a running
// session it first drains and discards the pending queues, so a later
// Poll reports only output that arrives after this call (the ring itself
// is always current, since the supervisor appends to it as bytes
// arrive); it never transitions status.
func Log(reg *registry.Registry, id string, offset, limit *int) (*LogResult, error) {
	s, ok := reg.GetRunning(id)
	if !ok {
		s, ok = reg.GetFinished(id)
		if !ok {
			return nil, bgerrors.ErrSessionNotFound
		}
	} else {
		s.Drain()
	}

	aggregated := s.Ring.Aggregated()
	off := 0
	if offset != nil {
		off = *offset
	}
	if off < 0 {
		off = 0
	}
	if off > len(aggregated) {
		off = len(aggregated)
	}
	end := len(aggregated)
	if limit != nil {
		if e := off + *limit; e < end {
			end = e
		}
	}
	if end < off {
		end = off
	}

	return &LogResult{
		Slice:      aggregated[off:end],
		TotalLen:   len(aggregated),
		Truncated:  s.Ring.Truncated(),
		Status:     s.CurrentStatus(),
		ExitCode:   s.ExitCode,
		ExitSignal: s.ExitSignal,
	}, nil
}
