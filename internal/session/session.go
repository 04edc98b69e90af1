// Package session defines the per-invocation data object tracked by the
// registry: identity, child handle, timing, output ring, and status.
package session

import (
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/streambash/internal/ring"
)

// Status is one of the four lifecycle states a Session passes through.
type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Killed    Status = "killed"
)

// Session is one supervised invocation of a shell command.
type Session struct {
	ID             string
	Command        string
	Cwd            string
	EnvOverlay     map[string]string
	StartedAt      time.Time
	EndedAt        time.Time
	Cmd            *exec.Cmd
	Pid            int
	MaxOutputChars int
	Ring           *ring.Ring

	mu            sync.Mutex
	pendingStdout strings.Builder
	pendingStderr strings.Builder

	Exited      bool
	ExitCode    *int
	ExitSignal  string
	Status      Status
	Backgrounded bool

	StdinWriter interface {
		Write([]byte) (int, error)
		Close() error
	}
	stdinClosed bool
}

// New allocates a Session in the Running state with a fresh id.
func New(command, cwd string, envOverlay map[string]string, maxOutputChars int) *Session {
	return &Session{
		ID:             uuid.NewString(),
		Command:        command,
		Cwd:            cwd,
		EnvOverlay:     envOverlay,
		StartedAt:      time.Now(),
		MaxOutputChars: maxOutputChars,
		Ring:           ring.New(maxOutputChars),
		Status:         Running,
	}
}

// AppendStdout records a stdout chunk into the ring and the pending-drain queue.
func (s *Session) AppendStdout(chunk []byte) {
	s.Ring.Append(chunk)
	s.mu.Lock()
	s.pendingStdout.Write(chunk)
	s.mu.Unlock()
}

// AppendStderr records a stderr chunk into the ring and the pending-drain queue.
func (s *Session) AppendStderr(chunk []byte) {
	s.Ring.Append(chunk)
	s.mu.Lock()
	s.pendingStderr.Write(chunk)
	s.mu.Unlock()
}

// Drain returns the concatenated, not-yet-drained stdout and stderr and
// clears both pending queues. It never touches Ring.
func (s *Session) Drain() (stdout, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stdout = s.pendingStdout.String()
	stderr = s.pendingStderr.String()
	s.pendingStdout.Reset()
	s.pendingStderr.Reset()
	return stdout, stderr
}

// MarkExited sets the terminal state on the Session. Idempotent: once
// Exited is true, later calls are no-ops so a late OS exit notification
// can never overwrite an explicit Kill.
func (s *Session) MarkExited(code *int, signal string, final Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Exited {
		return
	}
	s.Exited = true
	s.ExitCode = code
	s.ExitSignal = signal
	s.EndedAt = time.Now()
	s.Status = final
}

// SetBackgrounded marks the session as having yielded control at least once.
func (s *Session) SetBackgrounded() {
	s.mu.Lock()
	s.Backgrounded = true
	s.mu.Unlock()
}

// IsBackgrounded reports whether the session has ever yielded.
func (s *Session) IsBackgrounded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Backgrounded
}

// CurrentStatus returns the session's status under the session's own lock,
// distinct from whatever partition the registry currently holds it in.
func (s *Session) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// HasExited reports the Exited flag under lock.
func (s *Session) HasExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Exited
}

// MarkStdinClosed records that stdin has been closed for this session.
func (s *Session) MarkStdinClosed() {
	s.mu.Lock()
	s.stdinClosed = true
	s.mu.Unlock()
}

// StdinClosed reports whether stdin has already been closed.
func (s *Session) StdinClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdinClosed
}
