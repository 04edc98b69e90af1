// Package supervisor launches a child under the platform shell adapter,
// wires its stdout/stderr into the session's output ring, streams chunks
// to an event sink, and implements the yield/complete/fail decision.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ehrlich-b/streambash/internal/bgconfig"
	"github.com/ehrlich-b/streambash/internal/bgerrors"
	"github.com/ehrlich-b/streambash/internal/bglog"
	"github.com/ehrlich-b/streambash/internal/events"
	"github.com/ehrlich-b/streambash/internal/registry"
	"github.com/ehrlich-b/streambash/internal/session"
	"github.com/ehrlich-b/streambash/internal/shellexec"
)

// chunkSize is the spec-mandated read size: each OS read is split into
// chunks of at most 8 KiB before it is appended and emitted.
const chunkSize = 8 * 1024

// CmdFactory builds the exec.Cmd for a command, allowing a host to wrap
// children for isolation without the core depending on any sandboxing
// package. When nil, Supervisor falls back to exec.Command directly.
// Grounded on the teacher's agent.CmdFactory (internal/agent/adapter.go).
type CmdFactory func(name string, args []string) (*exec.Cmd, error)

// Request is the invocation envelope for Supervisor.Start.
type Request struct {
	ToolCallID     string
	Command        string
	Workdir        string
	EnvOverlay     map[string]string
	YieldMs        int
	MaxOutputChars int
	StdinMode      string

	// AbortToken firing means "kill the process and fail the call".
	// nil means it never fires.
	AbortToken <-chan struct{}
	// YieldToken firing means "return running status immediately but let
	// the process continue". nil means it never fires.
	YieldToken <-chan struct{}

	EventSink  events.Sink
	CmdFactory CmdFactory
}

// Outcome is the payload for a Completed or Running result. Failed and
// Aborted results are returned as an error instead (spec.md §7).
type Outcome struct {
	Status     session.Status
	SessionID  string
	Pid        int
	StartedAt  time.Time
	Tail       string
	ExitCode   *int
	DurationMs int64
	Aggregated string
}

// Supervisor owns the launch/stream/yield decision for each invocation.
type Supervisor struct {
	registry *registry.Registry
	adapter  shellexec.Adapter
	log      *slog.Logger
}

// New builds a Supervisor over the given registry and shell adapter.
func New(reg *registry.Registry, adapter shellexec.Adapter) *Supervisor {
	return &Supervisor{registry: reg, adapter: adapter, log: bglog.Log}
}

// Start launches req.Command and blocks until the child exits, the yield
// window elapses, the yield token fires, or (indirectly, via the child's
// own exit) the abort token fires. Exactly one outcome is returned.
func (sv *Supervisor) Start(ctx context.Context, req Request) (*Outcome, error) {
	if req.Command == "" {
		return nil, bgerrors.ErrMissingCommand
	}
	if req.StdinMode != "" && req.StdinMode != "pipe" {
		return nil, bgerrors.ErrUnsupportedStdinMode
	}

	// A zero YieldMs or MaxOutputChars falls back to the process-wide
	// default, which BASH_YIELD_MS / BASH_MAX_OUTPUT_CHARS can override.
	defaults := bgconfig.FromEnv()
	yieldMs, maxOutputChars := req.YieldMs, req.MaxOutputChars
	if yieldMs <= 0 {
		yieldMs = defaults.YieldMs
	}
	if maxOutputChars <= 0 {
		maxOutputChars = defaults.MaxOutputChars
	}
	yieldMs = bgconfig.ClampYieldMs(yieldMs)
	maxOutputChars = bgconfig.ClampMaxOutputChars(maxOutputChars)

	s := session.New(req.Command, req.Workdir, req.EnvOverlay, maxOutputChars)
	sv.registry.Add(s)

	name, args, err := shellexec.BuildCommand(sv.adapter, req.Command)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if req.CmdFactory != nil {
		cmd, err = req.CmdFactory(name, args)
		if err != nil {
			return nil, err
		}
	} else {
		cmd = exec.Command(name, args...)
	}
	cmd.Dir = req.Workdir
	cmd.Env = mergeEnv(os.Environ(), req.EnvOverlay)
	sv.adapter.SetProcessGroup(cmd)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		code := -1
		sv.registry.MarkExited(s, &code, "", session.Failed)
		return nil, &bgerrors.CommandFailedError{Aggregated: err.Error(), ExitCode: &code}
	}

	s.Cmd = cmd
	s.Pid = cmd.Process.Pid
	s.StdinWriter = stdinPipe

	sink := req.EventSink
	if sink == nil {
		sink = events.Discard
	}

	pumpsDone := make(chan struct{}, 2)
	go sv.pump(s, stdoutPipe, events.StreamStdout, req.ToolCallID, sink, pumpsDone)
	go sv.pump(s, stderrPipe, events.StreamStderr, req.ToolCallID, sink, pumpsDone)

	var aborted atomic.Bool
	waiterDone := make(chan struct{})

	go func() {
		<-pumpsDone
		<-pumpsDone
		werr := cmd.Wait()
		exitCode, signalName := deriveExit(werr)
		status := session.Completed
		if signalName != "" || (exitCode != nil && *exitCode != 0) || aborted.Load() {
			status = session.Failed
		}
		sv.registry.MarkExited(s, exitCode, signalName, status)
		close(waiterDone)
	}()

	go func() {
		select {
		case <-req.AbortToken:
			aborted.Store(true)
			if err := sv.adapter.KillProcessTree(s.Pid); err != nil {
				sv.log.Warn("kill_process_tree failed", "pid", s.Pid, "error", err)
			}
		case <-waiterDone:
		}
	}()

	yieldTimer := time.NewTimer(time.Duration(yieldMs) * time.Millisecond)
	defer yieldTimer.Stop()

	select {
	case <-waiterDone:
		return sv.settleFromExit(s, aborted.Load())
	case <-yieldTimer.C:
		return sv.yield(s, req.ToolCallID, sink), nil
	case <-req.YieldToken:
		return sv.yield(s, req.ToolCallID, sink), nil
	}
}

func (sv *Supervisor) yield(s *session.Session, toolCallID string, sink events.Sink) *Outcome {
	sv.registry.SetBackgrounded(s)
	sink.Emit(events.Event{
		Kind:       events.KindProgress,
		ToolCallID: toolCallID,
		SessionID:  s.ID,
		Pid:        s.Pid,
		StartedAt:  s.StartedAt,
		Tail:       s.Ring.Tail(0),
	})
	return &Outcome{
		Status:    session.Running,
		SessionID: s.ID,
		Pid:       s.Pid,
		StartedAt: s.StartedAt,
		Tail:      s.Ring.Tail(0),
	}
}

func (sv *Supervisor) settleFromExit(s *session.Session, aborted bool) (*Outcome, error) {
	aggregated := s.Ring.Aggregated()
	duration := s.EndedAt.Sub(s.StartedAt).Milliseconds()
	if s.CurrentStatus() == session.Completed {
		content := aggregated
		if content == "" {
			content = "(no output)"
		}
		return &Outcome{
			Status:     session.Completed,
			SessionID:  s.ID,
			Pid:        s.Pid,
			StartedAt:  s.StartedAt,
			ExitCode:   s.ExitCode,
			DurationMs: duration,
			Aggregated: content,
		}, nil
	}
	return nil, &bgerrors.CommandFailedError{
		Aggregated: aggregated,
		ExitCode:   s.ExitCode,
		ExitSignal: s.ExitSignal,
		Aborted:    aborted,
	}
}

// pump reads r in chunkSize pieces, appending each chunk to the session
// and emitting it to sink, until EOF. It signals pumpsDone exactly once.
func (sv *Supervisor) pump(s *session.Session, r io.Reader, stream events.Stream, toolCallID string, sink events.Sink, pumpsDone chan<- struct{}) {
	defer func() { pumpsDone <- struct{}{} }()
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if stream == events.StreamStdout {
				s.AppendStdout(chunk)
			} else {
				s.AppendStderr(chunk)
			}
			sink.Emit(events.Event{
				Kind:       events.KindOutput,
				ToolCallID: toolCallID,
				Stream:     stream,
				Chunk:      string(chunk),
			})
		}
		if err != nil {
			return
		}
	}
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := splitEnv(kv)
		if _, overridden := overlay[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overlay {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

// deriveExit turns the error from cmd.Wait() into an exit code or signal
// name. A nil error means exit code 0.
func deriveExit(err error) (code *int, signalName string) {
	if err == nil {
		zero := 0
		return &zero, ""
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		c := -1
		return &c, ""
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return nil, ws.Signal().String()
		}
		c := ws.ExitStatus()
		return &c, ""
	}
	c := exitErr.ExitCode()
	return &c, ""
}
