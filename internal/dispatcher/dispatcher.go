// Package dispatcher is the thin contract layer that exposes the
// supervisor and control operations to an external agent loop as two
// named tools with typed arguments, and translates the loop's two
// cancellation sources into the abort and yield tokens the supervisor
// expects.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/streambash/internal/control"
	"github.com/ehrlich-b/streambash/internal/events"
	"github.com/ehrlich-b/streambash/internal/registry"
	"github.com/ehrlich-b/streambash/internal/session"
	"github.com/ehrlich-b/streambash/internal/shellexec"
	"github.com/ehrlich-b/streambash/internal/supervisor"
)

// StartArgs are the typed arguments for the start tool (a.k.a. streaming bash).
type StartArgs struct {
	Command   string
	Workdir   string
	Env       map[string]string
	YieldMs   int
	StdinMode string
}

// Action is one of the five routes the process tool supports.
type Action string

const (
	ActionList Action = "list"
	ActionPoll Action = "poll"
	ActionLog  Action = "log"
	ActionWrite Action = "write"
	ActionKill Action = "kill"
)

// ProcessArgs are the typed arguments for the process tool.
type ProcessArgs struct {
	Action    Action
	SessionID string
	Data      string
	EOF       bool
	Offset    *int
	Limit     *int
}

// Status is the top-level tool-result status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ContentBlock is one text block of a tool result's content list. The
// core only ever emits text; image blocks are reserved for hosts.
type ContentBlock struct {
	Type string
	Text string
}

// Details is implemented by one struct per action outcome — a tagged
// variant rather than a dynamic map, so each variant's fields are fixed
// and testable.
type Details interface{ isDetails() }

type RunningDetails struct {
	SessionID string
	Pid       int
	Tail      string
}

type CompletedDetails struct {
	ExitCode   *int
	DurationMs int64
}

type PollDetails struct {
	SessionID  string
	ExitCode   *int
	ExitSignal string
}

type ListDetails struct {
	Entries []registry.Snapshot
}

type LogDetails struct {
	TotalLen  int
	Truncated bool
}

type WriteDetails struct {
	BytesWritten int
}

type KillDetails struct {
	SessionID string
}

type ErrorDetails struct {
	Reason string
}

func (RunningDetails) isDetails()   {}
func (CompletedDetails) isDetails() {}
func (PollDetails) isDetails()      {}
func (ListDetails) isDetails()      {}
func (LogDetails) isDetails()       {}
func (WriteDetails) isDetails()     {}
func (KillDetails) isDetails()      {}
func (ErrorDetails) isDetails()     {}

// Result is the tool-result envelope produced by the core.
type Result struct {
	Content []ContentBlock
	Details Details
	Status  Status
}

func textResult(text string, details Details, status Status) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}, Details: details, Status: status}
}

func failResult(err error) Result {
	return textResult(err.Error(), ErrorDetails{Reason: err.Error()}, StatusFailed)
}

// Dispatcher wires a Supervisor and the registry it shares with the five
// control operations behind the two tool-call entry points.
type Dispatcher struct {
	sv  *supervisor.Supervisor
	reg *registry.Registry
	adp shellexec.Adapter
}

// New builds a Dispatcher over a fresh Supervisor sharing reg and adp.
func New(reg *registry.Registry, adp shellexec.Adapter) *Dispatcher {
	return &Dispatcher{sv: supervisor.New(reg, adp), reg: reg, adp: adp}
}

// Start runs the start tool. abortToken firing means "kill the process
// and fail the call"; yieldToken firing means "return running status
// immediately but let the process continue". Either may be nil
// (quiescent). CommandFailed and Aborted are returned as an error, as
// spec.md §7 requires for the start tool specifically; so are the
// supervisor's other start errors (MissingCommand, UnsupportedStdinMode,
// ShellNotFound). Completed and Running outcomes are returned as a Result.
func (d *Dispatcher) Start(ctx context.Context, toolCallID string, args StartArgs, abortToken, yieldToken <-chan struct{}, sink events.Sink) (Result, error) {
	outcome, err := d.sv.Start(ctx, supervisor.Request{
		ToolCallID:     toolCallID,
		Command:        args.Command,
		Workdir:        args.Workdir,
		EnvOverlay:     args.Env,
		YieldMs:        args.YieldMs,
		StdinMode:      args.StdinMode,
		AbortToken:     abortToken,
		YieldToken:     yieldToken,
		EventSink:      sink,
	})
	if err != nil {
		return Result{}, err
	}
	if outcome.Status == session.Completed {
		return textResult(outcome.Aggregated, CompletedDetails{ExitCode: outcome.ExitCode, DurationMs: outcome.DurationMs}, StatusCompleted), nil
	}
	return textResult(
		fmt.Sprintf("Running in background (session %s, pid %d).", outcome.SessionID, outcome.Pid),
		RunningDetails{SessionID: outcome.SessionID, Pid: outcome.Pid, Tail: outcome.Tail},
		StatusRunning,
	), nil
}

// Process runs the process tool, routing to the matching control
// operation. Every failure kind other than the start tool's own
// CommandFailed/Aborted is returned as a normal Result with
// status:"failed", never as a Go error — so a bad session id or a kill
// on a non-backgrounded session never aborts the agent loop.
func (d *Dispatcher) Process(args ProcessArgs) Result {
	if args.Action != ActionList && args.SessionID == "" {
		return failResult(fmt.Errorf("session_id is required for action %q", args.Action))
	}
	switch args.Action {
	case ActionList:
		entries := control.List(d.reg, args.Limit)
		return textResult(formatList(entries), ListDetails{Entries: entries}, StatusCompleted)
	case ActionPoll:
		res, err := control.Poll(d.reg, args.SessionID)
		if err != nil {
			return failResult(err)
		}
		return textResult(res.Content, PollDetails{SessionID: args.SessionID, ExitCode: res.ExitCode, ExitSignal: res.ExitSignal}, statusFor(res.Status))
	case ActionLog:
		res, err := control.Log(d.reg, args.SessionID, args.Offset, args.Limit)
		if err != nil {
			return failResult(err)
		}
		return textResult(res.Slice, LogDetails{TotalLen: res.TotalLen, Truncated: res.Truncated}, statusFor(res.Status))
	case ActionWrite:
		res, err := control.WriteStdin(d.reg, args.SessionID, []byte(args.Data), args.EOF)
		if err != nil {
			return failResult(err)
		}
		return textResult(fmt.Sprintf("Wrote %d bytes.", res.BytesWritten), WriteDetails{BytesWritten: res.BytesWritten}, statusFor(res.Status))
	case ActionKill:
		res, err := control.Kill(d.reg, d.adp, args.SessionID)
		if err != nil {
			return failResult(err)
		}
		return textResult("Killed.", KillDetails{SessionID: args.SessionID}, statusFor(res.Status))
	default:
		return failResult(fmt.Errorf("unknown process action %q", args.Action))
	}
}

func statusFor(s session.Status) Status {
	switch s {
	case session.Running:
		return StatusRunning
	case session.Completed:
		return StatusCompleted
	default: // Failed, Killed
		return StatusFailed
	}
}

func formatList(entries []registry.Snapshot) string {
	if len(entries) == 0 {
		return "No sessions."
	}
	out := ""
	for _, e := range entries {
		out += fmt.Sprintf("%s\t%s\t%s\n", e.ID, e.Status, e.Command)
	}
	return out
}
