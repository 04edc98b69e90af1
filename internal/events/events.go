// Package events defines the outbound sink contract through which
// streaming chunks and progress notifications reach the agent loop's
// event stream. The supervisor never touches a TUI directly; chunks and
// progress reach the host only through Sink.Emit.
package events

import "time"

// Kind distinguishes the two event shapes the core ever emits.
type Kind string

const (
	KindOutput   Kind = "tool_execution_output"
	KindProgress Kind = "tool_execution_progress"
)

// Stream names which child stream a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is a single notification published into a Sink. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind       Kind
	ToolCallID string

	// KindOutput fields.
	Stream Stream
	Chunk  string

	// KindProgress fields. Tail and Chunk are copies, never references
	// into a live Session, so a sink can hold onto an event after the
	// session has been swept.
	SessionID string
	Pid       int
	StartedAt time.Time
	Tail      string
}

// Sink is the injected event channel. Implementations must be
// non-blocking from the supervisor's perspective (buffered or cheap);
// the core makes no delivery guarantees beyond best-effort, in order per
// session.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event; useful for callers that only
// want the final tool result, not the stream.
var Discard Sink = SinkFunc(func(Event) {})
