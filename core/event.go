package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the outbound event union. The agent loop and the
// remote-backend transport both emit this single serializable type so
// consumers (UI event bus, CLI) need exactly one decode path.
type EventKind string

// Event kinds emitted during a conversation turn.
const (
	// EventPartial carries a streaming text delta, at most once per delta.
	EventPartial EventKind = "partial"
	// EventReasoning carries a streaming reasoning/thinking delta.
	EventReasoning EventKind = "reasoning"
	// EventFinal carries the complete assistant answer for the turn.
	EventFinal EventKind = "final"
	// EventToolCall announces that a tool is about to be executed.
	EventToolCall EventKind = "tool_call"
	// EventToolResult carries the outcome of a tool execution.
	EventToolResult EventKind = "tool_result"
	// EventConfirmRequired is a side-channel request emitted before running a
	// tool whose definition demands user confirmation.
	EventConfirmRequired EventKind = "confirm_required"
	// EventExpression carries avatar expression/motion actions derived from
	// the final answer.
	EventExpression EventKind = "expression"
	// EventSpeech carries synthesized audio for the final answer.
	EventSpeech EventKind = "speech"
	// EventError reports a failed turn (configuration or transport).
	EventError EventKind = "error"
	// EventIterationLimit reports that the tool loop hit its iteration cap.
	EventIterationLimit EventKind = "iteration_limit"
)

// ExpressionAction drives the avatar: an expression switch or a motion,
// produced by an expression capability plugin.
type ExpressionAction struct {
	Type     string `json:"type"` // "expression" or "motion"
	Name     string `json:"name"`
	Priority int    `json:"priority,omitempty"`
}

// Event is the unit of communication from the agent loop to its consumer.
// Treat emitted events as immutable.
type Event struct {
	Kind       EventKind          `json:"kind"`
	ResponseID string             `json:"response_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Text       string             `json:"text,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolName   string             `json:"tool_name,omitempty"`
	Actions    []ExpressionAction `json:"actions,omitempty"`
	Audio      []byte             `json:"audio,omitempty"`
	Err        string             `json:"error,omitempty"`
}

// NewEvent creates an event of the given kind bound to a response id.
func NewEvent(kind EventKind, responseID string) Event {
	return Event{Kind: kind, ResponseID: responseID, Timestamp: time.Now().UTC()}
}

// NewID generates a unique identifier for responses, tool calls and
// conversations.
func NewID() string { return uuid.NewString() }
