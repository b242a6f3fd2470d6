// Package stream defines the streamed conversation event protocol and its
// newline-delimited JSON encoder.
//
// Every event on the wire is one JSON object per line:
//
//	{"type": "<tag>", "data": {...}, "timestamp": "<ISO-8601>"}
//
// The set of tags is closed; decoding rejects unknown tags instead of
// silently dropping data.
package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a ConversationEvent payload.
type EventType string

// Event type tags. The payload type for each tag is fixed; see the Data
// documentation on Event.
const (
	EventContent          EventType = "content"
	EventThought          EventType = "thought"
	EventToolCall         EventType = "tool_call"
	EventToolExecution    EventType = "tool_execution"
	EventToolConfirmation EventType = "tool_confirmation"
	EventToolResult       EventType = "tool_result"
	EventWorkspace        EventType = "workspace"
	EventHeartbeat        EventType = "heartbeat"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventTokenUsage       EventType = "token_usage"
)

// Event is one streamed conversation event. Data holds the tag-specific
// payload struct (ContentData for EventContent, and so on).
type Event struct {
	Type      EventType
	Data      any
	Timestamp time.Time
}

// ContentData carries a chunk of model output text.
type ContentData struct {
	Text      string `json:"text"`
	IsPartial bool   `json:"isPartial"`
}

// ThoughtData carries a model reasoning summary.
type ThoughtData struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// ToolCallData announces a tool invocation requested during a round.
type ToolCallData struct {
	CallID               string         `json:"callId"`
	Name                 string         `json:"name"`
	DisplayName          string         `json:"displayName"`
	Description          string         `json:"description"`
	Args                 map[string]any `json:"args"`
	RequiresConfirmation bool           `json:"requiresConfirmation"`
}

// ToolConfirmationData asks the client to approve or reject a tool call.
type ToolConfirmationData struct {
	CallID      string         `json:"callId"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Description string         `json:"description"`
	Prompt      string         `json:"prompt"`
	Command     string         `json:"command,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
}

// Tool execution status values carried by ToolExecutionData.
const (
	ExecutionPending   = "pending"
	ExecutionExecuting = "executing"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ToolExecutionData reports a tool call lifecycle transition.
type ToolExecutionData struct {
	CallID  string `json:"callId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ToolResultData reports the terminal outcome of a tool call.
type ToolResultData struct {
	CallID        string `json:"callId"`
	Name          string `json:"name"`
	Result        any    `json:"result"`
	DisplayResult string `json:"displayResult"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// WorkspaceData reports the workspace the conversation is bound to.
type WorkspaceData struct {
	WorkspacePath string `json:"workspacePath"`
	CurrentPath   string `json:"currentPath"`
	Description   string `json:"description,omitempty"`
}

// HeartbeatData keeps the stream alive during long waits.
type HeartbeatData struct {
	Timestamp string `json:"timestamp"`
}

// CompleteData terminates every stream, on success and failure alike.
type CompleteData struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorData reports a failure. Code is one of the codes in codes.go.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// TokenUsageData reports model token consumption for a round.
type TokenUsageData struct {
	PromptTokens     int32 `json:"promptTokens"`
	CompletionTokens int32 `json:"completionTokens"`
	TotalTokens      int32 `json:"totalTokens"`
}

// New creates an event of the given type stamped with the current time.
func New(t EventType, data any) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now()}
}

// Heartbeat creates a heartbeat event carrying its own timestamp.
func Heartbeat() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatData{Timestamp: now.UTC().Format(time.RFC3339)},
		Timestamp: now,
	}
}

// envelope is the wire representation of an Event.
type envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON encodes the event in wire format with an RFC 3339 timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(envelope{
		Type:      e.Type,
		Data:      data,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes an event, dispatching the payload by tag.
// Unknown tags are an error, never silently dropped.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return fmt.Errorf("decode event timestamp: %w", err)
	}

	var data any
	switch env.Type {
	case EventContent:
		data = &ContentData{}
	case EventThought:
		data = &ThoughtData{}
	case EventToolCall:
		data = &ToolCallData{}
	case EventToolExecution:
		data = &ToolExecutionData{}
	case EventToolConfirmation:
		data = &ToolConfirmationData{}
	case EventToolResult:
		data = &ToolResultData{}
	case EventWorkspace:
		data = &WorkspaceData{}
	case EventHeartbeat:
		data = &HeartbeatData{}
	case EventComplete:
		data = &CompleteData{}
	case EventError:
		data = &ErrorData{}
	case EventTokenUsage:
		data = &TokenUsageData{}
	default:
		return fmt.Errorf("unknown event type %q", env.Type)
	}

	if err := json.Unmarshal(env.Data, data); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}

	e.Type = env.Type
	e.Data = data
	e.Timestamp = ts
	return nil
}
