package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMarshalJSON(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("wire envelope shape", func(t *testing.T) {
		ev := Event{
			Type:      EventContent,
			Data:      ContentData{Text: "hello", IsPartial: true},
			Timestamp: ts,
		}

		b, err := json.Marshal(ev)
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(b, &raw))
		assert.JSONEq(t, `"content"`, string(raw["type"]))
		assert.JSONEq(t, `{"text":"hello","isPartial":true}`, string(raw["data"]))
		assert.JSONEq(t, `"2025-06-01T12:30:00Z"`, string(raw["timestamp"]))
	})

	t.Run("optional fields omitted", func(t *testing.T) {
		ev := Event{
			Type:      EventError,
			Data:      ErrorData{Message: "boom", Code: CodeInternal},
			Timestamp: ts,
		}

		b, err := json.Marshal(ev)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "details")
	})
}

func TestEventUnmarshalJSON(t *testing.T) {
	t.Run("round trip per tag", func(t *testing.T) {
		cases := []Event{
			New(EventContent, ContentData{Text: "x", IsPartial: true}),
			New(EventThought, ThoughtData{Subject: "plan", Description: "list files"}),
			New(EventToolCall, ToolCallData{CallID: "c1", Name: "read_file", Args: map[string]any{"path": "a"}}),
			New(EventToolResult, ToolResultData{CallID: "c1", Name: "read_file", Success: true}),
			New(EventComplete, CompleteData{Success: true}),
			New(EventTokenUsage, TokenUsageData{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}),
		}

		for _, want := range cases {
			t.Run(string(want.Type), func(t *testing.T) {
				b, err := json.Marshal(want)
				require.NoError(t, err)

				var got Event
				require.NoError(t, json.Unmarshal(b, &got))
				assert.Equal(t, want.Type, got.Type)
			})
		}
	})

	t.Run("unknown tag rejected", func(t *testing.T) {
		line := `{"type":"bogus","data":{},"timestamp":"2025-06-01T12:30:00Z"}`
		var ev Event
		err := json.Unmarshal([]byte(line), &ev)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event type")
	})

	t.Run("payload decoded to typed struct", func(t *testing.T) {
		line := `{"type":"tool_execution","data":{"callId":"c7","status":"executing","message":"running"},"timestamp":"2025-06-01T12:30:00Z"}`
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))

		data, ok := ev.Data.(*ToolExecutionData)
		require.True(t, ok)
		assert.Equal(t, "c7", data.CallID)
		assert.Equal(t, ExecutionExecuting, data.Status)
	})
}

func TestHeartbeat(t *testing.T) {
	ev := Heartbeat()
	assert.Equal(t, EventHeartbeat, ev.Type)

	data, ok := ev.Data.(HeartbeatData)
	require.True(t, ok)
	assert.NotEmpty(t, data.Timestamp)
}
