package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctxpress/compaction/internal/message"
)

func TestHeuristicText(t *testing.T) {
	h := NewHeuristic()
	assert.Equal(t, 0, h.Text(""))
	assert.Equal(t, 10, h.Text(strings.Repeat("x", 28)))
	assert.Equal(t, 100, h.Text(strings.Repeat("x", 280)))
}

func TestHeuristicMonotonic(t *testing.T) {
	h := NewHeuristic()
	prev := 0
	for _, n := range []int{0, 10, 100, 1000, 10000} {
		got := h.Text(strings.Repeat("a", n))
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestHeuristicMessages(t *testing.T) {
	h := NewHeuristic()
	msgs := []message.Message{
		{Role: message.RoleSystem, Content: message.Text(strings.Repeat("s", 280))},
		{Role: message.RoleUser, Content: message.Blocks(
			message.ToolResultBlock("t1", strings.Repeat("r", 1000)),
		)},
	}
	got := h.Messages(msgs, nil)
	// String content counts raw, block content counts serialized so the
	// JSON scaffolding is included.
	assert.Greater(t, got, 100+357)
	assert.Less(t, got, 600)
}

func TestHeuristicCountsToolCalls(t *testing.T) {
	h := NewHeuristic()
	bare := message.Message{Role: message.RoleAssistant, Content: message.Text("")}
	withCall := bare
	withCall.ToolCalls = []message.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: message.ToolFunction{Name: "read_file", Arguments: `{"path":"a.go"}`},
	}}
	assert.Greater(t, h.Message(withCall), h.Message(bare))
}

func TestHeuristicCountsTools(t *testing.T) {
	h := NewHeuristic()
	msgs := []message.Message{{Role: message.RoleUser, Content: message.Text("hi")}}
	tools := []message.Tool{{Name: "read_file", Description: strings.Repeat("d", 280)}}
	assert.Greater(t, h.Messages(msgs, tools), h.Messages(msgs, nil))
}
