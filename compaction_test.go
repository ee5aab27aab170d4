package compaction

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxpress/compaction/internal/compress"
	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
)

func newTestGateway(t *testing.T, window int) *Gateway {
	t.Helper()
	cfg := config.Default()
	cfg.ContextWindow = window
	g, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGatewayPassthroughUnderTrigger(t *testing.T) {
	g := newTestGateway(t, 128000)
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("hello")},
		{Role: message.RoleAssistant, Content: message.Text("hi, what can I do?")},
	}

	out, stats := g.CompressContext(context.Background(), msgs, nil)
	assert.Equal(t, compress.Level0, stats.Level)
	assert.Len(t, out, 2)

	full := g.Stats()
	assert.Equal(t, int64(1), full.Requests.Total)
	assert.Equal(t, int64(1), full.Requests.Untouched)
}

func TestGatewayCompressesOversizedConversation(t *testing.T) {
	g := newTestGateway(t, 4000)

	var msgs []message.Message
	msgs = append(msgs, message.Message{Role: message.RoleSystem, Content: message.Text("agent")})
	for i := 0; i < 30; i++ {
		id := "tu_" + strings.Repeat(string(rune('a'+i%26)), 2)
		input, _ := json.Marshal(map[string]string{"command": "step " + id})
		msgs = append(msgs, message.Message{
			Role:    message.RoleAssistant,
			Content: message.Blocks(message.ToolUseBlock(id, "shell", input)),
		})
		body := "run " + id + "\n" + strings.Repeat("output line for "+id+"\n", 150)
		msgs = append(msgs, message.Message{
			Role:    message.RoleUser,
			Content: message.Blocks(message.ToolResultBlock(id, body)),
		})
	}

	out, stats := g.CompressContext(context.Background(), msgs, nil)
	assert.Greater(t, stats.Level, compress.Level0)
	assert.Less(t, stats.TokensAfter, stats.TokensBefore)
	assert.NotEmpty(t, out)

	full := g.Stats()
	assert.Equal(t, int64(1), full.Requests.Compressed)
	assert.Positive(t, full.Tokens.TokensSaved)
}

func TestGatewayTruncationRoundTrip(t *testing.T) {
	g := newTestGateway(t, 128000)
	ctx := context.Background()

	require.NoError(t, g.RecordToolTruncation(ctx, "call_42", "bash", "stream ended at 32KB."))

	msgs := []message.Message{
		{Role: message.RoleAssistant, ToolCalls: []message.ToolCall{
			{ID: "call_42", Type: "function", Function: message.ToolFunction{Name: "bash", Arguments: `{"command":"make"}`}},
		}},
		{Role: message.RoleTool, ToolCallID: "call_42", Content: message.Text("partial build log")},
	}

	out, stats := g.CompressContext(ctx, msgs, nil)
	assert.Equal(t, compress.Level0, stats.Level)
	assert.Contains(t, out[1].Content.AsText(), "stream ended at 32KB.")
	assert.Contains(t, out[1].Content.AsText(), "partial build log")

	full := g.Stats()
	assert.Equal(t, int64(1), full.Truncation.Stored)
	assert.Equal(t, int64(1), full.Truncation.Recovered)

	// Consumed: replaying the request leaves the message alone.
	out, _ = g.CompressContext(ctx, msgs, nil)
	assert.Equal(t, "partial build log", out[1].Content.AsText())
}

func TestGatewayContentTruncationRoundTrip(t *testing.T) {
	g := newTestGateway(t, 128000)
	ctx := context.Background()

	reply := "The migration has three phases. Phase one renames the old tables and"
	require.NoError(t, g.RecordContentTruncation(ctx, reply))

	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("how does the migration work?")},
		{Role: message.RoleAssistant, Content: message.Text(reply)},
	}
	out, n := g.ApplyTruncationRecovery(ctx, msgs)
	assert.Equal(t, 1, n)
	require.Len(t, out, 3)
	assert.Equal(t, message.RoleUser, out[2].Role)
	assert.Contains(t, out[2].Content.AsText(), "cut off mid-stream")
}
