package truncation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxpress/compaction/internal/message"
)

func TestRecoveryToolRoleMessage(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.PutTool(ctx, ToolRecord{
		ToolCallID: "call_1", ToolName: "bash", Info: "output cut at 64KB.", CreatedAt: time.Now(),
	}))
	r := NewRecovery(store)

	msgs := []message.Message{
		{Role: message.RoleAssistant, ToolCalls: []message.ToolCall{
			{ID: "call_1", Type: "function", Function: message.ToolFunction{Name: "bash", Arguments: `{"command":"ls"}`}},
		}},
		{Role: message.RoleTool, ToolCallID: "call_1", Content: message.Text("partial output")},
	}

	out, applied, _ := r.Apply(ctx, msgs)
	assert.Equal(t, 1, applied)
	text := out[1].Content.AsText()
	assert.Contains(t, text, "truncated before it finished streaming")
	assert.Contains(t, text, "output cut at 64KB.")
	assert.Contains(t, text, "Original tool result:\npartial output")

	// The record is consumed: a second request sees nothing.
	out2, applied, _ := r.Apply(ctx, msgs)
	assert.Zero(t, applied)
	assert.Equal(t, "partial output", out2[1].Content.AsText())
}

func TestRecoveryToolResultBlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.PutTool(ctx, ToolRecord{
		ToolCallID: "toolu_7", ToolName: "Read", CreatedAt: time.Now(),
	}))
	r := NewRecovery(store)

	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Blocks(
			message.ToolResultBlock("toolu_7", "incomplete file content"),
			message.ToolResultBlock("toolu_8", "fine result"),
		)},
	}

	out, applied, _ := r.Apply(ctx, msgs)
	assert.Equal(t, 1, applied)

	blocks := out[0].Content.AsBlocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, message.BlockText, blocks[0].Type)
	assert.Contains(t, blocks[0].Text, "toolu_7")
	assert.Equal(t, "incomplete file content", message.ResultText(blocks[1]))
	assert.Equal(t, "fine result", message.ResultText(blocks[2]))

	// Input untouched.
	assert.Len(t, msgs[0].Content.AsBlocks(), 2)
}

func TestRecoveryAssistantContent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	reply := "Here is the plan: first we migrate the schema, then we backfill the"
	require.NoError(t, store.PutContent(ctx, ContentRecord{
		Key: ContentKey(reply), Preview: Preview(reply), CreatedAt: time.Now(),
	}))
	r := NewRecovery(store)

	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("how do we roll this out?")},
		{Role: message.RoleAssistant, Content: message.Text(reply)},
		{Role: message.RoleUser, Content: message.Text("sounds good, continue")},
	}

	out, applied, _ := r.Apply(ctx, msgs)
	assert.Equal(t, 1, applied)
	require.Len(t, out, 4)

	assert.Equal(t, message.RoleUser, out[2].Role)
	assert.Contains(t, out[2].Content.AsText(), "cut off mid-stream")
	assert.Equal(t, "sounds good, continue", out[3].Content.AsText())
}

// brokenStore fails every lookup, exercising the degraded no-op path.
type brokenStore struct{ Store }

func (brokenStore) TakeTool(context.Context, string) (*ToolRecord, error) {
	return nil, errors.New("store unavailable")
}

func (brokenStore) TakeContent(context.Context, string) (*ContentRecord, error) {
	return nil, errors.New("store unavailable")
}

func TestRecoveryStoreFailureCounted(t *testing.T) {
	ctx := context.Background()
	r := NewRecovery(brokenStore{})

	msgs := []message.Message{
		{Role: message.RoleTool, ToolCallID: "call_1", Content: message.Text("partial output")},
		{Role: message.RoleAssistant, Content: message.Text("some reply")},
	}

	out, applied, failed := r.Apply(ctx, msgs)
	assert.Zero(t, applied)
	assert.Equal(t, 2, failed)

	// Request passes through unpatched.
	assert.Equal(t, "partial output", out[0].Content.AsText())
	assert.Equal(t, "some reply", out[1].Content.AsText())
}

func TestRecoveryNoRecordsNoChange(t *testing.T) {
	ctx := context.Background()
	r := NewRecovery(NewMemStore())
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("hello")},
		{Role: message.RoleAssistant, Content: message.Text("hi there")},
	}
	out, applied, _ := r.Apply(ctx, msgs)
	assert.Zero(t, applied)
	assert.Len(t, out, 2)
}
