package compress

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxpress/compaction/internal/message"
)

func callMsg(id, name, args string) message.Message {
	return message.Message{
		Role:    message.RoleAssistant,
		Content: message.Blocks(message.ToolUseBlock(id, name, json.RawMessage(args))),
	}
}

func resultMsg(id, text string) message.Message {
	return message.Message{
		Role:    message.RoleUser,
		Content: message.Blocks(message.ToolResultBlock(id, text)),
	}
}

func TestCleanRetryLoops(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("edit the config")},
		callMsg("t1", "str_replace", `{"path":"a.go"}`),
		resultMsg("t1", "Error: Invalid arguments for tool str_replace"),
		callMsg("t2", "str_replace", `{"path":"a.go"}`),
		resultMsg("t2", "Error: Invalid arguments for tool str_replace"),
		callMsg("t3", "str_replace", `{"path":"a.go"}`),
		resultMsg("t3", "Error: Invalid arguments for tool str_replace"),
		{Role: message.RoleAssistant, Content: message.Text("done")},
	}

	out, removed := CleanRetryLoops(msgs)
	assert.Equal(t, 4, removed)
	require.Len(t, out, 4)
	// The final round of the run survives, earlier rounds are gone.
	assert.Equal(t, "edit the config", out[0].Content.AsText())
	assert.Equal(t, []string{"t3"}, message.ToolUseIDs(out[1]))
	assert.Equal(t, []string{"t3"}, message.ResultIDs(out[2]))
}

func TestCleanRetryLoopsSingleErrorUntouched(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("go")},
		callMsg("t1", "edit", `{}`),
		resultMsg("t1", "Error: Invalid arguments"),
		{Role: message.RoleAssistant, Content: message.Text("retrying differently")},
	}
	out, removed := CleanRetryLoops(msgs)
	assert.Zero(t, removed)
	assert.Len(t, out, 4)
}

func TestDeduplicateResults(t *testing.T) {
	fileA := "/srv/app/config.yaml\n" + strings.Repeat("key: value\n", 100)
	fileB := "/srv/app/other.yaml\n" + strings.Repeat("other: thing\n", 100)

	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("start")},
		resultMsg("t1", fileA),
		resultMsg("t2", fileB),
		resultMsg("t3", fileA),
		resultMsg("t4", fileA),
	}

	out, stubbed := DeduplicateResults(msgs)
	assert.Equal(t, 2, stubbed)

	// Earlier copies become stubs, the last copy survives intact.
	assert.Contains(t, message.ResultText(out[1].Content.AsBlocks()[0]), "Refer to later tool_result")
	assert.Contains(t, message.ResultText(out[3].Content.AsBlocks()[0]), "Refer to later tool_result")
	assert.Equal(t, fileA, message.ResultText(out[4].Content.AsBlocks()[0]))
	assert.Equal(t, fileB, message.ResultText(out[2].Content.AsBlocks()[0]))

	// Input untouched.
	assert.Equal(t, fileA, message.ResultText(msgs[1].Content.AsBlocks()[0]))
}

func TestCompressImages(t *testing.T) {
	img := message.Block{
		Type: message.BlockImage,
		Source: &message.ImageSource{
			Type: "base64", MediaType: "image/png", Data: strings.Repeat("A", 40000),
		},
	}
	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Blocks(message.TextBlock("screenshot"), img)},
		{Role: message.RoleAssistant, Content: message.Text("looking")},
		{Role: message.RoleUser, Content: message.Blocks(message.TextBlock("recent shot"), img)},
	}
	// Old message is compressible, the recent one protected.
	priorities := ComputePriorities(msgs)
	priorities[0] = 50
	priorities[2] = 80

	out, saved := CompressImages(msgs, priorities)
	assert.Equal(t, 40000, saved)

	blocks := out[0].Content.AsBlocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, message.BlockText, blocks[1].Type)
	assert.Contains(t, blocks[1].Text, "image/png")

	assert.Equal(t, message.BlockImage, out[2].Content.AsBlocks()[1].Type)
}
