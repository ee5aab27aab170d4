package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
	"github.com/ctxpress/compaction/internal/tokens"
)

func testEngine(window int) *Engine {
	cfg := config.Default()
	cfg.ContextWindow = window
	return NewEngine(cfg, tokens.NewHeuristic())
}

// agentConversation builds n (assistant tool-call, user tool-result)
// exchanges with distinct multi-line shell results of roughly resultSize
// chars each, plus a short tail.
func agentConversation(n, resultSize int) []message.Message {
	msgs := []message.Message{
		{Role: message.RoleSystem, Content: message.Text("you are a coding agent")},
	}
	for i := 0; i < n; i++ {
		id := idFor(i)
		var b strings.Builder
		fmt.Fprintf(&b, "make: entering step %s\n", id)
		for b.Len() < resultSize {
			fmt.Fprintf(&b, "compiling unit %04d of step %s\n", b.Len(), id)
		}
		msgs = append(msgs, callMsg(id, "shell", `{"command":"make step-`+id+`"}`))
		msgs = append(msgs, resultMsg(id, b.String()))
	}
	msgs = append(msgs,
		message.Message{Role: message.RoleAssistant, Content: message.Text("build looks clean")},
		message.Message{Role: message.RoleUser, Content: message.Text("run the next step")},
	)
	return msgs
}

func TestCompressContextNoop(t *testing.T) {
	e := testEngine(128000)
	msgs := agentConversation(3, 500)

	out, stats := e.CompressContext(context.Background(), msgs, nil)
	assert.Equal(t, Level0, stats.Level)
	assert.Zero(t, stats.TokensSaved)
	assert.Equal(t, stats.TokensBefore, stats.TokensAfter)
	require.Len(t, out, len(msgs))

	// The input comes back untouched, byte for byte.
	want, err := json.Marshal(msgs)
	require.NoError(t, err)
	got, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestCompressContextShrinks(t *testing.T) {
	e := testEngine(8000)
	msgs := agentConversation(40, 4000)

	before, err := json.Marshal(msgs)
	require.NoError(t, err)

	out, stats := e.CompressContext(context.Background(), msgs, nil)
	assert.Greater(t, stats.Level, Level0)
	assert.LessOrEqual(t, stats.TokensAfter, stats.TokensBefore)
	assert.Positive(t, stats.TokensSaved)
	assert.Empty(t, orphanIDs(out))

	// The original slice is never mutated.
	after, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestCompressContextNeverProducesOrphans(t *testing.T) {
	for _, window := range []int{2000, 4000, 8000, 16000} {
		e := testEngine(window)
		msgs := agentConversation(30, 6000)
		out, _ := e.CompressContext(context.Background(), msgs, nil)
		assert.Empty(t, orphanIDs(out), "window %d", window)
	}
}

func TestCompressContextProtectedTailStable(t *testing.T) {
	e := testEngine(64000)
	msgs := agentConversation(40, 4000)

	out, stats := e.CompressContext(context.Background(), msgs, nil)
	require.Greater(t, stats.Level, Level0)

	// The short trailing messages survive byte-identical as long as the
	// ladder stops before whole-pair folding.
	if stats.Level < Level4 {
		tail := msgs[len(msgs)-2:]
		outTail := out[len(out)-2:]
		want, _ := json.Marshal(tail)
		got, _ := json.Marshal(outTail)
		assert.Equal(t, string(want), string(got))
	}
}

func TestCompressContextSystemMessageSurvives(t *testing.T) {
	e := testEngine(2000)
	msgs := agentConversation(30, 6000)

	out, _ := e.CompressContext(context.Background(), msgs, nil)
	require.NotEmpty(t, out)
	assert.Equal(t, message.RoleSystem, out[0].Role)
	assert.Equal(t, "you are a coding agent", out[0].Content.AsText())
}

func TestCompressContextSubagentPath(t *testing.T) {
	e := testEngine(4000)
	code := "import os\n\n" + strings.Repeat("def f(self):\n    a = 1\n    b = 2\n    return a + b\n", 200)

	msgs := []message.Message{
		{Role: message.RoleUser, Content: message.Text("You are a file search specialist. Locate the retry logic in read-only mode.")},
	}
	for i := 0; i < 4; i++ {
		id := idFor(i)
		msgs = append(msgs, callMsg(id, "Read", `{"path":"/app/mod_`+id+`.py"}`))
		msgs = append(msgs, resultMsg(id, code))
	}

	out, stats := e.CompressContext(context.Background(), msgs, nil)
	assert.True(t, stats.Subagent)
	assert.Positive(t, stats.TokensSaved)
	assert.Empty(t, orphanIDs(out))
}

func TestCompressContextGuidanceInjection(t *testing.T) {
	cfg := config.Default()
	cfg.ContextWindow = 8000
	cfg.InjectNotice = true
	e := NewEngine(cfg, tokens.NewHeuristic())

	msgs := agentConversation(40, 4000)
	out, _ := e.CompressContext(context.Background(), msgs, nil)
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].Content.AsText(), "compressed to stay")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "0", Level0.String())
	assert.Equal(t, "0.5", LevelHalf.String())
	assert.Equal(t, "2.5", Level2x.String())
	assert.Equal(t, "5", Level5.String())
	assert.Equal(t, 8, Level5.Rung())
}
