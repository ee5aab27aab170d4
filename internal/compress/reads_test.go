package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctxpress/compaction/internal/message"
)

func readExchange(id, path, body string) []message.Message {
	return []message.Message{
		callMsg(id, "Read", `{"path":"`+path+`"}`),
		resultMsg(id, body),
	}
}

func TestCleanupDigestedReadsFullReread(t *testing.T) {
	full := strings.Repeat("package main // line\n", 100)
	partial := full[:len(full)/2]

	var msgs []message.Message
	msgs = append(msgs, readExchange("t1", "/app/main.go", partial)...)
	msgs = append(msgs, readExchange("t2", "/app/other.go", strings.Repeat("other\n", 100))...)
	msgs = append(msgs, readExchange("t3", "/app/main.go", full)...)

	saved := CleanupDigestedReads(msgs)
	assert.Positive(t, saved)

	// The last read of main.go is the full file, so the earlier partial
	// read becomes a pointer stub.
	first := message.ResultText(msgs[1].Content.AsBlocks()[0])
	assert.Contains(t, first, "refer to the latest Read result")
	assert.Equal(t, full, message.ResultText(msgs[5].Content.AsBlocks()[0]))
	assert.Contains(t, message.ResultText(msgs[3].Content.AsBlocks()[0]), "other")
}

func TestCleanupDigestedReadsFragmentDedup(t *testing.T) {
	frag := strings.Repeat("section A content\n", 30)
	other := strings.Repeat("section B content that is much much longer than the fragment reads ever get\n", 40)

	var msgs []message.Message
	msgs = append(msgs, readExchange("t1", "/app/doc.md", frag)...)
	msgs = append(msgs, readExchange("t2", "/app/doc.md", other)...)
	msgs = append(msgs, readExchange("t3", "/app/doc.md", frag)...)

	saved := CleanupDigestedReads(msgs)
	assert.Positive(t, saved)

	// Identical fragments collapse to the last copy; the distinct read
	// survives.
	assert.Contains(t, message.ResultText(msgs[1].Content.AsBlocks()[0]), "duplicate read")
	assert.Equal(t, other, message.ResultText(msgs[3].Content.AsBlocks()[0]))
	assert.Equal(t, frag, message.ResultText(msgs[5].Content.AsBlocks()[0]))
}

func TestDetectSubagent(t *testing.T) {
	assert.True(t, DetectSubagent([]message.Message{
		{Role: message.RoleSystem, Content: message.Text("be helpful")},
		{Role: message.RoleUser, Content: message.Text("You are a file search specialist. Find every handler.")},
	}))
	assert.False(t, DetectSubagent([]message.Message{
		{Role: message.RoleUser, Content: message.Text("refactor the config loader")},
	}))
	assert.False(t, DetectSubagent(nil))
}

func TestCompressSubagentReads(t *testing.T) {
	var body strings.Builder
	body.WriteString("import os\n\n")
	for i := 0; i < 40; i++ {
		body.WriteString("def handler_" + string(rune('a'+i%26)) + "(self):\n")
		body.WriteString("    value = compute()\n    value += 1\n    return value\n")
	}
	code := body.String()

	var msgs []message.Message
	msgs = append(msgs, readExchange("t1", "/app/handlers.py", code)...)
	msgs = append(msgs, message.Message{Role: message.RoleAssistant, Content: message.Text("scanning")})
	msgs = append(msgs, message.Message{Role: message.RoleUser, Content: message.Text("keep going")})

	saved := CompressSubagentReads(msgs, false)
	assert.Positive(t, saved)
	out := message.ResultText(msgs[1].Content.AsBlocks()[0])
	assert.Less(t, len(out), len(code))
	assert.Contains(t, out, "def handler_a")

	// The trailing two messages stay untouched.
	assert.Equal(t, "keep going", msgs[3].Content.AsText())
}
