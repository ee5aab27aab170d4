package message

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// TOOL RESULT TEXT ACCESS
// =============================================================================

// ResultText flattens a tool_result block's payload to plain text. The wire
// carries three shapes: a bare string, a sub-block list, or a top-level text
// field. Non-text sub-blocks are skipped.
func ResultText(b Block) string {
	if b.Type != BlockToolResult {
		return ""
	}
	if b.Content == nil {
		return b.Text
	}
	if !b.Content.IsList() {
		return b.Content.AsText()
	}
	var parts []string
	for _, sub := range b.Content.AsBlocks() {
		if sub.Type == BlockText {
			parts = append(parts, sub.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// SetResultText replaces a tool_result block's payload with new text,
// keeping the original shape (string stays string, list becomes a single
// text sub-block).
func SetResultText(b *Block, text string) {
	if b.Content != nil && b.Content.IsList() {
		c := Blocks(TextBlock(text))
		b.Content = &c
		return
	}
	c := Text(text)
	b.Content = &c
}

// ResultID returns the tool-call id a tool_result block answers.
func ResultID(b Block) string { return b.ToolUseID }

// =============================================================================
// TOOL CALL INDEXES
// =============================================================================

// argPathKeys are the argument fields read-style tools use to name the
// resource they touch, in lookup order.
var argPathKeys = []string{"path", "file_path", "relative_workspace_path", "filePath"}

// ToolIDToName maps every tool-call id in the conversation to its tool name,
// covering both the block form and the tool_calls attachment.
func ToolIDToName(msgs []Message) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, b := range m.Content.AsBlocks() {
			if b.Type == BlockToolUse && b.ID != "" {
				out[b.ID] = b.Name
			}
		}
		for _, tc := range m.ToolCalls {
			if tc.ID != "" {
				out[tc.ID] = tc.Function.Name
			}
		}
	}
	return out
}

// ToolIDToPath maps read/search tool-call ids to the file path named in
// their arguments. The path gives the compressor an exact language hint so
// it does not have to guess from result text.
func ToolIDToPath(msgs []Message) map[string]string {
	out := make(map[string]string)
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, b := range m.Content.AsBlocks() {
			if b.Type != BlockToolUse || b.ID == "" || !IsReadToolName(b.Name) {
				continue
			}
			if p := argPath(string(b.Input)); p != "" {
				out[b.ID] = p
			}
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || !IsReadToolName(tc.Function.Name) {
				continue
			}
			if p := argPath(tc.Function.Arguments); p != "" {
				out[tc.ID] = p
			}
		}
	}
	return out
}

// argPath pulls the first path-like field out of an arguments JSON payload.
func argPath(argsJSON string) string {
	if argsJSON == "" || !gjson.Valid(argsJSON) {
		return ""
	}
	for _, key := range argPathKeys {
		if v := gjson.Get(argsJSON, key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// ArgSummary pulls the most descriptive argument (path, pattern or command)
// for digest rendering.
func ArgSummary(argsJSON string) string {
	if argsJSON == "" || !gjson.Valid(argsJSON) {
		return ""
	}
	for _, key := range []string{"path", "file_path", "relative_workspace_path", "pattern", "command", "query", "url"} {
		if v := gjson.Get(argsJSON, key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// readToolNames covers the read/search tool aliases seen across clients.
var readToolNames = map[string]bool{
	"read": true, "read_file": true, "readfile": true,
	"grep": true, "search": true,
	"glob": true, "list_dir": true, "listdir": true,
	"list_files": true, "listfiles": true,
}

// IsReadToolName reports whether name is a read-style tool (case-insensitive).
func IsReadToolName(name string) bool {
	return readToolNames[strings.ToLower(name)]
}

// =============================================================================
// STRUCTURE PREDICATES
// =============================================================================

// HasToolUse reports whether the message issues any tool call.
func HasToolUse(m Message) bool {
	if len(m.ToolCalls) > 0 {
		return true
	}
	for _, b := range m.Content.AsBlocks() {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// HasToolResult reports whether the message carries any tool result.
func HasToolResult(m Message) bool {
	if m.Role == RoleTool {
		return true
	}
	for _, b := range m.Content.AsBlocks() {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// ToolUseIDs lists the tool-call ids a message issues, in order.
func ToolUseIDs(m Message) []string {
	var ids []string
	for _, b := range m.Content.AsBlocks() {
		if b.Type == BlockToolUse && b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	for _, tc := range m.ToolCalls {
		if tc.ID != "" {
			ids = append(ids, tc.ID)
		}
	}
	return ids
}

// ResultIDs lists the tool-call ids a message answers, in order.
func ResultIDs(m Message) []string {
	var ids []string
	if m.Role == RoleTool && m.ToolCallID != "" {
		ids = append(ids, m.ToolCallID)
	}
	for _, b := range m.Content.AsBlocks() {
		if b.Type == BlockToolResult && b.ToolUseID != "" {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// =============================================================================
// COPYING
// =============================================================================

// CloneBlocks copies the block slice so a rewrite pass can edit blocks
// without touching the caller's message.
func CloneBlocks(bs []Block) []Block {
	if bs == nil {
		return nil
	}
	out := make([]Block, len(bs))
	copy(out, bs)
	return out
}

// CloneMessages shallow-copies the message slice. Block slices are shared
// until a pass clones them for editing.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// =============================================================================
// DEBUG SNAPSHOT
// =============================================================================

// Snapshot renders one line per message (role + content sizes) for debug
// logs and dump files.
func Snapshot(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		var desc string
		if m.Content.IsList() {
			var parts []string
			for _, b := range m.Content.AsBlocks() {
				switch b.Type {
				case BlockToolResult:
					parts = append(parts, fmt.Sprintf("tool_result(%d)", len(ResultText(b))))
				case BlockToolUse:
					parts = append(parts, fmt.Sprintf("tool_use(%d)", len(b.Input)))
				case BlockText:
					parts = append(parts, fmt.Sprintf("text(%d)", len(b.Text)))
				case BlockImage:
					parts = append(parts, "image")
				default:
					parts = append(parts, string(b.Type))
				}
			}
			desc = "[" + strings.Join(parts, ", ") + "]"
		} else {
			desc = fmt.Sprintf("str(%d)", len(m.Content.AsText()))
		}
		if n := len(m.ToolCalls); n > 0 {
			desc += fmt.Sprintf(" +tool_calls(%d)", n)
		}
		fmt.Fprintf(&sb, "  [%2d] %-10s %s\n", i, m.Role, desc)
	}
	return sb.String()
}
