package truncation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ctxpress/compaction/internal/message"
	"github.com/ctxpress/compaction/internal/trace"
)

// Recovery patches an incoming request with notices for truncations
// recorded on earlier responses. Each record is consumed exactly once; a
// store failure downgrades to a no-op so a broken store never blocks the
// request path.
type Recovery struct {
	store Store
}

func NewRecovery(store Store) *Recovery {
	return &Recovery{store: store}
}

func toolNotice(rec *ToolRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[System notice: the result of tool call %s", rec.ToolCallID)
	if rec.ToolName != "" {
		fmt.Fprintf(&b, " (%s)", rec.ToolName)
	}
	b.WriteString(" was truncated before it finished streaming.")
	if rec.Info != "" {
		b.WriteString(" " + rec.Info)
	}
	b.WriteString(" The content below may be incomplete; re-run the tool if the missing part matters.]")
	return b.String()
}

func contentNotice(rec *ContentRecord) string {
	notice := "[System notice: your previous reply was cut off mid-stream and the user did not see a complete answer."
	if rec.Preview != "" {
		notice += fmt.Sprintf(" It began: %q.", rec.Preview)
	}
	notice += " Continue or restate the missing part instead of assuming it was delivered.]"
	return notice
}

// Apply rewrites msgs with recovery notices for every consumable record.
// Three shapes are handled: tool-role result messages, tool_result blocks
// inside user messages, and plain assistant replies. Returns the patched
// slice, the number of notices applied, and the number of lookups that
// failed against the store; the input is returned untouched when nothing
// matches.
func (r *Recovery) Apply(ctx context.Context, msgs []message.Message) ([]message.Message, int, int) {
	log := trace.Logger(ctx)
	applied := 0
	failed := 0
	out := msgs
	cloned := false

	ensure := func() {
		if !cloned {
			out = message.CloneMessages(msgs)
			cloned = true
		}
	}

	// Assistant content notices insert a message after their target, so
	// collect insertions and splice once at the end.
	inserts := make(map[int]message.Message)

	for i := range msgs {
		m := msgs[i]
		switch m.Role {
		case message.RoleTool:
			if m.ToolCallID == "" {
				continue
			}
			rec, err := r.store.TakeTool(ctx, m.ToolCallID)
			if err != nil {
				log.Warn().Err(err).Str("tool_call_id", m.ToolCallID).Msg("truncation lookup failed")
				failed++
				continue
			}
			if rec == nil {
				continue
			}
			ensure()
			original := out[i].Content.AsText()
			out[i].Content = message.Text(toolNotice(rec) + "\n\n---\n\nOriginal tool result:\n" + original)
			applied++

		case message.RoleUser:
			if !m.Content.IsList() {
				continue
			}
			var patched []message.Block
			touched := false
			for _, b := range m.Content.AsBlocks() {
				if b.Type == message.BlockToolResult && b.ToolUseID != "" {
					rec, err := r.store.TakeTool(ctx, b.ToolUseID)
					if err != nil {
						log.Warn().Err(err).Str("tool_call_id", b.ToolUseID).Msg("truncation lookup failed")
						failed++
					} else if rec != nil {
						patched = append(patched, message.TextBlock(toolNotice(rec)))
						touched = true
						applied++
					}
				}
				patched = append(patched, b)
			}
			if touched {
				ensure()
				out[i].Content = message.Blocks(patched...)
			}

		case message.RoleAssistant:
			if m.Content.IsList() {
				continue
			}
			text := m.Content.AsText()
			if text == "" {
				continue
			}
			rec, err := r.store.TakeContent(ctx, ContentKey(text))
			if err != nil {
				log.Warn().Err(err).Msg("truncation lookup failed")
				failed++
				continue
			}
			if rec == nil {
				continue
			}
			ensure()
			inserts[i] = message.Message{Role: message.RoleUser, Content: message.Text(contentNotice(rec))}
			applied++
		}
	}

	if len(inserts) > 0 {
		spliced := make([]message.Message, 0, len(out)+len(inserts))
		for i := range out {
			spliced = append(spliced, out[i])
			if ins, ok := inserts[i]; ok {
				spliced = append(spliced, ins)
			}
		}
		out = spliced
	}
	return out, applied, failed
}
