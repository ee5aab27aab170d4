// Package compress - priority.go scores how strongly each message resists
// compression.
package compress

import (
	"encoding/json"
	"strings"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
)

var errorPatterns = []string{
	"Error:", "error:", "ERROR",
	"TypeError", "SyntaxError", "ReferenceError",
	"Cannot find", "is not defined",
	"diagnostic", "Diagnostic",
	"FAILED", "failed",
	"traceback", "Traceback",
	"Exception", "exception",
}

// containsErrorDiagnostic checks plain user text and short tool results for
// error output. Long tool results are skipped: code files mention "Error"
// everywhere and would misfire.
func containsErrorDiagnostic(m message.Message) bool {
	var text string
	if m.Content.IsList() {
		var parts []string
		for _, b := range m.Content.AsBlocks() {
			switch b.Type {
			case message.BlockText:
				parts = append(parts, b.Text)
			case message.BlockToolResult:
				if rt := message.ResultText(b); len(rt) < 500 {
					parts = append(parts, rt)
				}
			}
		}
		text = strings.Join(parts, "\n")
	} else {
		text = m.Content.AsText()
	}
	if text == "" {
		return false
	}
	for _, pat := range errorPatterns {
		if strings.Contains(text, pat) {
			return true
		}
	}
	return false
}

// scorePriority ranks one message. Higher scores survive longer.
func scorePriority(m message.Message, idx, total int, isLastUser bool) config.Priority {
	if m.Role == message.RoleSystem {
		return config.PrioritySystem
	}
	if isLastUser {
		return config.PriorityLastUser
	}
	if idx >= total-config.BandBSize {
		return config.PriorityRecent
	}
	if m.Role == message.RoleUser && containsErrorDiagnostic(m) {
		return config.PriorityErrorDiag
	}

	if m.Role == message.RoleAssistant {
		contentLen := 0
		if m.Content.IsList() {
			if data, err := json.Marshal(m.Content); err == nil {
				contentLen = len(data)
			}
		} else {
			contentLen = len(m.Content.AsText())
		}
		if contentLen > 3000 && float64(idx) < float64(total)*0.7 {
			return config.PriorityEarlyAssistant
		}
		return config.PriorityNormal
	}

	if m.Role == message.RoleUser && m.Content.IsList() {
		for _, b := range m.Content.AsBlocks() {
			if b.Type == message.BlockToolResult && len(message.ResultText(b)) > config.LargeResultThreshold {
				if float64(idx) < float64(total)*0.7 {
					return config.PriorityEarlyResult
				}
				break
			}
		}
	}

	return config.PriorityNormal
}

// hasUnansweredCall reports whether the message issues a tool call no
// message in the conversation answers.
func hasUnansweredCall(m message.Message, answered map[string]bool) bool {
	for _, id := range message.ToolUseIDs(m) {
		if !answered[id] {
			return true
		}
	}
	return false
}

// ComputePriorities scores every message in the conversation. An assistant
// whose tool call is still awaiting its result is pinned into the protected
// range no matter how old it is: rewriting it would strand the pending call.
func ComputePriorities(msgs []message.Message) []config.Priority {
	total := len(msgs)
	lastUser := -1
	for i := total - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleUser {
			lastUser = i
			break
		}
	}
	answered := make(map[string]bool)
	for _, m := range msgs {
		for _, id := range message.ResultIDs(m) {
			answered[id] = true
		}
	}
	out := make([]config.Priority, total)
	for i := range msgs {
		out[i] = scorePriority(msgs[i], i, total, i == lastUser)
		if msgs[i].Role == message.RoleAssistant && out[i] < config.PriorityRecent &&
			hasUnansweredCall(msgs[i], answered) {
			out[i] = config.PriorityRecent
		}
	}
	return out
}

// =============================================================================
// PROTECTION BANDS
// =============================================================================

// Band identifies how far a message sits from the conversation tail.
type Band byte

const (
	BandA Band = 'A' // absolutely protected
	BandB Band = 'B' // dedup and image shrink only
	BandC Band = 'C' // skeletons and summaries
	BandD Band = 'D' // digests
	BandE Band = 'E' // final sweep
)

// BandBounds holds the start index of each band for a conversation length.
type BandBounds struct {
	DStart, CStart, BStart, AStart int
}

// ClassifyBands computes band boundaries from the total message count.
func ClassifyBands(total int) BandBounds {
	b := BandBounds{
		AStart: max(0, total-config.BandASize),
		BStart: max(0, total-config.BandBSize),
		CStart: max(0, total-config.BandCSize),
		DStart: max(0, total-config.BandDSize),
	}
	b.DStart = min(b.DStart, b.CStart)
	b.CStart = min(b.CStart, b.BStart)
	b.BStart = min(b.BStart, b.AStart)
	return b
}

// BandOf returns which band a message index falls in.
func (b BandBounds) BandOf(idx int) Band {
	switch {
	case idx >= b.AStart:
		return BandA
	case idx >= b.BStart:
		return BandB
	case idx >= b.CStart:
		return BandC
	case idx >= b.DStart:
		return BandD
	default:
		return BandE
	}
}
