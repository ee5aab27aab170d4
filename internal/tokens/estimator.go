// Package tokens estimates request size for compression decisions.
//
// DESIGN: the engine only needs estimates that are cheap, monotonic in
// content size, and consistent across passes. Exact tokenizer counts are
// not required for correctness, so the default estimator is a bytes-per-
// token heuristic and the BPE-backed estimator is opt-in for callers that
// want tighter trigger points.
package tokens

import (
	"encoding/json"

	"github.com/ctxpress/compaction/internal/message"
)

// CharsPerToken is the heuristic density for mixed code-and-prose
// conversation content. Tuned against agent transcripts, which run denser
// than plain English.
const CharsPerToken = 2.8

// Estimator converts text and messages to approximate token counts.
type Estimator interface {
	// Text estimates tokens for a plain string.
	Text(s string) int

	// Messages estimates tokens for a conversation plus its tool
	// definitions.
	Messages(msgs []message.Message, tools []message.Tool) int
}

// =============================================================================
// HEURISTIC ESTIMATOR
// =============================================================================

// Heuristic estimates tokens as serialized length divided by CharsPerToken.
// Structured content is measured in its wire form so block overhead counts.
type Heuristic struct{}

func NewHeuristic() Heuristic { return Heuristic{} }

func (Heuristic) Text(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(len(s)) / CharsPerToken)
}

func (h Heuristic) Messages(msgs []message.Message, tools []message.Tool) int {
	total := 0
	for i := range msgs {
		total += h.Message(msgs[i])
	}
	if len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			total += h.Text(string(data))
		}
	}
	return total
}

// Message estimates tokens for a single message.
func (h Heuristic) Message(m message.Message) int {
	total := 0
	if m.Content.IsList() {
		if data, err := json.Marshal(m.Content); err == nil {
			total += h.Text(string(data))
		}
	} else {
		total += h.Text(m.Content.AsText())
	}
	if len(m.ToolCalls) > 0 {
		if data, err := json.Marshal(m.ToolCalls); err == nil {
			total += h.Text(string(data))
		}
	}
	return total
}
