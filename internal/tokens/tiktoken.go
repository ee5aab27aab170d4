package tokens

import (
	"encoding/json"
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/ctxpress/compaction/internal/message"
)

// BPE counts tokens with a real tokenizer. Encoding is cl100k_base, which
// tracks closely enough across the frontier-model families the gateway
// fronts. Construction loads the BPE ranks, so callers should build one
// and reuse it.
type BPE struct {
	enc *tiktoken.Tiktoken
}

// NewBPE loads the cl100k_base encoding.
func NewBPE() (*BPE, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &BPE{enc: enc}, nil
}

func (b *BPE) Text(s string) int {
	if s == "" {
		return 0
	}
	return len(b.enc.Encode(s, nil, nil))
}

func (b *BPE) Messages(msgs []message.Message, tools []message.Tool) int {
	total := 0
	for i := range msgs {
		m := msgs[i]
		if m.Content.IsList() {
			if data, err := json.Marshal(m.Content); err == nil {
				total += b.Text(string(data))
			}
		} else {
			total += b.Text(m.Content.AsText())
		}
		if len(m.ToolCalls) > 0 {
			if data, err := json.Marshal(m.ToolCalls); err == nil {
				total += b.Text(string(data))
			}
		}
	}
	if len(tools) > 0 {
		if data, err := json.Marshal(tools); err == nil {
			total += b.Text(string(data))
		}
	}
	return total
}
