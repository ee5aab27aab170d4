// Package message defines the conversation data model shared by the
// compression engine and the truncation recovery rewriter.
//
// DESIGN: One unified message shape covers both wire dialects the gateway
// sees:
//   - Anthropic-style: content is a block array (text / tool_use / tool_result)
//   - OpenAI-style: tool calls attached to the message, results as role=tool
//
// Content is a tagged union (plain string OR block list) with custom JSON
// marshalling, so callers switch on the shape instead of probing interface{}.
package message

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// ROLES AND BLOCK TYPES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates content block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single conversation turn. Messages are owned by the request
// that carries them; the engine copies before rewriting and never retains
// them after returning.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`

	// ToolCalls is the OpenAI-style attachment of calls to an assistant
	// message (arguments as a raw JSON string).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a role=tool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is an OpenAI-format function call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the call target and its serialized arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// =============================================================================
// CONTENT UNION - plain string or block list
// =============================================================================

// Content is the message payload: either a plain string or an ordered list
// of content blocks. Exactly one form is set.
type Content struct {
	text   string
	blocks []Block
	isList bool
}

// Text builds string-form content.
func Text(s string) Content { return Content{text: s} }

// Blocks builds list-form content.
func Blocks(bs ...Block) Content { return Content{blocks: bs, isList: true} }

// IsList reports whether the content is the block-list form.
func (c Content) IsList() bool { return c.isList }

// AsText returns the plain string form ("" for list form).
func (c Content) AsText() string { return c.text }

// AsBlocks returns the block list (nil for string form).
func (c Content) AsBlocks() []Block { return c.blocks }

// IsEmpty reports whether the content carries nothing at all.
func (c Content) IsEmpty() bool {
	if c.isList {
		return len(c.blocks) == 0
	}
	return c.text == ""
}

// MarshalJSON renders the wire shape: a bare string or a block array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.isList {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts both wire shapes.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("content string: %w", err)
		}
		*c = Text(s)
		return nil
	case '[':
		var bs []Block
		if err := json.Unmarshal(data, &bs); err != nil {
			return fmt.Errorf("content blocks: %w", err)
		}
		*c = Content{blocks: bs, isList: true}
		return nil
	case 'n': // null
		*c = Content{}
		return nil
	}
	return fmt.Errorf("content: unexpected JSON shape %q", data[0])
}

// =============================================================================
// CONTENT BLOCK
// =============================================================================

// Block is one element of list-form content. Type selects which fields are
// meaningful; the zero value of the rest is omitted on the wire.
type Block struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string     `json:"tool_use_id,omitempty"`
	Content   *Content   `json:"content,omitempty"`
	IsError   bool       `json:"is_error,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds inline image data (base64 payloads can reach 100K+ chars).
type ImageSource struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(s string) Block { return Block{Type: BlockText, Text: s} }

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block with string content.
func ToolResultBlock(toolUseID, text string) Block {
	c := Text(text)
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: &c}
}
