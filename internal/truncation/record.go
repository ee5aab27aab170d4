// Package truncation persists the fact that a backend response was cut off
// mid-stream, so the next request from the same conversation can tell the
// model what happened instead of continuing from corrupted state.
//
// DESIGN: the request that detects a truncation and the request that must
// react to it are different HTTP calls, possibly served by different
// workers. Records therefore live in a store chosen by configuration
// (in-process memory, a file directory, or sqlite) and are consumed
// read-once: two concurrent takes for the same key must not both see the
// record.
package truncation

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"

	"github.com/ctxpress/compaction/internal/config"
)

// ToolRecord marks one tool call whose result arrived incomplete.
type ToolRecord struct {
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Info       string    `json:"info"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContentRecord marks one assistant reply that was cut off. It is keyed by
// a prefix hash of the reply text so the next request can find it without
// any shared conversation id.
type ContentRecord struct {
	Key       string    `json:"key"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentKey hashes the fixed-length prefix of an assistant reply. Only
// the prefix is hashed: the tail of a truncated reply differs between the
// streamed original and what the client echoes back.
func ContentKey(text string) string {
	prefix := text
	if len(prefix) > config.TruncationHashPrefixLen {
		prefix = prefix[:config.TruncationHashPrefixLen]
	}
	sum := sha256.Sum256([]byte(prefix))
	return hex.EncodeToString(sum[:])[:config.TruncationKeyLen]
}

// Preview clips the reply text for storage alongside the record.
func Preview(text string) string {
	if len(text) <= config.TruncationPreviewLen {
		return text
	}
	n := config.TruncationPreviewLen
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
