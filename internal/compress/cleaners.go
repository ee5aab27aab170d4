// Package compress - cleaners.go holds the lossless and near-lossless
// passes: retry-loop removal, repeated-read dedup, and image placeholder
// substitution.
package compress

import (
	"crypto/md5" // #nosec G501 -- content fingerprint, not security
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
)

// =============================================================================
// RETRY LOOP REMOVAL
// =============================================================================

// isErrorInvalidArgs matches the user-side error a client emits after a
// truncated tool call fails validation.
func isErrorInvalidArgs(m message.Message) bool {
	if m.Role != message.RoleUser {
		return false
	}
	if m.Content.IsList() {
		for _, b := range m.Content.AsBlocks() {
			if b.Type != message.BlockToolResult {
				continue
			}
			if strings.Contains(message.ResultText(b), "Error: Invalid arguments") {
				return true
			}
		}
		return false
	}
	return strings.Contains(m.Content.AsText(), "Error: Invalid arguments")
}

// CleanRetryLoops removes repeated assistant(tool_call) -> user(invalid
// arguments) cycles, keeping only the final round of each run. Returns the
// cleaned slice and how many messages were dropped.
func CleanRetryLoops(msgs []message.Message) ([]message.Message, int) {
	if len(msgs) < 4 {
		return msgs, 0
	}

	var errorIdx []int
	for i := range msgs {
		if isErrorInvalidArgs(msgs[i]) {
			errorIdx = append(errorIdx, i)
		}
	}
	if len(errorIdx) < 2 {
		return msgs, 0
	}

	var runs [][][2]int
	var run [][2]int
	for _, i := range errorIdx {
		if i > 0 && msgs[i-1].Role == message.RoleAssistant {
			run = append(run, [2]int{i - 1, i})
		} else {
			if len(run) >= 2 {
				runs = append(runs, run)
			}
			run = nil
		}
	}
	if len(run) >= 2 {
		runs = append(runs, run)
	}

	remove := make(map[int]bool)
	for _, r := range runs {
		for _, pair := range r[:len(r)-1] {
			remove[pair[0]] = true
			remove[pair[1]] = true
		}
	}
	if len(remove) == 0 {
		return msgs, 0
	}

	cleaned := make([]message.Message, 0, len(msgs)-len(remove))
	for i := range msgs {
		if !remove[i] {
			cleaned = append(cleaned, msgs[i])
		}
	}
	return cleaned, len(remove)
}

// =============================================================================
// REPEATED READ DEDUP
// =============================================================================

// extractFilePathKey pulls a leading absolute path out of a read result to
// key repeated reads of the same file.
func extractFilePathKey(text string) string {
	lines := strings.SplitN(strings.TrimSpace(text), "\n", 6)
	for i := 0; i < len(lines) && i < 3; i++ {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "/") && !strings.HasPrefix(line, "//") {
			return "file:" + line
		}
		if len(line) > 2 && line[1] == ':' && (line[2] == '/' || line[2] == '\\') {
			return "file:" + line
		}
	}
	return ""
}

// DeduplicateResults collapses earlier reads of the same file to a stub
// pointing at the surviving later copy. Results are keyed by leading file
// path, falling back to a content-prefix hash.
func DeduplicateResults(msgs []message.Message) ([]message.Message, int) {
	if len(msgs) < 4 {
		return msgs, 0
	}

	type loc struct{ msg, block int }
	contentMap := make(map[string][]loc)

	for i := range msgs {
		if msgs[i].Role != message.RoleUser || !msgs[i].Content.IsList() {
			continue
		}
		for j, b := range msgs[i].Content.AsBlocks() {
			if b.Type != message.BlockToolResult {
				continue
			}
			text := message.ResultText(b)
			if len(text) < 500 {
				continue
			}
			key := extractFilePathKey(text)
			if key == "" {
				sum := md5.Sum([]byte(head(text, 1000))) // #nosec G401
				key = "hash:" + hex.EncodeToString(sum[:])
			}
			contentMap[key] = append(contentMap[key], loc{i, j})
		}
	}

	targets := make(map[loc]string)
	for key, locs := range contentMap {
		if len(locs) < 2 {
			continue
		}
		for _, l := range locs[:len(locs)-1] {
			targets[l] = fmt.Sprintf("(Refer to later tool_result for same content: %s)", key)
		}
	}
	if len(targets) == 0 {
		return msgs, 0
	}

	out := message.CloneMessages(msgs)
	for i := range out {
		touched := false
		if out[i].Role == message.RoleUser && out[i].Content.IsList() {
			for j := range out[i].Content.AsBlocks() {
				if _, ok := targets[loc{i, j}]; ok {
					touched = true
					break
				}
			}
		}
		if !touched {
			continue
		}
		blocks := message.CloneBlocks(out[i].Content.AsBlocks())
		for j := range blocks {
			if stub, ok := targets[loc{i, j}]; ok {
				message.SetResultText(&blocks[j], stub)
			}
		}
		out[i].Content = message.Blocks(blocks...)
	}
	return out, len(targets)
}

// =============================================================================
// IMAGE PLACEHOLDERS
// =============================================================================

// CompressImages replaces base64 image blocks outside the recent band with
// text placeholders. Returns the rewritten slice and chars saved.
func CompressImages(msgs []message.Message, priorities []config.Priority) ([]message.Message, int) {
	saved := 0
	out := message.CloneMessages(msgs)

	for i := range msgs {
		if priorities[i] >= config.PriorityRecent {
			continue
		}
		if !msgs[i].Content.IsList() {
			continue
		}

		hasImage := false
		for _, b := range msgs[i].Content.AsBlocks() {
			if b.Type == message.BlockImage {
				hasImage = true
				break
			}
		}
		if !hasImage {
			continue
		}

		blocks := message.CloneBlocks(msgs[i].Content.AsBlocks())
		for j, b := range blocks {
			if b.Type != message.BlockImage {
				continue
			}
			data, mediaType := "", "image"
			if b.Source != nil {
				data = b.Source.Data
				if b.Source.MediaType != "" {
					mediaType = b.Source.MediaType
				}
			}
			sizeKB := len(data) * 3 / 4 / 1024
			saved += len(data)
			blocks[j] = message.TextBlock(fmt.Sprintf(
				"[image: %s, ~%dKB — removed from early context to save tokens]", mediaType, sizeKB))
		}
		out[i].Content = message.Blocks(blocks...)
	}

	return out, saved
}
