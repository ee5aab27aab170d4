// Package compress - reads.go deduplicates repeated reads of the same file
// and drives the read-heavy subagent compression path.
package compress

import (
	"crypto/md5" // #nosec G501 -- content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
)

// =============================================================================
// GHOST READ DEDUPLICATION
// =============================================================================

type readSighting struct {
	msgIdx   int
	blockIdx int
	length   int
	hash     string
}

// CleanupDigestedReads removes stale copies when the same file was read
// more than once. If the latest read covers most of the file, every earlier
// read is replaced with a pointer to it; otherwise only byte-identical
// fragment reads are collapsed. Returns chars saved.
func CleanupDigestedReads(msgs []message.Message) int {
	nameMap := message.ToolIDToName(msgs)
	pathMap := message.ToolIDToPath(msgs)

	byPath := make(map[string][]readSighting)
	var order []string

	for mi, m := range msgs {
		if m.Role != message.RoleUser || !m.Content.IsList() {
			continue
		}
		for bi, b := range m.Content.AsBlocks() {
			if b.Type != message.BlockToolResult {
				continue
			}
			if !message.IsReadToolName(nameMap[b.ToolUseID]) {
				continue
			}
			text := message.ResultText(b)
			if len(text) < 200 {
				continue
			}
			key := pathMap[b.ToolUseID]
			if key == "" {
				key = extractFilePathKey(text)
			}
			if key == "" {
				continue
			}
			frag := text
			if len(frag) > config.DedupFragmentHashLen {
				frag = frag[:config.DedupFragmentHashLen]
			}
			sum := md5.Sum([]byte(frag))
			if _, seen := byPath[key]; !seen {
				order = append(order, key)
			}
			byPath[key] = append(byPath[key], readSighting{mi, bi, len(text), hex.EncodeToString(sum[:])})
		}
	}

	saved := 0
	for _, key := range order {
		sights := byPath[key]
		if len(sights) < 2 {
			continue
		}
		maxLen := 0
		for _, s := range sights {
			if s.length > maxLen {
				maxLen = s.length
			}
		}
		last := sights[len(sights)-1]

		if float64(last.length) >= float64(maxLen)*config.DedupFullRereadRatio {
			// The latest read is (close to) the full file: earlier reads
			// are stale copies.
			stub := fmt.Sprintf("[System: earlier read of %s was deduplicated to save context space. "+
				"The file content is unchanged — refer to the latest Read result below for current content.]", key)
			for _, s := range sights[:len(sights)-1] {
				saved += replaceResultText(msgs, s, stub)
			}
			continue
		}

		// Partial reads: only collapse byte-identical fragments, keeping
		// the last occurrence of each.
		lastOfHash := make(map[string]int)
		for idx, s := range sights {
			lastOfHash[s.hash] = idx
		}
		stub := fmt.Sprintf("[System: duplicate read of %s deduplicated — same content appears later.]", key)
		for idx, s := range sights {
			if lastOfHash[s.hash] != idx {
				saved += replaceResultText(msgs, s, stub)
			}
		}
	}
	return saved
}

func replaceResultText(msgs []message.Message, s readSighting, stub string) int {
	blocks := message.CloneBlocks(msgs[s.msgIdx].Content.AsBlocks())
	b := &blocks[s.blockIdx]
	old := message.ResultText(*b)
	if len(stub) >= len(old) {
		return 0
	}
	message.SetResultText(b, stub)
	msgs[s.msgIdx].Content = message.Blocks(blocks...)
	return len(old) - len(stub)
}

// =============================================================================
// SUBAGENT MODE
// =============================================================================

var subagentMarkers = []string{
	"file search specialist",
	"read-only mode",
	"read-only exploration task",
}

// DetectSubagent reports whether the conversation opens like a read-only
// exploration task. Those sessions are almost entirely file reads and
// tolerate much harder skeleton compression.
func DetectSubagent(msgs []message.Message) bool {
	for _, m := range msgs {
		if m.Role != message.RoleUser {
			continue
		}
		text := m.Content.AsText()
		if text == "" && m.Content.IsList() {
			for _, b := range m.Content.AsBlocks() {
				if b.Type == message.BlockText {
					text = b.Text
					break
				}
			}
		}
		if len(text) > 2000 {
			text = text[:2000]
		}
		lower := strings.ToLower(text)
		for _, marker := range subagentMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
		return false
	}
	return false
}

// codeLangs are the languages worth AST/regex skeletonizing in subagent
// mode; prose formats go through the second markdown pass instead.
var codeLangs = map[string]bool{
	"python": true, "typescript": true, "go": true,
	"java": true, "rust": true,
}

// CompressSubagentReads skeletonizes read results in a subagent session,
// protecting the last two messages. aggressive additionally collapses
// markdown and other prose reads. Returns chars saved.
func CompressSubagentReads(msgs []message.Message, aggressive bool) int {
	nameMap := message.ToolIDToName(msgs)
	pathMap := message.ToolIDToPath(msgs)
	saved := 0

	cutoff := len(msgs) - 2
	for mi := 0; mi < cutoff; mi++ {
		m := msgs[mi]
		if m.Role != message.RoleUser || !m.Content.IsList() {
			continue
		}
		blocks := message.CloneBlocks(m.Content.AsBlocks())
		changed := false
		for bi := range blocks {
			b := &blocks[bi]
			if b.Type != message.BlockToolResult || !message.IsReadToolName(nameMap[b.ToolUseID]) {
				continue
			}
			text := message.ResultText(*b)
			if len(text) < 2000 {
				continue
			}
			hint := pathMap[b.ToolUseID]
			lang := DetectLanguage(text, hint)

			var out string
			switch {
			case codeLangs[lang]:
				out = SkeletonizeForMap(text, "read", hint)
			case aggressive && lang == "markdown":
				if out = SkeletonizeMarkdown(text); out == "" {
					out = HeadTail(text, 0.2)
				}
			case aggressive:
				out = HeadTail(text, 0.15)
			default:
				continue
			}
			if len(out) < len(text) {
				message.SetResultText(b, out)
				saved += len(text) - len(out)
				changed = true
			}
		}
		if changed {
			msgs[mi].Content = message.Blocks(blocks...)
		}
	}
	return saved
}
