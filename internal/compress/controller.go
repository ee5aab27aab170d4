// Package compress - controller.go runs the escalation ladder. Each level
// is a progressively harsher pass over the conversation; the engine climbs
// until the token estimate falls under the target or the ladder runs out.
//
// DESIGN: levels are ordered by information loss, not by savings. Cheap
// lossless passes (duplicate collapse, retry cleanup) always run before
// anything that rewrites content, and whole-exchange digest folding comes
// last before the safety valve. After every level the engine re-estimates,
// so a conversation that recovers early is never over-compressed.
package compress

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
	"github.com/ctxpress/compaction/internal/tokens"
	"github.com/ctxpress/compaction/internal/trace"
)

// =============================================================================
// LEVELS
// =============================================================================

// Level is one rung of the escalation ladder.
type Level int

const (
	Level0    Level = iota // untouched
	LevelHalf              // duplicate and ghost-read collapse
	Level1                 // retry loop cleanup, image shrink
	Level2                 // large results outside the protected band
	Level2x                // very large results inside the extended band
	Level3                 // decision summaries, tool_use input folding
	Level3x                // tool_calls argument folding
	Level4                 // whole-exchange digest folding
	Level5                 // safety valve over everything that remains
)

var levelNames = [...]string{"0", "0.5", "1", "2", "2.5", "3", "3.5", "4", "5"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Rung is the level's position on the ladder, 0 through 8.
func (l Level) Rung() int { return int(l) }

// Stats describes one compression run.
type Stats struct {
	Level        Level
	Subagent     bool
	TokensBefore int
	TokensAfter  int
	TokensSaved  int
	MessagesIn   int
	MessagesOut  int
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives the ladder for one gateway instance. Safe for concurrent
// use; all per-request state lives on the stack.
type Engine struct {
	cfg config.Config
	est tokens.Estimator
}

func NewEngine(cfg config.Config, est tokens.Estimator) *Engine {
	return &Engine{cfg: cfg, est: est}
}

// CompressContext runs the ladder over msgs. When the estimate is already
// under the trigger the input slice is returned unchanged; otherwise a new
// slice is returned and the input is never mutated.
func (e *Engine) CompressContext(ctx context.Context, msgs []message.Message, tools []message.Tool) ([]message.Message, Stats) {
	log := trace.Logger(ctx)

	before := e.est.Messages(msgs, tools)
	trigger := int(e.cfg.TriggerRatio * float64(e.cfg.ContextWindow))
	target := int(e.cfg.TargetRatio * float64(e.cfg.ContextWindow))

	stats := Stats{
		Level:        Level0,
		TokensBefore: before,
		TokensAfter:  before,
		MessagesIn:   len(msgs),
		MessagesOut:  len(msgs),
	}
	if before <= trigger {
		return msgs, stats
	}

	work := message.CloneMessages(msgs)

	if DetectSubagent(work) {
		stats.Subagent = true
		CompressSubagentReads(work, false)
		cur := e.est.Messages(work, tools)
		if cur > trigger {
			CompressSubagentReads(work, true)
			cur = e.est.Messages(work, tools)
		}
		stats.Level = Level2
		stats.TokensAfter = cur
		stats.TokensSaved = before - cur
		stats.MessagesOut = len(work)
		log.Info().
			Int("tokens_before", before).
			Int("tokens_after", cur).
			Msg("subagent read compression applied")
		return work, stats
	}

	cur := before
	for lvl := LevelHalf; lvl <= Level5 && cur > target; lvl++ {
		priorities := ComputePriorities(work)
		bands := ClassifyBands(len(work))
		charsNeeded := int(float64(cur-target) * tokens.CharsPerToken)

		switch lvl {
		case LevelHalf:
			work, _ = DeduplicateResults(work)
			CleanupDigestedReads(work)
		case Level1:
			work, _ = CleanRetryLoops(work)
			priorities = ComputePriorities(work)
			work, _ = CompressImages(work, priorities)
		case Level2:
			e.compressLargeResults(work, priorities, bands.AStart, config.LargeResultThreshold, charsNeeded)
		case Level2x:
			e.compressExtendedBand(work, bands)
		case Level3:
			e.summarizeAssistants(work, priorities)
		case Level3x:
			for i := range work {
				if priorities[i] < config.PriorityRecent {
					work[i], _ = FoldToolCallArguments(work[i])
				}
			}
		case Level4:
			work, _ = FoldDigestedPairs(work, priorities, e.est, cur-target)
		case Level5:
			e.safetyValve(work, cur)
		}

		cur = e.est.Messages(work, tools)
		stats.Level = lvl
	}

	if e.cfg.InjectNotice {
		work = injectContextGuidance(work)
		cur = e.est.Messages(work, tools)
	}

	stats.TokensAfter = cur
	stats.TokensSaved = before - cur
	stats.MessagesOut = len(work)

	log.Info().
		Str("stop_level", stats.Level.String()).
		Int("tokens_before", before).
		Int("tokens_after", cur).
		Int("messages_in", stats.MessagesIn).
		Int("messages_out", stats.MessagesOut).
		Msg("context compressed")
	return work, stats
}

// =============================================================================
// LEVEL 2 - LARGE RESULT COMPRESSION
// =============================================================================

// compressLargeResults rewrites the biggest low-priority tool results
// first, stopping once roughly charsNeeded characters have been removed.
// Candidates are ranked by (100 - priority) * size so a huge early result
// always beats a modest recent one.
func (e *Engine) compressLargeResults(msgs []message.Message, priorities []config.Priority, protectFrom, threshold, charsNeeded int) int {
	nameMap := message.ToolIDToName(msgs)
	pathMap := message.ToolIDToPath(msgs)

	type candidate struct {
		mi, bi int
		size   int
		score  float64
	}
	var cands []candidate
	for mi, m := range msgs {
		if mi >= protectFrom || m.Role != message.RoleUser || !m.Content.IsList() {
			continue
		}
		if priorities[mi] >= config.PriorityRecent {
			continue
		}
		for bi, b := range m.Content.AsBlocks() {
			if b.Type != message.BlockToolResult {
				continue
			}
			size := len(message.ResultText(b))
			if size < threshold {
				continue
			}
			score := float64(100-int(priorities[mi])) * float64(size)
			cands = append(cands, candidate{mi, bi, size, score})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	saved := 0
	total := len(msgs)
	for _, c := range cands {
		if saved >= charsNeeded {
			break
		}
		blocks := message.CloneBlocks(msgs[c.mi].Content.AsBlocks())
		b := &blocks[c.bi]
		text := message.ResultText(*b)
		recency := float64(c.mi) / float64(total)
		out := Compress(text, recency, pathMap[b.ToolUseID], nameMap[b.ToolUseID])
		if len(out) >= len(text) {
			continue
		}
		message.SetResultText(b, out)
		msgs[c.mi].Content = message.Blocks(blocks...)
		saved += len(text) - len(out)
	}
	return saved
}

// compressExtendedBand reaches into the normally lightly-touched band and
// truncates only the truly oversized results there.
func (e *Engine) compressExtendedBand(msgs []message.Message, bands BandBounds) int {
	saved := 0
	for mi := bands.BStart; mi < bands.AStart && mi < len(msgs); mi++ {
		m := msgs[mi]
		if m.Role != message.RoleUser || !m.Content.IsList() {
			continue
		}
		blocks := message.CloneBlocks(m.Content.AsBlocks())
		changed := false
		for bi := range blocks {
			b := &blocks[bi]
			if b.Type != message.BlockToolResult {
				continue
			}
			text := message.ResultText(*b)
			if len(text) < config.ExtendedBandThreshold {
				continue
			}
			out := HeadTail(text, 0.35)
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

// =============================================================================
// LEVEL 3 - ASSISTANT SUMMARIES
// =============================================================================

// summarizeAssistants replaces long early assistant prose with decision
// summaries and folds bulk fields out of tool_use inputs.
func (e *Engine) summarizeAssistants(msgs []message.Message, priorities []config.Priority) int {
	saved := 0
	for i := range msgs {
		if msgs[i].Role != message.RoleAssistant || priorities[i] >= config.PriorityRecent {
			continue
		}
		if text := msgs[i].Content.AsText(); !msgs[i].Content.IsList() && len(text) >= 500 {
			summary := ExtractDecisionSummary(text)
			if len(summary) < len(text) {
				msgs[i].Content = message.Text(summary)
				saved += len(text) - len(summary)
			}
			continue
		}
		var n int
		msgs[i], n = FoldToolUseInputs(msgs[i])
		saved += n
	}
	return saved
}

// =============================================================================
// LEVEL 5 - SAFETY VALVE
// =============================================================================

// safetyValve is the last rung: every remaining tool result outside the
// protected tail is cut to a sliver, harder the bigger it is. If the
// protected tail itself holds most of the conversation its results are cut
// too, sparing only the final two messages.
func (e *Engine) safetyValve(msgs []message.Message, totalTokens int) int {
	bands := ClassifyBands(len(msgs))
	saved := 0

	cut := func(mi int, minSize int, ratioFor func(int) float64) {
		m := msgs[mi]
		if m.Role != message.RoleUser || !m.Content.IsList() {
			return
		}
		blocks := message.CloneBlocks(m.Content.AsBlocks())
		changed := false
		for bi := range blocks {
			b := &blocks[bi]
			if b.Type != message.BlockToolResult {
				continue
			}
			text := message.ResultText(*b)
			if len(text) < minSize {
				continue
			}
			out := HeadTail(text, ratioFor(len(text)))
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

	for mi := 0; mi < bands.AStart; mi++ {
		cut(mi, 1000, func(size int) float64 {
			switch {
			case size > 10000:
				return 0.05
			case size > 5000:
				return 0.10
			default:
				return 0.15
			}
		})
	}

	// When the protected tail itself dominates the conversation, trimming
	// everything older cannot help. Cut its results too, sparing the final
	// exchange.
	tailTokens := e.est.Messages(msgs[bands.AStart:], nil)
	if totalTokens > 0 && float64(tailTokens) >= 0.5*float64(totalTokens) {
		for mi := bands.AStart; mi < len(msgs)-2; mi++ {
			cut(mi, 3000, func(size int) float64 {
				switch {
				case size > 30000:
					return 0.10
				case size > 10000:
					return 0.20
				default:
					return 0.35
				}
			})
		}
	}
	return saved
}

// =============================================================================
// GUIDANCE INJECTION
// =============================================================================

const contextGuidance = "Note: older parts of this conversation have been compressed to stay " +
	"within the context window. Recent messages are intact; older tool results " +
	"may appear truncated or summarized. Re-read a file if you need its current " +
	"full content."

// injectContextGuidance tells the model what happened to its context:
// appended to the first system message, or inserted as one if none exists.
func injectContextGuidance(msgs []message.Message) []message.Message {
	for i, m := range msgs {
		if m.Role != message.RoleSystem {
			continue
		}
		text := m.Content.AsText()
		if strings.Contains(text, contextGuidance) {
			return msgs
		}
		if !m.Content.IsList() {
			msgs[i].Content = message.Text(text + "\n\n" + contextGuidance)
		} else {
			blocks := message.CloneBlocks(m.Content.AsBlocks())
			blocks = append(blocks, message.TextBlock(contextGuidance))
			msgs[i].Content = message.Blocks(blocks...)
		}
		return msgs
	}
	out := make([]message.Message, 0, len(msgs)+1)
	out = append(out, message.Message{Role: message.RoleSystem, Content: message.Text(contextGuidance)})
	return append(out, msgs...)
}
