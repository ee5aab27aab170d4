// Package compress - digest.go condenses assistant traffic: decision
// summaries for long replies, argument folding for bulky tool calls, and
// whole-exchange digest folding.
package compress

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
	"github.com/ctxpress/compaction/internal/tokens"
)

// =============================================================================
// NARRATION AND DECISION DETECTION
// =============================================================================

var narrationPrefixes = []string{
	"let me ", "i'll ", "i will ", "now ", "next ",
	"let's ", "ok, ", "okay, ", "alright, ",
	"first, ", "then, ", "now let me ", "now i'll ",
	"i need to ", "i should ", "i want to ",
}

var analysisKeywords = []string{
	"because", "therefore", "however", "the issue",
	"the problem", "this means", "this suggests",
	"in summary", "the key", "importantly",
}

// IsAgentNarration reports whether assistant text is transitional filler
// between tool calls rather than analysis worth keeping.
func IsAgentNarration(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range narrationPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	if len(text) < 300 {
		for _, kw := range analysisKeywords {
			if strings.Contains(lower, kw) {
				return false
			}
		}
		return true
	}
	return false
}

var decisionKeywords = []string{
	"created", "modified", "deleted", "updated", "renamed",
	".py", ".ts", ".tsx", ".js", ".jsx", ".json", ".yaml", ".yml",
	".css", ".html", ".md", ".sql", ".sh", ".go",
	"installed", "deployed", "configured", "fixed", "added", "removed",
	"##", "###", "- ", "* ", "1.", "2.", "3.",
}

func isDecisionLine(line string) bool {
	for _, kw := range decisionKeywords {
		if strings.Contains(line, kw) {
			return true
		}
	}
	return false
}

// ExtractDecisionSummary keeps the decision-bearing lines of a long
// assistant reply: what was changed, file names, headings, short lines.
// Code blocks keep only their first lines. If almost nothing survives the
// front of the original is kept instead so the summary never loses the
// opening statement.
func ExtractDecisionSummary(content string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	inCode := false
	codeKept := 0

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			if !inCode {
				inCode = true
				codeKept = 0
				kept = append(kept, line)
			} else {
				inCode = false
				if codeKept >= 3 {
					kept = append(kept, "// ... [code block omitted] ...")
				}
				kept = append(kept, line)
			}
			continue
		}

		if inCode {
			if codeKept < 3 {
				kept = append(kept, line)
				codeKept++
			}
			continue
		}

		if isDecisionLine(stripped) || len(stripped) < 100 {
			kept = append(kept, line)
		}
	}

	result := strings.Join(kept, "\n")
	if float64(len(result)) < float64(len(content))*0.15 {
		return headOf(content, int(float64(len(content))*0.3)) + "\n\n... [early response truncated] ..."
	}
	return result
}

// =============================================================================
// TOOL-CALL ARGUMENT FOLDING
// =============================================================================

// bulkFields are tool-call argument fields that routinely carry whole file
// bodies or diffs.
var bulkFields = []string{
	"old_string", "new_string", "old_str", "new_str",
	"content", "file_text", "code", "text", "diff",
}

// foldBulkValue shrinks one oversized argument value, keeping the first and
// last lines.
func foldBulkValue(val string) string {
	lines := strings.Split(val, "\n")
	if len(lines) > 10 {
		return strings.Join(lines[:3], "\n") +
			fmt.Sprintf("\n... [%d lines omitted] ...\n", len(lines)-6) +
			strings.Join(lines[len(lines)-3:], "\n")
	}
	head, tail := headOf(val, 200), tailOf(val, 200)
	return head + fmt.Sprintf("\n... [%d chars omitted] ...\n", len(val)-len(head)-len(tail)) + tail
}

// FoldToolUseInputs shrinks bulk fields inside tool_use block inputs on one
// assistant message. Returns the rewritten message and chars saved.
func FoldToolUseInputs(m message.Message) (message.Message, int) {
	if !m.Content.IsList() {
		return m, 0
	}
	saved := 0
	blocks := message.CloneBlocks(m.Content.AsBlocks())
	for i, b := range blocks {
		if b.Type != message.BlockToolUse || len(b.Input) < 1000 {
			continue
		}
		input := string(b.Input)
		if !gjson.Valid(input) {
			continue
		}
		changed := false
		for _, field := range bulkFields {
			v := gjson.Get(input, field)
			if v.Type != gjson.String || len(v.Str) <= 500 {
				continue
			}
			folded := foldBulkValue(v.Str)
			if out, err := sjson.Set(input, field, folded); err == nil {
				saved += len(v.Str) - len(folded)
				input = out
				changed = true
			}
		}
		if changed {
			blocks[i].Input = json.RawMessage(input)
		}
	}
	if saved == 0 {
		return m, 0
	}
	m.Content = message.Blocks(blocks...)
	return m, saved
}

// FoldToolCallArguments shrinks bulk fields inside the tool_calls
// attachment (arguments carried as a JSON string on the message). Returns
// the rewritten message and chars saved.
func FoldToolCallArguments(m message.Message) (message.Message, int) {
	if len(m.ToolCalls) == 0 {
		return m, 0
	}
	saved := 0
	calls := make([]message.ToolCall, len(m.ToolCalls))
	copy(calls, m.ToolCalls)

	for i, call := range calls {
		args := call.Function.Arguments
		if len(args) < 300 || !gjson.Valid(args) {
			continue
		}
		changed := false
		for _, field := range bulkFields {
			v := gjson.Get(args, field)
			if v.Type != gjson.String || len(v.Str) <= 200 {
				continue
			}
			folded := headOf(v.Str, 60) + fmt.Sprintf(" ... [%d chars] ... ", len(v.Str)) + tailOf(v.Str, 60)
			if out, err := sjson.Set(args, field, folded); err == nil {
				saved += len(v.Str) - len(folded)
				args = out
				changed = true
			}
		}
		if changed {
			calls[i].Function.Arguments = args
		}
	}
	if saved == 0 {
		return m, 0
	}
	m.ToolCalls = calls
	return m, saved
}

// =============================================================================
// SKELETON MAP - per-tool reduction used under digest pressure
// =============================================================================

// SkeletonizeForMap turns a tool result into a dense structural map: every
// surviving token should carry information. Reads become AST skeletons,
// searches keep match lines, command output keeps head/tail and errors.
func SkeletonizeForMap(text, toolName, hintPath string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(empty)"
	}
	totalChars := len(text)
	lines := strings.Split(text, "\n")
	lower := strings.ToLower(toolName)

	switch lower {
	case "glob", "listdir", "list_dir", "listfiles", "list_files":
		if totalChars <= 3000 {
			return text
		}
		return strings.Join(lines[:min(50, len(lines))], "\n") +
			fmt.Sprintf("\n... (%d paths total)", len(lines))

	case "write", "write_to_file", "strreplace", "str_replace",
		"delete", "editnotebook", "todowrite", "todo_write":
		if totalChars <= 2000 {
			return text
		}
		return HeadTail(text, 0.5)

	case "shell", "run_command", "bash":
		if totalChars <= 800 {
			return text
		}
		return ShellOutput(text)

	case "grep", "search", "semanticsearch", "semantic_search", "codebase_search":
		if totalChars <= 2000 {
			return text
		}
		return GrepResult(text, 0.3)

	case "task", "subagent":
		if totalChars <= 1500 {
			return text
		}
		if IsMarkdownReport(text) {
			return MarkdownReport(text)
		}
		return HeadTail(text, 0.3)
	}

	lang := DetectLanguage(text, hintPath)

	if lang == "html" || (lang == "" && (strings.Contains(head(text, 200), "<!DOCTYPE") || strings.Contains(head(text, 500), "<html"))) {
		return HTMLContent(text, 0.05)
	}
	switch lang {
	case "markdown", "json", "yaml", "toml", "css", "sql":
		if lang == "markdown" && IsMarkdownReport(text) {
			return MarkdownReport(text)
		}
		return HeadTail(text, 0.2)
	}

	if lang == "go" {
		clean, _ := StripLineNumbers(text)
		if out := skeletonizeGoAST(clean); out != "" {
			return out
		}
	}
	if lang != "" || LooksLikeCode(text) {
		out := skeletonizeRegex(text)
		if float64(len(out)) < float64(len(text))*0.8 {
			return out
		}
	}

	if totalChars > 1000 {
		if IsMarkdownReport(text) {
			return MarkdownReport(text)
		}
		return HeadTail(text, 0.2)
	}
	return text
}

// =============================================================================
// EXCHANGE DIGEST FOLDING
// =============================================================================

// digestToolCall captures one call in a foldable exchange.
type digestToolCall struct {
	name string
	arg  string
	id   string
}

// resultOutcome renders one result's fate in a digest line.
func resultOutcome(b message.Block) string {
	text := message.ResultText(b)
	if b.IsError || strings.HasPrefix(strings.TrimSpace(text), "Error") {
		first := strings.SplitN(strings.TrimSpace(text), "\n", 2)[0]
		if len(first) > 120 {
			first = headOf(first, 120) + "..."
		}
		return "error: " + first
	}
	return fmt.Sprintf("ok (%d chars)", len(text))
}

// FoldDigestedPairs replaces old (assistant tool calls, user tool results)
// exchanges with one assistant digest message each: the tools called, a
// short argument rendering, and each result's outcome. Exchanges whose
// assistant text carries real analysis are left alone; so is anything at
// or above the protected priority band. Folding walks oldest first and
// stops once enough tokens are saved.
func FoldDigestedPairs(msgs []message.Message, priorities []config.Priority, est tokens.Estimator, tokensToSave int) ([]message.Message, int) {
	if len(msgs) < 4 || tokensToSave <= 0 {
		return msgs, 0
	}

	nameMap := message.ToolIDToName(msgs)
	pathMap := message.ToolIDToPath(msgs)

	type fold struct {
		aIdx, end int // fold covers msgs[aIdx:end]
		digest    string
	}
	var folds []fold
	saved := 0

	for i := 0; i < len(msgs)-2 && saved < tokensToSave; {
		if priorities[i] >= config.PriorityRecent || msgs[i].Role != message.RoleAssistant {
			i++
			continue
		}
		cur := msgs[i]

		var calls []digestToolCall
		hasAnalyticalText := false
		for _, b := range cur.Content.AsBlocks() {
			switch b.Type {
			case message.BlockToolUse:
				arg := message.ArgSummary(string(b.Input))
				calls = append(calls, digestToolCall{b.Name, arg, b.ID})
			case message.BlockText:
				t := strings.TrimSpace(b.Text)
				if len(t) > 200 && !IsAgentNarration(t) {
					hasAnalyticalText = true
				}
			}
		}
		for _, tc := range cur.ToolCalls {
			calls = append(calls, digestToolCall{tc.Function.Name, message.ArgSummary(tc.Function.Arguments), tc.ID})
		}

		// Collect the answering results: either one user message of
		// tool_result blocks, or a run of role=tool messages.
		var results []message.Block
		end := i + 1
		switch {
		case end < len(msgs) && msgs[end].Role == message.RoleUser && message.HasToolResult(msgs[end]):
			for _, b := range msgs[end].Content.AsBlocks() {
				if b.Type == message.BlockToolResult {
					results = append(results, b)
				}
			}
			end++
		case end < len(msgs) && msgs[end].Role == message.RoleTool:
			for end < len(msgs) && msgs[end].Role == message.RoleTool {
				results = append(results, message.Block{
					Type:      message.BlockToolResult,
					ToolUseID: msgs[end].ToolCallID,
					Content:   &msgs[end].Content,
				})
				end++
			}
		}

		// The exchange must be closed: the next message continues the
		// conversation rather than extending this turn.
		if end >= len(msgs) || msgs[end].Role != message.RoleAssistant {
			i++
			continue
		}
		if len(calls) == 0 || len(results) == 0 || hasAnalyticalText {
			i++
			continue
		}

		// Compose the digest: one clause per result, matched to its call.
		callByID := make(map[string]digestToolCall, len(calls))
		for _, c := range calls {
			callByID[c.id] = c
		}
		var parts []string
		for _, r := range results {
			c := callByID[r.ToolUseID]
			name := c.name
			if name == "" {
				name = nameMap[r.ToolUseID]
			}
			arg := c.arg
			if arg == "" {
				arg = pathMap[r.ToolUseID]
			}
			if arg != "" {
				if strings.Contains(arg, "/") || strings.Contains(arg, `\`) {
					arg = path.Base(strings.ReplaceAll(arg, `\`, "/"))
				}
				parts = append(parts, fmt.Sprintf("%s(%s) -> %s", name, arg, resultOutcome(r)))
			} else {
				parts = append(parts, fmt.Sprintf("%s -> %s", name, resultOutcome(r)))
			}
		}
		digest := "[Folded exchange: " + strings.Join(parts, "; ") + "]"

		pairTokens := est.Messages(msgs[i:end], nil)
		newTokens := est.Text(digest)
		if net := pairTokens - newTokens; net > 0 {
			folds = append(folds, fold{i, end, digest})
			saved += net
		}
		i = end
	}

	if len(folds) == 0 {
		return msgs, 0
	}

	foldAt := make(map[int]string, len(folds))
	skip := make(map[int]bool)
	for _, f := range folds {
		foldAt[f.aIdx] = f.digest
		for j := f.aIdx + 1; j < f.end; j++ {
			skip[j] = true
		}
	}

	out := make([]message.Message, 0, len(msgs))
	for i := range msgs {
		if skip[i] {
			continue
		}
		if digest, ok := foldAt[i]; ok {
			out = append(out, message.Message{
				Role:    message.RoleAssistant,
				Content: message.Text(digest),
			})
			continue
		}
		out = append(out, msgs[i])
	}
	return out, saved
}
