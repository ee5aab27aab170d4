// Package compress - content.go compresses individual tool-result payloads.
//
// DESIGN: compression dispatches on the tool that produced the result.
// File reads go to the skeleton path, shell output keeps head/tail and
// error lines, search results keep paths and match lines, subagent reports
// keep their Markdown structure. Every strategy guards its own win ratio
// and falls back to plain head/tail truncation.
package compress

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ctxpress/compaction/internal/config"
)

// keepRatio sets the surviving fraction of a large result. Newer results
// keep more.
func keepRatio(recency float64) float64 {
	return config.KeepRatioBase + recency*config.KeepRatioRecencyBoost
}

// =============================================================================
// HEAD/TAIL TRUNCATION - the universal fallback
// =============================================================================

// headOf returns at most n leading bytes of s, trimmed back so the cut
// never lands inside a multi-byte rune.
func headOf(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailOf returns at most n trailing bytes of s, advanced to the next rune
// boundary.
func tailOf(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// HeadTail keeps the first 60% and last 40% of the kept budget with an
// omission marker between.
func HeadTail(text string, ratio float64) string {
	totalKeep := int(float64(len(text)) * ratio)
	if totalKeep >= len(text) {
		return text
	}
	headSize := int(float64(totalKeep) * config.HeadKeepFraction)
	tailSize := totalKeep - headSize
	head := headOf(text, headSize)
	tail := ""
	if tailSize > 0 {
		tail = tailOf(text, tailSize)
	}
	omitted := len(text) - len(head) - len(tail)
	return fmt.Sprintf("%s\n\n... [%d chars omitted] ...\n\n%s", head, omitted, tail)
}

// =============================================================================
// PER-TOOL DISPATCH
// =============================================================================

// smallResultTools produce short confirmations that are never worth
// compressing.
var smallResultTools = map[string]bool{
	"glob": true, "listdir": true, "list_dir": true,
	"listfiles": true, "list_files": true,
	"write": true, "write_to_file": true,
	"strreplace": true, "str_replace": true,
	"delete": true, "editnotebook": true,
	"todowrite": true, "todo_write": true,
	"askquestion": true, "switchmode": true, "generateimage": true,
	"listmcpresources": true, "fetchmcpresource": true,
}

// Compress reduces one tool-result text. recency runs 0 (oldest in scope)
// to 1 (newest); older results are compressed harder. hintPath is the file
// path from the matching tool call, when known.
func Compress(text string, recency float64, hintPath, toolName string) string {
	ratio := keepRatio(recency)
	tool := strings.ToLower(toolName)

	if smallResultTools[tool] {
		return text
	}

	switch tool {
	case "shell", "run_command", "bash":
		return ShellOutput(text)
	case "grep", "search", "semanticsearch", "semantic_search", "codebase_search":
		return GrepResult(text, ratio)
	case "task", "subagent":
		if IsMarkdownReport(text) {
			return MarkdownReport(text)
		}
		return HeadTail(text, ratio)
	case "websearch", "web_search", "webfetch", "web_fetch":
		return HeadTail(text, ratio)
	}

	// Read is the default path: unknown tools are most often file content.
	return ReadResult(text, recency, hintPath)
}

// =============================================================================
// READ RESULTS - skeleton chain
// =============================================================================

// ReadResult compresses file content through the strategy chain: HTML meta
// extraction, plain-text head/tail, AST/regex skeleton, then head/tail for
// anything still large.
func ReadResult(text string, recency float64, hintPath string) string {
	ratio := keepRatio(recency)
	lang := DetectLanguage(text, hintPath)

	// Huge rendered pages carry almost no analysis value.
	if lang == "html" || (lang == "" && (strings.Contains(head(text, 200), "<!DOCTYPE") || strings.Contains(head(text, 500), "<html"))) {
		return HTMLContent(text, ratio)
	}

	// Structure-free formats skip straight to head/tail.
	switch lang {
	case "markdown", "json", "yaml", "toml", "css", "sql":
		return HeadTail(text, ratio)
	}

	if lang == "go" {
		clean, _ := StripLineNumbers(text)
		if out := skeletonizeGoAST(clean); out != "" {
			return out
		}
	}

	if lang != "" || LooksLikeCode(text) {
		out := skeletonizeRegex(text)
		if float64(len(out)) < float64(len(text))*0.7 {
			return out
		}
	}

	if len(text) > config.LargeResultThreshold {
		return HeadTail(text, ratio)
	}
	return text
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// =============================================================================
// SHELL OUTPUT
// =============================================================================

var shellErrorKeywords = []string{
	"error", "Error", "ERROR", "fail", "Fail", "FAIL",
	"warning", "Warning", "WARN", "fatal", "Fatal",
	"exception", "Exception", "traceback", "Traceback",
	"not found", "denied", "refused", "timeout",
}

// ShellOutput keeps the first and last lines of command output plus any
// error-keyword lines from the middle.
func ShellOutput(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= 30 {
		return text
	}

	headN := config.ShellHeadLines
	tailN := config.ShellTailLines

	type hit struct {
		idx  int
		line string
	}
	var important []hit
	for i := headN; i < len(lines)-tailN; i++ {
		for _, kw := range shellErrorKeywords {
			if strings.Contains(lines[i], kw) {
				important = append(important, hit{i, lines[i]})
				break
			}
		}
	}

	middleTotal := len(lines) - headN - tailN
	out := append([]string{}, lines[:headN]...)
	if len(important) > 0 {
		out = append(out, fmt.Sprintf("\n... [%d lines of output, showing %d important lines] ...", middleTotal, len(important)))
		for i, h := range important {
			if i >= config.ShellMaxErrorLines {
				break
			}
			out = append(out, fmt.Sprintf("  L%d: %s", h.idx, h.line))
		}
		out = append(out, "...")
	} else {
		out = append(out, fmt.Sprintf("\n... [%d lines of output omitted] ...", middleTotal))
	}
	out = append(out, lines[len(lines)-tailN:]...)
	return strings.Join(out, "\n")
}

// =============================================================================
// GREP RESULTS
// =============================================================================

var (
	grepMatchLine   = regexp.MustCompile(`^\d+:|^.+:\d+:`)
	grepContextLine = regexp.MustCompile(`^\d+-|^.+:\d+-`)
	grepNumPrefix   = regexp.MustCompile(`^\d+[:-]`)
)

// GrepResult keeps file-path and match lines from grep-format output,
// collapsing runs of context lines. Non-grep text falls to head/tail.
func GrepResult(text string, ratio float64) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= 30 {
		return text
	}

	matchCount := 0
	for i := 0; i < len(lines) && i < 50; i++ {
		if grepMatchLine.MatchString(lines[i]) {
			matchCount++
		}
	}
	if matchCount < 2 {
		return HeadTail(text, ratio)
	}

	var kept []string
	skipped := 0
	prevWasMatch := false

	flush := func() {
		if skipped > 0 {
			kept = append(kept, fmt.Sprintf("  ... [%d context lines omitted]", skipped))
			skipped = 0
		}
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || stripped == "--" {
			flush()
			kept = append(kept, line)
			prevWasMatch = false
			continue
		}

		isFilePath := strings.HasPrefix(stripped, "/") ||
			(len(stripped) > 2 && stripped[1] == ':') ||
			(!grepNumPrefix.MatchString(stripped) && !strings.Contains(head(stripped, 5), ":"))
		isMatch := grepMatchLine.MatchString(stripped)
		isContext := grepContextLine.MatchString(stripped)

		switch {
		case isFilePath || isMatch:
			flush()
			kept = append(kept, line)
			prevWasMatch = isMatch
		case isContext:
			// Keep only the context line directly after a match.
			if prevWasMatch {
				kept = append(kept, line)
				prevWasMatch = false
			} else {
				skipped++
			}
		default:
			flush()
			kept = append(kept, line)
			prevWasMatch = false
		}
	}
	flush()

	out := strings.Join(kept, "\n")
	if float64(len(out)) > float64(len(text))*0.85 {
		return HeadTail(text, ratio)
	}
	return out
}

// =============================================================================
// MARKDOWN REPORTS (subagent output)
// =============================================================================

var (
	reportHeading = regexp.MustCompile(`^#{1,4}\s+`)
	reportList    = regexp.MustCompile(`^[-*]\s+|^\d+\.\s+`)
	reportKeyLine = regexp.MustCompile(`^[A-Z][a-z]+:`)
	reportPath    = regexp.MustCompile(`[\w/\\]+\.\w{1,5}`)
)

// IsMarkdownReport detects structured analysis reports like subagent
// output: a subagent prefix plus headings, or a heading/list density that
// only deliberate Markdown reaches.
func IsMarkdownReport(text string) bool {
	if len(text) < 500 {
		return false
	}

	lines := strings.SplitN(text, "\n", 61)
	headings, listItems := 0, 0
	hasSubagentPrefix := false

	for i := 0; i < len(lines) && i < 60; i++ {
		s := strings.TrimSpace(lines[i])
		lower := strings.ToLower(s)
		if strings.Contains(lower, "subagent") || strings.Contains(lower, "last output") {
			hasSubagentPrefix = true
		}
		if reportHeading.MatchString(s) {
			headings++
		}
		if regexp.MustCompile(`^[-*]\s+`).MatchString(s) {
			listItems++
		}
	}

	if hasSubagentPrefix && headings >= 2 {
		return true
	}
	if headings >= 3 && listItems >= 3 {
		return true
	}
	return headings >= 2 && float64(headings)/float64(max(len(lines), 1)) > 0.03
}

// MarkdownReport compresses a structured report: headings, list items
// (capped at 30 per section), bold lines, paths and tables survive; long
// paragraphs shrink to their first sentence; long code blocks keep head
// and tail lines. Returns the input unchanged when the win is under 8%.
func MarkdownReport(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	inCode := false
	var codeLines []string
	var paragraph []string
	listInSection := 0

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		var parts []string
		for _, l := range paragraph {
			parts = append(parts, strings.TrimSpace(l))
		}
		combined := strings.Join(parts, " ")
		if len(combined) <= 150 {
			kept = append(kept, paragraph...)
		} else {
			first := paragraph[0]
			if pos := strings.Index(first, ". "); pos > 0 && pos < 200 {
				first = first[:pos+2]
			}
			if len(first) > 200 {
				first = headOf(first, 200) + "..."
			}
			kept = append(kept, first)
			omitted := 0
			for _, l := range paragraph {
				omitted += len(l)
			}
			omitted -= len(first)
			if omitted > 50 {
				kept = append(kept, fmt.Sprintf("  (...%d chars of explanation omitted)", omitted))
			}
		}
		paragraph = paragraph[:0]
	}

	flushCode := func() {
		if len(codeLines) == 0 {
			return
		}
		total := 0
		for _, l := range codeLines {
			total += len(l)
		}
		if total <= 500 || len(codeLines) <= 15 {
			kept = append(kept, codeLines...)
		} else {
			headN := min(8, len(codeLines))
			tailN := min(5, len(codeLines)-headN)
			kept = append(kept, codeLines[:headN]...)
			if omitted := len(codeLines) - headN - tailN; omitted > 0 {
				kept = append(kept, fmt.Sprintf("  // ... (%d lines omitted)", omitted))
			}
			if tailN > 0 {
				kept = append(kept, codeLines[len(codeLines)-tailN:]...)
			}
		}
		codeLines = codeLines[:0]
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			if inCode {
				flushCode()
				kept = append(kept, line)
				inCode = false
			} else {
				flushParagraph()
				inCode = true
				kept = append(kept, line)
			}
			continue
		}
		if inCode {
			codeLines = append(codeLines, line)
			continue
		}

		if strings.HasPrefix(stripped, "Agent ID:") {
			flushParagraph()
			continue
		}
		if stripped == "" {
			flushParagraph()
			kept = append(kept, "")
			continue
		}
		if stripped == "---" {
			flushParagraph()
			kept = append(kept, line)
			continue
		}
		if reportHeading.MatchString(stripped) {
			flushParagraph()
			kept = append(kept, line)
			listInSection = 0
			continue
		}
		if reportList.MatchString(stripped) {
			flushParagraph()
			listInSection++
			switch {
			case listInSection <= 30:
				if len(line) > 250 {
					kept = append(kept, line[:250]+"...")
				} else {
					kept = append(kept, line)
				}
			case listInSection == 31:
				kept = append(kept, "  (...more list items omitted)")
			}
			continue
		}
		if strings.HasPrefix(stripped, "**") || reportKeyLine.MatchString(stripped) {
			flushParagraph()
			if len(line) > 250 {
				kept = append(kept, line[:250]+"...")
			} else {
				kept = append(kept, line)
			}
			continue
		}
		if reportPath.MatchString(stripped) && (strings.Contains(stripped, "/") || strings.Contains(stripped, `\`)) {
			flushParagraph()
			kept = append(kept, line)
			continue
		}
		if strings.HasPrefix(stripped, "|") {
			flushParagraph()
			kept = append(kept, line)
			continue
		}

		paragraph = append(paragraph, line)
	}
	if inCode {
		flushCode()
	}
	flushParagraph()

	out := strings.Join(kept, "\n")
	if float64(len(out)) > float64(len(text))*0.92 {
		return text
	}
	return out
}

// =============================================================================
// HTML PAGES
// =============================================================================

var (
	htmlTitle  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlMeta   = regexp.MustCompile(`(?i)<meta\s+[^>]*?(?:name|charset|http-equiv|property)=[^>]+>`)
	htmlScript = regexp.MustCompile(`(?i)<script\s+[^>]*?src=["']([^"']+)["'][^>]*>`)
	htmlLink   = regexp.MustCompile(`(?i)<link\s+[^>]*?href=[^>]+>`)
)

// HTMLContent extracts title, meta, script and stylesheet references, then
// applies an aggressive head/tail to the body. Rendered pages are huge and
// low-value.
func HTMLContent(text string, ratio float64) string {
	var meta []string

	if m := htmlTitle.FindStringSubmatch(text); m != nil {
		meta = append(meta, fmt.Sprintf("<title>%s</title>", strings.TrimSpace(m[1])))
	}
	for _, m := range htmlMeta.FindAllString(head(text, 5000), -1) {
		meta = append(meta, m)
	}
	for _, m := range htmlScript.FindAllStringSubmatch(text, -1) {
		meta = append(meta, fmt.Sprintf(`<script src="%s"></script>`, m[1]))
	}
	for _, m := range htmlLink.FindAllString(head(text, 10000), -1) {
		meta = append(meta, m)
	}

	header := fmt.Sprintf("[HTML document: %d chars]", len(text))
	if len(meta) > 0 {
		if len(meta) > 15 {
			meta = meta[:15]
		}
		header += "\n" + strings.Join(meta, "\n")
	}

	return header + "\n\n" + HeadTail(text, minFloat(ratio, 0.05))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
