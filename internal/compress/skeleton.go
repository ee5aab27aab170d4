// Package compress - skeleton.go reduces source code to its structure.
//
// DESIGN: large file-read results are collapsed to imports, signatures and
// comments. Go source gets a real AST pass through go/parser; everything
// else goes through a regex skeleton that tracks indentation to drop
// function bodies. A skeleton is only accepted when it actually shrinks
// the text past the acceptance ratio, otherwise the caller falls through
// to head/tail truncation.
package compress

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/ctxpress/compaction/internal/config"
)

// =============================================================================
// LANGUAGE DETECTION
// =============================================================================

var extToLang = map[string]string{
	".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript",
	".java": "java", ".go": "go", ".rs": "rust", ".rb": "ruby",
	".php": "php", ".c": "c", ".h": "c",
	".cpp": "cpp", ".cc": "cpp", ".cxx": "cpp", ".hpp": "cpp",
	".cs": "csharp", ".swift": "swift", ".kt": "kotlin", ".kts": "kotlin",
	".scala": "scala", ".lua": "lua", ".hs": "haskell",
	".ex": "elixir", ".exs": "elixir",
	".sh": "bash", ".bash": "bash", ".zsh": "bash",
	".yaml": "yaml", ".yml": "yaml", ".toml": "toml", ".json": "json",
	".html": "html", ".htm": "html", ".css": "css", ".scss": "css",
	".sql": "sql", ".md": "markdown", ".vue": "vue", ".dart": "dart",
	".zig": "zig",
}

// extLang maps a file path to its language by extension.
func extLang(path string) string {
	trimmed := strings.TrimRight(path, " \t")
	if i := strings.LastIndex(trimmed, "."); i >= 0 {
		return extToLang[strings.ToLower(trimmed[i:])]
	}
	return ""
}

var (
	lineNumPrefix = regexp.MustCompile(`^\s*\d+\|(.*)`)
	pathFragment  = regexp.MustCompile(`[\w/\\.-]+\.(\w+)`)

	pySelf      = regexp.MustCompile(`\bself\.\w+`)
	pyDef       = regexp.MustCompile(`(?m)^\s*def\s+\w+`)
	pyClass     = regexp.MustCompile(`(?m)^\s*class\s+\w+.*:`)
	pyImport    = regexp.MustCompile(`(?m)^(from|import)\s+\w+`)
	pyDecorator = regexp.MustCompile(`(?m)^\s*@\w+`)

	tsImport    = regexp.MustCompile(`(?m)^\s*(import|export)\s+(type\s+)?[{*\w]`)
	tsVarDecl   = regexp.MustCompile(`(?m)^\s*(const|let|var)\s+\w+\s*[=:]`)
	tsTypeDecl  = regexp.MustCompile(`(?m)^\s*(interface|type)\s+\w+\s*[{=<]`)
	tsThis      = regexp.MustCompile(`\bthis\.\w+`)
	tsKeywords  = regexp.MustCompile(`\b(function|const|export|import|async|await|=>|module|require)\b`)
	tsStructure = regexp.MustCompile(`\b(function|class|const|let|var|=>)\b`)

	goPackage = regexp.MustCompile(`(?m)^package\s+\w+`)
	goBody    = regexp.MustCompile(`(?m)^(import\s*\(|func\s+)`)

	javaPackage  = regexp.MustCompile(`(?m)^package\s+[\w.]+;`)
	rustKeywords = regexp.MustCompile(`(?m)^(use|fn|pub|mod|struct|impl)\s+`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,3}\s+`)
)

// DetectLanguage guesses the language of a read result. The hint path (from
// the tool-call arguments) wins outright; otherwise the head lines are
// scanned for a file path, then the content itself for language features.
func DetectLanguage(text, hintPath string) string {
	if hintPath != "" {
		if lang := extLang(hintPath); lang != "" {
			return lang
		}
	}

	lines := strings.SplitN(strings.TrimSpace(text), "\n", 81)

	// A path in the first lines names the language exactly.
	for i := 0; i < len(lines) && i < 5; i++ {
		line := strings.TrimSpace(lines[i])
		if m := lineNumPrefix.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1])
		}
		if strings.HasPrefix(line, "/") && !strings.HasPrefix(line, "//") {
			if lang := extLang(line); lang != "" {
				return lang
			}
		}
		if m := pathFragment.FindStringSubmatch(line); m != nil {
			if lang, ok := extToLang["."+strings.ToLower(m[1])]; ok {
				return lang
			}
		}
	}

	// Feature detection on a line-number-free sample.
	var clean []string
	for i := 0; i < len(lines) && i < 80; i++ {
		if m := lineNumPrefix.FindStringSubmatch(lines[i]); m != nil {
			clean = append(clean, m[1])
		} else {
			clean = append(clean, lines[i])
		}
	}
	sample := strings.Join(clean, "\n")

	hasSelf := pySelf.MatchString(sample)
	hasDef := pyDef.MatchString(sample)
	hasClassPy := pyClass.MatchString(sample)
	hasImportPy := pyImport.MatchString(sample)
	hasDecorator := pyDecorator.MatchString(sample)

	// self. is the strongest single signal: JS/TS uses this.
	if hasSelf && (hasDef || hasClassPy || hasImportPy || hasDecorator) {
		return "python"
	}
	if hasImportPy && (hasDef || hasClassPy) {
		return "python"
	}
	if hasSelf && strings.Count(sample, "self.") >= 3 {
		return "python"
	}

	if tsImport.MatchString(sample) {
		return "typescript"
	}
	if tsVarDecl.MatchString(sample) {
		return "typescript"
	}
	if tsTypeDecl.MatchString(sample) {
		return "typescript"
	}
	if strings.Contains(sample, "/**") && tsKeywords.MatchString(sample) {
		return "typescript"
	}
	for _, cl := range clean[:min(5, len(clean))] {
		if s := strings.TrimSpace(cl); s != "" {
			if strings.HasPrefix(s, "/**") {
				return "typescript"
			}
			break
		}
	}
	if tsThis.MatchString(sample) && tsStructure.MatchString(sample) {
		return "typescript"
	}

	if goPackage.MatchString(sample) && goBody.MatchString(sample) {
		return "go"
	}
	if javaPackage.MatchString(sample) {
		return "java"
	}
	if rustKeywords.MatchString(sample) {
		return "rust"
	}
	if mdHeading.MatchString(sample) && strings.Count(sample, "#") > 3 {
		return "markdown"
	}

	if hasImportPy || hasDef || hasClassPy {
		return "python"
	}
	return ""
}

// StripLineNumbers removes "123|code" prefixes added by editor read tools.
// Returns the clean text and whether prefixes were found (3 of the first 10
// lines must carry one).
func StripLineNumbers(text string) (string, bool) {
	lines := strings.Split(text, "\n")

	count := 0
	for i := 0; i < len(lines) && i < 10; i++ {
		if lineNumPrefix.MatchString(lines[i]) {
			count++
		}
	}
	if count < 3 {
		return text, false
	}

	clean := make([]string, len(lines))
	for i, line := range lines {
		if m := lineNumPrefix.FindStringSubmatch(line); m != nil {
			clean[i] = m[1]
		} else {
			clean[i] = line
		}
	}
	return strings.Join(clean, "\n"), true
}

// =============================================================================
// CODE HEURISTICS
// =============================================================================

var signaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\s*)(async\s+)?def\s+\w+\s*\(`),
	regexp.MustCompile(`^(\s*)class\s+\w+.*:`),
	regexp.MustCompile(`^(\s*)(export\s+)?(async\s+)?function\s+\w+`),
	regexp.MustCompile(`^(\s*)(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?\(`),
	regexp.MustCompile(`^(\s*)(export\s+)?class\s+\w+`),
	regexp.MustCompile(`^(\s*)(export\s+)?(interface|type|enum)\s+\w+`),
	regexp.MustCompile(`^(\s*)(public|private|protected|static|final|abstract|override|virtual|async)\s+`),
	regexp.MustCompile(`^(\s*)func\s+`),
	regexp.MustCompile(`^(\s*)type\s+\w+\s+(struct|interface)`),
	regexp.MustCompile(`^(\s*)(pub\s+)?fn\s+\w+`),
	regexp.MustCompile(`^(\s*)(pub\s+)?struct\s+\w+`),
	regexp.MustCompile(`^(\s*)impl\s+`),
}

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\s*)(import|from)\s+`),
	regexp.MustCompile(`^(\s*)(const|let|var)\s+.*require\(`),
	regexp.MustCompile(`^(\s*)#include\s+`),
	regexp.MustCompile(`^(\s*)using\s+`),
	regexp.MustCompile(`^(\s*)package\s+`),
}

var decoratorPattern = regexp.MustCompile(`^(\s*)@\w+`)

func isSignatureLine(line string) bool {
	for _, p := range signaturePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

func isImportLine(line string) bool {
	for _, p := range importPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

var bareLineNum = regexp.MustCompile(`^\d+\|`)

// LooksLikeCode scores the first lines for code indicators.
func LooksLikeCode(text string) bool {
	lines := strings.SplitN(text, "\n", 31)
	score := 0
	for i := 0; i < len(lines) && i < 30; i++ {
		s := strings.TrimSpace(lines[i])
		if s == "" {
			continue
		}
		if bareLineNum.MatchString(s) {
			score += 2
		}
		for _, tok := range []string{"{", "}", "()", "=>", "->", "::", ";"} {
			if strings.Contains(s, tok) {
				score++
				break
			}
		}
		if isImportLine(s) || isSignatureLine(s) {
			score += 2
		}
	}
	return score >= 5
}

// =============================================================================
// GO AST SKELETON
// =============================================================================

// skeletonizeGoAST parses Go source and replaces function bodies with an
// elided-line marker. Returns "" when parsing fails or the result does not
// shrink past the AST acceptance ratio.
func skeletonizeGoAST(text string) string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "src.go", text, parser.ParseComments)
	if err != nil {
		return ""
	}

	ast.Inspect(file, func(n ast.Node) bool {
		fd, ok := n.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			return true
		}
		elided := fset.Position(fd.Body.End()).Line - fset.Position(fd.Body.Pos()).Line
		fd.Body.List = []ast.Stmt{&ast.ExprStmt{
			X: &ast.Ident{Name: fmt.Sprintf("// ... (%d lines)", elided)},
		}}
		return true
	})

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return ""
	}
	out := buf.String()
	if float64(len(out)) >= float64(len(text))*config.SkeletonAcceptRatioAST {
		return ""
	}
	return out
}

// =============================================================================
// REGEX SKELETON
// =============================================================================

// skeletonizeRegex keeps imports, signatures, decorators and comments, and
// replaces indented bodies under a signature with an elision marker.
func skeletonizeRegex(text string) string {
	lines := strings.Split(text, "\n")
	var kept []string
	skipBody := false
	bodyIndent := 0
	skipped := 0
	inHeader := true

	indentOf := func(s string) int { return len(s) - len(strings.TrimLeft(s, " \t")) }

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if stripped == "" {
			if inHeader || !skipBody {
				kept = append(kept, line)
			}
			continue
		}

		cleanLine := line
		if m := bareLineNum.FindString(line); m != "" {
			cleanLine = line[len(m):]
		}
		cleanStripped := strings.TrimSpace(cleanLine)

		if isImportLine(cleanStripped) {
			kept = append(kept, line)
			continue
		}

		if decoratorPattern.MatchString(cleanStripped) {
			inHeader = false
			skipBody = false
			kept = append(kept, line)
			continue
		}

		if isSignatureLine(cleanStripped) {
			inHeader = false
			if skipBody && skipped > 0 {
				kept = append(kept, fmt.Sprintf("%s  // ... (%d lines)", strings.Repeat("  ", bodyIndent), skipped))
				skipped = 0
			}
			skipBody = true
			bodyIndent = indentOf(cleanLine)
			kept = append(kept, line)
			continue
		}

		if hasCommentPrefix(cleanStripped) {
			if !skipBody {
				kept = append(kept, line)
			}
			continue
		}

		if skipBody {
			cur := indentOf(cleanLine)
			if cur <= bodyIndent && cleanStripped != "" {
				if skipped > 0 {
					kept = append(kept, fmt.Sprintf("%s// ... (%d lines)", strings.Repeat("  ", bodyIndent+1), skipped))
					skipped = 0
				}
				skipBody = false
				if isSignatureLine(cleanStripped) {
					bodyIndent = cur
					skipBody = true
					kept = append(kept, line)
					continue
				}
				kept = append(kept, line)
			} else {
				skipped++
			}
			continue
		}

		inHeader = false
		kept = append(kept, line)
	}

	if skipBody && skipped > 0 {
		kept = append(kept, fmt.Sprintf("%s// ... (%d lines)", strings.Repeat("  ", bodyIndent+1), skipped))
	}

	return strings.Join(kept, "\n")
}

func hasCommentPrefix(s string) bool {
	for _, p := range []string{"#", "//", "/*", "*", "'''", `"""`} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// =============================================================================
// MARKDOWN SKELETON
// =============================================================================

var (
	mdHeadingLine = regexp.MustCompile(`^#{1,6}\s`)
	mdListLine    = regexp.MustCompile(`^[-*]\s|^\d+\.\s`)
)

// SkeletonizeMarkdown keeps headings, list items, table rows and code-block
// fences, replacing body paragraphs and code-block interiors with elision
// markers. Returns "" unless the result shrinks below 90% of the input.
func SkeletonizeMarkdown(text string) string {
	rawLines := strings.Split(text, "\n")
	lines := make([]string, len(rawLines))
	for i, line := range rawLines {
		if m := lineNumPrefix.FindStringSubmatch(line); m != nil {
			lines[i] = m[1]
		} else {
			lines[i] = line
		}
	}

	var kept []string
	inCode := false
	skipped := 0

	flush := func() {
		if skipped > 0 {
			kept = append(kept, fmt.Sprintf("  ... [%d lines] ...", skipped))
			skipped = 0
		}
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if strings.HasPrefix(stripped, "```") {
			if inCode {
				kept = append(kept, line)
				inCode = false
			} else {
				flush()
				kept = append(kept, line)
				inCode = true
			}
			continue
		}
		if inCode {
			skipped++
			continue
		}

		switch {
		case mdHeadingLine.MatchString(stripped),
			mdListLine.MatchString(stripped),
			strings.HasPrefix(stripped, "|"):
			flush()
			kept = append(kept, line)
		case stripped == "":
			flush()
			kept = append(kept, "")
		default:
			skipped++
		}
	}
	flush()

	out := strings.Join(kept, "\n")
	if float64(len(out)) >= float64(len(text))*0.90 {
		return ""
	}
	return out
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// Skeletonize reduces source text to structure. Go gets the AST pass first;
// other code falls to the regex skeleton, accepted only under the regex
// acceptance ratio. Returns "" when no skeleton wins.
func Skeletonize(text, lang string) string {
	if lang == "markdown" {
		return SkeletonizeMarkdown(text)
	}
	if lang == "go" {
		clean, _ := StripLineNumbers(text)
		if out := skeletonizeGoAST(clean); out != "" {
			return out
		}
	}
	out := skeletonizeRegex(text)
	if float64(len(out)) >= float64(len(text))*config.SkeletonAcceptRatioRegex {
		return ""
	}
	return out
}
