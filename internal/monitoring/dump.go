package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ctxpress/compaction/internal/message"
)

// DumpLog writes before/after request snapshots for offline inspection.
// Failures never propagate; a dump is debugging aid, not state.
type DumpLog struct {
	dir      string
	maxFiles int
}

// NewDumpLog returns a dump writer rooted at dir, or nil when dir is empty
// (dumping disabled). The directory is pruned to maxFiles oldest-first.
func NewDumpLog(dir string, maxFiles int) *DumpLog {
	if dir == "" {
		return nil
	}
	if maxFiles <= 0 {
		maxFiles = 100
	}
	return &DumpLog{dir: dir, maxFiles: maxFiles}
}

type dumpRecord struct {
	TokenEstimate int               `json:"token_estimate"`
	MessageCount  int               `json:"message_count"`
	TokensSaved   int               `json:"tokens_saved,omitempty"`
	Messages      []message.Message `json:"messages"`
	Tools         []message.Tool    `json:"tools,omitempty"`
}

// DumpBefore snapshots the incoming request and returns the dump id the
// matching DumpAfter call should use. Returns "" when dumping is off.
func (d *DumpLog) DumpBefore(msgs []message.Message, tools []message.Tool, tokenEstimate int) string {
	if d == nil {
		return ""
	}
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		log.Warn().Err(err).Str("dir", d.dir).Msg("dump: cannot create directory")
		return ""
	}
	d.prune()

	id := time.Now().Format("150405.000")
	d.write(fmt.Sprintf("req_%s_before.json", id), dumpRecord{
		TokenEstimate: tokenEstimate,
		MessageCount:  len(msgs),
		Messages:      msgs,
		Tools:         tools,
	})
	return id
}

// DumpAfter snapshots the rewritten request under the id DumpBefore issued.
func (d *DumpLog) DumpAfter(id string, msgs []message.Message, tokenEstimate, tokensSaved int) {
	if d == nil || id == "" {
		return
	}
	d.write(fmt.Sprintf("req_%s_after.json", id), dumpRecord{
		TokenEstimate: tokenEstimate,
		MessageCount:  len(msgs),
		TokensSaved:   tokensSaved,
		Messages:      msgs,
	})
}

func (d *DumpLog) write(name string, rec dumpRecord) {
	data, err := json.MarshalIndent(rec, "", " ")
	if err != nil {
		log.Warn().Err(err).Msg("dump: marshal failed")
		return
	}
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("dump: write failed")
	}
}

// prune drops the oldest entries once the directory exceeds maxFiles.
func (d *DumpLog) prune() {
	entries, err := os.ReadDir(d.dir)
	if err != nil || len(entries) <= d.maxFiles {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-d.maxFiles] {
		_ = os.Remove(filepath.Join(d.dir, name))
	}
}
