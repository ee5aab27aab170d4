// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// CONTEXT WINDOW AND TRIGGER POINTS
// =============================================================================

// DefaultContextWindow is assumed when the caller does not name the model's
// window.
const DefaultContextWindow = 128000

// DefaultTriggerRatio is the usage fraction at which compression starts
// (0.70 = compress once the request fills 70% of the window). Output is
// already bounded upstream, so input can run this close to the edge.
const DefaultTriggerRatio = 0.70

// DefaultTargetRatio is the usage fraction compression drives toward. The
// gap to the window leaves room for tool definitions and the reply.
const DefaultTargetRatio = 0.55

// =============================================================================
// RESULT SIZE THRESHOLDS
// =============================================================================

// LargeResultThreshold is the character count above which a tool result is
// considered large enough to compress.
const LargeResultThreshold = 1500

// ExtendedBandThreshold is the higher bar, in characters, for compressing
// results inside the extended recency band. Only outsized payloads are
// worth touching that close to the tail.
const ExtendedBandThreshold = 15000

// =============================================================================
// PROTECTION BANDS - counted back from the last message
// =============================================================================
//
//   [oldest ---- band D ---- band C ---- band B -- band A]
//   [msg 0 ............................................. msg N]
//
// Band A is never touched. Each band outward tolerates one more rung of
// the escalation ladder.

// BandASize is the absolutely protected tail.
const BandASize = 10

// BandBSize bounds the lightly-touched band (dedup and image shrink only).
const BandBSize = 30

// BandCSize bounds the moderate band (skeletons and summaries).
const BandCSize = 60

// BandDSize bounds the digest band. Everything older is fair game for the
// final sweep.
const BandDSize = 120

// =============================================================================
// MESSAGE PRIORITIES
// =============================================================================

// Priority ranks a message's claim to survive compression. Higher survives
// longer.
type Priority int

const (
	PrioritySystem         Priority = 100
	PriorityLastUser       Priority = 95
	PriorityErrorDiag      Priority = 90
	PriorityRecent         Priority = 80
	PriorityNormal         Priority = 50
	PriorityEarlyResult    Priority = 30
	PriorityEarlyAssistant Priority = 20
)

// =============================================================================
// HEAD/TAIL AND SKELETON TUNING
// =============================================================================

// HeadKeepFraction of the kept budget goes to the front of a truncated
// result; the rest goes to the tail.
const HeadKeepFraction = 0.60

// KeepRatioBase and KeepRatioRecencyBoost set the fraction of a large
// result retained by head/tail truncation: base + recency * boost, where
// recency runs 0 (oldest) to 1 (newest in scope).
const (
	KeepRatioBase         = 0.15
	KeepRatioRecencyBoost = 0.30
)

// SkeletonAcceptRatioAST is the maximum output/input ratio for an AST
// skeleton to count as a win.
const SkeletonAcceptRatioAST = 0.95

// SkeletonAcceptRatioRegex is the stricter bar for the regex fallback,
// which keeps less structure and must earn its lossiness.
const SkeletonAcceptRatioRegex = 0.80

// =============================================================================
// SHELL OUTPUT COMPRESSION
// =============================================================================

// ShellHeadLines and ShellTailLines bound what survives of long command
// output.
const (
	ShellHeadLines = 5
	ShellTailLines = 20
)

// ShellMaxErrorLines caps the error-keyword lines pulled from the middle.
const ShellMaxErrorLines = 10

// =============================================================================
// DEDUP (REPEATED FILE READS)
// =============================================================================

// DedupFragmentHashLen is how much of a result is hashed to spot repeated
// fragments of the same file.
const DedupFragmentHashLen = 2000

// DedupFullRereadRatio marks a later read as a full re-read when its
// length reaches this fraction of the largest read seen for the path.
const DedupFullRereadRatio = 0.70

// =============================================================================
// TRUNCATION RECOVERY STORE
// =============================================================================

// TruncationPreviewLen is how much of a stored payload is echoed in the
// recovery notice.
const TruncationPreviewLen = 200

// TruncationHashPrefixLen is how much content feeds the content-key hash.
const TruncationHashPrefixLen = 500

// TruncationKeyLen is the hex length of a content key.
const TruncationKeyLen = 16

// DefaultTruncationTTL is how long stored originals stay recoverable.
const DefaultTruncationTTL = 1 * time.Hour

// DefaultSweepInterval is the frequency of the expiry sweep.
const DefaultSweepInterval = 5 * time.Minute

// =============================================================================
// DEBUG DUMPS
// =============================================================================

// DefaultDumpMaxFiles bounds the before/after dump directory.
const DefaultDumpMaxFiles = 100
