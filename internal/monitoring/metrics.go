// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/compressions: how often the engine runs and acts
//   - levels:                how deep the escalation ladder goes
//   - tokens:                original, compressed, and saved token counts
//   - truncation:            store and recovery traffic
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Request counters
	requests     atomic.Int64
	compressions atomic.Int64
	noops        atomic.Int64

	// Escalation depth: levelCounts[i] counts runs that ended on ladder
	// rung i.
	levelCounts [16]atomic.Int64

	// Token savings counters
	totalOriginalTokens   atomic.Int64
	totalCompressedTokens atomic.Int64
	totalTokensSaved      atomic.Int64

	// Truncation store counters
	truncationsStored    atomic.Int64
	truncationsRecovered atomic.Int64
	truncationMisses     atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// RecordRequest records one pass through the engine.
func (mc *MetricsCollector) RecordRequest() { mc.requests.Add(1) }

// RecordNoop records a run that finished under the trigger point.
func (mc *MetricsCollector) RecordNoop() { mc.noops.Add(1) }

// RecordCompression records a run that rewrote messages, with the ladder
// rung it stopped on and its token counts.
func (mc *MetricsCollector) RecordCompression(rung, original, compressed int) {
	mc.compressions.Add(1)
	if rung >= 0 && rung < len(mc.levelCounts) {
		mc.levelCounts[rung].Add(1)
	}
	mc.totalOriginalTokens.Add(int64(original))
	mc.totalCompressedTokens.Add(int64(compressed))
	if saved := original - compressed; saved > 0 {
		mc.totalTokensSaved.Add(int64(saved))
	}
}

// RecordTruncationStored counts an original payload put in the store.
func (mc *MetricsCollector) RecordTruncationStored() { mc.truncationsStored.Add(1) }

// RecordTruncationRecovered counts a successful expand.
func (mc *MetricsCollector) RecordTruncationRecovered() { mc.truncationsRecovered.Add(1) }

// RecordTruncationMiss counts a recovery lookup the store failed to
// serve; the record, if one existed, stayed unconsumed.
func (mc *MetricsCollector) RecordTruncationMiss() { mc.truncationMisses.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// TokenStats returns token savings metrics.
func (mc *MetricsCollector) TokenStats() TokenStatsData {
	original := mc.totalOriginalTokens.Load()
	compressed := mc.totalCompressedTokens.Load()
	saved := mc.totalTokensSaved.Load()

	var savingsPercent float64
	if original > 0 {
		savingsPercent = float64(saved) / float64(original) * 100
	}

	return TokenStatsData{
		OriginalTokens:   original,
		CompressedTokens: compressed,
		TokensSaved:      saved,
		SavingsPercent:   savingsPercent,
	}
}

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)

	levels := make(map[int]int64)
	for i := range mc.levelCounts {
		if n := mc.levelCounts[i].Load(); n > 0 {
			levels[i] = n
		}
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      mc.requests.Load(),
			Compressed: mc.compressions.Load(),
			Untouched:  mc.noops.Load(),
		},
		Tokens:     mc.TokenStats(),
		StopLevels: levels,
		Truncation: TruncationStats{
			Stored:    mc.truncationsStored.Load(),
			Recovered: mc.truncationsRecovered.Load(),
			Misses:    mc.truncationMisses.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartedAt     string          `json:"started_at"`
	Requests      RequestStats    `json:"requests"`
	Tokens        TokenStatsData  `json:"tokens"`
	StopLevels    map[int]int64   `json:"stop_levels"`
	Truncation    TruncationStats `json:"truncation"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Compressed int64 `json:"compressed"`
	Untouched  int64 `json:"untouched"`
}

// TokenStatsData holds token savings metrics.
type TokenStatsData struct {
	OriginalTokens   int64   `json:"original_tokens"`
	CompressedTokens int64   `json:"compressed_tokens"`
	TokensSaved      int64   `json:"tokens_saved"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// TruncationStats holds truncation store metrics.
type TruncationStats struct {
	Stored    int64 `json:"stored"`
	Recovered int64 `json:"recovered"`
	Misses    int64 `json:"misses"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
