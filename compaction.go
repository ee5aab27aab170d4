// Package compaction shrinks LLM gateway conversations that outgrow the
// model's context window and recovers from responses the backend cut off
// mid-stream.
//
// The Gateway is the integration surface: feed it each request's message
// list, and it applies any pending truncation recovery, then compresses
// through the escalation ladder until the conversation fits. Recording
// truncations is the streaming layer's job, via RecordToolTruncation and
// RecordContentTruncation.
package compaction

import (
	"context"
	"time"

	"github.com/ctxpress/compaction/internal/compress"
	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/message"
	"github.com/ctxpress/compaction/internal/monitoring"
	"github.com/ctxpress/compaction/internal/tokens"
	"github.com/ctxpress/compaction/internal/trace"
	"github.com/ctxpress/compaction/internal/truncation"
)

// Gateway bundles the compression engine, the truncation store, and the
// monitoring plumbing behind one handle. Safe for concurrent use.
type Gateway struct {
	cfg      config.Config
	engine   *compress.Engine
	est      tokens.Estimator
	store    truncation.Store
	recovery *truncation.Recovery
	metrics  *monitoring.MetricsCollector
	dump     *monitoring.DumpLog

	sweepCancel context.CancelFunc
}

// New builds a Gateway from configuration: estimator choice, truncation
// backend, debug dumps, and the background TTL sweeper.
func New(cfg config.Config) (*Gateway, error) {
	var est tokens.Estimator = tokens.NewHeuristic()
	if cfg.UseBPE {
		bpe, err := tokens.NewBPE()
		if err != nil {
			return nil, err
		}
		est = bpe
	}

	store, err := truncation.Open(cfg.Truncation)
	if err != nil {
		return nil, err
	}

	var dump *monitoring.DumpLog
	if cfg.Dump.Enabled {
		dump = monitoring.NewDumpLog(cfg.Dump.Dir, cfg.Dump.MaxFiles)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	go truncation.RunSweeper(sweepCtx, store, cfg.Truncation.TTL, cfg.Truncation.SweepInterval)

	return &Gateway{
		cfg:         cfg,
		engine:      compress.NewEngine(cfg, est),
		est:         est,
		store:       store,
		recovery:    truncation.NewRecovery(store),
		metrics:     monitoring.NewMetricsCollector(),
		dump:        dump,
		sweepCancel: cancel,
	}, nil
}

// CompressContext runs the full request path: pending truncation recovery
// first, then the compression ladder.
func (g *Gateway) CompressContext(ctx context.Context, msgs []message.Message, tools []message.Tool) ([]message.Message, compress.Stats) {
	g.metrics.RecordRequest()

	msgs, recovered, missed := g.recovery.Apply(ctx, msgs)
	for i := 0; i < recovered; i++ {
		g.metrics.RecordTruncationRecovered()
	}
	for i := 0; i < missed; i++ {
		g.metrics.RecordTruncationMiss()
	}

	var dumpID string
	if g.dump != nil {
		dumpID = g.dump.DumpBefore(msgs, tools, g.est.Messages(msgs, tools))
	}

	out, stats := g.engine.CompressContext(ctx, msgs, tools)

	if stats.Level == compress.Level0 {
		g.metrics.RecordNoop()
	} else {
		g.metrics.RecordCompression(stats.Level.Rung(), stats.TokensBefore, stats.TokensAfter)
	}
	if g.dump != nil {
		g.dump.DumpAfter(dumpID, out, stats.TokensAfter, stats.TokensSaved)
	}
	return out, stats
}

// ApplyTruncationRecovery patches msgs with pending recovery notices
// without compressing. Callers that keep compression disabled still get
// truncation handling.
func (g *Gateway) ApplyTruncationRecovery(ctx context.Context, msgs []message.Message) ([]message.Message, int) {
	out, n, missed := g.recovery.Apply(ctx, msgs)
	for i := 0; i < n; i++ {
		g.metrics.RecordTruncationRecovered()
	}
	for i := 0; i < missed; i++ {
		g.metrics.RecordTruncationMiss()
	}
	return out, n
}

// RecordToolTruncation notes that toolCallID's result was cut off. info is
// a human-readable description of what is known about the cut.
func (g *Gateway) RecordToolTruncation(ctx context.Context, toolCallID, toolName, info string) error {
	err := g.store.PutTool(ctx, truncation.ToolRecord{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Info:       info,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		trace.Logger(ctx).Warn().Err(err).Str("tool_call_id", toolCallID).Msg("truncation record failed")
		return err
	}
	g.metrics.RecordTruncationStored()
	return nil
}

// RecordContentTruncation notes that an assistant reply ended without a
// normal completion signal.
func (g *Gateway) RecordContentTruncation(ctx context.Context, assistantText string) error {
	if assistantText == "" {
		return nil
	}
	err := g.store.PutContent(ctx, truncation.ContentRecord{
		Key:       truncation.ContentKey(assistantText),
		Preview:   truncation.Preview(assistantText),
		CreatedAt: time.Now(),
	})
	if err != nil {
		trace.Logger(ctx).Warn().Err(err).Msg("truncation record failed")
		return err
	}
	g.metrics.RecordTruncationStored()
	return nil
}

// Stats reports cumulative counters since startup.
func (g *Gateway) Stats() monitoring.StatsResponse {
	return g.metrics.FullStats()
}

// Close stops the sweeper and releases the truncation store.
func (g *Gateway) Close() error {
	g.sweepCancel()
	return g.store.Close()
}
