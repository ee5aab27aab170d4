package truncation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ctxpress/compaction/internal/config"
	"github.com/ctxpress/compaction/internal/trace"
)

// Store persists truncation records across requests and workers. Take
// operations are atomic read-then-delete: at most one caller ever receives
// a given record.
type Store interface {
	PutTool(ctx context.Context, rec ToolRecord) error
	TakeTool(ctx context.Context, toolCallID string) (*ToolRecord, error)

	PutContent(ctx context.Context, rec ContentRecord) error
	TakeContent(ctx context.Context, key string) (*ContentRecord, error)

	// Sweep deletes records created before cutoff, returning how many.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Open builds the store named by the configuration.
func Open(cfg config.TruncationConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown truncation backend %q", cfg.Backend)
	}
}

// RunSweeper deletes expired records every interval until ctx is done.
// Intended to run as a goroutine; sweep failures are logged and retried on
// the next tick.
func RunSweeper(ctx context.Context, store Store, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	log := trace.Logger(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Sweep(ctx, time.Now().Add(-ttl))
			if err != nil {
				log.Warn().Err(err).Msg("truncation sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("expired", n).Msg("truncation records swept")
			}
		}
	}
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemStore keeps records in process memory. Single-worker deployments
// only: records do not survive a restart and are invisible to other
// processes.
type MemStore struct {
	mu      sync.Mutex
	tools   map[string]ToolRecord
	content map[string]ContentRecord
}

func NewMemStore() *MemStore {
	return &MemStore{
		tools:   make(map[string]ToolRecord),
		content: make(map[string]ContentRecord),
	}
}

func (s *MemStore) PutTool(_ context.Context, rec ToolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[rec.ToolCallID] = rec
	return nil
}

func (s *MemStore) TakeTool(_ context.Context, toolCallID string) (*ToolRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tools[toolCallID]
	if !ok {
		return nil, nil
	}
	delete(s.tools, toolCallID)
	return &rec, nil
}

func (s *MemStore) PutContent(_ context.Context, rec ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[rec.Key] = rec
	return nil
}

func (s *MemStore) TakeContent(_ context.Context, key string) (*ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.content[key]
	if !ok {
		return nil, nil
	}
	delete(s.content, key)
	return &rec, nil
}

func (s *MemStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.tools {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.tools, k)
			n++
		}
	}
	for k, rec := range s.content {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.content, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) Close() error { return nil }
