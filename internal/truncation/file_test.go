package truncation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxpress/compaction/internal/config"
)

func configFor(backend, path string) config.TruncationConfig {
	return config.TruncationConfig{Backend: backend, Path: path}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	rec := ToolRecord{ToolCallID: "toolu_01AB/CD", ToolName: "bash", Info: "stream closed early", CreatedAt: time.Now()}
	require.NoError(t, s.PutTool(ctx, rec))

	got, err := s.TakeTool(ctx, "toolu_01AB/CD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bash", got.ToolName)
	assert.Equal(t, "stream closed early", got.Info)

	got, err = s.TakeTool(ctx, "toolu_01AB/CD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoreConcurrentTake(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.PutContent(ctx, ContentRecord{Key: "abcd1234", Preview: "p", CreatedAt: time.Now()}))

	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.TakeContent(ctx, "abcd1234")
			if err == nil && rec != nil {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestFileStoreSweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.PutTool(ctx, ToolRecord{ToolCallID: "stale", CreatedAt: time.Now()}))
	require.NoError(t, s.PutTool(ctx, ToolRecord{ToolCallID: "fresh", CreatedAt: time.Now()}))

	// Age the stale record's file; the sweep keys off mtime.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "tool_stale.json"), old, old))

	n, err := s.Sweep(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.TakeTool(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
	rec, err = s.TakeTool(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLiteStoreTakeOnce(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trunc.db"))
	require.NoError(t, err)
	defer s.Close()

	rec := ToolRecord{ToolCallID: "call_9", ToolName: "grep", Info: "response ended without stop reason", CreatedAt: time.Now()}
	require.NoError(t, s.PutTool(ctx, rec))

	got, err := s.TakeTool(ctx, "call_9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "grep", got.ToolName)

	got, err = s.TakeTool(ctx, "call_9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStoreSweep(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trunc.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutContent(ctx, ContentRecord{Key: "old", CreatedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.PutContent(ctx, ContentRecord{Key: "new", CreatedAt: time.Now()}))

	n, err := s.Sweep(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.TakeContent(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}
