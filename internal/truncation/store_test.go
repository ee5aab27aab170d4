package truncation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentKeyStableOnPrefix(t *testing.T) {
	base := "The fix is to move the defer above the early return."
	long := base + " And here is a lot of trailing text that differs between the stream and the echo."

	// Short texts hash whole; the key length is fixed.
	assert.Len(t, ContentKey(base), 16)
	assert.NotEqual(t, ContentKey(base), ContentKey(long))

	// Past the prefix length the tail no longer matters.
	prefix := make([]byte, 600)
	for i := range prefix {
		prefix[i] = 'a'
	}
	a := string(prefix) + "tail one"
	b := string(prefix) + "completely different tail"
	assert.Equal(t, ContentKey(a), ContentKey(b))
}

func TestMemStoreTakeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	rec := ToolRecord{ToolCallID: "call_1", ToolName: "Read", Info: "cut at 12000 bytes", CreatedAt: time.Now()}
	require.NoError(t, s.PutTool(ctx, rec))

	got, err := s.TakeTool(ctx, "call_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Read", got.ToolName)

	// Second take sees nothing.
	got, err = s.TakeTool(ctx, "call_1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Unknown key is a miss, not an error.
	got, err = s.TakeTool(ctx, "call_none")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemStoreConcurrentTakeDeliversOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.PutContent(ctx, ContentRecord{Key: "k1", Preview: "p", CreatedAt: time.Now()}))

	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.TakeContent(ctx, "k1")
			if err == nil && rec != nil {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestMemStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	old := time.Now().Add(-2 * time.Hour)

	require.NoError(t, s.PutTool(ctx, ToolRecord{ToolCallID: "stale", CreatedAt: old}))
	require.NoError(t, s.PutTool(ctx, ToolRecord{ToolCallID: "fresh", CreatedAt: time.Now()}))
	require.NoError(t, s.PutContent(ctx, ContentRecord{Key: "stale_c", CreatedAt: old}))

	n, err := s.Sweep(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := s.TakeTool(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(configFor("memory", ""))
	require.NoError(t, err)
	_, ok := s.(*MemStore)
	assert.True(t, ok)

	s, err = Open(configFor("file", t.TempDir()))
	require.NoError(t, err)
	_, ok = s.(*FileStore)
	assert.True(t, ok)

	_, err = Open(configFor("redis", ""))
	assert.Error(t, err)
}
