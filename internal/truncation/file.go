package truncation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// FileStore persists one JSON file per record under a directory, shared by
// every worker that mounts it. The filesystem gives no atomic
// read-then-delete, so takes serialize on a per-key mutex; rename-delete
// closes the race against workers in other processes.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file truncation store requires a path")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create truncation dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func (s *FileStore) path(kind, key string) string {
	return filepath.Join(s.dir, kind+"_"+unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (s *FileStore) keyLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[path]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[path] = l
	return l
}

func (s *FileStore) put(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l := s.keyLock(path)
	l.Lock()
	defer l.Unlock()
	return os.WriteFile(path, data, 0o600)
}

// take claims the file by renaming it to a caller-unique name before
// reading. Rename is atomic on POSIX filesystems, so of two concurrent
// takers exactly one wins even across processes.
func (s *FileStore) take(path string, v any) (bool, error) {
	l := s.keyLock(path)
	l.Lock()
	defer l.Unlock()

	claim := fmt.Sprintf("%s.taken.%d", path, time.Now().UnixNano())
	if err := os.Rename(path, claim); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	data, err := os.ReadFile(claim) // #nosec G304 -- path built from store dir
	_ = os.Remove(claim)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) PutTool(_ context.Context, rec ToolRecord) error {
	return s.put(s.path("tool", rec.ToolCallID), rec)
}

func (s *FileStore) TakeTool(_ context.Context, toolCallID string) (*ToolRecord, error) {
	var rec ToolRecord
	ok, err := s.take(s.path("tool", toolCallID), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) PutContent(_ context.Context, rec ContentRecord) error {
	return s.put(s.path("content", rec.Key), rec)
}

func (s *FileStore) TakeContent(_ context.Context, key string) (*ContentRecord, error) {
	var rec ContentRecord
	ok, err := s.take(s.path("content", key), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
				n++
			}
		}
	}
	return n, nil
}

func (s *FileStore) Close() error { return nil }
