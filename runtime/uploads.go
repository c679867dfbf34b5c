package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// UploadStore persists raw upload bytes and returns a stable reference
// string usable later as a context value.
type UploadStore interface {
	Put(ctx context.Context, name, contentType string, contents []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// MemoryUploadStore keeps uploads in process memory.
type MemoryUploadStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryUploadStore() *MemoryUploadStore {
	return &MemoryUploadStore{data: make(map[string][]byte)}
}

func (m *MemoryUploadStore) Put(_ context.Context, name, _ string, contents []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem://" + uuid.New().String() + "/" + name
	m.data[ref] = append([]byte(nil), contents...)
	return ref, nil
}

func (m *MemoryUploadStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contents, ok := m.data[ref]
	if !ok {
		return nil, fmt.Errorf("upload %s not found", ref)
	}
	return append([]byte(nil), contents...), nil
}

// LocalUploadStore writes uploads under a directory on the local
// filesystem. The returned reference is the absolute file path.
type LocalUploadStore struct {
	dir string
}

func NewLocalUploadStore(dir string) (*LocalUploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalUploadStore{dir: dir}, nil
}

func (l *LocalUploadStore) Put(ctx context.Context, name, _ string, contents []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	path := filepath.Join(l.dir, uuid.New().String()+"_"+filepath.Base(name))
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

func (l *LocalUploadStore) Get(ctx context.Context, ref string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return os.ReadFile(ref)
}
