package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memVersion struct {
	id      string
	body    []byte
	written time.Time
}

// MemoryStore is an in-memory, thread-safe Store. Version ids are random
// UUIDs, so two writes of identical bytes still get distinct ids.
type MemoryStore struct {
	bucket string

	mu       sync.RWMutex
	versions map[string][]memVersion // oldest first
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, versions: make(map[string][]memVersion)}
}

// Bucket implements Store.
func (m *MemoryStore) Bucket() string { return m.bucket }

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, key string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memVersion{
		id:      uuid.NewString(),
		body:    append([]byte(nil), body...),
		written: time.Now().UTC(),
	}
	m.versions[key] = append(m.versions[key], v)
	return v.id, nil
}

// ListVersions implements Store.
func (m *MemoryStore) ListVersions(_ context.Context, key string) ([]Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vs := m.versions[key]
	out := make([]Version, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, Version{
			ID:           vs[i].id,
			Size:         int64(len(vs[i].body)),
			LastModified: vs[i].written,
			IsLatest:     i == len(vs)-1,
		})
	}
	return out, nil
}

// GetVersion implements Store.
func (m *MemoryStore) GetVersion(_ context.Context, key, versionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions[key] {
		if v.id == versionID {
			return append([]byte(nil), v.body...), nil
		}
	}
	return nil, fmt.Errorf("%s@%s: %w", key, versionID, ErrVersionNotFound)
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.versions[key]) > 0, nil
}

// ListPrefixes implements Store.
func (m *MemoryStore) ListPrefixes(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for key := range m.versions {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[prefix+rest[:i+1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Tamper replaces the content of an existing version in place. Real stores
// cannot do this; it exists so verification failures can be exercised.
func (m *MemoryStore) Tamper(key, versionID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.versions[key] {
		if v.id == versionID {
			m.versions[key][i].body = append([]byte(nil), body...)
			return nil
		}
	}
	return ErrVersionNotFound
}
