package state

import "sync"

// BlobStore is the persistence collaborator contract: opaque byte blobs
// keyed by string. Implementations must surface corruption as a read
// failure rather than returning garbage.
type BlobStore interface {
	Write(key string, data []byte) error
	Read(key string) ([]byte, error)
	Remove(key string) error
}

// Compile-time interface checks.
var (
	_ BlobStore = (*DB)(nil)
	_ BlobStore = (*MemoryBlobStore)(nil)
)

// MemoryBlobStore is a volatile BlobStore keeping blobs in a process-local
// map. Data is copied on write and read to avoid accidental external
// mutation of internal buffers. Best suited for tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore returns an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Write stores a copy of the blob bytes for the key.
func (m *MemoryBlobStore) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[key] = cp
	return nil
}

// Read returns a copy of the stored bytes or ErrNotFound.
func (m *MemoryBlobStore) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Remove deletes the blob for the key. Removing a missing key is not an error.
func (m *MemoryBlobStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Corrupt overwrites a stored blob with garbage while keeping the key
// present. Test helper for exercising corruption handling downstream.
func (m *MemoryBlobStore) Corrupt(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; ok {
		m.blobs[key] = []byte("\x00corrupt\x00")
	}
}
