package store

import (
	"context"
	"sync"
)

// MemoryStore keeps assets in process memory. It is used by tests and by
// throwaway sessions that do not need to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[AssetKey][]AssetRecord
	ready   bool
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[AssetKey][]AssetRecord)}
}

func (m *MemoryStore) Put(ctx context.Context, key AssetKey, rec AssetRecord) error {
	if err := checkRecordKey(key); err != nil {
		return err
	}
	return m.replace(ctx, "put", key, []AssetRecord{rec})
}

func (m *MemoryStore) PutMany(ctx context.Context, key AssetKey, recs []AssetRecord) error {
	if err := checkCollectionKey(key); err != nil {
		return err
	}
	return m.replace(ctx, "put many", key, recs)
}

func (m *MemoryStore) replace(ctx context.Context, op string, key AssetKey, recs []AssetRecord) error {
	if err := ctx.Err(); err != nil {
		return ioError(op, key, err)
	}
	// copy before taking the lock so the swap itself is a single assignment
	copied := make([]AssetRecord, len(recs))
	for i, r := range recs {
		copied[i] = r.clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ioError(op, key, errClosed)
	}
	m.records[key] = copied
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key AssetKey) (AssetRecord, bool, error) {
	if err := checkRecordKey(key); err != nil {
		return AssetRecord{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return AssetRecord{}, false, ioError("get", key, errClosed)
	}
	recs, ok := m.records[key]
	if !ok || len(recs) == 0 {
		return AssetRecord{}, false, nil
	}
	return recs[0].clone(), true, nil
}

func (m *MemoryStore) GetCollection(ctx context.Context, key AssetKey) ([]AssetRecord, error) {
	if err := checkCollectionKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ioError("get collection", key, errClosed)
	}
	recs := m.records[key]
	out := make([]AssetRecord, len(recs))
	for i, r := range recs {
		out[i] = r.clone()
	}
	return out, nil
}

func (m *MemoryStore) MarkReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ioError("mark ready", UploadedFlag, errClosed)
	}
	m.ready = true
	return nil
}

func (m *MemoryStore) IsReady(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ioError("is ready", UploadedFlag, errClosed)
	}
	return m.ready, nil
}

func (m *MemoryStore) Keys(ctx context.Context) ([]AssetKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	present := map[AssetKey]bool{UploadedFlag: m.ready}
	for k := range m.records {
		present[k] = true
	}
	return orderedKeys(present), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
