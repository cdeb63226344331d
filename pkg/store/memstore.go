package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemStore is the in-memory Store used for tests and storage-less runs.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[Namespace]*bucket
}

type bucket struct {
	order   []string
	records map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{buckets: map[Namespace]*bucket{}}
}

func (m *MemStore) Put(ctx context.Context, ns Namespace, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[ns]
	if !ok {
		b = &bucket{records: map[string]Record{}}
		m.buckets[ns] = b
	}

	now := time.Now()
	if existing, ok := b.records[key]; ok {
		existing.Value = cloneValue(value)
		existing.UpdatedAt = now
		b.records[key] = existing
		return nil
	}

	b.order = append(b.order, key)
	b.records[key] = Record{Key: key, Value: cloneValue(value), CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[ns]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := b.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Value = cloneValue(rec.Value)
	return rec, nil
}

func (m *MemStore) Search(ctx context.Context, ns Namespace) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[ns]
	if !ok {
		return nil, nil
	}
	out := make([]Record, 0, len(b.order))
	for _, key := range b.order {
		rec := b.records[key]
		rec.Value = cloneValue(rec.Value)
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemStore) Namespaces(ctx context.Context, category Category) ([]Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Namespace
	for ns, b := range m.buckets {
		if ns.Category == category && len(b.order) > 0 {
			out = append(out, ns)
		}
	}
	return out, nil
}

func (m *MemStore) Close() error { return nil }

// cloneValue keeps callers from mutating stored bytes through the slice.
func cloneValue(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
