package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Exists(_ context.Context, namespace, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[namespace][key]
	return ok, nil
}

func (m *MemoryStore) Get(_ context.Context, namespace, key string, out any) error {
	m.mu.RLock()
	raw, ok := m.data[namespace][key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (m *MemoryStore) Set(_ context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(namespace, key, raw)
	return nil
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, namespace, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[namespace][key]; ok {
		return false, nil
	}
	m.put(namespace, key, raw)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, namespace string, filter Filter) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return listSorted(m.data[namespace], filter), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) put(namespace, key string, raw []byte) {
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	ns[key] = raw
}

func listSorted(records map[string][]byte, filter Filter) [][]byte {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		raw := records[k]
		if filter != nil && !filter(k, raw) {
			continue
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		out = append(out, cp)
	}
	return out
}
