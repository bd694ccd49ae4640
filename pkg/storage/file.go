package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists each namespace as a JSON document on disk. Every write
// rewrites the namespace file through a temporary file and a rename, so a
// crash leaves either the old or the new contents.
type FileStore struct {
	dir string

	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or creates) a store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:  dir,
		data: make(map[string]map[string]json.RawMessage),
	}, nil
}

func (f *FileStore) path(namespace string) string {
	return filepath.Join(f.dir, namespace+".json")
}

// load reads a namespace from disk once. Callers must hold the write lock.
func (f *FileStore) load(namespace string) (map[string]json.RawMessage, error) {
	if ns, ok := f.data[namespace]; ok {
		return ns, nil
	}

	ns := make(map[string]json.RawMessage)
	b, err := os.ReadFile(f.path(namespace))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read namespace %s: %w", namespace, err)
	default:
		if err := json.Unmarshal(b, &ns); err != nil {
			return nil, fmt.Errorf("parse namespace %s: %w", f.path(namespace), err)
		}
	}
	f.data[namespace] = ns
	return ns, nil
}

func (f *FileStore) flush(namespace string, ns map[string]json.RawMessage) error {
	b, err := json.MarshalIndent(ns, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	path := f.path(namespace)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write namespace %s: %w", namespace, err)
	}
	return os.Rename(tmp, path)
}

func (f *FileStore) namespace(namespace string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(namespace)
}

func (f *FileStore) Exists(_ context.Context, namespace, key string) (bool, error) {
	ns, err := f.namespace(namespace)
	if err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := ns[key]
	return ok, nil
}

func (f *FileStore) Get(_ context.Context, namespace, key string, out any) error {
	ns, err := f.namespace(namespace)
	if err != nil {
		return err
	}
	f.mu.RLock()
	raw, ok := ns[key]
	f.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (f *FileStore) Set(_ context.Context, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ns, err := f.load(namespace)
	if err != nil {
		return err
	}
	prev, existed := ns[key]
	ns[key] = raw
	if err := f.flush(namespace, ns); err != nil {
		if existed {
			ns[key] = prev
		} else {
			delete(ns, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) SetIfAbsent(_ context.Context, namespace, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ns, err := f.load(namespace)
	if err != nil {
		return false, err
	}
	if _, ok := ns[key]; ok {
		return false, nil
	}
	ns[key] = raw
	if err := f.flush(namespace, ns); err != nil {
		delete(ns, key)
		return false, err
	}
	return true, nil
}

func (f *FileStore) Delete(_ context.Context, namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns, err := f.load(namespace)
	if err != nil {
		return err
	}
	prev, ok := ns[key]
	if !ok {
		return nil
	}
	delete(ns, key)
	if err := f.flush(namespace, ns); err != nil {
		ns[key] = prev
		return err
	}
	return nil
}

func (f *FileStore) List(_ context.Context, namespace string, filter Filter) ([][]byte, error) {
	ns, err := f.namespace(namespace)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	records := make(map[string][]byte, len(ns))
	for k, v := range ns {
		records[k] = v
	}
	return listSorted(records, filter), nil
}

func (f *FileStore) Close() error {
	return nil
}
