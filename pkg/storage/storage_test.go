package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// runStoreSuite exercises the Store contract against a backend
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		var r record
		assert.ErrorIs(t, s.Get(ctx, NamespaceOrders, "nope", &r), ErrNotFound)

		ok, err := s.Exists(ctx, NamespaceOrders, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, NamespaceOrders, "a", record{Name: "a", Status: "pending"}))
		require.NoError(t, s.Set(ctx, NamespaceOrders, "a", record{Name: "a", Status: "executing"}))

		var r record
		require.NoError(t, s.Get(ctx, NamespaceOrders, "a", &r))
		assert.Equal(t, "executing", r.Status)

		ok, err := s.Exists(ctx, NamespaceOrders, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, NamespaceIntents, "a")
		require.NoError(t, err)
		assert.False(t, ok, "namespaces are isolated")
	})

	t.Run("set if absent", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.SetIfAbsent(ctx, NamespaceIntents, "i1", record{Name: "first"})
		require.NoError(t, err)
		assert.True(t, stored)

		stored, err = s.SetIfAbsent(ctx, NamespaceIntents, "i1", record{Name: "second"})
		require.NoError(t, err)
		assert.False(t, stored)

		var r record
		require.NoError(t, s.Get(ctx, NamespaceIntents, "i1", &r))
		assert.Equal(t, "first", r.Name)
	})

	t.Run("delete frees the key", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.SetIfAbsent(ctx, NamespaceIntents, "i1", record{Name: "first"})
		require.NoError(t, err)
		require.True(t, stored)

		require.NoError(t, s.Delete(ctx, NamespaceIntents, "i1"))
		require.NoError(t, s.Delete(ctx, NamespaceIntents, "i1"), "missing keys are fine")
		ok, err := s.Exists(ctx, NamespaceIntents, "i1")
		require.NoError(t, err)
		assert.False(t, ok)

		stored, err = s.SetIfAbsent(ctx, NamespaceIntents, "i1", record{Name: "second"})
		require.NoError(t, err)
		assert.True(t, stored)
	})

	t.Run("concurrent set if absent has one winner", func(t *testing.T) {
		s := newStore(t)
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				stored, err := s.SetIfAbsent(ctx, NamespaceIntents, "dup", record{Name: fmt.Sprint(i)})
				assert.NoError(t, err)
				if stored {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("filtered list in key order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, NamespaceOrders, "c", record{Name: "c", Status: "pending"}))
		require.NoError(t, s.Set(ctx, NamespaceOrders, "a", record{Name: "a", Status: "failed"}))
		require.NoError(t, s.Set(ctx, NamespaceOrders, "b", record{Name: "b", Status: "pending"}))

		all, err := s.List(ctx, NamespaceOrders, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)

		pending, err := s.List(ctx, NamespaceOrders, func(_ string, raw []byte) bool {
			var r record
			return json.Unmarshal(raw, &r) == nil && r.Status == "pending"
		})
		require.NoError(t, err)
		require.Len(t, pending, 2)

		var first record
		require.NoError(t, json.Unmarshal(pending[0], &first))
		assert.Equal(t, "b", first.Name)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, NamespaceTxIndex, "0xabc", record{Name: "order-1"}))
	require.NoError(t, s.Close())

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	var r record
	require.NoError(t, reopened.Get(ctx, NamespaceTxIndex, "0xabc", &r))
	assert.Equal(t, "order-1", r.Name)
}

func TestRecord_TableName(t *testing.T) {
	assert.Equal(t, "solver_records", Record{}.TableName())
}
