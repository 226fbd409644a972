package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestStorePutGetDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, "bookings/b1", doc{Name: "alice", Count: 1}))

			var got doc
			require.NoError(t, s.Get(ctx, "bookings/b1", &got))
			assert.Equal(t, "alice", got.Name)

			require.NoError(t, s.Delete(ctx, "bookings/b1"))
			assert.ErrorIs(t, s.Get(ctx, "bookings/b1", &got), ErrNotFound)

			// Deleting a missing path is a no-op.
			assert.NoError(t, s.Delete(ctx, "bookings/b1"))
		})
	}
}

func TestStoreListDirectChildren(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, "bookings/b1", doc{Name: "a"}))
			require.NoError(t, s.Put(ctx, "bookings/b2", doc{Name: "b"}))
			require.NoError(t, s.Put(ctx, "bookings/b1/barrierLogs/l1", doc{Name: "nested"}))
			require.NoError(t, s.Put(ctx, "coupons/c1", doc{Name: "other tree"}))

			children, err := s.List(ctx, "bookings")
			require.NoError(t, err)
			assert.Len(t, children, 2)
			assert.Contains(t, children, "b1")
			assert.Contains(t, children, "b2")

			logs, err := s.List(ctx, "bookings/b1/barrierLogs")
			require.NoError(t, err)
			assert.Len(t, logs, 1)
		})
	}
}

func TestStorePushGeneratesIDs(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id1, err := s.Push(ctx, "notifications", doc{Name: "first"})
			require.NoError(t, err)
			id2, err := s.Push(ctx, "notifications", doc{Name: "second"})
			require.NoError(t, err)
			assert.NotEqual(t, id1, id2)

			children, err := s.List(ctx, "notifications")
			require.NoError(t, err)
			assert.Len(t, children, 2)
		})
	}
}

func TestStoreApplyBatch(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, "bookings/old", doc{Name: "old"}))

			err := s.Apply(ctx, []Op{
				{Path: "bookings/new", Value: doc{Name: "new"}},
				{Path: "bookings/old", Value: nil},
				{Path: "coupons/c1", Value: doc{Name: "coupon"}},
			})
			require.NoError(t, err)

			var got doc
			assert.NoError(t, s.Get(ctx, "bookings/new", &got))
			assert.ErrorIs(t, s.Get(ctx, "bookings/old", &got), ErrNotFound)
			assert.NoError(t, s.Get(ctx, "coupons/c1", &got))
		})
	}
}

func TestStoreApplyRejectsUnmarshalable(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.Apply(ctx, []Op{
		{Path: "a/1", Value: doc{Name: "fine"}},
		{Path: "a/2", Value: make(chan int)},
	})
	require.Error(t, err)

	// Nothing from the failed batch landed.
	var got doc
	assert.ErrorIs(t, s.Get(ctx, "a/1", &got), ErrNotFound)
}

func TestStoreWatch(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			events := s.Watch(ctx, "notifications")

			require.NoError(t, s.Put(ctx, "notifications/n1", doc{Name: "hello"}))
			require.NoError(t, s.Put(ctx, "bookings/b1", doc{Name: "unrelated"}))

			select {
			case ev := <-events:
				assert.Equal(t, "notifications/n1", ev.Path)
				assert.False(t, ev.Deleted)
			case <-time.After(time.Second):
				t.Fatal("no event received")
			}

			select {
			case ev, ok := <-events:
				if ok {
					t.Fatalf("unexpected event for %s", ev.Path)
				}
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestIsStaleRead(t *testing.T) {
	err := &StaleReadError{Path: "bookings/b1"}
	assert.True(t, IsStaleRead(err))
	assert.False(t, IsStaleRead(ErrNotFound))
	assert.Contains(t, err.Error(), "bookings/b1")
}
