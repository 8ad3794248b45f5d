package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertInsertsThenUpdates(t *testing.T) {
	idx := New[string, int]()

	updated, err := idx.Upsert("a", func(key string, current int, exists bool) (int, error) {
		assert.False(t, exists)
		return 1, nil
	})
	require.NoError(t, err)
	assert.True(t, updated)

	v, found := idx.Find("a")
	require.True(t, found)
	assert.Equal(t, 1, v)

	_, err = idx.Upsert("a", func(key string, current int, exists bool) (int, error) {
		assert.True(t, exists)
		assert.Equal(t, 1, current)
		return current + 1, nil
	})
	require.NoError(t, err)

	v, _ = idx.Find("a")
	assert.Equal(t, 2, v)
}

func TestUpsertCheckErrorAborts(t *testing.T) {
	idx := New[string, int]()
	wantErr := errors.New("boom")

	_, err := idx.Upsert("a", func(key string, current int, exists bool) (int, error) {
		return 0, wantErr
	})
	assert.Equal(t, wantErr, err)

	_, found := idx.Find("a")
	assert.False(t, found)
}

func TestRemove(t *testing.T) {
	idx := New[string, int]()
	idx.Upsert("a", func(key string, current int, exists bool) (int, error) { return 1, nil })

	v, removed := idx.Remove("a")
	assert.True(t, removed)
	assert.Equal(t, 1, v)

	_, found := idx.Find("a")
	assert.False(t, found)

	_, removed = idx.Remove("missing")
	assert.False(t, removed)
}

func TestQueryReturnsAscendingRange(t *testing.T) {
	idx := New[int, string]()
	for _, k := range []int{5, 1, 3, 9, 7} {
		k := k
		idx.Upsert(k, func(key int, current string, exists bool) (string, error) {
			return "v", nil
		})
	}

	results, err := idx.Query(context.Background(), 3, 7)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestAllReturnsEveryLiveEntry(t *testing.T) {
	idx := New[int, string]()
	for i := 1; i <= 5; i++ {
		i := i
		idx.Upsert(i, func(key int, current string, exists bool) (string, error) { return "v", nil })
	}
	idx.Remove(3)

	results, err := idx.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 4)
}
