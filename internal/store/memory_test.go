package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreUpdateMergesTopLevelFields(t *testing.T) {
	ms := NewMemStore()
	ctx := context.Background()

	require.NoError(t, ms.Create(ctx, "a", Document{"status": "waiting", "name": "one"}))
	require.NoError(t, ms.Update(ctx, "a", Document{"status": "started"}))

	doc, err := ms.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "started", doc["status"])
	assert.Equal(t, "one", doc["name"], "unrelated fields survive the merge")
}

func TestMemStoreGetMissing(t *testing.T) {
	ms := NewMemStore()

	_, err := ms.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = ms.Update(context.Background(), "missing", Document{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreWatchDeliversInitialAndUpdates(t *testing.T) {
	ms := NewMemStore()
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "a", Document{"v": 1}))

	var seen []Document
	stop, err := ms.Watch(ctx, "a", func(d Document) { seen = append(seen, d) }, nil)
	require.NoError(t, err)
	require.Len(t, seen, 1, "current state delivered on subscribe")

	require.NoError(t, ms.Update(ctx, "a", Document{"v": 2}))
	require.Len(t, seen, 2)

	stop()
	require.NoError(t, ms.Update(ctx, "a", Document{"v": 3}))
	assert.Len(t, seen, 2, "stopped watch receives nothing")
}

func TestMemStoreWatchMissingDocDeliversEmpty(t *testing.T) {
	ms := NewMemStore()

	var seen []Document
	stop, err := ms.Watch(context.Background(), "ghost", func(d Document) { seen = append(seen, d) }, nil)
	require.NoError(t, err)
	defer stop()

	require.Len(t, seen, 1)
	assert.Empty(t, seen[0])
}

func TestMemStoreQueryOperators(t *testing.T) {
	ms := NewMemStore()
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "a", Document{"n": 1}))
	require.NoError(t, ms.Create(ctx, "b", Document{"n": 5}))
	require.NoError(t, ms.Create(ctx, "c", Document{"n": 9}))

	docs, err := ms.Query(ctx, "n", ">=", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = ms.Query(ctx, "n", "<", 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = ms.Query(ctx, "n", "!=", 5)
	assert.Error(t, err)
}
