package reembed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/athena/core"
)

func sliceList(ids ...core.ID) ListFunc[core.ID] {
	return func(ctx context.Context, after core.ID, limit int) ([]core.ID, error) {
		var out []core.ID
		for _, id := range ids {
			if id > after && len(out) < limit {
				out = append(out, id)
			}
		}
		return out, nil
	}
}

func identity(id core.ID) core.ID { return id }

func TestIterator_Batches(t *testing.T) {
	it := NewIterator(sliceList(1, 2, 3, 4, 5), identity, 2)

	var batches [][]core.ID
	err := it.ForEach(context.Background(), 0, func(batch []core.ID) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]core.ID{{1, 2}, {3, 4}, {5}}, batches)
}

func TestIterator_ResumesAfter(t *testing.T) {
	it := NewIterator(sliceList(1, 2, 3, 4), identity, 3)

	var seen []core.ID
	err := it.ForEach(context.Background(), 2, func(batch []core.ID) error {
		seen = append(seen, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []core.ID{3, 4}, seen)
}

func TestIterator_ExactMultipleEndsWithEmptyPage(t *testing.T) {
	calls := 0
	list := sliceList(1, 2, 3, 4)
	it := NewIterator(func(ctx context.Context, after core.ID, limit int) ([]core.ID, error) {
		calls++
		return list(ctx, after, limit)
	}, identity, 2)

	count := 0
	require.NoError(t, it.ForEach(context.Background(), 0, func(batch []core.ID) error {
		count += len(batch)
		return nil
	}))
	assert.Equal(t, 4, count)
	assert.Equal(t, 3, calls)
}

func TestIterator_StopsOnError(t *testing.T) {
	it := NewIterator(sliceList(1, 2, 3), identity, 1)
	boom := errors.New("boom")

	calls := 0
	err := it.ForEach(context.Background(), 0, func(batch []core.ID) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIterator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewIterator(sliceList(1), identity, 0)
	assert.Equal(t, DefaultBatchSize, it.batchSize)

	err := it.ForEach(ctx, 0, func([]core.ID) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
