package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/models"
)

func testMessage(index int64, category models.Category) *models.LogMessage {
	return &models.LogMessage{
		Index:    index,
		Category: category,
		Message:  fmt.Sprintf("m%d", index),
	}
}

func indexes(msgs []*models.LogMessage) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Index
	}
	return out
}

func TestRetentionOptions_EvictionCount(t *testing.T) {
	tests := []struct {
		name     string
		options  RetentionOptions
		expected int
	}{
		{"eighty percent of 100", RetentionOptions{Capacity: 100, FillFactor: 80}, 20},
		{"full fill factor evicts one", RetentionOptions{Capacity: 5, FillFactor: 100}, 1},
		{"rounds to nearest", RetentionOptions{Capacity: 7, FillFactor: 50}, 4},
		{"ninety nine percent of 10", RetentionOptions{Capacity: 10, FillFactor: 99}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.options.EvictionCount())
		})
	}
}

func TestRetentionOptions_Validate(t *testing.T) {
	assert.NoError(t, RetentionOptions{}.Validate())
	assert.NoError(t, RetentionOptions{Capacity: 10, FillFactor: 100}.Validate())
	assert.True(t, errors.Is(RetentionOptions{Capacity: -1}.Validate(), ErrInvalidOptions))
	assert.True(t, errors.Is(RetentionOptions{FillFactor: 101}.Validate(), ErrInvalidOptions))
	assert.True(t, errors.Is(RetentionOptions{FillFactor: -5}.Validate(), ErrInvalidOptions))
}

func TestMemoryProvider_EvictsInPasses(t *testing.T) {
	p, err := NewMemoryProvider(MemoryOptions{
		Retention: RetentionOptions{Capacity: 100, FillFactor: 80},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(1); i <= 150; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Info)))
		assert.LessOrEqual(t, p.Len(), 100)
	}

	// Passes of 20 happen at messages 101, 121 and 141.
	assert.Equal(t, 90, p.Len())
	assert.Equal(t, int64(60), p.Evicted())

	msgs := p.Snapshot()
	assert.Equal(t, int64(61), msgs[0].Index)
	assert.Equal(t, int64(150), msgs[len(msgs)-1].Index)
}

func TestMemoryProvider_FullFillFactorEvictsOldest(t *testing.T) {
	p, err := NewMemoryProvider(MemoryOptions{
		Retention: RetentionOptions{Capacity: 5, FillFactor: 100},
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(1); i <= 6; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Info)))
	}

	assert.Equal(t, []int64{2, 3, 4, 5, 6}, indexes(p.Snapshot()))
}

func TestMemoryProvider_NoEvictionWhenDisabled(t *testing.T) {
	p, err := NewMemoryProvider(MemoryOptions{
		Retention: RetentionOptions{Capacity: 5, FillFactor: 0},
	})
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, p.Accept(context.Background(), testMessage(i, models.Info)))
	}
	assert.Equal(t, 10, p.Len())
}

func TestMemoryProvider_View(t *testing.T) {
	p := newTestMemory(t)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Info)))
	}

	last, err := p.View(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, indexes(last))

	all, err := p.View(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	// Viewing does not consume.
	assert.Equal(t, 4, p.Len())
}

func TestMemoryProvider_InvalidOptions(t *testing.T) {
	_, err := NewMemoryProvider(MemoryOptions{Retention: RetentionOptions{Capacity: 10, FillFactor: 120}})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestMemoryProvider_DefaultFilter(t *testing.T) {
	p, err := NewMemoryProvider(MemoryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AllCategories, p.Filter().Enabled)
	assert.Equal(t, TypeMemory, p.Type())
}

func TestSnapshotProvider_ClearOnGet(t *testing.T) {
	p, err := NewSnapshotProvider(SnapshotOptions{
		Retention:  RetentionOptions{Capacity: 10, FillFactor: 50},
		ClearOnGet: true,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Warning)))
	}

	first := p.Get()
	second := p.Get()

	assert.Equal(t, []int64{1, 2, 3}, indexes(first))
	assert.Empty(t, second)
	assert.NotNil(t, second)
}

func TestSnapshotProvider_KeepOnGet(t *testing.T) {
	p, err := NewSnapshotProvider(SnapshotOptions{})
	require.NoError(t, err)
	assert.False(t, p.ClearOnGet())

	require.NoError(t, p.Accept(context.Background(), testMessage(1, models.Error)))

	assert.Len(t, p.Get(), 1)
	assert.Len(t, p.Get(), 1)
}

func TestSnapshotProvider_ViewConsumesWithClearOnGet(t *testing.T) {
	p, err := NewSnapshotProvider(SnapshotOptions{ClearOnGet: true})
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Warning)))
	}

	msgs, err := p.View(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, indexes(msgs))
	assert.Equal(t, 3, p.Len())

	msgs, err = p.View(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, indexes(msgs))
	assert.Equal(t, 0, p.Len())
}

func TestSnapshotProvider_LimitedViewsLoseNothing(t *testing.T) {
	p, err := NewSnapshotProvider(SnapshotOptions{ClearOnGet: true})
	require.NoError(t, err)

	ctx := context.Background()
	for i := int64(1); i <= 500; i++ {
		require.NoError(t, p.Accept(ctx, testMessage(i, models.Warning)))
	}

	var seen []int64
	for p.Len() > 0 {
		msgs, err := p.View(ctx, 100)
		require.NoError(t, err)
		require.Len(t, msgs, 100)
		seen = append(seen, indexes(msgs)...)
	}

	want := make([]int64, 0, 500)
	for i := int64(1); i <= 500; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, seen)
}

func TestRetention_DrainN(t *testing.T) {
	var r Retention
	for i := int64(1); i <= 5; i++ {
		r.Add(testMessage(i, models.Info))
	}

	assert.Equal(t, []int64{1, 2}, indexes(r.DrainN(2)))
	assert.Equal(t, []int64{3, 4, 5}, indexes(r.Snapshot()))

	assert.Equal(t, []int64{3, 4, 5}, indexes(r.DrainN(10)))
	assert.Equal(t, 0, r.Len())

	empty := r.DrainN(3)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
