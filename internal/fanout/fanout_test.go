package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	seen := make(map[int]bool)

	err := Run(context.Background(), 50, 4, func(ctx context.Context, i int) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, seen, 50)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRun_ReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")

	err := Run(context.Background(), 10, 2, func(ctx context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, err, boom)
}

func TestRun_Empty(t *testing.T) {
	called := false
	err := Run(context.Background(), 0, 3, func(ctx context.Context, i int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestEach_RunsEveryIndexDespiteFailures(t *testing.T) {
	var count atomic.Int32

	Each(context.Background(), 20, 3, func(ctx context.Context, i int) {
		count.Add(1)
	})

	assert.Equal(t, int32(20), count.Load())
}

func TestChunk(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	chunks := Chunk(items, 3)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 1, 2}, chunks[0])
	assert.Equal(t, []int{6}, chunks[2])

	assert.Nil(t, Chunk([]int{}, 3))
	assert.Len(t, Chunk(items, 0), 1)
}

func TestPages(t *testing.T) {
	assert.Equal(t, 0, Pages(0, 1000))
	assert.Equal(t, 1, Pages(1, 1000))
	assert.Equal(t, 1, Pages(1000, 1000))
	assert.Equal(t, 100, Pages(100000, 1000))
	assert.Equal(t, 101, Pages(100001, 1000))
}
