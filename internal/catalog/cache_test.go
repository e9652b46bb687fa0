package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-transit/internal/shared"
)

type countingReader struct {
	inner Static
	calls atomic.Int32
	delay time.Duration
}

func (r *countingReader) ItemType(ctx context.Context, id uuid.UUID) (ItemType, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.inner.ItemType(ctx, id)
}

func newCache(t *testing.T, src Reader) (*CachedReader, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedReader(src, client, time.Minute, nil), mr
}

func TestCachedReaderReadThrough(t *testing.T) {
	id := uuid.New()
	src := &countingReader{inner: Static{id: {ID: id, Name: "Diesel", MeasuringUnit: "l", MinQuantity: decimal.NewFromInt(50)}}}
	cache, mr := newCache(t, src)
	ctx := context.Background()

	it, err := cache.ItemType(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "l", it.MeasuringUnit)
	require.True(t, mr.Exists(cacheKeyPrefix+id.String()))

	it, err = cache.ItemType(ctx, id)
	require.NoError(t, err)
	require.True(t, it.MinQuantity.Equal(decimal.NewFromInt(50)))
	require.EqualValues(t, 1, src.calls.Load())

	require.NoError(t, cache.Invalidate(ctx, id))
	_, err = cache.ItemType(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 2, src.calls.Load())
}

func TestCachedReaderNotFoundIsNotCached(t *testing.T) {
	src := &countingReader{inner: Static{}}
	cache, mr := newCache(t, src)
	id := uuid.New()

	_, err := cache.ItemType(context.Background(), id)
	require.ErrorIs(t, err, ErrItemTypeNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.False(t, mr.Exists(cacheKeyPrefix+id.String()))
}

func TestCachedReaderCollapsesConcurrentMisses(t *testing.T) {
	id := uuid.New()
	src := &countingReader{inner: Static{id: {ID: id, Name: "Bolt", MeasuringUnit: "pcs"}}, delay: 100 * time.Millisecond}
	cache, _ := newCache(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.ItemType(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, src.calls.Load())
}

func TestCachedReaderFallsBackWhenRedisDown(t *testing.T) {
	id := uuid.New()
	src := &countingReader{inner: Static{id: {ID: id, Name: "Filter"}}}
	cache, mr := newCache(t, src)
	mr.Close()

	it, err := cache.ItemType(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Filter", it.Name)
}
