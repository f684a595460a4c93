package timesheet

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	entries []Entry
	calls   int
	err     error
}

func (c *countingProvider) ListEntries(context.Context, Filter) ([]Entry, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.entries, nil
}

func (c *countingProvider) GetEntries(_ context.Context, entryIDs []string) ([]Entry, error) {
	c.calls++
	return c.entries, nil
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func TestCachedProviderReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{entries: []Entry{{ID: "ts_1", Description: "login fixes"}}}
	cached := NewCachedProvider(inner, client, time.Minute, testLog())

	filter := Filter{Project: "core"}
	first, err := cached.ListEntries(context.Background(), filter)
	require.NoError(t, err)
	second, err := cached.ListEntries(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls, "second read must come from the cache")
}

func TestCachedProviderDistinctFiltersDistinctKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{entries: []Entry{{ID: "ts_1"}}}
	cached := NewCachedProvider(inner, client, time.Minute, testLog())

	_, err := cached.ListEntries(context.Background(), Filter{Project: "core"})
	require.NoError(t, err)
	_, err = cached.ListEntries(context.Background(), Filter{Project: "billing"})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedProviderExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{entries: []Entry{{ID: "ts_1"}}}
	cached := NewCachedProvider(inner, client, time.Minute, testLog())

	_, err := cached.ListEntries(context.Background(), Filter{})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cached.ListEntries(context.Background(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCachedProviderDegradesWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{entries: []Entry{{ID: "ts_1"}}}
	cached := NewCachedProvider(inner, client, time.Minute, testLog())

	mr.Close()
	entries, err := cached.ListEntries(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedProviderGetEntriesBypassesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingProvider{entries: []Entry{{ID: "ts_1"}}}
	cached := NewCachedProvider(inner, client, time.Minute, testLog())

	_, err := cached.GetEntries(context.Background(), []string{"ts_1"})
	require.NoError(t, err)
	_, err = cached.GetEntries(context.Background(), []string{"ts_1"})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}
