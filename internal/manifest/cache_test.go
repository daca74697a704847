package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheURL = "https://registry.example/api/3/action/package_show?id=abc"

func tieredCache(t *testing.T) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := OpenStore(filepath.Join(t.TempDir(), "keyv-file.msgpack"))
	return NewCache(store, clock), clock
}

func seed(t *testing.T, c *Cache, body string) {
	t.Helper()
	_, err := c.Fetch(context.Background(), cacheURL, func(ctx context.Context) (Entry, error) {
		return Entry{Body: []byte(body)}, nil
	})
	require.NoError(t, err)
}

func failing() func(context.Context) (Entry, error) {
	return func(ctx context.Context) (Entry, error) {
		return Entry{}, eris.New("connection refused")
	}
}

func TestCacheFreshSkipsNetwork(t *testing.T) {
	c, clock := tieredCache(t)
	seed(t, c, "v1")

	clock.Advance(24*time.Hour - time.Millisecond)

	entry, err := c.Fetch(context.Background(), cacheURL, func(ctx context.Context) (Entry, error) {
		t.Fatal("fresh entry must not trigger a fetch")
		return Entry{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", string(entry.Body))
}

func TestCacheStaleRefreshesWhenNetworkWorks(t *testing.T) {
	c, clock := tieredCache(t)
	seed(t, c, "v1")

	clock.Advance(24*time.Hour + time.Millisecond)

	entry, err := c.Fetch(context.Background(), cacheURL, func(ctx context.Context) (Entry, error) {
		return Entry{Body: []byte("v2")}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", string(entry.Body))

	// The refresh restarted the freshness window.
	entry, err = c.Fetch(context.Background(), cacheURL, failing())
	require.NoError(t, err)
	assert.Equal(t, "v2", string(entry.Body))
}

func TestCacheStaleServedOnNetworkFailure(t *testing.T) {
	c, clock := tieredCache(t)
	seed(t, c, "v1")

	clock.Advance(24*time.Hour + time.Millisecond)

	entry, err := c.Fetch(context.Background(), cacheURL, failing())
	require.NoError(t, err)
	assert.Equal(t, "v1", string(entry.Body))
}

func TestCacheExpiredSurfacesNetworkError(t *testing.T) {
	c, clock := tieredCache(t)
	seed(t, c, "v1")

	clock.Advance(30 * 24 * time.Hour)

	_, err := c.Fetch(context.Background(), cacheURL, failing())
	require.Error(t, err)
}

func TestCacheMissSurfacesNetworkError(t *testing.T) {
	c, _ := tieredCache(t)
	_, err := c.Fetch(context.Background(), cacheURL, failing())
	require.Error(t, err)
}

func TestStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyv-file.msgpack")

	s := OpenStore(path)
	require.NoError(t, s.Put(cacheURL, Entry{
		Body:     []byte("persisted"),
		Headers:  map[string]string{"Content-Type": "application/json"},
		CachedAt: time.Unix(1700000000, 0).UTC(),
	}))

	reopened := OpenStore(path)
	entry, ok := reopened.Get(cacheURL)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(entry.Body))
	assert.Equal(t, "application/json", entry.Headers["Content-Type"])
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), entry.CachedAt.UTC())
}

func TestStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyv-file.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0o644))

	s := OpenStore(path)
	_, ok := s.Get(cacheURL)
	assert.False(t, ok)
}
