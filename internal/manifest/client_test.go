package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showBody = `{
	"success": true,
	"result": {
		"resources": [
			{"url": "https://files.example/old.zip", "name": "superseded", "state": "draft", "mimetype": "application/zip", "size": 1},
			{"url": "https://files.example/notes.csv", "name": "notes", "state": "active", "mimetype": "text/csv", "size": 2},
			{"url": "https://files.example/gnaf.zip", "name": "g-naf may 2024", "state": "active", "mimetype": "application/zip", "size": 1610612736}
		]
	}
}`

func TestCurrentSelectsFirstActiveZip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(showBody))
	}))
	defer srv.Close()

	c := New(t.TempDir())
	res, err := c.Current(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "https://files.example/gnaf.zip", res.URL)
	assert.Equal(t, int64(1610612736), res.ExpectedBytes())
}

func TestCurrentNoZipResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "result": {"resources": []}}`))
	}))
	defer srv.Close()

	_, err := New(t.TempDir()).Current(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestCurrentRegistryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	_, err := New(t.TempDir()).Current(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestCurrentServedFromCacheAcrossRuns(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(showBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	_, err := NewWithClock(dir, clock).Current(context.Background(), srv.URL)
	require.NoError(t, err)

	// A fresh client over the same cache dir models a process restart.
	res, err := NewWithClock(dir, clock).Current(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/gnaf.zip", res.URL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestCurrentStaleManifestOnOutage(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(showBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	c := NewWithClock(dir, clock)

	_, err := c.Current(context.Background(), srv.URL)
	require.NoError(t, err)

	down.Store(true)
	clock.Advance(48 * time.Hour)

	res, err := c.Current(context.Background(), srv.URL)
	require.NoError(t, err, "stale manifest under 30 days bridges an outage")
	assert.Equal(t, "https://files.example/gnaf.zip", res.URL)

	clock.Advance(29 * 24 * time.Hour)
	_, err = c.Current(context.Background(), srv.URL)
	require.Error(t, err, "expired manifest surfaces the network error")
}
