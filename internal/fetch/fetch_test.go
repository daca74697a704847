package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry keeps test backoffs in the microsecond range.
var fastRetry = RetryConfig{
	MaxRetries:     5,
	InitialBackoff: time.Millisecond,
	Multiplier:     2,
	MaxBackoff:     5 * time.Millisecond,
	JitterFraction: 0.25,
}

func newTestFetcher() *Fetcher {
	return NewWithClock(&http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, clockwork.NewRealClock())
}

func TestFetchFresh(t *testing.T) {
	content := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Range"))
		w.Write([]byte(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: int64(len(content)),
		Retry:        fastRetry,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchResumesPartial(t *testing.T) {
	content := strings.Repeat("abcdefgh", 1024)
	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		gotRange.Store(rng)
		require.True(t, strings.HasPrefix(rng, "bytes="))
		offset, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		require.NoError(t, err)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(content[offset:]))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(dest, []byte(content[:3000]), 0o644))

	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: int64(len(content)),
		Retry:        fastRetry,
	})
	require.NoError(t, err)
	assert.Equal(t, "bytes=3000-", gotRange.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "no duplicate or missing bytes after resume")
}

func TestFetchResumeUnsupportedRestartsFresh(t *testing.T) {
	content := strings.Repeat("z", 2048)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		// Always reply 200 with the full body, ignoring Range.
		w.Write([]byte(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(dest, []byte(content[:500]), 0o644))

	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: int64(len(content)),
		Retry:        fastRetry,
	})
	require.NoError(t, err)
	// First request carried Range and was answered 200; second started fresh.
	assert.Equal(t, int32(2), requests.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchOversizedPartialDeletedBeforeRequest(t *testing.T) {
	content := strings.Repeat("q", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The oversized partial must be gone before the first request.
		assert.Empty(t, r.Header.Get("Range"))
		w.Write([]byte(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(dest, []byte(strings.Repeat("j", len(content)+1)), 0o644))

	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: int64(len(content)),
		Retry:        fastRetry,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetch416DeletesAndRestarts(t *testing.T) {
	content := strings.Repeat("r", 1024)
	var sawRange atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange.Store(true)
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Write([]byte(content))
	}))
	defer srv.Close()

	// Expected size unknown, so the on-disk partial is trusted and resumed.
	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(dest, []byte(strings.Repeat("s", 2048)), 0o644))

	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{Retry: fastRetry})
	require.NoError(t, err)
	assert.True(t, sawRange.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetch416RestartsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		// Fresh requests produce a partial that will 416 again next time.
		w.Header().Set("Content-Length", "100")
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Write([]byte("short"))
		conn.Close()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(dest, []byte("leftover"), 0o644))

	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		Retry:       RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond, JitterFraction: 0.25},
		MaxRestarts: 2,
	})
	require.Error(t, err)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	content := "eventually fine"
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(content))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{Retry: fastRetry})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestFetchNonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{Retry: fastRetry})

	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "HTTP_403", de.Code)
	assert.False(t, de.Retryable)
	assert.Equal(t, 1, de.Attempts)
}

func TestFetchRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		Retry: RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond, JitterFraction: 0.25},
	})

	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "HTTP_502", de.Code)
	assert.True(t, de.Retryable)
	assert.Equal(t, 3, de.Attempts)
}

func TestFetchPrematureCloseThenResume(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	cut := 4000
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// Advertise the full length but close mid-body.
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.(http.Flusher).Flush()
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Write([]byte(content[:cut]))
			conn.Close()
			return
		}
		rng := r.Header.Get("Range")
		require.Equal(t, fmt.Sprintf("bytes=%d-", cut), rng)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", cut, len(content)-1, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(content[cut:]))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "big")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: int64(len(content)),
		Retry:        fastRetry,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchSizeMismatchRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response (no Content-Length) shorter than the expected size.
		w.Write([]byte("tiny"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: 4096,
		Retry:        RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond, JitterFraction: 0.25},
	})

	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeSizeMismatch, de.Code)
	assert.True(t, de.Retryable)
	assert.NoFileExists(t, dest)
}

func TestFetchDataOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 8192)))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize: 1024,
		Retry:        RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond, JitterFraction: 0.25},
	})

	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeDataOverflow, de.Code)
	assert.True(t, de.Retryable)
	assert.NoFileExists(t, dest)
}

func TestFetchFollowsRedirects(t *testing.T) {
	content := "redirected content"
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer target.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer hop.Close()

	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), hop.URL, dest, Options{Retry: fastRetry})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestFetchProgress(t *testing.T) {
	content := strings.Repeat("p", 100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer srv.Close()

	var updates []Progress
	dest := filepath.Join(t.TempDir(), "out")
	f := newTestFetcher()
	err := f.Fetch(context.Background(), srv.URL, dest, Options{
		ExpectedSize:     int64(len(content)),
		ProgressInterval: time.Millisecond,
		OnProgress:       func(p Progress) { updates = append(updates, p) },
		Retry:            fastRetry,
	})
	require.NoError(t, err)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, int64(len(content)), last.BytesDownloaded)
	assert.Equal(t, int64(len(content)), last.TotalBytes)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
	assert.False(t, last.Resuming)
}
