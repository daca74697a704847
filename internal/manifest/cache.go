package manifest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// FreshTTL is the age under which a cached manifest is served without
	// touching the network.
	FreshTTL = 24 * time.Hour
	// StaleTTL is the age beyond which a cached manifest is discarded even
	// when the network is down.
	StaleTTL = 30 * 24 * time.Hour

	// httpCacheTTL bounds the transparent HTTP response cache.
	httpCacheTTL = time.Hour
)

// Cache layers the fresh/stale/expired policy over a Store.
type Cache struct {
	store *Store
	clock clockwork.Clock
	log   *zap.Logger
}

// NewCache builds the tiered cache over store.
func NewCache(store *Store, clock clockwork.Clock) *Cache {
	return &Cache{
		store: store,
		clock: clock,
		log:   zap.L().With(zap.String("component", "manifest.cache")),
	}
}

// Fetch returns the response for url, consulting the cache tiers:
// a fresh entry short-circuits the network; a stale entry under 30 days is
// served only when fetch fails; anything older is treated as absent.
func (c *Cache) Fetch(ctx context.Context, url string, fetch func(context.Context) (Entry, error)) (Entry, error) {
	cached, ok := c.store.Get(url)
	age := c.clock.Since(cached.CachedAt)

	if ok && age <= FreshTTL {
		c.log.Debug("serving fresh cache entry", zap.String("url", url), zap.Duration("age", age))
		return cached, nil
	}

	entry, err := fetch(ctx)
	if err == nil {
		entry.CachedAt = c.clock.Now()
		if perr := c.store.Put(url, entry); perr != nil {
			c.log.Warn("cache write failed", zap.Error(perr))
		}
		return entry, nil
	}

	if ok && age < StaleTTL {
		c.log.Warn("network fetch failed, serving stale cache entry",
			zap.String("url", url),
			zap.Duration("age", age),
			zap.Error(err),
		)
		return cached, nil
	}
	if ok {
		c.store.Delete(url)
	}
	return Entry{}, err
}

// cachingTransport is the transparent short-TTL response cache: identical
// GETs within the TTL are answered from disk.
type cachingTransport struct {
	next  http.RoundTripper
	store *Store
	clock clockwork.Clock
}

func newCachingTransport(next http.RoundTripper, store *Store, clock clockwork.Clock) *cachingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &cachingTransport{next: next, store: store, clock: clock}
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.next.RoundTrip(req)
	}

	key := req.URL.String()
	if e, ok := t.store.Get(key); ok && t.clock.Since(e.CachedAt) <= httpCacheTTL {
		return cachedResponse(req, e), nil
	}

	res, err := t.next.RoundTrip(req)
	if err != nil || res.StatusCode != http.StatusOK {
		return res, err
	}

	body, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(res.Header))
	for k := range res.Header {
		headers[k] = res.Header.Get(k)
	}
	_ = t.store.Put(key, Entry{Body: body, Headers: headers, CachedAt: t.clock.Now()})

	res.Body = io.NopCloser(bytes.NewReader(body))
	return res, nil
}

func cachedResponse(req *http.Request, e Entry) *http.Response {
	header := make(http.Header, len(e.Headers))
	for k, v := range e.Headers {
		header.Set(k, v)
	}
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
