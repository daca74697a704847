package manifest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	manifestCacheFile = "keyv-file.msgpack"
	httpCacheFile     = "gnaf-http-cache.msgpack"

	requestTimeout = 30 * time.Second
)

// Resource is one downloadable artifact listed in the package manifest.
type Resource struct {
	URL      string  `json:"url"`
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Mimetype string  `json:"mimetype"`
	Size     float64 `json:"size"`
}

// ExpectedBytes returns the advertised archive size, 0 when unknown.
func (r Resource) ExpectedBytes() int64 {
	return int64(r.Size)
}

type packageShow struct {
	Success bool `json:"success"`
	Result  struct {
		Resources []Resource `json:"resources"`
	} `json:"result"`
}

// Client resolves the active archive resource from the package registry.
type Client struct {
	http  *http.Client
	cache *Cache
	log   *zap.Logger
}

// New builds a client whose caches live under cacheDir.
func New(cacheDir string) *Client {
	return NewWithClock(cacheDir, clockwork.NewRealClock())
}

// NewWithClock injects the clock driving both cache tiers; tests use a fake.
func NewWithClock(cacheDir string, clock clockwork.Clock) *Client {
	httpStore := OpenStore(filepath.Join(cacheDir, httpCacheFile))
	manifestStore := OpenStore(filepath.Join(cacheDir, manifestCacheFile))

	return &Client{
		http: &http.Client{
			Transport: newCachingTransport(nil, httpStore, clock),
			Timeout:   requestTimeout,
		},
		cache: NewCache(manifestStore, clock),
		log:   zap.L().With(zap.String("component", "manifest")),
	}
}

// Current resolves the archive to ingest: the first resource in the
// manifest that is active and a zip.
func (c *Client) Current(ctx context.Context, packageURL string) (*Resource, error) {
	entry, err := c.cache.Fetch(ctx, packageURL, func(ctx context.Context) (Entry, error) {
		return c.request(ctx, packageURL)
	})
	if err != nil {
		return nil, err
	}

	var manifest packageShow
	if err := json.Unmarshal(entry.Body, &manifest); err != nil {
		return nil, eris.Wrap(err, "manifest: decode package manifest")
	}
	if !manifest.Success {
		return nil, eris.New("manifest: package registry reported failure")
	}

	for _, res := range manifest.Result.Resources {
		if res.State == "active" && res.Mimetype == "application/zip" {
			c.log.Info("resolved archive resource",
				zap.String("name", res.Name),
				zap.String("url", res.URL),
				zap.Int64("bytes", res.ExpectedBytes()),
			)
			return &res, nil
		}
	}
	return nil, eris.New("manifest: no active zip resource in package manifest")
}

func (c *Client) request(ctx context.Context, url string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entry{}, eris.Wrap(err, "manifest: build request")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return Entry{}, eris.Wrapf(err, "manifest: fetch %s", url)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode != http.StatusOK {
		return Entry{}, eris.Errorf("manifest: fetch %s: HTTP %d", url, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Entry{}, eris.Wrap(err, "manifest: read response")
	}

	headers := make(map[string]string, len(res.Header))
	for k := range res.Header {
		headers[k] = res.Header.Get(k)
	}
	return Entry{Body: body, Headers: headers}, nil
}
