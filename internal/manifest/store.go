// Package manifest resolves the current G-NAF archive resource from the
// data.gov.au package registry, with a tiered file-backed cache.
package manifest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Entry is one cached response.
type Entry struct {
	Body     []byte            `msgpack:"body"`
	Headers  map[string]string `msgpack:"headers"`
	CachedAt time.Time         `msgpack:"cachedAt"`
}

// Store is a URL-keyed response cache persisted as one msgpack file. The
// ingestion process is the only writer, so there is no locking.
type Store struct {
	path    string
	entries map[string]Entry
	log     *zap.Logger
}

// OpenStore loads the cache file at path. A missing or unreadable file
// yields an empty store; the cache is an optimisation, not a dependency.
func OpenStore(path string) *Store {
	s := &Store{
		path:    path,
		entries: make(map[string]Entry),
		log:     zap.L().With(zap.String("component", "manifest.store"), zap.String("path", path)),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s
	}
	if err != nil {
		s.log.Warn("cache file unreadable, starting empty", zap.Error(err))
		return s
	}
	if err := msgpack.Unmarshal(raw, &s.entries); err != nil {
		s.log.Warn("cache file corrupt, starting empty", zap.Error(err))
		s.entries = make(map[string]Entry)
	}
	return s
}

// Get returns the entry cached for url.
func (s *Store) Get(url string) (Entry, bool) {
	e, ok := s.entries[url]
	return e, ok
}

// Put caches an entry for url and persists the store. The file is written
// whole and renamed into place so a crash never leaves a torn cache.
func (s *Store) Put(url string, e Entry) error {
	s.entries[url] = e

	raw, err := msgpack.Marshal(s.entries)
	if err != nil {
		return eris.Wrap(err, "manifest: encode cache")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return eris.Wrap(err, "manifest: create cache dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return eris.Wrap(err, "manifest: write cache")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return eris.Wrap(err, "manifest: finalise cache")
	}
	return nil
}

// Delete removes the entry for url and persists the store.
func (s *Store) Delete(url string) {
	if _, ok := s.entries[url]; !ok {
		return
	}
	delete(s.entries, url)
	raw, err := msgpack.Marshal(s.entries)
	if err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}
