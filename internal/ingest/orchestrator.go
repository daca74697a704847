package ingest

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/archive"
	"github.com/addresskit/addresskit/internal/config"
	"github.com/addresskit/addresskit/internal/fetch"
	"github.com/addresskit/addresskit/internal/gnaf"
	"github.com/addresskit/addresskit/internal/manifest"
	"github.com/addresskit/addresskit/internal/observability"
	"github.com/addresskit/addresskit/internal/search"
)

// Options adjusts one ingestion run.
type Options struct {
	// Clear drops and recreates the index before loading.
	Clear bool
	// Refresh asks the backend to refresh after every bulk request; used by
	// integration tests, far too slow for a full load.
	Refresh bool
}

// Orchestrator sequences a full ingestion run.
type Orchestrator struct {
	cfg      *config.Config
	manifest *manifest.Client
	fetcher  *fetch.Fetcher
	client   *search.Client
	metrics  *observability.Metrics
}

// New wires an orchestrator from configuration.
func New(cfg *config.Config, client *search.Client, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		manifest: manifest.New(cfg.GNAF.CacheDir),
		fetcher:  fetch.New(),
		client:   client,
		metrics:  metrics,
	}
}

// Run executes the pipeline: resolve the archive, materialise and extract
// it, load the authority tables, prepare the index, then stream every
// covered region into the backend.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	start := time.Now()
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("run_id", uuid.NewString()),
	)

	o.metrics.LoadRunning.Set(1)
	defer o.metrics.LoadRunning.Set(0)

	covered := o.cfg.GNAF.Covered()
	log.Info("ingestion starting", zap.Strings("states", covered))

	res, err := o.manifest.Current(ctx, o.cfg.GNAF.PackageURL)
	if err != nil {
		return eris.Wrap(err, "ingest: resolve archive")
	}

	archivePath, err := o.materialise(ctx, log, res)
	if err != nil {
		return err
	}

	extracted, err := archive.Extract(archivePath, o.cfg.GNAF.Dir)
	if err != nil {
		return eris.Wrap(err, "ingest: extract archive")
	}

	rel, err := gnaf.OpenRelease(extracted)
	if err != nil {
		return err
	}

	idx, err := o.loadAuthority(ctx, rel)
	if err != nil {
		return err
	}

	if err := o.client.EnsureIndex(ctx, idx.Synonyms(), opts.Clear); err != nil {
		return eris.Wrap(err, "ingest: prepare index")
	}

	summary := o.loadSummary(ctx, log, rel)

	mapper := gnaf.NewMapper(idx, o.cfg.GNAF.EnableGeo)
	sink := search.NewSink(o.client, o.cfg.Index, opts.Refresh, o.metrics)
	loader := NewLoader(rel, mapper, sink, summary,
		int64(o.cfg.GNAF.ChunkSizeMB)<<20, o.cfg.GNAF.EnableGeo, o.metrics)

	var total RegionStats
	for _, state := range covered {
		stats, err := loader.LoadRegion(ctx, state)
		if err != nil {
			return err
		}
		total.Rows += stats.Rows
		total.Documents += stats.Documents
		total.MappingErrors += stats.MappingErrors
	}

	// Refresh once at the end so everything just indexed is searchable
	// without waiting out the backend's refresh interval.
	if err := o.client.Refresh(ctx); err != nil {
		return eris.Wrap(err, "ingest: refresh index")
	}

	log.Info("ingestion complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("rows", total.Rows),
		zap.Int64("documents", total.Documents),
		zap.Int64("mapping_errors", total.MappingErrors),
	)
	return nil
}

// materialise downloads the archive unless a complete copy is already on
// disk. Partial downloads live under incomplete/ and move into place only
// when the fetcher reports success.
func (o *Orchestrator) materialise(ctx context.Context, log *zap.Logger, res *manifest.Resource) (string, error) {
	name, err := archiveName(res.URL)
	if err != nil {
		return "", err
	}
	finalPath := filepath.Join(o.cfg.GNAF.Dir, name)

	if info, err := os.Stat(finalPath); err == nil {
		if res.ExpectedBytes() == 0 || info.Size() == res.ExpectedBytes() {
			log.Info("archive already on disk", zap.String("path", finalPath))
			return finalPath, nil
		}
		log.Warn("archive on disk has wrong size, refetching",
			zap.Int64("size", info.Size()),
			zap.Int64("expected", res.ExpectedBytes()),
		)
		if err := os.Remove(finalPath); err != nil {
			return "", eris.Wrap(err, "ingest: remove bad archive")
		}
	}

	stagingPath := filepath.Join(o.cfg.GNAF.Dir, "incomplete", name)
	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		return "", eris.Wrap(err, "ingest: create staging dir")
	}

	var lastBytes int64
	err = o.fetcher.Fetch(ctx, res.URL, stagingPath, fetch.Options{
		ExpectedSize: res.ExpectedBytes(),
		OnProgress: func(p fetch.Progress) {
			o.metrics.BytesFetched.Add(float64(p.BytesDownloaded - lastBytes))
			lastBytes = p.BytesDownloaded
			log.Debug("downloading archive",
				zap.Int64("bytes", p.BytesDownloaded),
				zap.Float64("percent", p.Percent),
			)
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ingest: fetch archive")
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		return "", eris.Wrap(err, "ingest: finalise archive")
	}
	return finalPath, nil
}

// loadAuthority builds the code index from the release's authority files.
func (o *Orchestrator) loadAuthority(ctx context.Context, rel *gnaf.Release) (*gnaf.AuthorityIndex, error) {
	idx := gnaf.NewAuthorityIndex()
	for _, table := range gnaf.Tables {
		path := rel.AuthorityFile(table)
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open authority table %s", path)
		}
		err = idx.LoadTable(ctx, table, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// loadSummary parses the release's row-count manifest; absence downgrades
// count verification, nothing else.
func (o *Orchestrator) loadSummary(ctx context.Context, log *zap.Logger, rel *gnaf.Release) *gnaf.Summary {
	f, err := os.Open(rel.CountsFile())
	if err != nil {
		log.Warn("release has no counts manifest", zap.Error(err))
		return nil
	}
	defer f.Close() //nolint:errcheck

	summary, err := gnaf.ParseSummary(ctx, f)
	if err != nil {
		log.Warn("counts manifest unreadable", zap.Error(err))
		return nil
	}
	return summary
}

// archiveName derives the on-disk archive file name from the resource URL.
func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: parse archive url %s", rawURL)
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("ingest: archive url %s has no file name", rawURL)
	}
	return name, nil
}
