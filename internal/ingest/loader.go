// Package ingest drives a full G-NAF load: manifest resolution, archive
// fetch and extraction, authority tables, then per-region streaming into
// the search backend.
package ingest

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/dsv"
	"github.com/addresskit/addresskit/internal/gnaf"
	"github.com/addresskit/addresskit/internal/observability"
)

// Sink receives mapped documents in batches. *search.Sink is the production
// implementation.
type Sink interface {
	Submit(ctx context.Context, docs []gnaf.AddressDetail) error
}

// Loader streams one region's constituent files into the sink.
type Loader struct {
	rel        *gnaf.Release
	mapper     *gnaf.Mapper
	sink       Sink
	summary    *gnaf.Summary
	chunkBytes int64
	enableGeo  bool
	metrics    *observability.Metrics
	log        *zap.Logger
}

// NewLoader wires a loader over an opened release. summary may be nil when
// the release ships no row-count manifest.
func NewLoader(rel *gnaf.Release, mapper *gnaf.Mapper, sink Sink, summary *gnaf.Summary, chunkBytes int64, enableGeo bool, metrics *observability.Metrics) *Loader {
	return &Loader{
		rel:        rel,
		mapper:     mapper,
		sink:       sink,
		summary:    summary,
		chunkBytes: chunkBytes,
		enableGeo:  enableGeo,
		metrics:    metrics,
		log:        zap.L().With(zap.String("component", "ingest.loader")),
	}
}

// RegionStats summarises one region load.
type RegionStats struct {
	State         string
	Rows          int64
	Documents     int64
	MappingErrors int64
}

// regionData holds the satellite joins for one region, keyed for the
// detail-row pass. Satellite files are small relative to the detail file
// and are held in memory for the duration of the region.
type regionData struct {
	state       gnaf.State
	localities  map[string]gnaf.LocalityRecord
	streets     map[string]gnaf.StreetRecord
	siteGeos    map[string][]gnaf.SiteGeocode
	defaultGeos map[string][]gnaf.DefaultGeocode
}

// LoadRegion streams one region: satellites first, then the address detail
// file in chunks, each chunk mapped and submitted before the next is read.
func (l *Loader) LoadRegion(ctx context.Context, state string) (RegionStats, error) {
	log := l.log.With(zap.String("state", state))
	stats := RegionStats{State: state}

	if _, err := os.Stat(l.rel.StandardFile(state, gnaf.FileState)); os.IsNotExist(err) {
		log.Warn("region absent from release, skipping")
		return stats, nil
	}

	data, err := l.loadSatellites(ctx, state)
	if err != nil {
		return stats, err
	}

	path := l.rel.StandardFile(state, gnaf.FileAddressDetail)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("region has no address detail file, skipping", zap.String("path", path))
			return stats, nil
		}
		return stats, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	res, err := dsv.Stream(ctx, f, dsv.Options{Delimiter: '|', ChunkBytes: l.chunkBytes}, func(ctx context.Context, rows []dsv.Row) error {
		docs := make([]gnaf.AddressDetail, 0, len(rows))
		for _, row := range rows {
			doc, err := l.mapper.Map(row, satellitesFor(row, data))
			if err != nil {
				stats.MappingErrors++
				l.metrics.MappingErrors.Inc()
				log.Warn("row rejected by mapper", zap.Int("line", row.Line), zap.Error(err))
				continue
			}
			docs = append(docs, doc)
		}
		l.metrics.RowsMapped.Add(float64(len(docs)))
		stats.Documents += int64(len(docs))
		return l.sink.Submit(ctx, docs)
	})
	if err != nil {
		return stats, eris.Wrapf(err, "ingest: load %s address detail", state)
	}
	stats.Rows = res.Rows
	l.metrics.FileRows.WithLabelValues(gnaf.FileAddressDetail).Add(float64(res.Rows))

	l.verifyCount(log, state, gnaf.FileAddressDetail, res.Rows)
	log.Info("region loaded",
		zap.Int64("rows", stats.Rows),
		zap.Int64("documents", stats.Documents),
		zap.Int64("mapping_errors", stats.MappingErrors),
	)
	return stats, nil
}

// satellitesFor assembles the joined records for one detail row.
func satellitesFor(row dsv.Row, data *regionData) gnaf.Satellites {
	sat := gnaf.Satellites{State: data.state}
	if loc, ok := data.localities[row.Field("LOCALITY_PID")]; ok {
		sat.Locality = &loc
	}
	if st, ok := data.streets[row.Field("STREET_LOCALITY_PID")]; ok {
		sat.Street = &st
	}
	sat.SiteGeocodes = data.siteGeos[row.Field("ADDRESS_SITE_PID")]
	sat.DefaultGeocodes = data.defaultGeos[row.Field("ADDRESS_DETAIL_PID")]
	return sat
}

func (l *Loader) loadSatellites(ctx context.Context, state string) (*regionData, error) {
	data := &regionData{
		localities:  make(map[string]gnaf.LocalityRecord),
		streets:     make(map[string]gnaf.StreetRecord),
		siteGeos:    make(map[string][]gnaf.SiteGeocode),
		defaultGeos: make(map[string][]gnaf.DefaultGeocode),
	}

	if err := l.streamFile(ctx, state, gnaf.FileState, true, func(row dsv.Row) {
		data.state = gnaf.State{
			Name:         row.Field("STATE_NAME"),
			Abbreviation: row.Field("STATE_ABBREVIATION"),
		}
	}); err != nil {
		return nil, err
	}

	if err := l.streamFile(ctx, state, gnaf.FileLocality, true, func(row dsv.Row) {
		data.localities[row.Field("LOCALITY_PID")] = gnaf.LocalityRecord{
			PID:       row.Field("LOCALITY_PID"),
			Name:      row.Field("LOCALITY_NAME"),
			ClassCode: row.Field("LOCALITY_CLASS_CODE"),
		}
	}); err != nil {
		return nil, err
	}

	if err := l.streamFile(ctx, state, gnaf.FileStreetLocality, true, func(row dsv.Row) {
		data.streets[row.Field("STREET_LOCALITY_PID")] = gnaf.StreetRecord{
			PID:        row.Field("STREET_LOCALITY_PID"),
			Name:       row.Field("STREET_NAME"),
			TypeCode:   row.Field("STREET_TYPE_CODE"),
			SuffixCode: row.Field("STREET_SUFFIX_CODE"),
			ClassCode:  row.Field("STREET_CLASS_CODE"),
		}
	}); err != nil {
		return nil, err
	}

	if !l.enableGeo {
		return data, nil
	}

	if err := l.streamFile(ctx, state, gnaf.FileSiteGeocode, false, func(row dsv.Row) {
		pid := row.Field("ADDRESS_SITE_PID")
		data.siteGeos[pid] = append(data.siteGeos[pid], gnaf.SiteGeocode{
			TypeCode:        row.Field("GEOCODE_TYPE_CODE"),
			ReliabilityCode: row.Field("RELIABILITY_CODE"),
			Latitude:        row.Field("LATITUDE"),
			Longitude:       row.Field("LONGITUDE"),
		})
	}); err != nil {
		return nil, err
	}

	if err := l.streamFile(ctx, state, gnaf.FileDefaultGeocode, false, func(row dsv.Row) {
		pid := row.Field("ADDRESS_DETAIL_PID")
		data.defaultGeos[pid] = append(data.defaultGeos[pid], gnaf.DefaultGeocode{
			TypeCode:  row.Field("GEOCODE_TYPE_CODE"),
			Latitude:  row.Field("LATITUDE"),
			Longitude: row.Field("LONGITUDE"),
		})
	}); err != nil {
		return nil, err
	}

	return data, nil
}

// streamFile runs one satellite file through the driver. Required files
// must exist; optional ones are skipped with a warning.
func (l *Loader) streamFile(ctx context.Context, state, stem string, required bool, visit func(dsv.Row)) error {
	path := l.rel.StandardFile(state, stem)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			l.log.Warn("constituent file missing, skipping",
				zap.String("state", state),
				zap.String("file", stem),
			)
			return nil
		}
		return eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	res, err := dsv.Stream(ctx, f, dsv.Options{Delimiter: '|', ChunkBytes: l.chunkBytes}, func(ctx context.Context, rows []dsv.Row) error {
		for _, row := range rows {
			visit(row)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "ingest: load %s %s", state, stem)
	}
	l.metrics.FileRows.WithLabelValues(stem).Add(float64(res.Rows))
	l.verifyCount(l.log.With(zap.String("state", state)), state, stem, res.Rows)
	return nil
}

// verifyCount compares parsed rows against the release's count manifest.
// A mismatch is diagnostic, not fatal: the rows already parsed are sound.
func (l *Loader) verifyCount(log *zap.Logger, state, stem string, rows int64) {
	if l.summary == nil {
		return
	}
	expected, ok := l.summary.Expected(gnaf.StandardName(state, stem))
	if !ok {
		return
	}
	if expected != rows {
		log.Warn("row count differs from release manifest",
			zap.String("file", gnaf.StandardName(state, stem)),
			zap.Int64("expected", expected),
			zap.Int64("parsed", rows),
		)
	}
}
