// Package dsv streams delimited text files in bounded-size chunks.
//
// G-NAF constituent files are pipe-separated and may run to multiple
// gigabytes; the driver parses them in chunks bounded by bytes of source
// consumed and hands each batch of rows to a callback. At most one parsed
// chunk is ever in flight, so the parser is effectively paused until the
// downstream sink finishes each batch.
package dsv

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkBytes bounds source bytes per chunk when Options leaves it zero.
const DefaultChunkBytes = 10 << 20

// Row is one parsed record with header-based field access.
type Row struct {
	// Line is the 1-based source line of the record.
	Line   int
	fields []string
	header map[string]int
}

// Field returns the named column's value, or "" when the column is absent
// or the record is short.
func (r Row) Field(name string) string {
	i, ok := r.header[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Options configures a streaming parse.
type Options struct {
	// Delimiter defaults to ','; G-NAF constituent files use '|'.
	Delimiter rune
	// ChunkBytes bounds bytes of source read into one chunk.
	ChunkBytes int64
}

// Result summarises a completed parse.
type Result struct {
	// Rows is the number of data rows delivered to the callback.
	Rows int64
	// ParseErrors counts rows dropped for per-row parse failures.
	ParseErrors int64
}

// ChunkFunc receives one batch of parsed rows. The parser does not read
// further source bytes until it returns.
type ChunkFunc func(ctx context.Context, rows []Row) error

// Stream parses r, invoking fn once per chunk. Per-row parse errors are
// logged and skipped; transport errors and callback errors abort the stream.
func Stream(ctx context.Context, r io.Reader, opts Options, fn ChunkFunc) (Result, error) {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = DefaultChunkBytes
	}

	log := zap.L().With(zap.String("component", "dsv"))

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	var res Result

	header, err := readHeader(reader)
	if err == io.EOF {
		return res, nil
	}
	if err != nil {
		return res, eris.Wrap(err, "dsv: read header")
	}

	// One chunk of lookahead: the channel's single slot is the only parsed
	// data allowed to exist while the consumer drains the previous chunk.
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []Row, 1)

	g.Go(func() error {
		defer close(chunks)

		var chunk []Row
		chunkStart := reader.InputOffset()
		line := 1

		flush := func() error {
			if len(chunk) == 0 {
				return nil
			}
			select {
			case chunks <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
			chunk = nil
			chunkStart = reader.InputOffset()
			return nil
		}

		for {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			record, err := reader.Read()
			line++
			if err == io.EOF {
				return flush()
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.ParseErrors++
				log.Warn("skipping malformed row",
					zap.Int("line", parseErr.Line),
					zap.Error(parseErr.Err),
				)
				continue
			}
			if err != nil {
				return eris.Wrap(err, "dsv: read row")
			}

			chunk = append(chunk, Row{Line: line, fields: record, header: header})
			res.Rows++

			if reader.InputOffset()-chunkStart >= opts.ChunkBytes {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for rows := range chunks {
			if err := fn(gctx, rows); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// readHeader consumes the header record and builds the column index.
// Column names are upper-cased and trimmed; a UTF-8 BOM on the first
// column is stripped.
func readHeader(reader *csv.Reader) (map[string]int, error) {
	record, err := reader.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(record))
	for i, name := range record {
		name = strings.TrimPrefix(name, "\uFEFF")
		header[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	return header, nil
}
