package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/config"
	"github.com/addresskit/addresskit/internal/gnaf"
	"github.com/addresskit/addresskit/internal/observability"
)

// Sink submits mapped documents to the backend in bulk. Failed submissions
// are retried indefinitely with a linearly growing delay; the corpus load
// takes hours, so a backend restart mid-run must stall the pipeline rather
// than kill it. Cancellation comes from the context.
type Sink struct {
	client  *Client
	clock   clockwork.Clock
	cfg     config.IndexConfig
	refresh bool
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewSink builds a sink over client. With refresh set, each bulk request
// asks the backend to make documents searchable immediately; load tests use
// it, production loads do not.
func NewSink(client *Client, cfg config.IndexConfig, refresh bool, metrics *observability.Metrics) *Sink {
	return newSink(client, cfg, refresh, metrics, clockwork.NewRealClock())
}

func newSink(client *Client, cfg config.IndexConfig, refresh bool, metrics *observability.Metrics, clock clockwork.Clock) *Sink {
	return &Sink{
		client:  client,
		clock:   clock,
		cfg:     cfg,
		refresh: refresh,
		metrics: metrics,
		log:     zap.L().With(zap.String("component", "search.sink")),
	}
}

// Submit indexes one batch of documents, blocking until the whole batch is
// accepted or ctx is cancelled. Any failure, transport-level or per-item,
// retries the entire batch: document ids are deterministic, so replaying
// already-accepted items is harmless.
func (s *Sink) Submit(ctx context.Context, docs []gnaf.AddressDetail) error {
	if len(docs) == 0 {
		return nil
	}

	payload, err := s.encode(docs)
	if err != nil {
		return err
	}

	delay := s.cfg.Backoff
	for attempt := 1; ; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		result, err := s.client.Bulk(reqCtx, bytes.NewReader(payload), s.refresh)
		cancel()

		if err == nil && !result.Errors {
			if s.metrics != nil {
				s.metrics.DocumentsIndexed.Add(float64(len(docs)))
			}
			return nil
		}

		if err == nil {
			err = eris.Errorf("search: bulk response reported item errors (%d items)", len(result.Items))
		}
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "search: bulk submit cancelled")
		}

		s.log.Warn("bulk submit failed, backing off",
			zap.Int("attempt", attempt),
			zap.Int("documents", len(docs)),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.BulkRetries.Inc()
		}

		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "search: bulk submit cancelled")
		}

		delay += s.cfg.BackoffIncrement
		if delay > s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
		}
	}
}

// encode builds the NDJSON payload of alternating directive and document
// lines.
func (s *Sink) encode(docs []gnaf.AddressDetail) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		directive := map[string]any{
			"index": map[string]any{"_id": doc.DocumentID()},
		}
		if err := enc.Encode(directive); err != nil {
			return nil, eris.Wrap(err, "search: encode bulk directive")
		}
		if err := enc.Encode(doc); err != nil {
			return nil, eris.Wrapf(err, "search: encode document %s", doc.PID)
		}
	}
	return buf.Bytes(), nil
}
