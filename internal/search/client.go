// Package search wraps the Elasticsearch backend: index lifecycle, bulk
// document submission with unbounded retry, and the autocomplete query.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/config"
	"github.com/addresskit/addresskit/internal/gnaf"
)

// ErrNotFound reports a document id absent from the index.
var ErrNotFound = eris.New("search: document not found")

// ErrUnavailable reports a backend that cannot serve the request: connection
// failure or missing index. The API layer maps it to 503.
var ErrUnavailable = eris.New("search: backend unavailable")

// Client is the backend handle. It is passed explicitly to everything that
// talks to the index; there is no process-wide client.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *zap.Logger
}

// New connects to the backend described by cfg.
func New(cfg config.ElasticConfig) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses(),
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, eris.Wrap(err, "search: create client")
	}
	return &Client{
		es:    es,
		index: cfg.IndexName,
		log:   zap.L().With(zap.String("component", "search"), zap.String("index", cfg.IndexName)),
	}, nil
}

// NewWithTransport builds a client against a custom transport; tests point
// it at an httptest server.
func NewWithTransport(address, index string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{address}})
	if err != nil {
		return nil, eris.Wrap(err, "search: create client")
	}
	return &Client{
		es:    es,
		index: index,
		log:   zap.L().With(zap.String("component", "search"), zap.String("index", index)),
	}, nil
}

// Index returns the index name the client writes to.
func (c *Client) Index() string {
	return c.index
}

// EnsureIndex creates the index with the address mapping when absent. With
// recreate set, an existing index is dropped first; synonyms feed the
// analyzer so abbreviation pairs match either way.
func (c *Client) EnsureIndex(ctx context.Context, synonyms []string, recreate bool) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	exists := res.StatusCode == 200
	drain(res)

	if exists && recreate {
		if err := c.DropIndex(ctx); err != nil {
			return err
		}
		exists = false
	}
	if exists {
		return nil
	}

	body, err := json.Marshal(indexDefinition(synonyms))
	if err != nil {
		return eris.Wrap(err, "search: marshal index definition")
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(string(body))),
	)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	defer drain(res)
	if res.IsError() {
		return eris.Errorf("search: create index %s: %s", c.index, res.String())
	}

	c.log.Info("index created", zap.Int("synonyms", len(synonyms)))
	return nil
}

// DropIndex deletes the index. A missing index is not an error.
func (c *Client) DropIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	defer drain(res)
	if res.IsError() {
		return eris.Errorf("search: drop index %s: %s", c.index, res.String())
	}
	c.log.Info("index dropped")
	return nil
}

// Refresh makes all indexed documents visible to search.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	drain(res)
	return nil
}

// BulkResult is the parsed outcome of one bulk request.
type BulkResult struct {
	Took   int  `json:"took"`
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// Bulk submits one NDJSON payload. Transport failures return ErrUnavailable;
// per-item failures surface through the result's Errors flag.
func (c *Client) Bulk(ctx context.Context, body io.Reader, refresh bool) (*BulkResult, error) {
	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	}
	if refresh {
		opts = append(opts, c.es.Bulk.WithRefresh("true"))
	}

	res, err := c.es.Bulk(body, opts...)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, eris.Errorf("search: bulk request failed: %s", res.Status())
	}

	var result BulkResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "search: decode bulk response")
	}
	return &result, nil
}

// Get fetches one document by its canonical id. The id contains slashes,
// which the transport inserts into the request path verbatim, so it is
// escaped here.
func (c *Client) Get(ctx context.Context, pid string) (*gnaf.AddressDetail, error) {
	id := gnaf.AddressDetail{PID: pid}.DocumentID()
	res, err := c.es.Get(c.index, url.PathEscape(id), c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer drain(res)

	switch {
	case res.StatusCode == 404:
		return nil, ErrNotFound
	case res.IsError():
		return nil, eris.Errorf("search: get %s: %s", id, res.Status())
	}

	var envelope struct {
		Source gnaf.AddressDetail `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, eris.Wrap(err, "search: decode get response")
	}
	return &envelope.Source, nil
}

// drain consumes and closes a response body so the connection is reusable.
func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}
