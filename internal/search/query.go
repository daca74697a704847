package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxPage and MaxPageSize bound pagination so deep offsets cannot scan
// the whole index.
const (
	MaxPage     = 100
	MaxPageSize = 100

	defaultPageSize = 8
)

// Query is one autocomplete request.
type Query struct {
	Text string
	// Page is 1-based and clamped to [1, MaxPage].
	Page int
	// PageSize is clamped to [1, MaxPageSize]; zero means the default.
	PageSize int
}

// Hit is one ranked result.
type Hit struct {
	SLA        string   `json:"sla"`
	SSLA       string   `json:"ssla"`
	PID        string   `json:"pid"`
	Confidence *int     `json:"confidence,omitempty"`
	Score      float64  `json:"score"`
	Links      HitLinks `json:"links"`
}

// HitLinks carries the canonical document path.
type HitLinks struct {
	Self string `json:"self"`
}

// Result is one page of ranked hits.
type Result struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Hits  []Hit `json:"hits"`
}

// Search runs the autocomplete query: a prefix match and a phrase-prefix
// match over the rendered address lines, ranked by score with confidence
// and the raw lines as deterministic tiebreakers.
func (c *Client) Search(ctx context.Context, q Query) (*Result, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	body, err := json.Marshal(composeQuery(q.Text, (q.Page-1)*q.PageSize, q.PageSize))
	if err != nil {
		return nil, eris.Wrap(err, "search: marshal query")
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(strings.NewReader(string(body))),
	)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	defer drain(res)

	if res.StatusCode == 404 {
		// Index not created yet: the backend cannot serve queries.
		return nil, ErrUnavailable
	}
	if res.IsError() {
		return nil, eris.Errorf("search: query failed: %s", res.Status())
	}

	var envelope struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					PID        string `json:"pid"`
					SLA        string `json:"sla"`
					SSLA       string `json:"ssla"`
					Confidence *int   `json:"confidence"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, eris.Wrap(err, "search: decode query response")
	}

	result := &Result{
		Total: envelope.Hits.Total.Value,
		Page:  q.Page,
		Hits:  make([]Hit, 0, len(envelope.Hits.Hits)),
	}
	for _, h := range envelope.Hits.Hits {
		result.Hits = append(result.Hits, Hit{
			SLA:        h.Source.SLA,
			SSLA:       h.Source.SSLA,
			PID:        h.Source.PID,
			Confidence: h.Source.Confidence,
			Score:      h.Score,
			Links:      HitLinks{Self: "/addresses/" + h.Source.PID},
		})
	}
	return result, nil
}

// composeQuery builds the ranked autocomplete query body.
func composeQuery(text string, from, size int) map[string]any {
	fields := []string{"sla", "ssla"}
	return map[string]any{
		"from": from,
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []map[string]any{
					{
						"multi_match": map[string]any{
							"query":     text,
							"fields":    fields,
							"type":      "bool_prefix",
							"operator":  "and",
							"fuzziness": "AUTO",
							"lenient":   true,
							"auto_generate_synonyms_phrase_query": false,
						},
					},
					{
						"multi_match": map[string]any{
							"query":    text,
							"fields":   fields,
							"type":     "phrase_prefix",
							"operator": "and",
							"lenient":  true,
							"auto_generate_synonyms_phrase_query": false,
						},
					},
				},
			},
		},
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"confidence": map[string]any{"order": "desc", "missing": "_last"}},
			{"ssla.raw": map[string]any{"order": "asc"}},
			{"sla.raw": map[string]any{"order": "asc"}},
		},
	}
}
