package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addresskit/addresskit/internal/config"
	"github.com/addresskit/addresskit/internal/search"
)

// newAPI stands an API router over a scripted backend.
func newAPI(t *testing.T, backend http.HandlerFunc) http.Handler {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		backend(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := search.NewWithTransport(srv.URL, "addresskit-test")
	require.NoError(t, err)
	return NewRouter(client, config.ServerConfig{PageSize: 8})
}

func searchBackend(hits ...map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wrapped := make([]map[string]any, 0, len(hits))
		for _, h := range hits {
			wrapped = append(wrapped, map[string]any{"_score": 1.5, "_source": h})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": len(hits)},
				"hits":  wrapped,
			},
		})
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newAPI(t, searchBackend(
		map[string]any{"pid": "GANSW1", "sla": "300 BARANGAROO AV, BARANGAROO NSW 2000", "confidence": 2},
	))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses?q=300+barangaroo", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var result search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "/addresses/GANSW1", result.Hits[0].Links.Self)
	assert.Equal(t, "300 BARANGAROO AV, BARANGAROO NSW 2000", result.Hits[0].SLA)
}

func TestSearchMissingQuery(t *testing.T) {
	h := newAPI(t, searchBackend())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, http.StatusBadRequest, envelope.Error.Status)
}

func TestSearchBadPage(t *testing.T) {
	h := newAPI(t, searchBackend())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses?q=x&p=three", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchBackendDown(t *testing.T) {
	h := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		// Missing index: the read path cannot serve.
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses?q=x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetAddress(t *testing.T) {
	h := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"found":   true,
			"_source": map[string]any{"pid": "GANSW716635811", "sla": "300 BARANGAROO AV, BARANGAROO NSW 2000"},
		})
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses/GANSW716635811", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "GANSW716635811", doc["pid"])
}

func TestGetAddressNotFound(t *testing.T) {
	h := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/addresses/GANSW0", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newAPI(t, searchBackend())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsExposed(t *testing.T) {
	h := newAPI(t, searchBackend())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
