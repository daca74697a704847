// Package api serves the address query surface: autocomplete search and
// document lookup over the search backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/config"
	"github.com/addresskit/addresskit/internal/search"
)

type server struct {
	client   *search.Client
	pageSize int
	log      *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(client *search.Client, cfg config.ServerConfig) http.Handler {
	s := &server{
		client:   client,
		pageSize: cfg.PageSize,
		log:      zap.L().With(zap.String("component", "api")),
	}
	if s.pageSize < 1 {
		s.pageSize = 8
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/addresses", s.handleSearch)
	r.Get("/addresses/{pid}", s.handleGet)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing required query parameter q")
		return
	}

	page := 1
	if raw := r.URL.Query().Get("p"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "parameter p must be an integer")
			return
		}
		page = n
	}

	result, err := s.client.Search(r.Context(), search.Query{
		Text:     q,
		Page:     page,
		PageSize: s.pageSize,
	})
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")

	doc, err := s.client.Get(r.Context(), pid)
	if errors.Is(err, search.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no address with pid "+pid)
		return
	}
	if err != nil {
		s.writeBackendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeBackendError maps backend failures onto the API's error statuses.
func (s *server) writeBackendError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("backend request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "search backend timed out")
	case errors.Is(err, search.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "search backend unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Status: status, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
