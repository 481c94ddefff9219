// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api implements the Read API of spec §4.4: a small read-only
// HTTP surface over the Block Store, plus the health and metrics
// routes (§12).
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/blockwatch/internal/headers"
	blog "github.com/luxfi/blockwatch/internal/log"
	"github.com/luxfi/blockwatch/internal/metrics"
)

// Store is the slice of store.Store the Read API depends on.
type Store interface {
	Latest(ctx context.Context, chainID uint32) (headers.Header, bool, error)
	ByNumber(ctx context.Context, chainID uint32, number uint64) (headers.Header, bool, error)
}

// HealthChecker is the slice of health.Checker the Read API depends on.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Server wires the Read API's routes over a Store.
type Server struct {
	store   Store
	health  HealthChecker
	metrics *metrics.Metrics
	router  *mux.Router
}

// New builds a Server with every route of spec §4.4/§12 registered.
// gatherer is the registry /metrics serves from; pass the same
// registry the Metrics collectors were registered against (spec §9:
// the connection-pool gauges and everything else must come from one
// real registry, never a disconnected default).
func New(store Store, health HealthChecker, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	s := &Server{store: store, health: health, metrics: m, router: mux.NewRouter()}
	s.routes(gatherer)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.HandleFunc("/evm/blocks/health", s.instrument(s.handleBlocksHealth)).Methods(http.MethodGet)
	s.router.HandleFunc("/evm/blocks/{chainId}/latest", s.instrument(s.handleLatest)).Methods(http.MethodGet)
	s.router.HandleFunc("/evm/blocks/{chainId}/{number}", s.instrument(s.handleByNumber)).Methods(http.MethodGet)
	s.router.HandleFunc("/health/liveness", s.instrument(s.handleLiveness)).Methods(http.MethodGet)
	s.router.HandleFunc("/health/readiness", s.instrument(s.handleReadiness)).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// instrument wraps h with the http_server_requests_seconds observation
// of spec §4.5. The route label is the request path with every
// parameterized segment collapsed by metrics.NormalizeRouteSegment
// (spec U6), rather than a hand-picked constant, so the normalization
// is exercised on every real request instead of only in its own tests.
func (s *Server) instrument(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(r.Method, normalizedRoute(r.URL.Path), strconv.Itoa(rec.status), time.Since(start))
		}
	}
}

func normalizedRoute(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = metrics.NormalizeRouteSegment(seg)
	}
	return "/" + strings.Join(segments, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		blog.Warn("api: failed writing response", "err", err)
	}
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"error": "Not found"})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func parseChainID(vars map[string]string) (uint32, bool) {
	v, err := strconv.ParseUint(vars["chainId"], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (s *Server) handleBlocksHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChainID(mux.Vars(r))
	if !ok {
		writeBadRequest(w, "invalid chainId")
		return
	}

	h, found, err := s.store.Latest(r.Context(), chainID)
	if err != nil {
		blog.Warn("api: latest failed", "chain_id", chainID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !found {
		// spec §6: an absent record is a 200 with a sentinel error body,
		// not a 404 — callers treat "no blocks ingested yet" as a
		// routine, not exceptional, response.
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, headers.ToDTO(h))
}

func (s *Server) handleByNumber(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chainID, ok := parseChainID(vars)
	if !ok {
		writeBadRequest(w, "invalid chainId")
		return
	}
	number, err := strconv.ParseUint(vars["number"], 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid block number")
		return
	}

	h, found, err := s.store.ByNumber(r.Context(), chainID, number)
	if err != nil {
		blog.Warn("api: byNumber failed", "chain_id", chainID, "number", number, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if !found {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, headers.ToDTO(h))
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Liveness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readiness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
