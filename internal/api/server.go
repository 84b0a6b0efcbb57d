// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the master's HTTP surface (spec SPEC_FULL §6.4):
// read-only vector endpoints, a control-submission endpoint, and a
// Prometheus scrape endpoint, gated by an optional bearer-token check.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/fanclub/master/pkg/log"
	"github.com/fanclub/master/pkg/schema"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VectorSource supplies the current state the API reports. The
// orchestrator implements it; the API package never touches slave state
// directly.
type VectorSource interface {
	NetworkVector() schema.NetworkVector
	SlavesVector() schema.SlavesVector
	FeedbackVector() *schema.FeedbackVector
	SubmitControl(schema.ControlVector) error
}

// Config configures the HTTP surface.
type Config struct {
	Addr         string
	RequireAuth  bool
	AllowedPaths []string // paths exempt from auth, e.g. "/metrics"
}

// Server wraps the HTTP surface.
type Server struct {
	httpServer *http.Server
	verifier   *TokenVerifier
}

// NewServer builds the router and wraps it with compression, CORS, and
// access logging the way the teacher's server.go does (handlers.*).
func NewServer(cfg Config, source VectorSource, verifier *TokenVerifier, registry prometheus.Gatherer) *Server {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/vectors", handleVectors(source)).Methods(http.MethodGet)
	api.HandleFunc("/slaves", handleSlaves(source)).Methods(http.MethodGet)
	api.HandleFunc("/control", handleControl(source)).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	var handler http.Handler = r
	if cfg.RequireAuth {
		handler = requireAuth(verifier, cfg.AllowedPaths)(r)
	}
	handler = handlers.CompressHandler(handler)
	handler = handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}),
	)(handler)
	handler = handlers.CustomLoggingHandler(logWriter{}, handler, accessLogFormatter)

	return &Server{
		httpServer: &http.Server{Addr: cfg.Addr, Handler: handler},
		verifier:   verifier,
	}
}

// ListenAndServe serves until Shutdown is called elsewhere; blocking.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func handleVectors(source VectorSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"network":  source.NetworkVector(),
			"slaves":   source.SlavesVector(),
			"feedback": source.FeedbackVector(),
		})
	}
}

func handleSlaves(source VectorSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.SlavesVector())
	}
}

type controlRequest struct {
	Code      int    `json:"code"`
	All       bool   `json:"all"`
	Indices   []int  `json:"indices"`
	Duty      int    `json:"duty"`
	Selection []int  `json:"selection"`
	Duties    []int  `json:"duties"`
}

func handleControl(source VectorSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		var req controlRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "malformed control request: "+err.Error(), http.StatusBadRequest)
			return
		}

		cv := schema.ControlVector{
			Code:      schema.ControlCode(req.Code),
			Target:    schema.TargetSelector{All: req.All, Indices: req.Indices},
			Duty:      req.Duty,
			Selection: req.Selection,
			Duties:    req.Duties,
		}
		if err := source.SubmitControl(cv); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("api: failed to encode response: %v", err)
	}
}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Infof("api: %s", string(p))
	return len(p), nil
}

func accessLogFormatter(w io.Writer, params handlers.LogFormatterParams) {
	log.Infof("api: %s %s %d", params.Request.Method, params.URL.Path, params.StatusCode)
}
