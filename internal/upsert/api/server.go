// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP server for the upsert mock backend.
// It decodes requests, hands the idempotency key and resource id to the
// core.Resolver, and maps results to JSON responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"upsertmock/internal/upsert/core"
	"upsertmock/internal/upsert/telemetry"
)

const (
	// UpsertPath is the only business route served.
	UpsertPath = "/v1/transactions/upsert"
	// IdempotencyHeader carries the client's idempotency key.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayHeader tells the client whether the server id was replayed.
	ReplayHeader = "X-Idempotent-Replay"

	// MaxBodyBytes bounds the request body read.
	MaxBodyBytes = 1 << 20
)

// UpsertTransactionResponse carries the server-assigned id.
type UpsertTransactionResponse struct {
	ServerID string `json:"server_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Config holds optional server behavior.
type Config struct {
	// Latency delays every upsert to emulate a slow network backend.
	Latency time.Duration
	Logger  *slog.Logger
}

// Server holds the dependencies for the HTTP handlers.
type Server struct {
	resolver *core.Resolver
	latency  time.Duration
	log      *slog.Logger
}

// NewServer creates a new API server around resolver.
func NewServer(resolver *core.Resolver, cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Server{resolver: resolver, latency: cfg.Latency, log: l}
}

// RegisterRoutes attaches the server's handlers to mux. Anything that is not
// a known route answers 404 with a JSON error.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST "+UpsertPath, s.instrument(UpsertPath, http.HandlerFunc(s.handleUpsert)))
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	mux.Handle("/", s.instrument("unmatched", http.HandlerFunc(s.handleNotFound)))
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyHeader)

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad body"})
		return
	}
	txID, err := resourceID(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad json"})
		return
	}

	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		select {
		case <-t.C:
		case <-r.Context().Done():
			t.Stop()
			return
		}
	}

	res, err := s.resolver.Resolve(r.Context(), key, txID)
	switch {
	case errors.Is(err, core.ErrConflict):
		telemetry.ObserveConflict()
		s.log.Warn("idempotency conflict", "key", key, "tx_id", txID, "err", err)
		writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key reused with a different resource"})
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		telemetry.ObserveStoreError()
		s.log.Error("resolve failed", "key", key, "tx_id", txID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
		return
	}

	telemetry.ObserveResolution(res.Outcome.String())
	s.log.Info("upsert resolved",
		"key", key,
		"tx_id", res.ResourceID,
		"server_id", res.ServerID,
		"outcome", res.Outcome.String(),
	)

	if res.Replayed() {
		w.Header().Set(ReplayHeader, "true")
	} else {
		w.Header().Set(ReplayHeader, "false")
	}
	writeJSON(w, http.StatusOK, UpsertTransactionResponse{ServerID: res.ServerID})
}

// resourceID pulls the transaction id out of an upsert body. Only the "id"
// field is read, so other fields may carry any JSON type. An empty body, an
// absent id or a non-string id all map to core.UnknownResource; a body that is
// not a JSON object is an error.
func resourceID(body []byte) (string, error) {
	if len(body) == 0 {
		return core.UnknownResource, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	if fields == nil {
		return "", errors.New("body is not a JSON object")
	}
	raw, ok := fields["id"]
	if !ok {
		return core.UnknownResource, nil
	}
	var id *string
	if err := json.Unmarshal(raw, &id); err != nil || id == nil {
		return core.UnknownResource, nil
	}
	return *id, nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown path: " + r.URL.Path})
}

// statusRecorder captures the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		telemetry.ObserveRequest(route, r.Method, sr.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

// HTTPServer returns an http.Server for addr with every route registered.
// The caller owns its lifecycle, including Shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10*time.Second + s.latency,
		IdleTimeout:       120 * time.Second,
	}
}
