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

// Package main runs the idempotent upsert mock backend.
//
// The service stands in for the bookkeeping API while the client is under
// development: POST /v1/transactions/upsert returns a server id, and retries
// carrying the same Idempotency-Key get the same id back.
//
// Try it:
//
//	curl -X POST -H 'Idempotency-Key: abc-1' -d '{"id":"tx-1"}' \
//	  http://localhost:8080/v1/transactions/upsert
//
// Every flag can also be set through the UPSERT_<FLAG> environment variable
// (e.g. UPSERT_HTTP_ADDR, UPSERT_STORE); command-line flags win.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"upsertmock/internal/upsert/api"
	"upsertmock/internal/upsert/core"
	"upsertmock/internal/upsert/logger"
	"upsertmock/internal/upsert/persistence"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "upsert-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	httpAddr := flag.String("http_addr", envString("http_addr", ":8080"), "HTTP listen address (e.g., :8080)")
	storeKind := flag.String("store", envString("store", "memory"), "Idempotency store: memory|redis|postgres|sqlite")
	redisAddr := flag.String("redis_addr", envString("redis_addr", ""), "Redis address for -store=redis (e.g., 127.0.0.1:6379)")
	redisPrefix := flag.String("redis_prefix", envString("redis_prefix", persistence.DefaultRedisPrefix), "Key prefix for Redis entries")
	redisTTL := flag.Duration("redis_ttl", envDuration("redis_ttl", 0), "Expiry for Redis entries; 0 keeps them forever")
	postgresDSN := flag.String("postgres_dsn", envString("postgres_dsn", ""), "Postgres DSN for -store=postgres")
	sqlitePath := flag.String("sqlite_path", envString("sqlite_path", persistence.DefaultSQLitePath), "SQLite file for -store=sqlite")
	strictReplay := flag.Bool("strict_replay", envBool("strict_replay", false), "Reject replays whose resource id differs from the first request (HTTP 409)")
	latency := flag.Duration("latency", envDuration("latency", 0), "Artificial delay added to every upsert (e.g., 300ms)")
	logLevel := flag.String("log_level", envString("log_level", "info"), "Log level: debug|info|warn|error")
	logFormat := flag.String("log_format", envString("log_format", "text"), "Log format: text|json")
	flag.Parse()

	log, err := logger.Init(os.Stdout, *logLevel, *logFormat)
	if err != nil {
		return err
	}

	// Capture configuration for the final summary.
	core.SetThreshold("http_addr", *httpAddr)
	core.SetThreshold("store", *storeKind)
	core.SetThresholdBool("strict_replay", *strictReplay)
	core.SetThresholdDuration("latency", *latency)
	if *storeKind == "redis" {
		core.SetThresholdDuration("redis_ttl", *redisTTL)
	}

	ctx := context.Background()
	store, closeStore, err := persistence.BuildStore(ctx, *storeKind, persistence.Options{
		RedisAddr:   *redisAddr,
		RedisPrefix: *redisPrefix,
		RedisTTL:    *redisTTL,
		PostgresDSN: *postgresDSN,
		SQLitePath:  *sqlitePath,
	})
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("closing store", "err", err)
		}
	}()

	resolver := core.NewResolver(store, core.WithStrictReplay(*strictReplay))
	apiServer := api.NewServer(resolver, api.Config{Latency: *latency, Logger: log})

	httpServer := apiServer.HTTPServer(*httpAddr)

	errC := make(chan error, 1)
	go func() {
		log.Info("upsert API server listening on "+*httpAddr, "store", *storeKind, "strict_replay", *strictReplay)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errC:
		return fmt.Errorf("listen on %s: %w", *httpAddr, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	core.PrintFinalMetrics(os.Stdout)
	slog.Info("server gracefully stopped")
	return nil
}

func envKey(name string) string { return "UPSERT_" + strings.ToUpper(name) }

func envString(name, def string) string {
	if v, ok := os.LookupEnv(envKey(name)); ok && v != "" {
		return v
	}
	return def
}

func envBool(name string, def bool) bool {
	if b, err := strconv.ParseBool(envString(name, "")); err == nil {
		return b
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(name, "")); err == nil {
		return d
	}
	return def
}
