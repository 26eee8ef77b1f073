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

// Command upsert-loadgen fires concurrent upserts at a running server and
// reports how many distinct server ids came back.
//
// Modes:
//   - replay: every request reuses one Idempotency-Key; exactly one id is expected.
//   - unique: every request carries its own key; N distinct ids are expected.
//   - nokey:  no Idempotency-Key at all; N distinct ids are expected.
//
// The process exits 1 when the observed id count does not match the mode.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeReplay modeType = "replay"
	modeUnique modeType = "unique"
	modeNoKey  modeType = "nokey"
)

func main() {
	var (
		base  = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		path  = flag.String("path", "/v1/transactions/upsert", "Upsert path")
		modeS = flag.String("mode", string(modeReplay), "Mode: replay|unique|nokey")
		key   = flag.String("key", "loadgen-key", "Idempotency key for replay mode (a run id is appended)")
		N     = flag.Int("n", 2000, "Total requests to send")
		conc  = flag.Int("c", 16, "Number of concurrent workers")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeReplay && m != modeUnique && m != modeNoKey {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want replay|unique|nokey)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	p := *path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	fullURL := strings.TrimRight(*base, "/") + p

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdlePer,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Keys are suffixed with a run id so repeated runs against one server don't collide.
	runID := time.Now().UnixNano()
	replayKey := fmt.Sprintf("%s-%d", *key, runID)

	var (
		mu       sync.Mutex
		ids      = make(map[string]int)
		failures atomic.Int64
	)

	worker := func(sh share) {
		for i := 0; i < sh.count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			seq := sh.base + i
			body, _ := json.Marshal(map[string]any{"id": txID(m, runID, seq), "amount": 100, "type": "EXPENSE"})
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			switch m {
			case modeReplay:
				req.Header.Set("Idempotency-Key", replayKey)
			case modeUnique:
				req.Header.Set("Idempotency-Key", fmt.Sprintf("loadgen-%d-%d", runID, seq))
			}

			resp, err := client.Do(req)
			if err != nil {
				failures.Add(1)
				// Brief backoff on errors to avoid hot spinning
				time.Sleep(200 * time.Microsecond)
				continue
			}
			var out struct {
				ServerID string `json:"server_id"`
			}
			decErr := json.NewDecoder(resp.Body).Decode(&out)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK || decErr != nil || out.ServerID == "" {
				failures.Add(1)
				continue
			}
			mu.Lock()
			ids[out.ServerID]++
			mu.Unlock()
		}
	}

	start := time.Now()
	shares := splitWork(*N, *conc)
	var wg sync.WaitGroup
	wg.Add(len(shares))
	for _, sh := range shares {
		go func(sh share) {
			defer wg.Done()
			worker(sh)
		}(sh)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	ok := 0
	for _, n := range ids {
		ok += n
	}
	distinct := len(ids)
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d ok=%d failed=%d distinct_ids=%d Duration=%s Throughput=%.0f req/s\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), ok, failures.Load(), distinct, elapsed.Truncate(time.Millisecond), ops)

	want := ok
	if m == modeReplay {
		want = 1
	}
	if ok > 0 && distinct != want {
		fmt.Fprintf(os.Stderr, "idempotency violated: mode=%s expected %d distinct ids, got %d\n", m, want, distinct)
		os.Exit(1)
	}
}

// share is one worker's contiguous slice of the request sequence.
type share struct {
	base, count int
}

// splitWork divides n requests over c workers; the last worker absorbs the
// remainder. Shares never overlap, so sequence numbers are unique per run.
func splitWork(n, c int) []share {
	per := n / c
	out := make([]share, c)
	for w := range out {
		out[w] = share{base: w * per, count: per}
	}
	out[c-1].count += n - per*c
	return out
}

// txID is the payload id for request seq. Replay mode sends one id for the
// whole run so a strict-replay server treats every retry as a match.
func txID(m modeType, runID int64, seq int) string {
	if m == modeReplay {
		return fmt.Sprintf("tx-%d", runID)
	}
	return fmt.Sprintf("tx-%d-%d", runID, seq)
}
