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

// Process-level counters used for the end-of-process summary. They are
// lock-free atomics so the request path never blocks on bookkeeping.

package core

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	resolutions atomic.Int64
	mints       atomic.Int64
	replays     atomic.Int64
	conflicts   atomic.Int64
	storeErrors atomic.Int64

	// thresholds holds human-readable configuration captured at startup.
	thresholdsMu sync.RWMutex
	thresholds   = make(map[string]string)
)

// RecordResolution counts every Resolve call, whatever its result.
func RecordResolution() { resolutions.Add(1) }

// RecordMint counts a newly minted server id.
func RecordMint() { mints.Add(1) }

// RecordReplay counts a server id returned from the store.
func RecordReplay() { replays.Add(1) }

// RecordConflict counts a strict-mode replay rejected for a resource mismatch.
func RecordConflict() { conflicts.Add(1) }

// RecordStoreError counts a failed store call.
func RecordStoreError() { storeErrors.Add(1) }

// Totals is a snapshot of the process counters.
type Totals struct {
	Resolutions int64
	Mints       int64
	Replays     int64
	Conflicts   int64
	StoreErrors int64
}

// Snapshot returns the current counter values.
func Snapshot() Totals {
	return Totals{
		Resolutions: resolutions.Load(),
		Mints:       mints.Load(),
		Replays:     replays.Load(),
		Conflicts:   conflicts.Load(),
		StoreErrors: storeErrors.Load(),
	}
}

// Threshold setters capture runtime configuration knobs for final printing.
func SetThreshold(name string, value string) {
	thresholdsMu.Lock()
	thresholds[name] = value
	thresholdsMu.Unlock()
}

func SetThresholdInt64(name string, v int64)            { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdDuration(name string, d time.Duration) { SetThreshold(name, d.String()) }
func SetThresholdBool(name string, b bool)              { SetThreshold(name, fmt.Sprintf("%t", b)) }

func getThresholdSnapshot() map[string]string {
	thresholdsMu.RLock()
	defer thresholdsMu.RUnlock()
	out := make(map[string]string, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

// resetEventTotals resets counters to zero. Intended for tests only.
func resetEventTotals() {
	resolutions.Store(0)
	mints.Store(0)
	replays.Store(0)
	conflicts.Store(0)
	storeErrors.Store(0)
}

// resetThresholdsForTests clears the thresholds registry. Intended for tests only.
func resetThresholdsForTests() {
	thresholdsMu.Lock()
	defer thresholdsMu.Unlock()
	for k := range thresholds {
		delete(thresholds, k)
	}
}

// PrintFinalMetrics writes a columnar end-of-process summary to w.
func PrintFinalMetrics(w io.Writer) {
	t := Snapshot()

	th := getThresholdSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var replayPct string
	if t.Resolutions > 0 {
		replayPct = fmt.Sprintf("%.1f%%", float64(t.Replays)/float64(t.Resolutions)*100)
	} else {
		replayPct = "n/a"
	}

	sep := strings.Repeat("-", 60)
	fmt.Fprintf(w, "[%s] Final resolution metrics\n", time.Now().Format(time.RFC3339))
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "%-18s %12s\n", "Metric", "Value")
	fmt.Fprintln(w, sep)
	fmt.Fprintf(w, "%-18s %12d\n", "Resolutions", t.Resolutions)
	fmt.Fprintf(w, "%-18s %12d\n", "Mints", t.Mints)
	fmt.Fprintf(w, "%-18s %12d\n", "Replays", t.Replays)
	fmt.Fprintf(w, "%-18s %12d\n", "Conflicts", t.Conflicts)
	fmt.Fprintf(w, "%-18s %12d\n", "Store errors", t.StoreErrors)
	fmt.Fprintf(w, "%-18s %12s\n", "Replay ratio", replayPct)
	fmt.Fprintln(w, sep)

	if len(keys) > 0 {
		fmt.Fprintf(w, "Configuration\n")
		fmt.Fprintln(w, sep)
		fmt.Fprintf(w, "%-30s %24s\n", "Name", "Value")
		fmt.Fprintln(w, sep)
		for _, k := range keys {
			fmt.Fprintf(w, "%-30s %24s\n", k, th[k])
		}
		fmt.Fprintln(w, sep)
	}
}
