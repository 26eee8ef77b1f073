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

package core

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkResolve_Replay measures the hot replay path (lookup hit).
func BenchmarkResolve_Replay(b *testing.B) {
	r := NewResolver(NewMemoryStore())
	ctx := context.Background()
	_, _ = r.Resolve(ctx, "hot", "tx")
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = r.Resolve(ctx, "hot", "tx")
		}
	})
}

// BenchmarkResolve_Mint measures first-time resolutions on fresh keys.
func BenchmarkResolve_Mint(b *testing.B) {
	r := NewResolver(NewMemoryStore())
	ctx := context.Background()
	keys := make([]string, b.N)
	for i := range keys {
		keys[i] = fmt.Sprintf("k-%d", i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Resolve(ctx, keys[i], "tx")
	}
}
