// Copyright 2024 The Cockroach Authors
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

package smallmap

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

type benchType interface {
	int32 | int64 | string
}

// The size grid is weighted toward small maps, where the inline store is
// expected to win, and crosses the default promotion boundary at 8.
var benchCounts = []int{1, 2, 4, 6, 8, 12, 16, 24, 32, 64, 128, 512, 4096}

func benchSizes(f func(b *testing.B, n int)) func(b *testing.B) {
	return func(b *testing.B) {
		for _, n := range benchCounts {
			b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
				f(b, n)
			})
		}
	}
}

func genKeys[T benchType](start, end int) []T {
	keys := make([]T, end-start)
	for i := range keys {
		switch k := any(&keys[i]).(type) {
		case *int32:
			*k = int32(start + i)
		case *int64:
			*k = int64(start + i)
		case *string:
			*k = strconv.Itoa(start + i)
		default:
			panic("not reached")
		}
	}
	return keys
}

func BenchmarkMaps(b *testing.B) {
	b.Run("Int32", benchmarkMaps[int32])
	b.Run("Int64", benchmarkMaps[int64])
	b.Run("String", benchmarkMaps[string])
}

func benchmarkMaps[T benchType](b *testing.B) {
	b.Run("runtimeMap/GetHit", benchSizes(benchmarkRuntimeMapGetHit[T]))
	b.Run("smallMap/GetHit", benchSizes(benchmarkSmallMapGetHit[T]))
	b.Run("runtimeMap/GetMiss", benchSizes(benchmarkRuntimeMapGetMiss[T]))
	b.Run("smallMap/GetMiss", benchSizes(benchmarkSmallMapGetMiss[T]))
	b.Run("runtimeMap/PutGrow", benchSizes(benchmarkRuntimeMapPutGrow[T]))
	b.Run("smallMap/PutGrow", benchSizes(benchmarkSmallMapPutGrow[T]))
	b.Run("runtimeMap/PutDelete", benchSizes(benchmarkRuntimeMapPutDelete[T]))
	b.Run("smallMap/PutDelete", benchSizes(benchmarkSmallMapPutDelete[T]))
}

func benchmarkRuntimeMapGetHit[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	m := make(map[T]T, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[keys[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkSmallMapGetHit[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	m := New[T, T](defaultInlineCapacity)
	for _, k := range keys {
		m.Put(k, k)
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetMiss[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	misses := genKeys[T](n, 2*n)
	m := make(map[T]T, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[misses[i%n]]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkSmallMapGetMiss[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	misses := genKeys[T](n, 2*n)
	m := New[T, T](defaultInlineCapacity)
	for _, k := range keys {
		m.Put(k, k)
	}
	b.ResetTimer()
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(misses[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i += n {
		m := make(map[T]T)
		for _, k := range keys {
			m[k] = k
		}
	}
}

func benchmarkSmallMapPutGrow[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	b.ResetTimer()
	for i := 0; i < b.N; i += n {
		m := New[T, T](defaultInlineCapacity)
		for _, k := range keys {
			m.Put(k, k)
		}
	}
}

func benchmarkRuntimeMapPutDelete[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	m := make(map[T]T, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%n]
		delete(m, k)
		m[k] = k
	}
}

func benchmarkSmallMapPutDelete[T benchType](b *testing.B, n int) {
	perfbench.Open(b)
	keys := genKeys[T](0, n)
	m := New[T, T](defaultInlineCapacity)
	for _, k := range keys {
		m.Put(k, k)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := keys[i%n]
		m.Delete(k)
		m.Put(k, k)
	}
}

func BenchmarkMapIter(b *testing.B) {
	b.Run("runtimeMap", benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		m := make(map[int64]int64, n)
		for _, k := range genKeys[int64](0, n) {
			m[k] = k
		}
		b.ResetTimer()
		var sum int64
		for i := 0; i < b.N; i += n {
			for k, v := range m {
				sum += k + v
			}
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, sum)
	}))

	b.Run("smallMap", benchSizes(func(b *testing.B, n int) {
		perfbench.Open(b)
		m := New[int64, int64](defaultInlineCapacity)
		for _, k := range genKeys[int64](0, n) {
			m.Put(k, k)
		}
		b.ResetTimer()
		var sum int64
		for i := 0; i < b.N; i += n {
			for k, v := range m.All() {
				sum += k + v
			}
		}
		b.StopTimer()
		fmt.Fprint(io.Discard, sum)
	}))
}
