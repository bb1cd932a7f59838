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

import "iter"

// Every sequence returned here is forward-only and single-pass, and binds
// to the storage mode active when the sequence is created: insertion order
// while the map is inline, unspecified order once it has promoted.

// All returns a sequence of the map's key-value pairs.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	if m.inline != nil {
		return m.inline.all
	}
	return m.heap.all
}

// Keys returns a sequence of the map's keys.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	pairs := m.All()
	return func(yield func(K) bool) {
		pairs(func(k K, _ V) bool { return yield(k) })
	}
}

// Values returns a sequence of the map's values.
func (m *Map[K, V]) Values() iter.Seq[V] {
	pairs := m.All()
	return func(yield func(V) bool) {
		pairs(func(_ K, v V) bool { return yield(v) })
	}
}

// AllMut returns a sequence of the map's keys paired with pointers to their
// values. Values may be modified through the pointers; keys are never
// mutable through iteration. The pointers are valid until the next mutation
// of the map.
func (m *Map[K, V]) AllMut() iter.Seq2[K, *V] {
	if m.inline != nil {
		return m.inline.allMut
	}
	return m.heap.allMut
}

// ValuesMut returns a sequence of pointers to the map's values.
func (m *Map[K, V]) ValuesMut() iter.Seq[*V] {
	pairs := m.AllMut()
	return func(yield func(*V) bool) {
		pairs(func(_ K, v *V) bool { return yield(v) })
	}
}

// Drain returns a consuming sequence of the map's key-value pairs. The map
// is emptied when iteration begins, before the first pair is yielded;
// stopping early discards the pairs not yet seen. The map remains usable
// (and keeps its storage mode) afterwards.
func (m *Map[K, V]) Drain() iter.Seq2[K, V] {
	if m.inline != nil {
		return m.inline.drain
	}
	return m.heap.drain
}
