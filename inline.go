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

import "fmt"

// inlineStore is a fixed-capacity map backed by parallel key and value
// arrays, allocated once at construction and scanned linearly. Positions
// [0, len) hold live entries in insertion order; positions [len, cap) hold
// no valid entry and are kept zeroed so the garbage collector does not
// retain references through dead slots. Every operation that vacates a slot
// (remove, retain, drain, clear) zeroes it.
//
// Linear scan is deliberate: at the sizes the inline store serves, a scan
// over two dense arrays beats hashing on both branch behavior and cache
// locality.
type inlineStore[K comparable, V any] struct {
	keys   []K
	values []V
	len    int
}

func newInlineStore[K comparable, V any](capacity int) *inlineStore[K, V] {
	return &inlineStore[K, V]{
		keys:   make([]K, capacity),
		values: make([]V, capacity),
	}
}

func (s *inlineStore[K, V]) capacity() int {
	return len(s.keys)
}

// findKeyIndex returns the position of key in the live prefix, or -1 if the
// key is not present. This is the lookup primitive behind every read
// operation and behind the promotion decision in Map.Put.
func (s *inlineStore[K, V]) findKeyIndex(key K) int {
	for i := 0; i < s.len; i++ {
		if s.keys[i] == key {
			return i
		}
	}
	return -1
}

func (s *inlineStore[K, V]) get(key K) (V, bool) {
	if i := s.findKeyIndex(key); i >= 0 {
		return s.values[i], true
	}
	var zero V
	return zero, false
}

func (s *inlineStore[K, V]) getPtr(key K) *V {
	if i := s.findKeyIndex(key); i >= 0 {
		return &s.values[i]
	}
	return nil
}

func (s *inlineStore[K, V]) getKeyValue(key K) (K, V, bool) {
	if i := s.findKeyIndex(key); i >= 0 {
		return s.keys[i], s.values[i], true
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}

// insert adds or replaces an entry, returning the previous value and
// whether one existed. Panics if the store is full and the key is new; the
// adaptive map never reaches that state because it promotes first.
func (s *inlineStore[K, V]) insert(key K, value V) (V, bool) {
	return s.insertWithHint(key, value, s.findKeyIndex(key))
}

// insertWithHint is insert with the existing-key scan supplied by the
// caller: existing is the key's index, or -1 if absent. Map.Put uses this
// to avoid scanning twice when it has already performed the lookup for the
// promotion decision.
func (s *inlineStore[K, V]) insertWithHint(key K, value V, existing int) (V, bool) {
	if existing >= 0 {
		prev := s.values[existing]
		s.keys[existing] = key
		s.values[existing] = value
		return prev, true
	}
	if s.len >= len(s.keys) {
		panic(fmt.Sprintf(
			"smallmap: inline store full (capacity %d); promotion did not run", len(s.keys)))
	}
	s.keys[s.len] = key
	s.values[s.len] = value
	s.len++
	s.checkInvariants()
	var zero V
	return zero, false
}

// remove deletes the entry for key, shifting every subsequent live entry
// one position left so the relative order of the survivors is preserved.
func (s *inlineStore[K, V]) remove(key K) (V, bool) {
	i := s.findKeyIndex(key)
	if i < 0 {
		var zero V
		return zero, false
	}
	removed := s.values[i]
	s.deleteAt(i)
	s.checkInvariants()
	return removed, true
}

// deleteAt closes the gap at i by shifting the live suffix left and zeroes
// the slot that falls out of the live prefix.
func (s *inlineStore[K, V]) deleteAt(i int) {
	copy(s.keys[i:s.len-1], s.keys[i+1:s.len])
	copy(s.values[i:s.len-1], s.values[i+1:s.len])
	s.len--
	var zeroK K
	var zeroV V
	s.keys[s.len] = zeroK
	s.values[s.len] = zeroV
}

// retain removes every entry for which keep returns false, in one
// left-to-right pass. After a removal the cursor does not advance, so the
// entry shifted into the vacated position is evaluated next.
func (s *inlineStore[K, V]) retain(keep func(key K, value V) bool) {
	i := 0
	for i < s.len {
		if keep(s.keys[i], s.values[i]) {
			i++
			continue
		}
		s.deleteAt(i)
	}
	s.checkInvariants()
}

// clear zeroes the live prefix and resets the length.
func (s *inlineStore[K, V]) clear() {
	n := s.len
	s.len = 0
	var zeroK K
	var zeroV V
	for i := 0; i < n; i++ {
		s.keys[i] = zeroK
		s.values[i] = zeroV
	}
}

// drain destructively yields every live entry in insertion order. The
// length is reset to zero before any entry is handed out, so a failure
// inside yield cannot expose a state where an already-moved entry still
// counts as live. If yield stops early the unvisited entries are discarded.
// This is the migration mechanism behind promotion: entries are moved,
// never cloned.
func (s *inlineStore[K, V]) drain(yield func(key K, value V) bool) {
	n := s.len
	s.len = 0
	var zeroK K
	var zeroV V
	for i := 0; i < n; i++ {
		k, v := s.keys[i], s.values[i]
		s.keys[i] = zeroK
		s.values[i] = zeroV
		if !yield(k, v) {
			for j := i + 1; j < n; j++ {
				s.keys[j] = zeroK
				s.values[j] = zeroV
			}
			return
		}
	}
}

func (s *inlineStore[K, V]) clone() *inlineStore[K, V] {
	c := newInlineStore[K, V](len(s.keys))
	copy(c.keys, s.keys[:s.len])
	copy(c.values, s.values[:s.len])
	c.len = s.len
	return c
}

// all yields the live entries in insertion order.
func (s *inlineStore[K, V]) all(yield func(K, V) bool) {
	for i := 0; i < s.len; i++ {
		if !yield(s.keys[i], s.values[i]) {
			return
		}
	}
}

// allMut yields each key with a pointer to its value. Keys are never
// mutable through iteration.
func (s *inlineStore[K, V]) allMut(yield func(K, *V) bool) {
	for i := 0; i < s.len; i++ {
		if !yield(s.keys[i], &s.values[i]) {
			return
		}
	}
}

func (s *inlineStore[K, V]) checkInvariants() {
	if invariants {
		if s.len < 0 || s.len > len(s.keys) {
			panic(fmt.Sprintf("smallmap: invariant failed: len %d outside [0, %d]",
				s.len, len(s.keys)))
		}
		for i := 0; i < s.len; i++ {
			for j := i + 1; j < s.len; j++ {
				if s.keys[i] == s.keys[j] {
					panic(fmt.Sprintf(
						"smallmap: invariant failed: duplicate key %v at %d and %d",
						s.keys[i], i, j))
				}
			}
		}
	}
}
