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

// Package smallmap provides Map, an associative container optimized for the
// common case of holding only a few entries.
//
// Performance-sensitive code frequently materializes small maps (local
// scopes, attribute bags, per-call state) where the cost of allocating and
// initializing a hash table dominates the cost of actually using it. A Map
// starts out with a fixed-capacity inline store: two parallel arrays scanned
// linearly, which at small sizes beats hashing on both allocation count and
// cache locality. When an insert of a new key would exceed the inline
// capacity the map promotes, exactly once, to a growable hash table and
// stays there for the rest of its lifetime.
//
// The hash table behind the promoted map is a Swiss table as described in
// https://abseil.io/about/design/swisstables: open addressing with groups of
// 8 control bytes probed via SWAR (SIMD Within A Register) bit tricks,
// quadratic probing at the group level, and deletion tombstones with an
// optimization that converts a tombstone back to an empty slot when the
// slot provably never belonged to a full probe group.
//
// Hashing is a pluggable strategy (see Hasher). The default derives a
// per-map random seed, so hash values differ between map instances and
// between process runs, which resists hash-flooding. Deterministic hashers
// can be injected for reproducible tests.
//
// Iteration yields entries in insertion order while the map is inline and
// in unspecified order once it has promoted.
//
// A Map is NOT goroutine-safe.
package smallmap

import (
	"fmt"
	"iter"
	"strings"
)

// defaultInlineCapacity is used when New is given a non-positive inline
// capacity.
const defaultInlineCapacity = 8

// Map is a hybrid map from keys to values. It starts in inline mode and
// promotes to a heap-allocated hash table when it outgrows the inline
// capacity chosen at construction. Promotion is one-way: no sequence of
// deletions or Clear calls returns a promoted map to inline mode.
//
// The zero value for a Map is not usable; construct with New, Collect, or
// FromMap.
type Map[K comparable, V any] struct {
	// The hashing strategy. Immutable after construction; handed to the
	// heap store at promotion time.
	hasher Hasher[K]
	// Exactly one of inline and heap is non-nil at any time. Once heap is
	// set it stays set for the lifetime of the map.
	inline *inlineStore[K, V]
	heap   *heapStore[K, V]
	// threshold is the entry count at or beyond which inserting a new key
	// promotes to heap storage. Fixed to the inline capacity.
	threshold int
	// capacityHint is set by WithCapacity and consumed (and cleared) by
	// New.
	capacityHint int
}

// New constructs an empty Map with the specified inline capacity. A
// non-positive inlineCapacity selects a default of 8. The map starts in
// inline mode unless a WithCapacity option requests more room than the
// inline store can hold, in which case it starts directly in heap mode.
func New[K comparable, V any](inlineCapacity int, options ...Option[K, V]) *Map[K, V] {
	if inlineCapacity <= 0 {
		inlineCapacity = defaultInlineCapacity
	}
	m := &Map[K, V]{threshold: inlineCapacity}
	for _, op := range options {
		op.apply(m)
	}
	if m.hasher == nil {
		m.hasher = newDefaultHasher[K]()
	}
	if m.capacityHint > inlineCapacity {
		m.heap = newHeapStore[K, V](m.capacityHint, m.hasher)
	} else {
		m.inline = newInlineStore[K, V](inlineCapacity)
	}
	m.capacityHint = 0
	return m
}

// Collect constructs a Map from a sequence of key-value pairs. The sequence
// carries no size hint, so the map starts inline and promotes organically if
// the sequence yields more than inlineCapacity distinct keys.
func Collect[K comparable, V any](
	inlineCapacity int, seq iter.Seq2[K, V], options ...Option[K, V],
) *Map[K, V] {
	m := New[K, V](inlineCapacity, options...)
	m.PutAll(seq)
	return m
}

// FromMap constructs a Map holding the entries of src. len(src) is used as
// the capacity hint, so a source larger than the inline capacity produces a
// map that starts directly in heap mode. An explicit WithCapacity option
// overrides the hint.
func FromMap[K comparable, V any](
	inlineCapacity int, src map[K]V, options ...Option[K, V],
) *Map[K, V] {
	options = append([]Option[K, V]{WithCapacity[K, V](len(src))}, options...)
	m := New[K, V](inlineCapacity, options...)
	for k, v := range src {
		m.Put(k, v)
	}
	return m
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	if m.inline != nil {
		return m.inline.len
	}
	return m.heap.used
}

// Empty reports whether the map contains no entries.
func (m *Map[K, V]) Empty() bool {
	return m.Len() == 0
}

// Capacity returns the number of entries the map can hold without
// reallocating or promoting.
func (m *Map[K, V]) Capacity() int {
	if m.inline != nil {
		return m.inline.capacity()
	}
	return m.heap.capacity
}

// IsInline reports whether the map currently uses inline storage. Exposed
// for diagnostics and testing only; application logic must not depend on
// the storage mode.
func (m *Map[K, V]) IsInline() bool {
	return m.inline != nil
}

// Hasher returns the map's hashing strategy.
func (m *Map[K, V]) Hasher() Hasher[K] {
	return m.hasher
}

// Get retrieves the value for the specified key, returning ok=false if the
// key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if m.inline != nil {
		return m.inline.get(key)
	}
	return m.heap.get(key)
}

// GetPtr returns a pointer to the value for the specified key, or nil if
// the key is not present. The pointer is valid until the next mutation of
// the map.
func (m *Map[K, V]) GetPtr(key K) *V {
	if m.inline != nil {
		return m.inline.getPtr(key)
	}
	return m.heap.getPtr(key)
}

// GetKeyValue retrieves the stored key and value for the specified key.
// Useful when keys carry data that does not participate in comparison.
func (m *Map[K, V]) GetKeyValue(key K) (K, V, bool) {
	if m.inline != nil {
		return m.inline.getKeyValue(key)
	}
	return m.heap.getKeyValue(key)
}

// Contains reports whether the map contains the specified key.
func (m *Map[K, V]) Contains(key K) bool {
	if m.inline != nil {
		return m.inline.findKeyIndex(key) >= 0
	}
	return m.heap.find(key) >= 0
}

// Put inserts an entry into the map, overwriting the value if an entry with
// the same key already exists. It returns the previous value and whether
// one existed; the contract is identical in both storage modes.
//
// Inserting a new key into a full inline store promotes the map to heap
// storage first, moving every existing entry without copying the map.
func (m *Map[K, V]) Put(key K, value V) (prev V, replaced bool) {
	if m.inline != nil {
		// One scan serves both the existence check and, when no promotion
		// is needed, the insert itself.
		existing := m.inline.findKeyIndex(key)
		if existing < 0 && m.inline.len >= m.threshold {
			m.promote()
		} else {
			return m.inline.insertWithHint(key, value, existing)
		}
	}
	return m.heap.put(key, value)
}

// promote migrates the map from inline to heap storage. The heap store is
// sized at twice the inline length so near-term growth does not trigger an
// immediate second resize. Entries are moved, never duplicated: drain
// relinquishes each inline slot as the entry is handed over.
func (m *Map[K, V]) promote() {
	heap := newHeapStore[K, V](2*m.inline.len, m.hasher)
	m.inline.drain(func(key K, value V) bool {
		heap.put(key, value)
		return true
	})
	m.inline = nil
	m.heap = heap
}

// PutAll inserts every pair of seq into the map. If the inline capacity is
// exceeded partway through, the map promotes and the remaining pairs go to
// heap storage.
func (m *Map[K, V]) PutAll(seq iter.Seq2[K, V]) {
	for k, v := range seq {
		m.Put(k, v)
	}
}

// Delete removes the entry for the specified key, returning the removed
// value and whether the key was present. While the map is inline the
// relative order of the remaining entries is preserved.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	if m.inline != nil {
		return m.inline.remove(key)
	}
	return m.heap.delete(key)
}

// Clear removes every entry. The storage mode is unchanged: a promoted map
// stays in heap mode.
func (m *Map[K, V]) Clear() {
	if m.inline != nil {
		m.inline.clear()
		return
	}
	m.heap.clear()
}

// Retain removes every entry for which keep returns false, in a single
// pass. While the map is inline the relative order of the surviving entries
// is preserved.
func (m *Map[K, V]) Retain(keep func(key K, value V) bool) {
	if m.inline != nil {
		m.inline.retain(keep)
		return
	}
	m.heap.retain(keep)
}

// Clone returns a copy of the map with the same entries, inline capacity,
// and storage mode. The hashing strategy instance is shared.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{hasher: m.hasher, threshold: m.threshold}
	if m.inline != nil {
		c.inline = m.inline.clone()
	} else {
		c.heap = m.heap.clone()
	}
	return c
}

// Equal reports whether two maps contain the same key-value pairs. The
// inline capacities, storage modes, and hashing strategies of the operands
// do not participate in equality.
func Equal[K, V comparable](m1, m2 *Map[K, V]) bool {
	return EqualFunc(m1, m2, func(v1, v2 V) bool { return v1 == v2 })
}

// EqualFunc is like Equal but compares values with eq, allowing the two
// maps to hold different value types.
func EqualFunc[K comparable, V1, V2 any](
	m1 *Map[K, V1], m2 *Map[K, V2], eq func(V1, V2) bool,
) bool {
	if m1.Len() != m2.Len() {
		return false
	}
	for k, v1 := range m1.All() {
		if v2, ok := m2.Get(k); !ok || !eq(v1, v2) {
			return false
		}
	}
	return true
}

// String returns a builtin-map-like rendering of the entries, in iteration
// order.
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteString("map[")
	first := true
	for k, v := range m.All() {
		if !first {
			buf.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&buf, "%v:%v", k, v)
	}
	buf.WriteByte(']')
	return buf.String()
}
