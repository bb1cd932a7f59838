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
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	groupSize       = 8
	maxAvgGroupLoad = 7

	ctrlEmpty    ctrl = 0b10000000
	ctrlDeleted  ctrl = 0b11111110
	ctrlSentinel ctrl = 0b11111111

	bitsetLSB = 0x0101010101010101
	bitsetMSB = 0x8080808080808080
)

// Each slot in the table has a control byte with one of four states: empty,
// deleted (a tombstone), full, or the sentinel. Their bit patterns:
//
//	   empty: 1 0 0 0 0 0 0 0
//	 deleted: 1 1 1 1 1 1 1 0
//	    full: 0 h h h h h h h  // h: the H2 bits of hash(key)
//	sentinel: 1 1 1 1 1 1 1 1
//
// ctrl aliases byte so that the control array can be handed directly to
// encoding/binary for group reads.
type ctrl = byte

// emptyCtrls backs the control array of a zero-capacity store. It is never
// written to: any insert into an empty store resizes first because
// growthLeft is zero.
var emptyCtrls = func() []ctrl {
	v := make([]ctrl, groupSize)
	for i := range v {
		v[i] = ctrlEmpty
	}
	return v
}()

type slot[K comparable, V any] struct {
	key   K
	value V
}

// heapStore is the growable hash table a Map promotes into. It follows the
// Swiss table design: probing checks groupSize control bytes at a time
// using SWAR matching, walking groups in a quadratic sequence that visits
// every group exactly once. Unlike implementations tuned with unsafe
// pointer arithmetic, group words are assembled with encoding/binary
// little-endian loads, which behave identically on every architecture.
type heapStore[K comparable, V any] struct {
	hasher Hasher[K]
	// ctrls is capacity+groupSize in length. ctrls[capacity] is always
	// ctrlSentinel, which stops probe iteration. The first groupSize-1
	// control bytes are mirrored past the sentinel so that a group read
	// near the end of the array always sees valid bytes.
	ctrls []ctrl
	// slots is capacity in length.
	slots []slot[K, V]
	// capacity is always of the form 2^k-1 (or zero) and doubles as the
	// probe mask.
	capacity int
	// used counts filled slots.
	used int
	// growthLeft is the number of inserts possible before a rehash.
	// Tombstones do not return growth capacity; otherwise a table churned
	// by put/delete pairs would accumulate unboundedly long probe chains.
	growthLeft int
}

// newHeapStore constructs a store with room for at least initialCapacity
// entries before the first resize is possible. A zero initialCapacity
// produces a store that allocates on the first insert.
func newHeapStore[K comparable, V any](initialCapacity int, hasher Hasher[K]) *heapStore[K, V] {
	h := &heapStore[K, V]{
		hasher: hasher,
		ctrls:  emptyCtrls,
	}
	if initialCapacity > 0 {
		// The smallest value of the form 2^k-1 that is >= initialCapacity.
		h.resize((1 << bits.Len(uint(initialCapacity))) - 1)
	}
	h.checkInvariants()
	return h
}

// group assembles the groupSize control bytes starting at i into one word.
// Byte j of the word is ctrls[i+j] regardless of host endianness.
func (h *heapStore[K, V]) group(i int) uint64 {
	return binary.LittleEndian.Uint64(h.ctrls[i : i+groupSize])
}

// find returns the slot index holding key, or -1. Probing starts at the
// group selected by the H1 hash bits and checks each group's control bytes
// against the H2 bits; candidates are confirmed by comparing keys. An empty
// control byte in a group terminates the probe, because inserts never
// create an empty slot inside what was a full group.
func (h *heapStore[K, V]) find(key K) int {
	hash := h.hasher.Hash(key)
	seq := makeProbeSeq(h1(hash), h.capacity)
	for ; ; seq = seq.next() {
		g := h.group(seq.offset)
		match := matchH2(g, h2(hash))
		for match != 0 {
			bit := match.next()
			if i := seq.offsetAt(bit); h.slots[i].key == key {
				return i
			}
			match = match.clear(bit)
		}
		if matchEmpty(g) != 0 {
			return -1
		}
	}
}

func (h *heapStore[K, V]) get(key K) (V, bool) {
	if i := h.find(key); i >= 0 {
		return h.slots[i].value, true
	}
	var zero V
	return zero, false
}

func (h *heapStore[K, V]) getPtr(key K) *V {
	if i := h.find(key); i >= 0 {
		return &h.slots[i].value
	}
	return nil
}

func (h *heapStore[K, V]) getKeyValue(key K) (K, V, bool) {
	if i := h.find(key); i >= 0 {
		s := &h.slots[i]
		return s.key, s.value, true
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}

// put inserts an entry, overwriting the value if the key is already
// present, and returns the previous value and whether one existed. put is
// find composed with uncheckedPut: the probe either lands on the existing
// slot or proves absence, and in the latter case the entry is inserted
// knowing it is not in the table.
func (h *heapStore[K, V]) put(key K, value V) (prev V, replaced bool) {
	hash := h.hasher.Hash(key)
	seq := makeProbeSeq(h1(hash), h.capacity)
	for ; ; seq = seq.next() {
		g := h.group(seq.offset)
		match := matchH2(g, h2(hash))
		for match != 0 {
			bit := match.next()
			if i := seq.offsetAt(bit); h.slots[i].key == key {
				s := &h.slots[i]
				prev = s.value
				s.value = value
				h.checkInvariants()
				return prev, true
			}
			match = match.clear(bit)
		}
		if matchEmpty(g) != 0 {
			if h.growthLeft == 0 {
				h.rehash()
			}
			h.uncheckedPut(hash, key, value)
			h.used++
			h.checkInvariants()
			return prev, false
		}
	}
}

// uncheckedPut inserts an entry known not to be in the table, placing it in
// the first empty or deleted slot of the first group that has one.
func (h *heapStore[K, V]) uncheckedPut(hash uint64, key K, value V) {
	seq := makeProbeSeq(h1(hash), h.capacity)
	for ; ; seq = seq.next() {
		g := h.group(seq.offset)
		if match := matchEmptyOrDeleted(g); match != 0 {
			i := seq.offsetAt(match.next())
			s := &h.slots[i]
			s.key = key
			s.value = value
			if h.ctrls[i] == ctrlEmpty {
				h.growthLeft--
			}
			h.setCtrl(i, ctrl(h2(hash)))
			return
		}
	}
}

// delete removes the entry for key, returning the removed value and whether
// the key was present.
func (h *heapStore[K, V]) delete(key K) (V, bool) {
	i := h.find(key)
	if i < 0 {
		var zero V
		return zero, false
	}
	removed := h.slots[i].value
	h.deleteAt(i)
	h.checkInvariants()
	return removed, true
}

// deleteAt vacates slot i. The slot normally becomes a tombstone, keeping
// probe chains that pass through it intact. If the slot provably never
// belonged to a full group it can be marked empty instead, returning its
// growth capacity.
func (h *heapStore[K, V]) deleteAt(i int) {
	h.used--
	h.slots[i] = slot[K, V]{}
	if h.wasNeverFull(i) {
		h.setCtrl(i, ctrlEmpty)
		h.growthLeft++
	} else {
		h.setCtrl(i, ctrlDeleted)
	}
}

// wasNeverFull reports whether slot i was never part of a full group. The
// control bytes on either side of i are examined: if the runs of non-empty
// bytes to the left and right of i sum to fewer than groupSize, no probe
// window covering i was ever completely full, so no probe chain can depend
// on i to continue.
func (h *heapStore[K, V]) wasNeverFull(i int) bool {
	if h.capacity < groupSize {
		// The table fits in a single group, so no probe walks past it.
		return true
	}
	indexBefore := (i - groupSize) & h.capacity
	emptyAfter := matchEmpty(h.group(i))
	emptyBefore := matchEmpty(h.group(indexBefore))
	if emptyBefore != 0 && emptyAfter != 0 &&
		(bits.TrailingZeros64(uint64(emptyAfter))>>3)+
			(bits.LeadingZeros64(uint64(emptyBefore))>>3) < groupSize {
		return true
	}
	return false
}

// setCtrl sets the control byte at index i, mirroring bytes in the first
// groupSize-1 positions past the sentinel. The mirror write is performed
// unconditionally; for i >= groupSize-1 the computed index is i itself.
func (h *heapStore[K, V]) setCtrl(i int, v ctrl) {
	h.ctrls[i] = v
	h.ctrls[((i-(groupSize-1))&h.capacity)+(groupSize-1)] = v
}

// rehash makes room for further inserts once growthLeft is exhausted. If at
// least a third of the capacity is recoverable from tombstones the table is
// rebuilt at its current size, dropping them; otherwise the capacity
// doubles.
func (h *heapStore[K, V]) rehash() {
	recoverable := h.capacity*maxAvgGroupLoad/groupSize - h.used
	if h.capacity > groupSize && recoverable >= h.capacity/3 {
		h.resize(h.capacity)
	} else {
		h.resize(2*h.capacity + 1)
	}
}

// resize allocates a table of newCapacity slots and re-inserts every filled
// slot of the old table; tombstones are dropped in the process.
func (h *heapStore[K, V]) resize(newCapacity int) {
	if newCapacity+1 < groupSize {
		newCapacity = groupSize - 1
	}
	oldCtrls, oldSlots, oldCapacity := h.ctrls, h.slots, h.capacity

	h.slots = make([]slot[K, V], newCapacity)
	h.ctrls = make([]ctrl, newCapacity+groupSize)
	for i := range h.ctrls {
		h.ctrls[i] = ctrlEmpty
	}
	h.ctrls[newCapacity] = ctrlSentinel
	h.capacity = newCapacity
	h.growthLeft = maxGrowthLeft(newCapacity)

	for i := 0; i < oldCapacity; i++ {
		if c := oldCtrls[i]; c == ctrlEmpty || c == ctrlDeleted {
			continue
		}
		s := &oldSlots[i]
		h.uncheckedPut(h.hasher.Hash(s.key), s.key, s.value)
	}
	h.checkInvariants()
}

// maxGrowthLeft returns the insert budget of a table with no filled slots:
// one less than the capacity when the table is a single group (an empty
// slot must remain to terminate probes), and a 7/8 load factor otherwise.
func maxGrowthLeft(capacity int) int {
	if capacity < groupSize {
		return capacity - 1
	}
	return capacity * maxAvgGroupLoad / groupSize
}

// clear removes every entry but keeps the allocated capacity.
func (h *heapStore[K, V]) clear() {
	if h.capacity == 0 {
		return
	}
	for i := range h.slots {
		h.slots[i] = slot[K, V]{}
	}
	for i := range h.ctrls {
		h.ctrls[i] = ctrlEmpty
	}
	h.ctrls[h.capacity] = ctrlSentinel
	h.used = 0
	h.growthLeft = maxGrowthLeft(h.capacity)
	h.checkInvariants()
}

// retain removes every entry for which keep returns false. Entries never
// move during deletion, so a single scan over the slots is safe.
func (h *heapStore[K, V]) retain(keep func(key K, value V) bool) {
	for i := 0; i < h.capacity; i++ {
		if h.ctrls[i]&ctrlEmpty != 0 {
			continue
		}
		s := &h.slots[i]
		if !keep(s.key, s.value) {
			h.deleteAt(i)
		}
	}
	h.checkInvariants()
}

// all yields every entry, in unspecified order. The capacity, controls, and
// slots are snapshotted so iteration stays valid if the table is resized by
// a mutation inside yield, though such mutations are not guaranteed to be
// visible to the iteration.
func (h *heapStore[K, V]) all(yield func(K, V) bool) {
	capacity, ctrls, slots := h.capacity, h.ctrls, h.slots
	for i := 0; i < capacity; i++ {
		if ctrls[i]&ctrlEmpty == 0 {
			s := &slots[i]
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

// allMut yields each key with a pointer to its value. The pointers are
// valid until the next table resize.
func (h *heapStore[K, V]) allMut(yield func(K, *V) bool) {
	capacity, ctrls, slots := h.capacity, h.ctrls, h.slots
	for i := 0; i < capacity; i++ {
		if ctrls[i]&ctrlEmpty == 0 {
			s := &slots[i]
			if !yield(s.key, &s.value) {
				return
			}
		}
	}
}

// drain detaches the table contents and yields them, leaving the store
// empty before the first entry is handed out. Entries the caller does not
// consume are discarded with the detached arrays.
func (h *heapStore[K, V]) drain(yield func(K, V) bool) {
	capacity, ctrls, slots := h.capacity, h.ctrls, h.slots
	h.ctrls = emptyCtrls
	h.slots = nil
	h.capacity = 0
	h.used = 0
	h.growthLeft = 0
	for i := 0; i < capacity; i++ {
		if ctrls[i]&ctrlEmpty == 0 {
			s := &slots[i]
			if !yield(s.key, s.value) {
				return
			}
		}
	}
}

func (h *heapStore[K, V]) clone() *heapStore[K, V] {
	c := &heapStore[K, V]{
		hasher:     h.hasher,
		ctrls:      emptyCtrls,
		capacity:   h.capacity,
		used:       h.used,
		growthLeft: h.growthLeft,
	}
	if h.capacity > 0 {
		c.ctrls = append([]ctrl(nil), h.ctrls...)
		c.slots = append([]slot[K, V](nil), h.slots...)
	}
	return c
}

func (h *heapStore[K, V]) checkInvariants() {
	if invariants {
		if h.capacity > 0 {
			// The mirrored control bytes and the sentinel must be intact.
			for i := 0; i < groupSize-1; i++ {
				j := ((i - (groupSize - 1)) & h.capacity) + (groupSize - 1)
				if h.ctrls[i] != h.ctrls[j] {
					panic(fmt.Sprintf(
						"smallmap: invariant failed: ctrl(%d)=%02x != ctrl(%d)=%02x",
						i, h.ctrls[i], j, h.ctrls[j]))
				}
			}
			if c := h.ctrls[h.capacity]; c != ctrlSentinel {
				panic(fmt.Sprintf(
					"smallmap: invariant failed: ctrl(%d): expected sentinel, found %02x",
					h.capacity, c))
			}
		}

		var used, deleted int
		for i := 0; i < h.capacity; i++ {
			switch c := h.ctrls[i]; c {
			case ctrlDeleted:
				deleted++
			case ctrlEmpty:
			case ctrlSentinel:
				panic(fmt.Sprintf("smallmap: invariant failed: ctrl(%d): unexpected sentinel", i))
			default:
				if h.find(h.slots[i].key) < 0 {
					panic(fmt.Sprintf(
						"smallmap: invariant failed: slot(%d): key %v not findable",
						i, h.slots[i].key))
				}
				used++
			}
		}
		if used != h.used {
			panic(fmt.Sprintf(
				"smallmap: invariant failed: found %d used slots, used count is %d", used, h.used))
		}
		if h.capacity > 0 {
			if want := maxGrowthLeft(h.capacity) - h.used - deleted; want != h.growthLeft {
				panic(fmt.Sprintf(
					"smallmap: invariant failed: growthLeft is %d, expected %d",
					h.growthLeft, want))
			}
		}
	}
}

type bitset uint64

// next returns the byte index of the first match in the bitset.
func (b bitset) next() int {
	return bits.TrailingZeros64(uint64(b)) >> 3
}

func (b bitset) clear(i int) bitset {
	return b &^ (bitset(0x80) << (i << 3))
}

// matchH2 returns a bitset with 0x80 in every byte of g equal to h.
//
// NB: this generic matching routine can produce false positives when the
// control bytes contain the sequence h, h+1: subtracting bitsetLSB borrows
// across the pair and both bytes appear to match. False positives are a
// rare inefficiency, not a correctness issue; they never occur for the
// empty, deleted, or sentinel bytes, and the subsequent key comparison
// rejects them.
func matchH2(g uint64, h uint64) bitset {
	v := g ^ (bitsetLSB * h)
	return bitset(((v - bitsetLSB) &^ v) & bitsetMSB)
}

// matchEmpty returns a bitset with 0x80 in every byte of g that is an empty
// control byte. A byte is empty iff bit 7 is set and bit 1 is not.
func matchEmpty(g uint64) bitset {
	return bitset((g &^ (g << 6)) & bitsetMSB)
}

// matchEmptyOrDeleted returns a bitset with 0x80 in every byte of g that is
// an empty or deleted control byte. A byte is empty or deleted iff bit 7 is
// set and bit 0 is not.
func matchEmptyOrDeleted(g uint64) bitset {
	return bitset((g &^ (g << 7)) & bitsetMSB)
}

// probeSeq maintains the state for a probe sequence that visits groups in a
// triangular progression
//
//	p(i) := groupSize * (i^2 + i)/2 + hash (mod mask+1)
//
// which touches every group exactly once when the number of groups is a
// power of two. Group starts are not aligned to a groupSize boundary;
// groups are conceptual and overlap, which the mirrored control bytes make
// safe.
type probeSeq struct {
	mask   int
	offset int
	index  int
}

func makeProbeSeq(hash uint64, mask int) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: int(hash) & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index += groupSize
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) offsetAt(i int) int {
	return (s.offset + i) & s.mask
}

// h1 extracts the upper 57 bits of a hash, used to select the probe start.
func h1(h uint64) uint64 {
	return h >> 7
}

// h2 extracts the low 7 bits of a hash, stored in an occupied control byte.
func h2(h uint64) uint64 {
	return h & 0x7f
}
