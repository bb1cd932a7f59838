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

// Option configures a Map while it is being created.
type Option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hasherOption[K comparable, V any] struct {
	hasher Hasher[K]
}

func (op hasherOption[K, V]) apply(m *Map[K, V]) {
	m.hasher = op.hasher
}

// WithHasher is an option to specify the hashing strategy of a Map[K,V] in
// place of the randomized default.
func WithHasher[K comparable, V any](hasher Hasher[K]) Option[K, V] {
	return hasherOption[K, V]{hasher}
}

type capacityOption[K comparable, V any] struct {
	capacity int
}

func (op capacityOption[K, V]) apply(m *Map[K, V]) {
	m.capacityHint = op.capacity
}

// WithCapacity is an option to specify the expected entry count of a
// Map[K,V]. A capacity exceeding the inline capacity makes the map start
// directly in heap mode, skipping inline storage entirely; a smaller
// capacity has no effect.
func WithCapacity[K comparable, V any](capacity int) Option[K, V] {
	return capacityOption[K, V]{capacity}
}
