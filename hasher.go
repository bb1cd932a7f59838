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

import "hash/maphash"

// Hasher is the hashing strategy of a Map. Implementations must be
// deterministic for the lifetime of the instance (equal keys always hash
// equal) and should distribute hash values uniformly across all 64 bits.
//
// The default strategy seeds itself randomly per map, so hash values are
// not stable across instances or process runs; inject a deterministic
// Hasher via WithHasher when reproducibility matters, e.g. in tests.
type Hasher[K comparable] interface {
	Hash(key K) uint64
}

// seededHasher hashes with the runtime's maphash function under a random
// per-instance seed.
type seededHasher[K comparable] struct {
	seed maphash.Seed
}

func (h seededHasher[K]) Hash(key K) uint64 {
	return maphash.Comparable(h.seed, key)
}

func newDefaultHasher[K comparable]() Hasher[K] {
	return seededHasher[K]{seed: maphash.MakeSeed()}
}
