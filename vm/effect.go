// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package vm

// Effector is the only channel by which evaluation touches the outside
// world (spec §4.5, §6.3). random must be cryptographically strong in
// production; tests use a deterministic stream. Storage must be
// linearizable with respect to a single evaluation (spec §5);
// concurrent evaluations may interleave only at opcode boundaries.
type Effector interface {
	// Random fills into with cryptographically strong random bytes.
	Random(into []byte)

	// Load returns the stored value for key, or (nil, false) on a miss.
	Load(key []byte) ([]byte, bool)

	// Store overwrites the value associated with key.
	Store(key, value []byte)

	// Send is a fire-and-forget message to destination, charged
	// localCost ticks against the caller's budget by convention of the
	// agent embedding the evaluator (spec §6.3); the core evaluator
	// itself does not invoke Send.
	Send(destination [32]byte, message []byte, localCost uint64)

	// NearestNeighbor returns the identity nearest to near by whatever
	// distance metric the embedding agent defines (typically XOR
	// distance over identity bytes).
	NearestNeighbor(near [32]byte) [32]byte

	// Secret returns the 32-byte agent-local secret used in private-key
	// derivation (spec §4.6). It is process-wide and read-only after
	// initialization (spec §9 "Global state").
	Secret() [32]byte
}
