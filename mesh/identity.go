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

// Package mesh implements the secure stream transport: peer identities,
// the four-way stream cluster, packet codecs, and the agent that feeds
// authenticated payloads into the evaluator as tasks (spec §4.8, §6.4).
package mesh

import (
	"bytes"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// Identity is a peer's permanent public key, an Ed25519 public key
// reused as the peer's 32-byte address on the mesh.
type Identity [32]byte

// IdentityFromBytes copies bs into an Identity. bs must be 32 bytes.
func IdentityFromBytes(bs []byte) (Identity, error) {
	var id Identity
	if len(bs) != len(id) {
		return Identity{}, errors.New("mesh: identity must be 32 bytes")
	}
	copy(id[:], bs)
	return id, nil
}

func (id Identity) Bytes() []byte { return id[:] }

// IsGreaterThan reports whether id is lexicographically greater than
// other, byte-by-byte. It errors on equality: two equal identities
// cannot form a stream with themselves (there is no well-defined
// ordering parity), matching original_source's CannotStreamWithSelf
// rejection in Agent.handle_initiation_packet.
func (id Identity) IsGreaterThan(other Identity) (bool, error) {
	cmp := bytes.Compare(id[:], other[:])
	if cmp == 0 {
		return false, errCannotStreamWithSelf
	}
	return cmp > 0, nil
}

var errCannotStreamWithSelf = errors.New("mesh: identity cannot stream with itself")

// exchange derives a 32-byte shared secret from an X25519 ephemeral
// private scalar and a peer's ephemeral public point (spec §4.8: "a
// symmetric key derived from exchange(own_ephemeral_private,
// neighbor_ephemeral_public)").
func exchange(ownPrivate, peerPublic [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(ownPrivate[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// ephemeralKeypair derives an X25519 keypair from a 32-byte seed, the
// same "seed in, keypair out" shape as original_source's
// `ed25519::keypair` calls over `own_seed`.
func ephemeralKeypair(seed [32]byte) (private, public [32]byte) {
	private = seed
	// Clamp per RFC 7748 so every seed yields a valid X25519 scalar.
	private[0] &= 248
	private[31] &= 127
	private[31] |= 64
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	copy(public[:], pub)
	return private, public
}
