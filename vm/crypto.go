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

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nounrt/nounrt/noun"
)

// storageTagHash and storageTagKey disambiguate the two storage
// namespaces sharing one key space (spec §4.5): hash-addressed values
// are keyed by blake2b-512(value)‖storageTagHash, key-addressed values
// by serialize(key)‖storageTagKey.
const (
	storageTagHash = 0x01
	storageTagKey  = 0x00
)

// missNoun and hitNoun encode the branchless retrieve/decrypt result
// convention used throughout this file: a miss is the bare atom 0, a
// hit is a cell [1 value] (spec §4.6, open question resolved in
// DESIGN.md).
func missNoun() noun.Noun { return noun.Bool(false) }

func hitNoun(value noun.Noun) noun.Noun {
	return noun.Cell(noun.Bool(true), value)
}

func canonicalize(n noun.Noun) ([]byte, error) {
	return noun.Serialize(n, 0)
}

func evalHash(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	buf, err := canonicalize(val)
	if err != nil {
		return noun.Noun{}, err
	}
	sum := blake2b.Sum512(buf)
	return noun.Atom(sum[:]), nil
}

func evalStoreByHash(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	buf, err := canonicalize(val)
	if err != nil {
		return noun.Noun{}, err
	}
	sum := blake2b.Sum512(buf)
	key := append(append([]byte{}, sum[:]...), storageTagHash)
	eff.Store(key, buf)
	return noun.Atom(sum[:]), nil
}

func evalRetrieveByHash(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	hashBytes, ok := val.Bytes()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	key := append(append([]byte{}, hashBytes...), storageTagHash)
	stored, found := eff.Load(key)
	if !found {
		return missNoun(), nil
	}
	decoded, err := noun.Deserialize(stored)
	if err != nil {
		return noun.Noun{}, errKind(StorageCorrupt)
	}
	return hitNoun(decoded), nil
}

func evalStoreByKey(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	k, v, ok := val.Cells()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	kBuf, err := canonicalize(k)
	if err != nil {
		return noun.Noun{}, err
	}
	vBuf, err := canonicalize(v)
	if err != nil {
		return noun.Noun{}, err
	}
	key := append(kBuf, storageTagKey)
	eff.Store(key, vBuf)
	return v, nil
}

func evalRetrieveByKey(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	kBuf, err := canonicalize(val)
	if err != nil {
		return noun.Noun{}, err
	}
	key := append(kBuf, storageTagKey)
	stored, found := eff.Load(key)
	if !found {
		return missNoun(), nil
	}
	decoded, err := noun.Deserialize(stored)
	if err != nil {
		return noun.Noun{}, errKind(StorageCorrupt)
	}
	return hitNoun(decoded), nil
}

func evalRandom(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	n, ok := val.Uint64()
	if !ok || n > 1<<20 {
		return noun.Noun{}, errKind(InvalidLength)
	}
	buf := make([]byte, n)
	eff.Random(buf)
	return noun.Atom(buf), nil
}

// derivePrivateKey implements the recursive key-derivation rule K(P)
// from spec §4.6: at each atomic leaf reached by following a right
// branch, the agent secret is folded into the hash, so that computing
// K of a subtree requires the secret exactly when that subtree hangs
// off a right spine. A leaf reached only by left branches from the
// root is derivable by anyone holding the public structure.
func derivePrivateKey(p noun.Noun, branchedRight bool, secret [32]byte) [32]byte {
	if left, right, ok := p.Cells(); ok {
		kl := derivePrivateKey(left, false, secret)
		kr := derivePrivateKey(right, true, secret)
		return blake2b.Sum256(append(append([]byte{}, kl[:]...), kr[:]...))
	}
	bs, _ := p.Bytes()
	in := append([]byte{}, bs...)
	if branchedRight {
		in = append(in, secret[:]...)
	}
	return blake2b.Sum256(in)
}

func evalGenerateKeypair(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	seed, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	var entropy [32]byte
	eff.Random(entropy[:])
	public := noun.Cell(seed, noun.Atom(entropy[:]))
	private := derivePrivateKey(public, false, eff.Secret())
	return noun.Cell(noun.Atom(private[:]), public), nil
}

// sealedNonceSize and sealedTagSize give the on-wire layout produced by
// seal/open below: nonce‖tag‖ciphertext (spec §4.6). The AEAD itself
// needs a 12-byte nonce; the low 8 bytes are random per message and the
// top 4 are fixed at zero, since ENCRYPT/DECRYPT never reuse a key
// across more than 2^64 messages in practice.
const (
	sealedNonceSize = 8
	sealedTagSize   = 16
)

func seal(key [32]byte, nonce8 [sealedNonceSize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	fullNonce := make([]byte, chacha20poly1305.NonceSize)
	copy(fullNonce, nonce8[:])
	sealed := aead.Seal(nil, fullNonce, plaintext, nil)
	out := make([]byte, 0, sealedNonceSize+len(sealed))
	out = append(out, nonce8[:]...)
	out = append(out, sealed...)
	return out, nil
}

func open(key [32]byte, blob []byte) ([]byte, bool) {
	if len(blob) < sealedNonceSize+sealedTagSize {
		return nil, false
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, false
	}
	fullNonce := make([]byte, chacha20poly1305.NonceSize)
	copy(fullNonce, blob[:sealedNonceSize])
	plaintext, err := aead.Open(nil, fullNonce, blob[sealedNonceSize:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

func keyFromNoun(n noun.Noun) ([32]byte, bool) {
	var key [32]byte
	b, ok := n.Bytes()
	if !ok || len(b) != 32 {
		return key, false
	}
	copy(key[:], b)
	return key, true
}

func evalEncrypt(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	kNoun, ptNoun, ok := val.Cells()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	key, ok := keyFromNoun(kNoun)
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	plaintext, err := canonicalize(ptNoun)
	if err != nil {
		return noun.Noun{}, err
	}
	var nonce [sealedNonceSize]byte
	eff.Random(nonce[:])
	blob, err := seal(key, nonce, plaintext)
	if err != nil {
		return noun.Noun{}, errKind(BadArgument)
	}
	return noun.Atom(blob), nil
}

func evalDecrypt(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	kNoun, blobNoun, ok := val.Cells()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	key, ok := keyFromNoun(kNoun)
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	blob, ok := blobNoun.Bytes()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	plaintext, ok := open(key, blob)
	if !ok {
		return missNoun(), nil
	}
	decoded, err := noun.Deserialize(plaintext)
	if err != nil {
		return missNoun(), nil
	}
	return hitNoun(decoded), nil
}

// evalExucrypt implements EXUCRYPT (spec §4.6): decrypt the sealed
// program against K(pub), evaluate it against the current subject, and
// re-seal the result under the same key. Any failure along this path,
// including an evaluation error inside the decrypted program, returns
// the miss atom rather than propagating, so a caller cannot distinguish
// "bad key" from "program trapped" and learn something about a secret
// it doesn't hold.
func evalExucrypt(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	pub, blobNoun, ok := val.Cells()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	blob, ok := blobNoun.Bytes()
	if !ok {
		return noun.Noun{}, errKind(BadArgument)
	}
	key := derivePrivateKey(pub, false, eff.Secret())
	plaintext, ok := open(key, blob)
	if !ok {
		return missNoun(), nil
	}
	program, err := noun.Deserialize(plaintext)
	if err != nil {
		return missNoun(), nil
	}
	result, err := Eval(subject, program, eff, ticks)
	if err != nil {
		return missNoun(), nil
	}
	resultBuf, err := canonicalize(result)
	if err != nil {
		return missNoun(), nil
	}
	var nonce [sealedNonceSize]byte
	eff.Random(nonce[:])
	resealed, err := seal(key, nonce, resultBuf)
	if err != nil {
		return missNoun(), nil
	}
	return hitNoun(noun.Atom(resealed)), nil
}
