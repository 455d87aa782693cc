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

// Package noun implements the Noun value model: an immutable recursive
// tree of byte-string atoms and ordered pairs (cells), its canonical
// serialization, axis addressing, a cost meter, and the reshape/shape
// bridge between flat byte data and tree structure.
package noun

import (
	"fmt"
)

// Noun is either an atom (byte string) or a cell (ordered pair of Nouns).
//
// Small atoms (<= 4 bytes) are stored inline to avoid heap allocation;
// larger atoms share a backing array. Equality is always structural and
// never depends on which representation was used to build the value.
type Noun struct {
	// small holds an inlined atom's first smallLen bytes when the Noun
	// is an atom and smallLen != 255.
	small    [4]byte
	smallLen uint8

	// atom holds a larger atom's bytes (marked by smallLen == 255).
	// Immutable once constructed; safe to share across Nouns.
	atom []byte

	// left/right are non-nil exactly when this Noun is a cell.
	left, right *Noun

	isAtom bool
}

// Kind reports which shape a Noun has.
type Kind int

const (
	// KindAtom indicates the Noun is a byte string.
	KindAtom Kind = iota
	// KindCell indicates the Noun is an ordered pair.
	KindCell
)

// Atom constructs a Noun from a byte slice. The slice is copied for
// lengths above the inline threshold; callers may reuse their buffer.
func Atom(bs []byte) Noun {
	if len(bs) <= 4 {
		var n Noun
		n.isAtom = true
		n.smallLen = uint8(len(bs))
		copy(n.small[:], bs)
		return n
	}
	cp := make([]byte, len(bs))
	copy(cp, bs)
	return Noun{isAtom: true, atom: cp, smallLen: 255}
}

// AtomFromByte builds a one-byte atom, the common case for opcodes and
// booleans.
func AtomFromByte(b byte) Noun {
	return Noun{isAtom: true, small: [4]byte{b, 0, 0, 0}, smallLen: 1}
}

// Bool encodes a boolean as the canonical 0/1 one-byte atom.
func Bool(v bool) Noun {
	if v {
		return AtomFromByte(1)
	}
	return AtomFromByte(0)
}

// Cell constructs a Noun pairing left and right.
func Cell(left, right Noun) Noun {
	l, r := left, right
	return Noun{left: &l, right: &r}
}

// IsCell reports whether n is a cell.
func (n Noun) IsCell() bool {
	return n.left != nil
}

// IsAtom reports whether n is an atom.
func (n Noun) IsAtom() bool {
	return !n.IsCell()
}

// Kind reports n's Kind.
func (n Noun) Kind() Kind {
	if n.IsCell() {
		return KindCell
	}
	return KindAtom
}

// Cells returns n's left and right children and true, or the zero Noun
// pair and false if n is an atom.
func (n Noun) Cells() (left, right Noun, ok bool) {
	if !n.IsCell() {
		return Noun{}, Noun{}, false
	}
	return *n.left, *n.right, true
}

// Bytes returns n's atom bytes and true, or nil and false if n is a cell.
// The returned slice must not be mutated.
func (n Noun) Bytes() (bs []byte, ok bool) {
	if n.IsCell() {
		return nil, false
	}
	if n.smallLen == 255 {
		return n.atom, true
	}
	return n.small[:n.smallLen], true
}

// Len returns the byte length of an atom, or -1 for a cell.
func (n Noun) Len() int {
	if n.IsCell() {
		return -1
	}
	if n.smallLen == 255 {
		return len(n.atom)
	}
	return int(n.smallLen)
}

// Byte returns n's value as a single byte if n is an atom whose value
// fits in one byte (trailing bytes, if any, are all zero).
func (n Noun) Byte() (b byte, ok bool) {
	bs, isAtom := n.Bytes()
	if !isAtom {
		return 0, false
	}
	for _, x := range bs[min(1, len(bs)):] {
		if x != 0 {
			return 0, false
		}
	}
	if len(bs) == 0 {
		return 0, true
	}
	return bs[0], true
}

// Uint64 interprets an atom as a little-endian unsigned integer, failing
// if it does not fit in 64 bits.
func (n Noun) Uint64() (v uint64, ok bool) {
	bs, isAtom := n.Bytes()
	if !isAtom {
		return 0, false
	}
	if len(bs) > 8 {
		for _, b := range bs[8:] {
			if b != 0 {
				return 0, false
			}
		}
	}
	for i, b := range bs {
		if i >= 8 {
			break
		}
		v |= uint64(b) << (8 * i)
	}
	return v, true
}

// FromUint64Compact encodes v as the shortest little-endian atom
// representing it (the empty atom for zero).
func FromUint64Compact(v uint64) Noun {
	var bs []byte
	for v != 0 {
		bs = append(bs, byte(v))
		v >>= 8
	}
	return Atom(bs)
}

// Equal reports whether a and b have identical byte sequences (for
// atoms) or recursively equal children (for cells). It never consults
// representation or pointer identity, and is unbounded: use
// noun.EqualTicked for budget-aware comparison of possibly huge Nouns.
func Equal(a, b Noun) bool {
	if a.IsCell() != b.IsCell() {
		return false
	}
	if a.IsCell() {
		al, ar, _ := a.Cells()
		bl, br, _ := b.Cells()
		return Equal(al, bl) && Equal(ar, br)
	}
	abs, _ := a.Bytes()
	bbs, _ := b.Bytes()
	return bytesEqualTrimmed(abs, bbs)
}

func bytesEqualTrimmed(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders a Noun for debugging: cells as "[left right]", one-byte
// atoms as decimal (opcodes read cleanly), and longer atoms as hex.
func (n Noun) String() string {
	if n.IsCell() {
		l, r, _ := n.Cells()
		return fmt.Sprintf("[%s %s]", l.String(), r.String())
	}
	bs, _ := n.Bytes()
	if len(bs) == 1 {
		return fmt.Sprintf("%d", bs[0])
	}
	if len(bs) == 0 {
		return "x"
	}
	s := "x"
	for _, b := range bs {
		s += fmt.Sprintf("%02x", b)
	}
	return s
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
