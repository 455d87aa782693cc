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

package noun

import "errors"

// ErrIndexOutOfRange is returned when axis navigation walks off an atom
// or the index atom is zero (no leading 1 bit).
var ErrIndexOutOfRange = errors.New("axis index out of range")

// ErrCellAsIndex is returned when the index argument to Axis is itself
// a cell rather than an atom.
var ErrCellAsIndex = errors.New("cell used as axis index")

// Axis interprets index as the bit-path described in spec §3: read the
// bits of index MSB-to-LSB starting just after the leading 1 bit, 0 for
// left and 1 for right, navigating n. 1 addresses the whole subject, 2
// the left child, 3 the right child, 4 left-of-left, and so on.
//
// Grounded on original_source/vm/src/axis.rs (ByteBitIterator /
// ByteSliceBitIterator), generalized to Noun's unified atom
// representation instead of the Rust SmallAtom/Atom split.
func Axis(n Noun, index Noun) (Noun, error) {
	bs, ok := index.Bytes()
	if !ok {
		return Noun{}, ErrCellAsIndex
	}

	// Fast path: the index fits in 64 bits (the overwhelmingly common
	// case), so scan its bits directly instead of building an iterator.
	if len(bs) <= 8 {
		var v uint64
		for i, b := range bs {
			v |= uint64(b) << (8 * i)
		}
		if v == 0 {
			return Noun{}, ErrIndexOutOfRange
		}
		bitLen := bitLength64(v)
		cur := n
		// Walk bits from just below the leading 1, most significant first.
		for i := bitLen - 2; i >= 0; i-- {
			goRight := (v>>uint(i))&1 != 0
			left, right, isCell := cur.Cells()
			if !isCell {
				return Noun{}, ErrIndexOutOfRange
			}
			if goRight {
				cur = right
			} else {
				cur = left
			}
		}
		return cur, nil
	}

	// Slow path: arbitrarily large index atom. bs is little-endian;
	// walk from the most-significant non-zero byte downward.
	hi := len(bs) - 1
	for hi >= 0 && bs[hi] == 0 {
		hi--
	}
	if hi < 0 {
		return Noun{}, ErrIndexOutOfRange
	}
	bitLen := hi*8 + bitLength64(uint64(bs[hi]))
	cur := n
	for i := bitLen - 2; i >= 0; i-- {
		byteIdx := i / 8
		bitIdx := uint(i % 8)
		goRight := (bs[byteIdx]>>bitIdx)&1 != 0
		left, right, isCell := cur.Cells()
		if !isCell {
			return Noun{}, ErrIndexOutOfRange
		}
		if goRight {
			cur = right
		} else {
			cur = left
		}
	}
	return cur, nil
}

func bitLength64(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}

// FuseAxis computes the bit-concatenation p.tail(q) used by the
// compiler's axis-fusion optimization (spec §4.1): if a bound name
// resolves to path p and the surface expression indexes it further by
// q, the fused path addresses the same location in one Axis call with
// no runtime trace of q as data.
func FuseAxis(p, q uint64) uint64 {
	if q == 0 {
		return p
	}
	qBits := bitLength64(q) - 1 // strip q's leading sentinel bit
	return (p << uint(qBits)) | (q &^ (1 << uint(qBits)))
}
