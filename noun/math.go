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

// ErrNonAtomicMath is returned by Add, Xor, Invert, and Less when given
// a cell operand; the math opcodes only operate on atoms.
var ErrNonAtomicMath = errors.New("math opcode applied to a cell")

// Add returns the little-endian unsigned sum of two atoms, carrying
// into a new high byte as needed. Grounded on
// original_source/vm/src/math.rs's natural_add, generalized from the
// Rust SmallAtom fast path (which this package doesn't need, since
// Noun already inlines small atoms transparently).
func Add(x, y Noun) (Noun, error) {
	xs, xok := x.Bytes()
	ys, yok := y.Bytes()
	if !xok || !yok {
		return Noun{}, ErrNonAtomicMath
	}
	n := len(xs)
	if len(ys) > n {
		n = len(ys)
	}
	result := make([]byte, 0, n+1)
	var carry uint16
	for i := 0; i < n; i++ {
		var a, b uint16
		if i < len(xs) {
			a = uint16(xs[i])
		}
		if i < len(ys) {
			b = uint16(ys[i])
		}
		sum := a + b + carry
		result = append(result, byte(sum))
		carry = sum >> 8
	}
	if carry != 0 {
		result = append(result, byte(carry))
	}
	return Atom(result), nil
}

// Xor pairs bytes from the shorter atom with the prefix of the longer
// one, then copies the long tail unchanged.
func Xor(x, y Noun) (Noun, error) {
	xs, xok := x.Bytes()
	ys, yok := y.Bytes()
	if !xok || !yok {
		return Noun{}, ErrNonAtomicMath
	}
	short, long := xs, ys
	if len(short) > len(long) {
		short, long = long, short
	}
	result := make([]byte, len(long))
	for i := range long {
		if i < len(short) {
			result[i] = short[i] ^ long[i]
		} else {
			result[i] = long[i]
		}
	}
	return Atom(result), nil
}

// Invert returns the bytewise complement of an atom.
func Invert(x Noun) (Noun, error) {
	xs, ok := x.Bytes()
	if !ok {
		return Noun{}, ErrNonAtomicMath
	}
	result := make([]byte, len(xs))
	for i, b := range xs {
		result[i] = ^b
	}
	return Atom(result), nil
}

// Less compares two atoms as little-endian unsigned integers, ignoring
// trailing zero bytes, and reports whether x < y.
func Less(x, y Noun) (bool, error) {
	xs, xok := x.Bytes()
	ys, yok := y.Bytes()
	if !xok || !yok {
		return false, ErrNonAtomicMath
	}
	xs = trimTrailingZeros(xs)
	ys = trimTrailingZeros(ys)
	if len(xs) != len(ys) {
		return len(xs) < len(ys), nil
	}
	for i := len(xs) - 1; i >= 0; i-- {
		if xs[i] != ys[i] {
			return xs[i] < ys[i], nil
		}
	}
	return false, nil
}

func trimTrailingZeros(bs []byte) []byte {
	n := len(bs)
	for n > 0 && bs[n-1] == 0 {
		n--
	}
	return bs[:n]
}
