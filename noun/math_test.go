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

import "testing"

func TestAdd(t *testing.T) {
	got, err := Add(Atom([]byte{0xff, 0x04}), AtomFromByte(2))
	if err != nil || !Equal(got, Atom([]byte{0x01, 0x05})) {
		t.Fatalf("Add = %v, %v", got, err)
	}

	got, err = Add(Atom([]byte{0x00, 0x80}), Atom([]byte{0x00, 0x80}))
	if err != nil || !Equal(got, Atom([]byte{0x00, 0x00, 0x01})) {
		t.Fatalf("Add carry = %v, %v", got, err)
	}

	got, err = Add(AtomFromByte(0xf0), AtomFromByte(0x14))
	if err != nil || !Equal(got, Atom([]byte{0x04, 0x01})) {
		t.Fatalf("Add overflow = %v, %v", got, err)
	}
}

func TestAddNonAtomic(t *testing.T) {
	if _, err := Add(Cell(AtomFromByte(1), AtomFromByte(2)), AtomFromByte(1)); err != ErrNonAtomicMath {
		t.Fatalf("expected ErrNonAtomicMath, got %v", err)
	}
}

func TestLessInvariant(t *testing.T) {
	pairs := [][2]Noun{
		{AtomFromByte(1), AtomFromByte(2)},
		{AtomFromByte(5), AtomFromByte(5)},
		{Atom([]byte{0, 0, 1}), AtomFromByte(1)}, // different lengths: 0x010000 against 0x01
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		lt, _ := Less(a, b)
		gt, _ := Less(b, a)
		eq := Equal(a, b)
		count := 0
		for _, v := range []bool{lt, gt, eq} {
			if v {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("LESS(a,b)+LESS(b,a)+EQUAL(a,b) should be exactly 1 for %s,%s; got lt=%v gt=%v eq=%v", a, b, lt, gt, eq)
		}
	}
}

func TestXorAndInvert(t *testing.T) {
	got, err := Xor(Atom([]byte{0x0f}), Atom([]byte{0xff, 0xff}))
	if err != nil || !Equal(got, Atom([]byte{0xf0, 0xff})) {
		t.Fatalf("Xor = %v, %v", got, err)
	}
	inv, err := Invert(Atom([]byte{0x00, 0xff}))
	if err != nil || !Equal(inv, Atom([]byte{0xff, 0x00})) {
		t.Fatalf("Invert = %v, %v", inv, err)
	}
}
