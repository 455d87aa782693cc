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

func TestEqualRepresentationIndependent(t *testing.T) {
	// The empty atom and a small inline atom with matching bytes must
	// compare equal regardless of how they were built.
	a := Atom(nil)
	b := Atom([]byte{})
	if !Equal(a, b) {
		t.Fatalf("expected empty atoms to compare equal")
	}

	small := AtomFromByte(0)
	large := Atom([]byte{0, 0, 0, 0, 0}) // forces the non-inline path; equality compares the exact bytes, untrimmed
	if Equal(small, large) {
		t.Fatalf("atoms of different byte length must not compare equal even if the numeric value matches")
	}
}

func TestAsNounOf(t *testing.T) {
	got := Of(3, 6, 9, 12, Of(15, 16), 18)
	want := Of(3, Of(6, 9, Of(12, Of(Of(15, 16), 18))))
	if !Equal(got, want) {
		t.Fatalf("Of did not right-associate as expected: %s vs %s", got, want)
	}
}

func TestByteRoundtrip(t *testing.T) {
	n := AtomFromByte(200)
	b, ok := n.Byte()
	if !ok || b != 200 {
		t.Fatalf("Byte() = %v, %v; want 200, true", b, ok)
	}
}

func TestUint64(t *testing.T) {
	n := FromUint64Compact(0x1234)
	v, ok := n.Uint64()
	if !ok || v != 0x1234 {
		t.Fatalf("Uint64() = %v, %v; want 0x1234, true", v, ok)
	}
	if n.Len() != 2 {
		t.Fatalf("expected compact encoding of 0x1234 to take 2 bytes, got %d", n.Len())
	}
}

func TestCellsAndKind(t *testing.T) {
	c := Cell(AtomFromByte(1), AtomFromByte(2))
	if c.Kind() != KindCell || !c.IsCell() {
		t.Fatalf("expected a cell")
	}
	l, r, ok := c.Cells()
	if !ok || !Equal(l, AtomFromByte(1)) || !Equal(r, AtomFromByte(2)) {
		t.Fatalf("unexpected cell children")
	}
}
