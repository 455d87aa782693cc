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

func TestAxis(t *testing.T) {
	subject := AtomFromByte(99)
	got, err := Axis(subject, AtomFromByte(1))
	if err != nil || !Equal(got, subject) {
		t.Fatalf("axis 1 should return the whole subject")
	}

	pair := Cell(AtomFromByte(98), AtomFromByte(99))
	if got, err = Axis(pair, AtomFromByte(2)); err != nil || !Equal(got, AtomFromByte(98)) {
		t.Fatalf("axis 2 should be the left child, got %v err %v", got, err)
	}
	if got, err = Axis(pair, AtomFromByte(3)); err != nil || !Equal(got, AtomFromByte(99)) {
		t.Fatalf("axis 3 should be the right child")
	}

	deep := Of(1, 2, 3, 4, Of(5, 6, 7, Of(8, 9, 10, 11)))
	if got, err = Axis(deep, Atom([]byte{0xff, 0x07})); err != nil || !Equal(got, AtomFromByte(11)) {
		t.Fatalf("axis 0x07ff should reach the deepest leaf 11, got %v err %v", got, err)
	}

	nested := Of(Of(Of(1, 2), 3), 4)
	if got, err = Axis(nested, AtomFromByte(5)); err != nil || !Equal(got, AtomFromByte(3)) {
		t.Fatalf("axis 5 mismatch: %v %v", got, err)
	}
	if got, err = Axis(nested, AtomFromByte(4)); err != nil || !Equal(got, Of(1, 2)) {
		t.Fatalf("axis 4 mismatch: %v %v", got, err)
	}
}

func TestAxisErrors(t *testing.T) {
	if _, err := Axis(AtomFromByte(1), AtomFromByte(0)); err != ErrIndexOutOfRange {
		t.Fatalf("index 0 should be out of range, got %v", err)
	}
	if _, err := Axis(AtomFromByte(1), Cell(AtomFromByte(1), AtomFromByte(1))); err != ErrCellAsIndex {
		t.Fatalf("a cell index should fail with ErrCellAsIndex, got %v", err)
	}
	if _, err := Axis(AtomFromByte(5), AtomFromByte(2)); err != ErrIndexOutOfRange {
		t.Fatalf("navigating into an atom should fail, got %v", err)
	}
}

func TestFuseAxis(t *testing.T) {
	// p=4 (left-of-left-of-subject => binary 100), q=3 (right => binary 11, tail is "1")
	// Fused path should navigate p then q's steps: left, left, right => binary 1001 = 9? let's check via Axis directly.
	deep := Of(Of(Of(42, 43), 44), 45)
	p := uint64(4) // axis(deep, 4) = (42,43)
	q := uint64(3) // axis of that sub-result at 3 = right child = 43
	fused := FuseAxis(p, q)
	got, err := Axis(deep, FromUint64Compact(fused))
	if err != nil {
		t.Fatalf("fused axis failed: %v", err)
	}
	if !Equal(got, AtomFromByte(43)) {
		t.Fatalf("fused axis(%d) = %v, want 43", fused, got)
	}
}
