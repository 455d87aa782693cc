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

// EqualTicked compares a and b structurally, debiting one tick per node
// pair visited and short-circuiting on the first inequality. It returns
// ErrTickLimitExceeded if the budget runs out before the comparison
// resolves, which bounds the cost an attacker can impose by submitting
// a huge Noun to IS_EQUAL.
//
// Grounded on original_source/vm/src/equal.rs.
func EqualTicked(a, b Noun, ticks *Ticks) (bool, error) {
	if err := ticks.Incur(1); err != nil {
		return false, err
	}
	if a.IsCell() != b.IsCell() {
		return false, nil
	}
	if a.IsCell() {
		al, ar, _ := a.Cells()
		bl, br, _ := b.Cells()
		eq, err := EqualTicked(al, bl, ticks)
		if err != nil || !eq {
			return false, err
		}
		return EqualTicked(ar, br, ticks)
	}
	abs, _ := a.Bytes()
	bbs, _ := b.Bytes()
	return bytesEqualTrimmed(abs, bbs), nil
}
