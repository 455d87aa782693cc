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

// AsNoun converts a Go value into a Noun, for building test fixtures
// tersely. Grounded on original_source/vm/src/as_noun.rs, which defines
// the same trait for Rust tuples; here a single variadic function plays
// the same role since Go lacks tuple types.
//
// Supported inputs: Noun, byte, int, []byte, string, and Of(...) chains.
// A tail (builder) is right-associated into nested cells, matching the
// spec's "right-associated" bracketed list rule (§4.7).
type AsNoun interface {
	asNoun() Noun
}

type nounWrap Noun

func (w nounWrap) asNoun() Noun { return Noun(w) }

type byteWrap byte

func (w byteWrap) asNoun() Noun { return AtomFromByte(byte(w)) }

type intWrap int

func (w intWrap) asNoun() Noun { return FromUint64Compact(uint64(w)) }

type bytesWrap []byte

func (w bytesWrap) asNoun() Noun { return Atom(w) }

type stringWrap string

func (w stringWrap) asNoun() Noun { return Atom([]byte(w)) }

// Wrap adapts a Go value (Noun, byte, int, []byte, or string) into an
// AsNoun for use with Of.
func Wrap(v any) AsNoun {
	switch x := v.(type) {
	case Noun:
		return nounWrap(x)
	case AsNoun:
		return x
	case byte:
		return byteWrap(x)
	case int:
		return intWrap(x)
	case []byte:
		return bytesWrap(x)
	case string:
		return stringWrap(x)
	default:
		panic("noun.Wrap: unsupported type")
	}
}

// Of builds a right-associated cell tree out of two or more values,
// e.g. Of(1, 2, 3) == Cell(AtomFromByte(1), Cell(AtomFromByte(2), AtomFromByte(3))).
func Of(items ...any) Noun {
	if len(items) == 0 {
		panic("noun.Of: cannot build a tree from zero items")
	}
	wrapped := make([]AsNoun, len(items))
	for i, it := range items {
		wrapped[i] = Wrap(it)
	}
	return ofWrapped(wrapped)
}

func ofWrapped(items []AsNoun) Noun {
	if len(items) == 1 {
		return items[0].asNoun()
	}
	return Cell(items[0].asNoun(), ofWrapped(items[1:]))
}
