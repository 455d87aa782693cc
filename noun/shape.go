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

import (
	"errors"

	"golang.org/x/exp/slices"
)

// ErrDataTooShort is returned by Reshape when the template asks for
// more bytes than data's leaves supply.
var ErrDataTooShort = errors.New("reshape: data exhausted before template")

// ErrAllocationBoundExceeded is returned by Reshape when a template
// leaf requests more bytes than the caller's allocation budget allows.
var ErrAllocationBoundExceeded = errors.New("reshape: template leaf exceeds allocation bound")

// leafReader streams the concatenated bytes of data's non-empty atom
// leaves in pre-order, the source Reshape reads from to populate
// template's leaves. Grounded on original_source/vm/src/shape.rs's
// NounReader, which does the same over Rust's io::Read; Go's smaller
// atom alphabet lets this be a plain cursor instead of an io.Reader.
type leafReader struct {
	stack   []Noun
	current []byte
	pos     int
	ticks   *Ticks
}

func newLeafReader(data Noun, ticks *Ticks) *leafReader {
	return &leafReader{stack: []Noun{data}, ticks: ticks}
}

// take returns the next n bytes from the leaf stream, debiting n ticks,
// or ErrDataTooShort if the stream runs out first. The tick debit runs
// before the output buffer is allocated, so a template leaf whose byte
// count exceeds the remaining tick budget fails with
// ErrTickLimitExceeded, and one whose count overflowed int during the
// uint64-to-int conversion of an oversized template atom fails with
// ErrAllocationBoundExceeded, instead of panicking or allocating an
// unbounded buffer — callers still get AllocationBoundExceeded first
// whenever a caller-provided maxLeafBytes bound applies (reshapeInto
// below checks that before calling take at all).
func (r *leafReader) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrAllocationBoundExceeded
	}
	if err := r.ticks.Incur(uint64(n)); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		if r.pos >= len(r.current) {
			if !r.advance() {
				return nil, ErrDataTooShort
			}
			continue
		}
		need := n - len(out)
		avail := len(r.current) - r.pos
		take := avail
		if need < take {
			take = need
		}
		out = append(out, r.current[r.pos:r.pos+take]...)
		r.pos += take
	}
	return out, nil
}

// advance pops the next non-empty atom leaf (in pre-order) onto
// r.current, or returns false if the tree is exhausted.
func (r *leafReader) advance() bool {
	for len(r.stack) > 0 {
		top := r.stack[len(r.stack)-1]
		r.stack = r.stack[:len(r.stack)-1]

		if left, right, isCell := top.Cells(); isCell {
			r.stack = append(r.stack, right, left)
			continue
		}
		bs, _ := top.Bytes()
		if len(bs) == 0 {
			continue
		}
		r.current = bs
		r.pos = 0
		return true
	}
	return false
}

// Reshape produces a Noun with the same cell structure as template
// (whose leaves are atoms interpreted as byte counts), with each leaf
// replaced by bytes drawn from data's concatenated non-empty atom
// leaves (pre-order). maxLeafBytes bounds any single leaf's allocation;
// pass 0 for no bound.
func Reshape(data, template Noun, maxLeafBytes int, ticks *Ticks) (Noun, error) {
	r := newLeafReader(data, ticks)
	return reshapeInto(template, r, maxLeafBytes)
}

func reshapeInto(template Noun, r *leafReader, maxLeafBytes int) (Noun, error) {
	if left, right, isCell := template.Cells(); isCell {
		l, err := reshapeInto(left, r, maxLeafBytes)
		if err != nil {
			return Noun{}, err
		}
		rr, err := reshapeInto(right, r, maxLeafBytes)
		if err != nil {
			return Noun{}, err
		}
		if err := r.ticks.Incur(1); err != nil {
			return Noun{}, err
		}
		return Cell(l, rr), nil
	}

	count, ok := template.Uint64()
	if !ok {
		return Noun{}, errors.New("reshape: template leaf is not a byte count")
	}
	if maxLeafBytes > 0 && count > uint64(maxLeafBytes) {
		return Noun{}, ErrAllocationBoundExceeded
	}
	bs, err := r.take(int(count))
	if err != nil {
		return Noun{}, err
	}
	if err := r.ticks.Incur(1); err != nil {
		return Noun{}, err
	}
	return Atom(bs), nil
}

// Shape produces a Noun mirroring n's cell structure, with each atom
// leaf replaced by its byte length encoded as a compact atom. Debits
// one tick per node.
func Shape(n Noun, ticks *Ticks) (Noun, error) {
	if err := ticks.Incur(1); err != nil {
		return Noun{}, err
	}
	if left, right, isCell := n.Cells(); isCell {
		l, err := Shape(left, ticks)
		if err != nil {
			return Noun{}, err
		}
		rr, err := Shape(right, ticks)
		if err != nil {
			return Noun{}, err
		}
		return Cell(l, rr), nil
	}
	return FromUint64Compact(uint64(n.Len())), nil
}

// flattenLeaves collects the non-empty atom leaves of n in pre-order;
// used by tests to check the Reshape round-trip invariant (spec §8.3)
// without duplicating leafReader's traversal order.
func flattenLeaves(n Noun) [][]byte {
	var out [][]byte
	var walk func(Noun)
	walk = func(m Noun) {
		if left, right, isCell := m.Cells(); isCell {
			walk(left)
			walk(right)
			return
		}
		bs, _ := m.Bytes()
		if len(bs) > 0 {
			out = append(out, slices.Clone(bs))
		}
	}
	walk(n)
	return out
}
