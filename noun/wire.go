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

// ErrMaximumLengthExceeded is returned by Serialize when the encoded
// atom stream would exceed the caller-supplied bound.
var ErrMaximumLengthExceeded = errors.New("serialize: maximum atom-stream length exceeded")

// bitWriter accumulates the structure bit stream, one bit per Noun
// visited in pre-order (1 = cell, 0 = atom), LSB-first within each byte.
// Grounded on original_source/vm/src/serialize.rs's BitVec.
type bitWriter struct {
	bytes   []byte
	writeAt uint8
}

func (w *bitWriter) push(v bool) {
	if w.writeAt == 0 {
		w.bytes = append(w.bytes, 0)
	}
	if v {
		w.bytes[len(w.bytes)-1] |= 1 << w.writeAt
	}
	w.writeAt = (w.writeAt + 1) & 7
}

func encodeAtomLength(out []byte, n int) []byte {
	if n <= 64 {
		return append(out, byte(n)+190)
	}
	out = append(out, 0xff)
	remaining := n
	for remaining >= 128 {
		out = append(out, byte(remaining&0x7f)|0x80)
		remaining >>= 7
	}
	return append(out, byte(remaining))
}

func encodeAtom(out []byte, bs []byte, maxAtomLen int) ([]byte, error) {
	if len(bs) == 1 && bs[0] < 190 {
		if maxAtomLen > 0 && len(out) >= maxAtomLen {
			return nil, ErrMaximumLengthExceeded
		}
		return append(out, bs[0]), nil
	}
	out = encodeAtomLength(out, len(bs))
	if maxAtomLen > 0 && (len(bs) >= maxAtomLen || len(out) >= maxAtomLen-len(bs)) {
		return nil, ErrMaximumLengthExceeded
	}
	return append(out, bs...), nil
}

func serializeInto(n Noun, atoms []byte, structure *bitWriter, maxAtomLen int) ([]byte, error) {
	if left, right, isCell := n.Cells(); isCell {
		structure.push(true)
		var err error
		atoms, err = serializeInto(left, atoms, structure, maxAtomLen)
		if err != nil {
			return nil, err
		}
		return serializeInto(right, atoms, structure, maxAtomLen)
	}
	structure.push(false)
	bs, _ := n.Bytes()
	return encodeAtom(atoms, bs, maxAtomLen)
}

// Serialize encodes n into the canonical wire format (spec §3): a
// length-prefixed atom stream followed by a structure bit stream.
// maxAtomStreamLen bounds the total encoded-atom-bytes length (0 means
// unbounded) and fails early with ErrMaximumLengthExceeded.
func Serialize(n Noun, maxAtomStreamLen int) ([]byte, error) {
	var structure bitWriter
	atoms, err := serializeInto(n, nil, &structure, maxAtomStreamLen)
	if err != nil {
		return nil, err
	}

	lengthPrefix, err := encodeAtom(nil, compactBytes(uint64(len(atoms))), 0)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(lengthPrefix)+len(atoms)+len(structure.bytes))
	out = append(out, lengthPrefix...)
	out = append(out, atoms...)
	out = append(out, structure.bytes...)
	return out, nil
}

func compactBytes(v uint64) []byte {
	var bs []byte
	for v != 0 {
		bs = append(bs, byte(v))
		v >>= 8
	}
	return bs
}
