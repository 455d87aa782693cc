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

// Deserialization failure kinds, per spec §4.2.
var (
	ErrUnexpectedEndOfAtomStream      = errors.New("deserialize: unexpected end of atom stream")
	ErrUnexpectedEndOfStructureStream = errors.New("deserialize: unexpected end of structure stream")
	ErrOverlongAtom                   = errors.New("deserialize: overlong atom length encoding")
	ErrInvalidAtomStreamLength        = errors.New("deserialize: invalid outer length prefix")
	ErrUnexpectedTrailingData         = errors.New("deserialize: unexpected trailing data")
)

// deserializer mirrors original_source/vm/src/deserialize.rs's
// Deserializer, reading the atom stream and the structure bit stream
// from two independently-advancing cursors.
type deserializer struct {
	atoms          []byte
	structure      []byte
	structureBitAt uint8
}

func (d *deserializer) consumeByte() (byte, error) {
	if len(d.atoms) == 0 {
		return 0, ErrUnexpectedEndOfAtomStream
	}
	b := d.atoms[0]
	d.atoms = d.atoms[1:]
	return b, nil
}

func (d *deserializer) consumeStructureBit() (bool, error) {
	if len(d.structure) == 0 {
		return false, ErrUnexpectedEndOfStructureStream
	}
	bit := (d.structure[0] & (1 << d.structureBitAt)) != 0
	d.structureBitAt++
	if d.structureBitAt == 8 {
		d.structure = d.structure[1:]
		d.structureBitAt = 0
	}
	return bit, nil
}

func (d *deserializer) deserializeAtom() (Noun, error) {
	kind, err := d.consumeByte()
	if err != nil {
		return Noun{}, err
	}
	if kind < 190 {
		return AtomFromByte(kind), nil
	}

	var length int
	if kind != 255 {
		length = int(kind) - 190
	} else {
		var shift uint
		var shiftSentinel, prevShiftSentinel uint64 = 0x7f, 0
		for {
			b, err := d.consumeByte()
			if err != nil {
				return Noun{}, err
			}
			if (shiftSentinel >> 7) != prevShiftSentinel {
				return Noun{}, ErrOverlongAtom
			}
			length |= int(b&0x7f) << shift
			if b < 0x80 {
				break
			}
			shift += 7
			prevShiftSentinel = shiftSentinel
			shiftSentinel <<= 7
		}
	}

	if len(d.atoms) < length {
		return Noun{}, ErrUnexpectedEndOfAtomStream
	}
	bs := d.atoms[:length]
	d.atoms = d.atoms[length:]
	return Atom(bs), nil
}

func (d *deserializer) deserializeNoun() (Noun, error) {
	isCell, err := d.consumeStructureBit()
	if err != nil {
		return Noun{}, err
	}
	if isCell {
		left, err := d.deserializeNoun()
		if err != nil {
			return Noun{}, err
		}
		right, err := d.deserializeNoun()
		if err != nil {
			return Noun{}, err
		}
		return Cell(left, right), nil
	}
	return d.deserializeAtom()
}

func (d *deserializer) checkExhausted() error {
	if len(d.atoms) > 0 {
		return ErrUnexpectedTrailingData
	}
	if len(d.structure) > 1 || (len(d.structure) == 1 && d.structureBitAt == 0) {
		return ErrUnexpectedTrailingData
	}
	return nil
}

// Deserialize is the exact inverse of Serialize: it rejects overlong
// length encodings, truncated streams, trailing unused bits beyond one
// partial byte, and inputs not fully consumed.
func Deserialize(buf []byte) (Noun, error) {
	d := &deserializer{atoms: buf}

	lengthAtom, err := d.deserializeAtom()
	if err != nil {
		return Noun{}, err
	}
	length64, ok := lengthAtom.Uint64()
	if !ok || length64 > uint64(len(d.atoms)) {
		return Noun{}, ErrInvalidAtomStreamLength
	}
	length := int(length64)

	atoms, structure := d.atoms[:length], d.atoms[length:]
	d = &deserializer{atoms: atoms, structure: structure}

	result, err := d.deserializeNoun()
	if err != nil {
		return Noun{}, err
	}
	if err := d.checkExhausted(); err != nil {
		return Noun{}, err
	}
	return result, nil
}
