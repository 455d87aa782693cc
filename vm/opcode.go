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

// Package vm implements the metered tree-walking Noun evaluator: opcode
// dispatch with tail contraction, the effect interface, and the
// crypto/storage opcodes that bridge into it.
package vm

// Opcode byte values, per spec §6.1. Opcodes 25-28 are reserved: the
// compiler must never emit them, and the evaluator treats them as
// BadOpcode.
const (
	AXIS = iota
	LITERAL
	RECURSE
	IS_CELL
	RESHAPE
	IS_EQUAL
	IF
	COMPOSE
	DEFINE
	CALL
	HASH
	STORE_BY_HASH
	RETRIEVE_BY_HASH
	STORE_BY_KEY
	RETRIEVE_BY_KEY
	RANDOM
	GENERATE_KEYPAIR
	ENCRYPT
	DECRYPT
	EXUCRYPT
	SHAPE
	ADD
	INVERT
	XOR
	LESS
)

// ReservedOpcodeMin and ReservedOpcodeMax bound the range the compiler
// must never emit and the evaluator treats as BadOpcode (spec §9 open
// question (a)).
const (
	ReservedOpcodeMin = 25
	ReservedOpcodeMax = 28
)

// IsReservedOpcode reports whether b falls in the reserved 25-28 range.
func IsReservedOpcode(b byte) bool {
	return b >= ReservedOpcodeMin && b <= ReservedOpcodeMax
}
