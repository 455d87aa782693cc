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

package vm

import (
	"fmt"

	"github.com/nounrt/nounrt/noun"
)

// ErrorKind enumerates the evaluator's closed error taxonomy (spec §4.6,
// §7). Each kind is a distinct failure domain; BadOpcode additionally
// carries the offending byte.
type ErrorKind int

const (
	AtomicFormula ErrorKind = iota
	NotAnOpcode
	BadOpcode
	IndexOutOfRange
	CellAsIndex
	BadRecurseArgument
	BadEqualsArgument
	BadIfCondition
	BadArgument
	InvalidLength
	TickLimitExceeded
	MemoryExceeded
	StorageCorrupt
	DecryptionFailed
	NonAtomicMath
	BadShape
	EvalOnAtom
)

var errorKindNames = map[ErrorKind]string{
	AtomicFormula:      "atomic formula",
	NotAnOpcode:        "not an opcode",
	BadOpcode:          "bad opcode",
	IndexOutOfRange:    "index out of range",
	CellAsIndex:        "cell used as index",
	BadRecurseArgument: "bad recurse argument",
	BadEqualsArgument:  "bad equals argument",
	BadIfCondition:     "bad if condition",
	BadArgument:        "bad argument",
	InvalidLength:      "invalid length",
	TickLimitExceeded:  "tick limit exceeded",
	MemoryExceeded:     "memory exceeded",
	StorageCorrupt:     "storage corrupt",
	DecryptionFailed:   "decryption failed",
	NonAtomicMath:      "non-atomic math operand",
	BadShape:           "bad shape",
	EvalOnAtom:         "eval called on an atom expression",
}

// EvalError is the evaluator's error type: a closed Kind plus, for
// BadOpcode, the offending opcode byte.
type EvalError struct {
	Kind ErrorKind
	Byte byte // meaningful only when Kind == BadOpcode
}

func (e *EvalError) Error() string {
	if e.Kind == BadOpcode {
		return fmt.Sprintf("bad opcode: %d", e.Byte)
	}
	return errorKindNames[e.Kind]
}

func errKind(k ErrorKind) error { return &EvalError{Kind: k} }

func errBadOpcode(b byte) error { return &EvalError{Kind: BadOpcode, Byte: b} }

// Eval evaluates formula against subject with the given effector and
// tick budget, per spec §4.6. The five tail-contracted opcodes (RECURSE,
// IF, COMPOSE, DEFINE, CALL) rewrite (subject, formula) in place and
// continue the loop below instead of recursing, so that iteration in
// surface programs runs in constant host stack (spec §4.6, §9).
// Non-tail sub-evaluations recurse into Eval normally.
func Eval(subject, formula noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	for {
		if err := ticks.Incur(1); err != nil {
			return noun.Noun{}, errKind(TickLimitExceeded)
		}

		op, arg, isCell := formula.Cells()
		if !isCell {
			return noun.Noun{}, errKind(AtomicFormula)
		}

		if op.IsCell() {
			// Distribute: evaluate [subject op] and [subject arg]
			// independently (sequentially; op before arg), pair the
			// results.
			left, err := Eval(subject, op, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			right, err := Eval(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return noun.Cell(left, right), nil
		}

		opcode, ok := op.Byte()
		if !ok {
			return noun.Noun{}, errKind(NotAnOpcode)
		}
		if IsReservedOpcode(opcode) {
			return noun.Noun{}, errBadOpcode(opcode)
		}

		switch opcode {
		case AXIS:
			res, err := noun.Axis(subject, arg)
			if err != nil {
				return noun.Noun{}, translateAxisErr(err)
			}
			return res, nil

		case LITERAL:
			return arg, nil

		case RECURSE:
			b, c, ok := arg.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadRecurseArgument)
			}
			bRes, err := Eval(subject, b, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			cRes, err := Eval(subject, c, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			subject, formula = bRes, cRes
			continue

		case IS_CELL:
			res, err := Eval(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return noun.Bool(res.IsCell()), nil

		case RESHAPE:
			res, err := evalReshape(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case IS_EQUAL:
			val, err := Eval(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			a, b, ok := val.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadEqualsArgument)
			}
			eq, err := noun.EqualTicked(a, b, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return noun.Bool(eq), nil

		case IF:
			b, rest, ok := arg.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadIfCondition)
			}
			c, d, ok := rest.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadIfCondition)
			}
			cond, err := Eval(subject, b, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			condByte, ok := cond.Byte()
			if !ok {
				return noun.Noun{}, errKind(BadIfCondition)
			}
			switch condByte {
			case 1:
				formula = c
			case 0:
				formula = d
			default:
				return noun.Noun{}, errKind(BadIfCondition)
			}
			continue

		case COMPOSE:
			b, c, ok := arg.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadArgument)
			}
			newSubject, err := Eval(subject, b, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			subject, formula = newSubject, c
			continue

		case DEFINE:
			b, c, ok := arg.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadArgument)
			}
			defined, err := Eval(subject, b, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			subject, formula = noun.Cell(defined, subject), c
			continue

		case CALL:
			b, c, ok := arg.Cells()
			if !ok {
				return noun.Noun{}, errKind(BadArgument)
			}
			core, err := Eval(subject, c, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			next, err := noun.Axis(core, b)
			if err != nil {
				return noun.Noun{}, translateAxisErr(err)
			}
			subject, formula = core, next
			continue

		case HASH:
			res, err := evalHash(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case STORE_BY_HASH:
			res, err := evalStoreByHash(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case RETRIEVE_BY_HASH:
			res, err := evalRetrieveByHash(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case STORE_BY_KEY:
			res, err := evalStoreByKey(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case RETRIEVE_BY_KEY:
			res, err := evalRetrieveByKey(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case RANDOM:
			res, err := evalRandom(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case GENERATE_KEYPAIR:
			res, err := evalGenerateKeypair(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case ENCRYPT:
			res, err := evalEncrypt(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case DECRYPT:
			res, err := evalDecrypt(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case EXUCRYPT:
			res, err := evalExucrypt(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case SHAPE:
			val, err := Eval(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			res, err := noun.Shape(val, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			return res, nil

		case ADD:
			a, b, err := evalBinaryAtoms(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			res, err := noun.Add(a, b)
			if err != nil {
				return noun.Noun{}, errKind(NonAtomicMath)
			}
			return res, nil

		case XOR:
			a, b, err := evalBinaryAtoms(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			res, err := noun.Xor(a, b)
			if err != nil {
				return noun.Noun{}, errKind(NonAtomicMath)
			}
			return res, nil

		case LESS:
			a, b, err := evalBinaryAtoms(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			lt, err := noun.Less(a, b)
			if err != nil {
				return noun.Noun{}, errKind(NonAtomicMath)
			}
			return noun.Bool(lt), nil

		case INVERT:
			val, err := Eval(subject, arg, eff, ticks)
			if err != nil {
				return noun.Noun{}, err
			}
			res, err := noun.Invert(val)
			if err != nil {
				return noun.Noun{}, errKind(NonAtomicMath)
			}
			return res, nil

		default:
			return noun.Noun{}, errBadOpcode(opcode)
		}
	}
}

func evalBinaryAtoms(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (a, b noun.Noun, err error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, noun.Noun{}, err
	}
	a, b, ok := val.Cells()
	if !ok {
		return noun.Noun{}, noun.Noun{}, errKind(BadArgument)
	}
	return a, b, nil
}

func translateAxisErr(err error) error {
	switch err {
	case noun.ErrIndexOutOfRange:
		return errKind(IndexOutOfRange)
	case noun.ErrCellAsIndex:
		return errKind(CellAsIndex)
	default:
		return err
	}
}

// reshapeMaxLeafBytes bounds a single RESHAPE template leaf's byte
// count (spec §4.4's "caller-provided allocation budget"), matching
// RANDOM's existing 2^20 byte-length ceiling (evalRandom above) so a
// surface program can't make either opcode allocate an unbounded
// buffer from a single small atom.
const reshapeMaxLeafBytes = 1 << 20

func evalReshape(subject, arg noun.Noun, eff Effector, ticks *noun.Ticks) (noun.Noun, error) {
	val, err := Eval(subject, arg, eff, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	data, template, ok := val.Cells()
	if !ok {
		return noun.Noun{}, errKind(BadShape)
	}
	res, err := noun.Reshape(data, template, reshapeMaxLeafBytes, ticks)
	if err != nil {
		return noun.Noun{}, err
	}
	return res, nil
}
