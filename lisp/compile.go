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

package lisp

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/nounrt/nounrt/noun"
	"github.com/nounrt/nounrt/vm"
)

// nativeForm maps a special-form name to its fixed opcode and arity
// (spec §4.7). Arity mismatches at a call site are compile errors.
type nativeForm struct {
	opcode byte
	arity  int
}

var nativeForms = map[string]nativeForm{
	"random":           {vm.RANDOM, 1},
	"is_cell":          {vm.IS_CELL, 1},
	"hash":             {vm.HASH, 1},
	"shape":            {vm.SHAPE, 1},
	"if":               {vm.IF, 3},
	"equal":            {vm.IS_EQUAL, 2},
	"store_by_hash":    {vm.STORE_BY_HASH, 1},
	"retrieve_by_hash": {vm.RETRIEVE_BY_HASH, 1},
	"store_by_key":     {vm.STORE_BY_KEY, 2},
	"retrieve_by_key":  {vm.RETRIEVE_BY_KEY, 1},
	"generate_keypair": {vm.GENERATE_KEYPAIR, 1},
	"encrypt":          {vm.ENCRYPT, 2},
	"decrypt":          {vm.DECRYPT, 2},
	"exucrypt":         {vm.EXUCRYPT, 2},
	"add":              {vm.ADD, 2},
	"invert":           {vm.INVERT, 1},
	"xor":              {vm.XOR, 2},
	"less":             {vm.LESS, 2},
	"reshape":          {vm.RESHAPE, 2},
}

// resolutions maps a lexically bound name to its axis path from the
// current subject.
type resolutions map[string]uint64

// sortedNames returns res's keys sorted, used only to keep "unresolved
// name" error messages deterministic across map iteration.
func sortedNames(res resolutions) []string {
	names := maps.Keys(res)
	slices.Sort(names)
	return names
}

func opcodeAtom(op byte) noun.Noun { return noun.AtomFromByte(op) }

// consRight right-associates ns into a cell spine: [n0 [n1 [n2 ...]]].
// Used both to build native-opcode argument formulas (vec-to-tree over
// [opcode, arg...]) and literal/runtime list trees.
func consRight(ns []noun.Noun) noun.Noun {
	if len(ns) == 0 {
		panic("consRight requires at least one element")
	}
	result := ns[len(ns)-1]
	for i := len(ns) - 2; i >= 0; i-- {
		result = noun.Cell(ns[i], result)
	}
	return result
}

// denseTreePositions returns, for count items, the axis position (from
// the root of the dense tree itself) each item lands at once packed by
// buildDenseTree. Ported from the balanced binary layout described in
// the glossary's "dense layout" entry.
func denseTreePositions(count int) []uint64 {
	n := uint64(count)
	maxLevel := ilog2(n) + 1
	spotsInMaxLevel := uint64(1) << maxLevel
	extraInMaxLevel := spotsInMaxLevel - n
	nounsAtMaxLevel := spotsInMaxLevel - extraInMaxLevel*2
	nounsAtLevelAbove := n - nounsAtMaxLevel
	firstAtMaxLevel := spotsInMaxLevel
	firstAtLevelAbove := firstAtMaxLevel - nounsAtLevelAbove

	positions := make([]uint64, 0, count)
	for i := uint64(0); i < nounsAtMaxLevel; i++ {
		positions = append(positions, firstAtMaxLevel+i)
	}
	for i := uint64(0); i < nounsAtLevelAbove; i++ {
		positions = append(positions, firstAtLevelAbove+i)
	}
	return positions
}

func ilog2(n uint64) uint64 {
	var l uint64
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}

// buildDenseTree packs ns into the balanced binary tree whose leaf axis
// positions are exactly denseTreePositions(len(ns)); a single element
// collapses to itself with no wrapping cell.
func buildDenseTree(ns []noun.Noun) noun.Noun {
	if len(ns) == 0 {
		panic("buildDenseTree requires at least one element")
	}
	round := ns
	// Only the items on the deepest level are paired in the first round;
	// the rest are carried up unchanged, leaving a power-of-two count for
	// every later round.
	pairable := 2*len(ns) - int(uint64(1)<<(ilog2(uint64(len(ns)))+1))
	for len(round) > 1 {
		var packed []noun.Noun
		i := 0
		for i < len(round) {
			if i+1 < pairable {
				packed = append(packed, noun.Cell(round[i], round[i+1]))
				i += 2
			} else {
				packed = append(packed, round[i])
				i++
			}
		}
		round = packed
		pairable = len(round)
	}
	return round[0]
}

// addInitialStep prepends one more step (0=left, 1=right) onto an
// existing MSB-sentinel axis path, used to re-home name resolutions
// when the environment gains one more layer of nesting (spec §4.6
// "Environment construction under let").
func addInitialStep(axisPlacement, initialStep uint64) uint64 {
	leadingOnePosition := ilog2(axisPlacement)
	return (uint64(1) << (leadingOnePosition + 1)) | (initialStep << leadingOnePosition) | (axisPlacement &^ (uint64(1) << leadingOnePosition))
}

func literalAtomValue(n Node) (noun.Noun, error) {
	switch n.Kind {
	case NodeLiteral:
		return noun.Atom(n.Literal), nil
	case NodeList:
		if len(n.Children) == 0 {
			return noun.Noun{}, fmt.Errorf("an empty list cannot occur in a literal")
		}
		values := make([]noun.Noun, len(n.Children))
		for i, c := range n.Children {
			v, err := literalAtomValue(c)
			if err != nil {
				return noun.Noun{}, err
			}
			values[i] = v
		}
		return consRight(values), nil
	default:
		return noun.Noun{}, fmt.Errorf("only literals and lists of literals can appear in a literal tree")
	}
}

func allLiteral(n Node) bool {
	switch n.Kind {
	case NodeLiteral:
		return true
	case NodeList:
		for _, c := range n.Children {
			if !allLiteral(c) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compile lowers surface source text to a Noun program (spec §4.7).
func Compile(code string) (noun.Noun, error) {
	ast, err := Parse(code)
	if err != nil {
		return noun.Noun{}, err
	}
	return compileNode(ast, resolutions{})
}

func compileNode(n Node, res resolutions) (noun.Noun, error) {
	switch n.Kind {
	case NodeSymbol:
		path, ok := res[n.Symbol]
		if !ok {
			return noun.Noun{}, fmt.Errorf("unresolved variable name %q (in scope: %s)", n.Symbol, strings.Join(sortedNames(res), ", "))
		}
		return noun.Cell(opcodeAtom(vm.AXIS), noun.FromUint64Compact(path)), nil

	case NodeLiteral:
		return noun.Cell(opcodeAtom(vm.LITERAL), noun.Atom(n.Literal)), nil

	case NodeList:
		if len(n.Children) == 0 {
			return noun.Noun{}, fmt.Errorf("an empty bracketed list is not allowed")
		}
		if allLiteral(n) {
			tree, err := literalAtomValue(n)
			if err != nil {
				return noun.Noun{}, err
			}
			return noun.Cell(opcodeAtom(vm.LITERAL), tree), nil
		}
		codes := make([]noun.Noun, len(n.Children))
		for i, c := range n.Children {
			code, err := compileNode(c, res)
			if err != nil {
				return noun.Noun{}, err
			}
			codes[i] = code
		}
		return consRight(codes), nil

	case NodeParent:
		return compileParent(n, res)

	default:
		return noun.Noun{}, fmt.Errorf("unrecognized AST node")
	}
}

func compileParent(n Node, res resolutions) (noun.Noun, error) {
	if len(n.Children) == 0 {
		return noun.Noun{}, fmt.Errorf("tried to compile empty parenthesized expression ()")
	}
	head, ok := n.Children[0].AsSymbol()
	if !ok {
		return noun.Noun{}, fmt.Errorf("expected a symbol at the head of a parenthesized expression")
	}
	args := n.Children[1:]

	switch head {
	case "let":
		if len(n.Children) != 3 {
			return noun.Noun{}, fmt.Errorf("malformed `let` expression")
		}
		return compileLet(n.Children[1], n.Children[2], res)
	case "lambda":
		if len(n.Children) != 3 {
			return noun.Noun{}, fmt.Errorf("malformed `lambda` expression")
		}
		argNames, err := lambdaArgNames(n.Children[1])
		if err != nil {
			return noun.Noun{}, err
		}
		return compileLambda(argNames, n.Children[2], res, "")
	case "axis":
		if len(n.Children) != 3 {
			return noun.Noun{}, fmt.Errorf("malformed `axis` expression, expected (axis x k)")
		}
		return compileAxis(n.Children[1], n.Children[2], res)
	}

	if form, ok := nativeForms[head]; ok {
		if len(args) != form.arity {
			return noun.Noun{}, fmt.Errorf("wrong number of parameters for '%s': expected %d, got %d", head, form.arity, len(args))
		}
		argCodes := make([]noun.Noun, len(args)+1)
		argCodes[0] = opcodeAtom(form.opcode)
		for i, a := range args {
			code, err := compileNode(a, res)
			if err != nil {
				return noun.Noun{}, err
			}
			argCodes[i+1] = code
		}
		return consRight(argCodes), nil
	}

	return compileCall(head, args, res)
}

func lambdaArgNames(argsNode Node) ([]string, error) {
	if argsNode.Kind != NodeParent {
		return nil, fmt.Errorf("expected a parenthesized argument list in `lambda`")
	}
	names := make([]string, len(argsNode.Children))
	for i, c := range argsNode.Children {
		name, ok := c.AsSymbol()
		if !ok {
			return nil, fmt.Errorf("lambda argument names must be symbols")
		}
		names[i] = name
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("lambda requires at least one argument")
	}
	return names, nil
}

// compileLambda lowers (lambda (args...) body) to [[LITERAL body-code]
// [AXIS 1]] (spec §4.6 "Closure construction"). selfName, when
// non-empty, is the enclosing let-binding name for a self-referential
// lambda; it resolves to axis 3 of the lambda's own future call core
// [args-tree [code captured-env]] — axis 3 is the right child
// [code captured-env], the closure compileCall's CALL expects at the
// position it evaluates via [AXIS p] before taking axis 6 of the
// result — letting the body call itself with no fix-point combinator.
func compileLambda(argNames []string, body Node, outer resolutions, selfName string) (noun.Noun, error) {
	argPositions := denseTreePositions(len(argNames))
	inner := resolutions{}
	for name, p := range outer {
		inner[name] = noun.FuseAxis(7, p)
	}
	for i, name := range argNames {
		inner[name] = noun.FuseAxis(2, argPositions[i])
	}
	if selfName != "" {
		inner[selfName] = 3
	}
	bodyCode, err := compileNode(body, inner)
	if err != nil {
		return noun.Noun{}, err
	}
	literalWrapper := noun.Cell(opcodeAtom(vm.LITERAL), bodyCode)
	capturedEnv := noun.Cell(opcodeAtom(vm.AXIS), noun.FromUint64Compact(1))
	return noun.Cell(literalWrapper, capturedEnv), nil
}

// compileCall lowers (f a1 ... an) to [CALL 6 [args-tree [AXIS p]]]
// (spec §4.6), where p is f's resolved environment path.
func compileCall(name string, args []Node, res resolutions) (noun.Noun, error) {
	p, ok := res[name]
	if !ok {
		return noun.Noun{}, fmt.Errorf("unresolved function name %q (in scope: %s)", name, strings.Join(sortedNames(res), ", "))
	}
	if len(args) == 0 {
		return noun.Noun{}, fmt.Errorf("call to '%s' needs at least one argument", name)
	}
	argCodes := make([]noun.Noun, len(args))
	for i, a := range args {
		code, err := compileNode(a, res)
		if err != nil {
			return noun.Noun{}, err
		}
		argCodes[i] = code
	}
	argsTree := buildDenseTree(argCodes)
	axisToClosure := noun.Cell(opcodeAtom(vm.AXIS), noun.FromUint64Compact(p))
	callArg := noun.Cell(noun.FromUint64Compact(6), noun.Cell(argsTree, axisToClosure))
	return noun.Cell(opcodeAtom(vm.CALL), callArg), nil
}

// compileLet lowers (let ((name expr)...) body) to a DEFINE whose left
// sub-formula builds a dense tree of the binding values against the
// outer subject (spec §4.6 "Environment construction under let"): new
// names resolve through the left branch (step 0), pre-existing names
// are pushed one step right (step 1).
func compileLet(bindingsNode, bodyNode Node, outer resolutions) (noun.Noun, error) {
	if bindingsNode.Kind != NodeParent {
		return noun.Noun{}, fmt.Errorf("expected first argument of `let` to be a list of bindings")
	}
	var names []string
	var defCodes []noun.Noun
	for _, binding := range bindingsNode.Children {
		if binding.Kind != NodeParent || len(binding.Children) != 2 {
			return noun.Noun{}, fmt.Errorf("expected each `let` binding to be a (name expression) pair")
		}
		name, ok := binding.Children[0].AsSymbol()
		if !ok {
			return noun.Noun{}, fmt.Errorf("expected a symbol as the bound name in `let`")
		}
		rhs := binding.Children[1]
		var code noun.Noun
		var err error
		if rhs.Kind == NodeParent {
			if head, ok := rhs.Children[0].AsSymbol(); ok && head == "lambda" && len(rhs.Children) == 3 {
				argNames, aerr := lambdaArgNames(rhs.Children[1])
				if aerr != nil {
					return noun.Noun{}, aerr
				}
				code, err = compileLambda(argNames, rhs.Children[2], outer, name)
			} else {
				code, err = compileNode(rhs, outer)
			}
		} else {
			code, err = compileNode(rhs, outer)
		}
		if err != nil {
			return noun.Noun{}, err
		}
		names = append(names, name)
		defCodes = append(defCodes, code)
	}
	if len(names) == 0 {
		return noun.Noun{}, fmt.Errorf("`let` requires at least one binding")
	}

	definitionPositions := denseTreePositions(len(defCodes))
	definitionTree := buildDenseTree(defCodes)

	inner := resolutions{}
	for name, p := range outer {
		inner[name] = addInitialStep(p, 1)
	}
	for i, name := range names {
		inner[name] = addInitialStep(definitionPositions[i], 0)
	}

	bodyCode, err := compileNode(bodyNode, inner)
	if err != nil {
		return noun.Noun{}, err
	}
	defineArg := noun.Cell(definitionTree, bodyCode)
	return noun.Cell(opcodeAtom(vm.DEFINE), defineArg), nil
}

// compileAxis lowers (axis x k): when x is a bound name and k a
// literal, fuses them into one compile-time path (spec §4.1); otherwise
// it falls back to a COMPOSE that evaluates x at runtime and then takes
// the literal axis k of the result.
func compileAxis(xNode, kNode Node, res resolutions) (noun.Noun, error) {
	if kNode.Kind != NodeLiteral {
		return noun.Noun{}, fmt.Errorf("the index operand of `axis` must be a literal integer")
	}
	kValue, ok := noun.Atom(kNode.Literal).Uint64()
	if !ok {
		return noun.Noun{}, fmt.Errorf("the index operand of `axis` is too large")
	}

	if name, ok := xNode.AsSymbol(); ok {
		if p, ok := res[name]; ok {
			fused := noun.FuseAxis(p, kValue)
			return noun.Cell(opcodeAtom(vm.AXIS), noun.FromUint64Compact(fused)), nil
		}
	}

	xCode, err := compileNode(xNode, res)
	if err != nil {
		return noun.Noun{}, err
	}
	inner := noun.Cell(opcodeAtom(vm.AXIS), noun.FromUint64Compact(kValue))
	return noun.Cell(opcodeAtom(vm.COMPOSE), noun.Cell(xCode, inner)), nil
}
