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
	"testing"

	"github.com/nounrt/nounrt/noun"
	"github.com/nounrt/nounrt/vm"
)

// noEffects is an Effector that panics if the compiled program under
// test ever touches storage, randomness, or the network; none of the
// scenarios below should.
type noEffects struct{}

func (noEffects) Random(into []byte)                          { panic("unexpected Random call") }
func (noEffects) Load(key []byte) ([]byte, bool)               { panic("unexpected Load call") }
func (noEffects) Store(key, value []byte)                      { panic("unexpected Store call") }
func (noEffects) Send(dest [32]byte, msg []byte, cost uint64)   { panic("unexpected Send call") }
func (noEffects) NearestNeighbor(near [32]byte) [32]byte        { panic("unexpected NearestNeighbor call") }
func (noEffects) Secret() [32]byte                              { panic("unexpected Secret call") }

func evalSource(t *testing.T, src string) noun.Noun {
	t.Helper()
	program, err := Compile(src)
	if err != nil {
		t.Fatalf("compile(%q): %v", src, err)
	}
	result, err := vm.Eval(noun.Bool(false), program, noEffects{}, noun.NewTicks(1<<20))
	if err != nil {
		t.Fatalf("eval(%q): %v", src, err)
	}
	return result
}

// S1: compile("#33") then eval_simple([0 compiled]) -> 0x33.
func TestScenarioS1Literal(t *testing.T) {
	got := evalSource(t, "#33")
	want := noun.Atom([]byte{0x33})
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// S2: is_cell distinguishes atoms from cells.
func TestScenarioS2IsCell(t *testing.T) {
	got := evalSource(t, "(is_cell [#2244 #33])")
	if !noun.Equal(got, noun.Bool(true)) {
		t.Fatalf("is_cell of a cell: got %s, want 1", got)
	}
	got = evalSource(t, "(is_cell #2244)")
	if !noun.Equal(got, noun.Bool(false)) {
		t.Fatalf("is_cell of an atom: got %s, want 0", got)
	}
}

// S4: nested let, where the inner scope binds a new name y and still
// resolves x from the outer scope.
func TestScenarioS4NestedLet(t *testing.T) {
	got := evalSource(t, "(let ((x #10)) (add x (let ((y #21)) (add x y))))")
	want := noun.Atom([]byte{0x41})
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// S5: a closure built inside one let, captured and called from another.
func TestScenarioS5ClosureCapture(t *testing.T) {
	got := evalSource(t, "(let ((f (let ((x #05) (y #03)) (lambda (z) (add x z))))) (f #04))")
	want := noun.Atom([]byte{0x09})
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// S6: a three-way branching closure called multiple times with distinct
// arguments, confirming each call sees the same captured environment.
func TestScenarioS6GuessingGame(t *testing.T) {
	got := evalSource(t, `(let ((answer #42))
		(let ((g (lambda (n) (if (less n answer) "too low" (if (less answer n) "too high" "right")))))
			[(g #33) (g #42) (g #55)]))`)
	want := noun.Of([]byte("too low"), []byte("right"), []byte("too high"))
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// S7: self-referential let-bound lambda walking and mirroring a tree,
// exercising recursion through the axis-3 self-reference and axis
// fusion on (axis x #02)/(axis x #03).
func TestScenarioS7TreeReverse(t *testing.T) {
	got := evalSource(t, `(let ((r (lambda (x) (if (is_cell x) [(r (axis x #03)) (r (axis x #02))] x))))
		(r [[#06 [#07 #08]] #09]))`)
	want := noun.Of(noun.AtomFromByte(0x09), noun.Of(noun.Of(noun.AtomFromByte(0x08), noun.AtomFromByte(0x07)), noun.AtomFromByte(0x06)))
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// Invariant 7: tail contraction keeps a long self-recursive loop within
// bounded host stack (no panic/overflow from deep Go recursion). ADD
// carries into a new high byte, so the loop counts n up through all 256
// one-byte values until #ff plus #01 carries into #0001.
func TestTailContractionBoundedStack(t *testing.T) {
	got := evalSource(t, `(let ((loop (lambda (n) (if (equal n #0001) n (loop (add n #01))))))
		(loop #00))`)
	want := noun.Atom([]byte{0x00, 0x01})
	if !noun.Equal(got, want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestCompileUnresolvedName(t *testing.T) {
	if _, err := Compile("(add x #01)"); err == nil {
		t.Fatal("expected an error compiling a reference to an unbound name")
	}
}

func TestCompileEmptyList(t *testing.T) {
	if _, err := Compile("[]"); err == nil {
		t.Fatal("expected an error compiling an empty bracketed list")
	}
}
