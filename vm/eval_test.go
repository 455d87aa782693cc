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
	"testing"

	"github.com/nounrt/nounrt/noun"
)

// fakeEffector is an in-memory Effector for exercising the evaluator
// without any mesh/storage wiring: Random is a deterministic
// byte-incrementing stream rather than real entropy, so crypto opcode
// tests are reproducible.
type fakeEffector struct {
	store  map[string][]byte
	secret [32]byte
	next   byte
	sent   []sentMessage
}

type sentMessage struct {
	dest [32]byte
	msg  []byte
	cost uint64
}

func newFakeEffector() *fakeEffector {
	return &fakeEffector{store: make(map[string][]byte), secret: [32]byte{9, 9, 9}}
}

func (f *fakeEffector) Random(into []byte) {
	for i := range into {
		into[i] = f.next
		f.next++
	}
}

func (f *fakeEffector) Load(key []byte) ([]byte, bool) {
	v, ok := f.store[string(key)]
	return v, ok
}

func (f *fakeEffector) Store(key, value []byte) {
	f.store[string(key)] = append([]byte{}, value...)
}

func (f *fakeEffector) Send(destination [32]byte, message []byte, localCost uint64) {
	f.sent = append(f.sent, sentMessage{destination, append([]byte{}, message...), localCost})
}

func (f *fakeEffector) NearestNeighbor(near [32]byte) [32]byte { return near }

func (f *fakeEffector) Secret() [32]byte { return f.secret }

func lit(n noun.Noun) noun.Noun { return noun.Cell(noun.AtomFromByte(LITERAL), n) }
func op1(opcode byte, arg noun.Noun) noun.Noun {
	return noun.Cell(noun.AtomFromByte(opcode), arg)
}

func mustEval(t *testing.T, subject, formula noun.Noun, eff Effector, budget uint64) noun.Noun {
	t.Helper()
	ticks := noun.NewTicks(budget)
	res, err := Eval(subject, formula, eff, ticks)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return res
}

func evalErr(t *testing.T, subject, formula noun.Noun, eff Effector, budget uint64) error {
	t.Helper()
	ticks := noun.NewTicks(budget)
	_, err := Eval(subject, formula, eff, ticks)
	if err == nil {
		t.Fatal("Eval: expected an error, got none")
	}
	return err
}

func TestEvalAxis(t *testing.T) {
	eff := newFakeEffector()
	subject := noun.Cell(noun.AtomFromByte('L'), noun.AtomFromByte('R'))

	if got := mustEval(t, subject, op1(AXIS, noun.FromUint64Compact(1)), eff, 1000); !noun.Equal(got, subject) {
		t.Fatalf("axis 1 = %v, want the whole subject", got)
	}
	if got := mustEval(t, subject, op1(AXIS, noun.FromUint64Compact(2)), eff, 1000); !noun.Equal(got, noun.AtomFromByte('L')) {
		t.Fatalf("axis 2 = %v, want left", got)
	}
	if got := mustEval(t, subject, op1(AXIS, noun.FromUint64Compact(3)), eff, 1000); !noun.Equal(got, noun.AtomFromByte('R')) {
		t.Fatalf("axis 3 = %v, want right", got)
	}
}

func TestEvalAxisOutOfRange(t *testing.T) {
	eff := newFakeEffector()
	subject := noun.AtomFromByte('L')
	err := evalErr(t, subject, op1(AXIS, noun.FromUint64Compact(2)), eff, 1000)
	ee, ok := err.(*EvalError)
	if !ok || ee.Kind != IndexOutOfRange {
		t.Fatalf("got %v, want IndexOutOfRange", err)
	}
}

func TestEvalLiteral(t *testing.T) {
	eff := newFakeEffector()
	want := noun.Atom([]byte("hello"))
	got := mustEval(t, noun.AtomFromByte(0), op1(LITERAL, want), eff, 1000)
	if !noun.Equal(got, want) {
		t.Fatalf("literal = %v, want %v", got, want)
	}
}

func TestEvalIsCell(t *testing.T) {
	eff := newFakeEffector()
	cell := noun.Cell(noun.AtomFromByte(1), noun.AtomFromByte(2))

	got := mustEval(t, noun.AtomFromByte(0), op1(IS_CELL, lit(cell)), eff, 1000)
	if b, ok := got.Byte(); !ok || b != 1 {
		t.Fatalf("is_cell(cell) = %v, want true", got)
	}
	got = mustEval(t, noun.AtomFromByte(0), op1(IS_CELL, lit(noun.AtomFromByte(5))), eff, 1000)
	if b, ok := got.Byte(); !ok || b != 0 {
		t.Fatalf("is_cell(atom) = %v, want false", got)
	}
}

func TestEvalIsEqual(t *testing.T) {
	eff := newFakeEffector()
	pair := noun.Cell(lit(noun.AtomFromByte(7)), lit(noun.AtomFromByte(7)))
	got := mustEval(t, noun.AtomFromByte(0), op1(IS_EQUAL, pair), eff, 1000)
	if b, ok := got.Byte(); !ok || b != 1 {
		t.Fatalf("equal pair = %v, want true", got)
	}

	pair = noun.Cell(lit(noun.AtomFromByte(7)), lit(noun.AtomFromByte(8)))
	got = mustEval(t, noun.AtomFromByte(0), op1(IS_EQUAL, pair), eff, 1000)
	if b, ok := got.Byte(); !ok || b != 0 {
		t.Fatalf("unequal pair = %v, want false", got)
	}
}

func TestEvalIf(t *testing.T) {
	eff := newFakeEffector()
	truthy := noun.AtomFromByte(1)
	falsy := noun.AtomFromByte(0)
	thenBranch := lit(noun.Atom([]byte("then")))
	elseBranch := lit(noun.Atom([]byte("else")))

	formula := op1(IF, noun.Cell(lit(truthy), noun.Cell(thenBranch, elseBranch)))
	got := mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if string(mustBytes(t, got)) != "then" {
		t.Fatalf("if true = %q, want \"then\"", got)
	}

	formula = op1(IF, noun.Cell(lit(falsy), noun.Cell(thenBranch, elseBranch)))
	got = mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if string(mustBytes(t, got)) != "else" {
		t.Fatalf("if false = %q, want \"else\"", got)
	}
}

func TestEvalCompose(t *testing.T) {
	eff := newFakeEffector()
	newSubject := noun.Atom([]byte("composed"))
	formula := op1(COMPOSE, noun.Cell(lit(newSubject), op1(AXIS, noun.FromUint64Compact(1))))
	got := mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if !noun.Equal(got, newSubject) {
		t.Fatalf("compose result = %v, want %v", got, newSubject)
	}
}

func TestEvalDefine(t *testing.T) {
	eff := newFakeEffector()
	defined := noun.Atom([]byte("defined"))
	// DEFINE prepends the defined value onto the subject, so axis 2
	// (left of the new subject) reaches it.
	formula := op1(DEFINE, noun.Cell(lit(defined), op1(AXIS, noun.FromUint64Compact(2))))
	got := mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if !noun.Equal(got, defined) {
		t.Fatalf("define result = %v, want %v", got, defined)
	}
}

func TestEvalRecurse(t *testing.T) {
	eff := newFakeEffector()
	newSubject := noun.Atom([]byte("recursed"))
	// RECURSE rewrites (subject, formula) to (b-result, c-result) and
	// continues the loop; the new formula just returns the new subject.
	formula := op1(RECURSE, noun.Cell(lit(newSubject), lit(op1(AXIS, noun.FromUint64Compact(1)))))
	got := mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if !noun.Equal(got, newSubject) {
		t.Fatalf("recurse result = %v, want %v", got, newSubject)
	}
}

func TestEvalCall(t *testing.T) {
	eff := newFakeEffector()
	payload := noun.AtomFromByte(42)
	// core = [payload [AXIS 2]]; CALL extracts axis 3 of core (the
	// formula [AXIS 2]) and runs it with subject = core, yielding
	// core's left (the payload).
	coreFormula := op1(AXIS, noun.FromUint64Compact(2))
	core := noun.Cell(payload, coreFormula)
	formula := op1(CALL, noun.Cell(noun.FromUint64Compact(3), lit(core)))
	got := mustEval(t, noun.AtomFromByte(0), formula, eff, 1000)
	if !noun.Equal(got, payload) {
		t.Fatalf("call result = %v, want %v", got, payload)
	}
}

func TestEvalDistribute(t *testing.T) {
	eff := newFakeEffector()
	subject := noun.AtomFromByte(7)
	// formula's op is itself a cell: [[AXIS 1] [LITERAL x]] evaluates
	// both branches against subject and pairs the results.
	formula := noun.Cell(op1(AXIS, noun.FromUint64Compact(1)), lit(noun.AtomFromByte(9)))
	got := mustEval(t, subject, formula, eff, 1000)
	l, r, ok := got.Cells()
	if !ok {
		t.Fatalf("distribute result = %v, want a cell", got)
	}
	if !noun.Equal(l, subject) || !noun.Equal(r, noun.AtomFromByte(9)) {
		t.Fatalf("distribute result = [%v %v], want [%v %v]", l, r, subject, noun.AtomFromByte(9))
	}
}

func mustBytes(t *testing.T, n noun.Noun) []byte {
	t.Helper()
	bs, ok := n.Bytes()
	if !ok {
		t.Fatalf("%v is not an atom", n)
	}
	return bs
}

func TestEvalMath(t *testing.T) {
	eff := newFakeEffector()
	pair := noun.Cell(lit(noun.FromUint64Compact(5)), lit(noun.FromUint64Compact(3)))

	add := mustEval(t, noun.AtomFromByte(0), op1(ADD, pair), eff, 1000)
	if v, ok := add.Uint64(); !ok || v != 8 {
		t.Fatalf("5 add 3 = %v, want 8", add)
	}

	xor := mustEval(t, noun.AtomFromByte(0), op1(XOR, pair), eff, 1000)
	if v, ok := xor.Uint64(); !ok || v != 6 {
		t.Fatalf("5 xor 3 = %v, want 6", xor)
	}

	less := mustEval(t, noun.AtomFromByte(0), op1(LESS, pair), eff, 1000)
	if b, ok := less.Byte(); !ok || b != 0 {
		t.Fatalf("5 less 3 = %v, want false", less)
	}

	invert := mustEval(t, noun.AtomFromByte(0), op1(INVERT, lit(noun.AtomFromByte(0))), eff, 1000)
	if b, ok := invert.Byte(); !ok || b != 0xff {
		t.Fatalf("invert 0 = %v, want 255", invert)
	}
}

func TestEvalMathNonAtomic(t *testing.T) {
	eff := newFakeEffector()
	pair := noun.Cell(lit(noun.Cell(noun.AtomFromByte(1), noun.AtomFromByte(2))), lit(noun.FromUint64Compact(3)))
	err := evalErr(t, noun.AtomFromByte(0), op1(ADD, pair), eff, 1000)
	ee, ok := err.(*EvalError)
	if !ok || ee.Kind != NonAtomicMath {
		t.Fatalf("got %v, want NonAtomicMath", err)
	}
}

func TestEvalShapeAndReshape(t *testing.T) {
	eff := newFakeEffector()
	data := noun.Cell(noun.Atom([]byte("ab")), noun.Atom([]byte("cde")))

	shape := mustEval(t, noun.AtomFromByte(0), op1(SHAPE, lit(data)), eff, 1000)
	l, r, ok := shape.Cells()
	if !ok {
		t.Fatalf("shape result = %v, want a cell", shape)
	}
	if lv, ok := l.Uint64(); !ok || lv != 2 {
		t.Fatalf("shape left = %v, want 2", l)
	}
	if rv, ok := r.Uint64(); !ok || rv != 3 {
		t.Fatalf("shape right = %v, want 3", r)
	}

	// Reshape the same data against its own shape and expect the
	// original leaves back.
	template := noun.Cell(lit(l), lit(r))
	reshapeArg := noun.Cell(lit(data), template)
	reshaped := mustEval(t, noun.AtomFromByte(0), op1(RESHAPE, reshapeArg), eff, 1000)
	rl, rr, ok := reshaped.Cells()
	if !ok {
		t.Fatalf("reshape result = %v, want a cell", reshaped)
	}
	if string(mustBytes(t, rl)) != "ab" || string(mustBytes(t, rr)) != "cde" {
		t.Fatalf("reshape result = [%q %q], want [\"ab\" \"cde\"]", mustBytes(t, rl), mustBytes(t, rr))
	}
}

func TestEvalHash(t *testing.T) {
	eff := newFakeEffector()
	val := noun.Atom([]byte("payload"))
	got := mustEval(t, noun.AtomFromByte(0), op1(HASH, lit(val)), eff, 1000)
	bs, ok := got.Bytes()
	if !ok || len(bs) != 64 {
		t.Fatalf("hash result = %v, want a 64-byte atom", got)
	}
}

func TestEvalStoreRetrieveByHash(t *testing.T) {
	eff := newFakeEffector()
	val := noun.Atom([]byte("payload"))

	hash := mustEval(t, noun.AtomFromByte(0), op1(STORE_BY_HASH, lit(val)), eff, 1000)

	hit := mustEval(t, noun.AtomFromByte(0), op1(RETRIEVE_BY_HASH, lit(hash)), eff, 1000)
	flag, stored, ok := hit.Cells()
	if !ok {
		t.Fatalf("retrieve-by-hash = %v, want a hit cell", hit)
	}
	if b, ok := flag.Byte(); !ok || b != 1 {
		t.Fatalf("retrieve-by-hash flag = %v, want true", flag)
	}
	if !noun.Equal(stored, val) {
		t.Fatalf("retrieve-by-hash value = %v, want %v", stored, val)
	}

	bogusHash := noun.Atom(make([]byte, 64))
	miss := mustEval(t, noun.AtomFromByte(0), op1(RETRIEVE_BY_HASH, lit(bogusHash)), eff, 1000)
	if b, ok := miss.Byte(); !ok || b != 0 {
		t.Fatalf("retrieve-by-hash of an unknown hash = %v, want miss", miss)
	}
}

func TestEvalStoreRetrieveByKey(t *testing.T) {
	eff := newFakeEffector()
	key := noun.Atom([]byte("k"))
	val := noun.Atom([]byte("v"))

	stored := mustEval(t, noun.AtomFromByte(0), op1(STORE_BY_KEY, noun.Cell(lit(key), lit(val))), eff, 1000)
	if !noun.Equal(stored, val) {
		t.Fatalf("store-by-key result = %v, want %v", stored, val)
	}

	hit := mustEval(t, noun.AtomFromByte(0), op1(RETRIEVE_BY_KEY, lit(key)), eff, 1000)
	flag, got, ok := hit.Cells()
	if !ok {
		t.Fatalf("retrieve-by-key = %v, want a hit cell", hit)
	}
	if b, ok := flag.Byte(); !ok || b != 1 {
		t.Fatalf("retrieve-by-key flag = %v, want true", flag)
	}
	if !noun.Equal(got, val) {
		t.Fatalf("retrieve-by-key value = %v, want %v", got, val)
	}

	miss := mustEval(t, noun.AtomFromByte(0), op1(RETRIEVE_BY_KEY, lit(noun.Atom([]byte("missing")))), eff, 1000)
	if b, ok := miss.Byte(); !ok || b != 0 {
		t.Fatalf("retrieve-by-key of an unknown key = %v, want miss", miss)
	}
}

func TestEvalRandom(t *testing.T) {
	eff := newFakeEffector()
	got := mustEval(t, noun.AtomFromByte(0), op1(RANDOM, lit(noun.FromUint64Compact(4))), eff, 1000)
	bs, ok := got.Bytes()
	if !ok || len(bs) != 4 {
		t.Fatalf("random result = %v, want a 4-byte atom", got)
	}
	want := []byte{0, 1, 2, 3}
	for i := range want {
		if bs[i] != want[i] {
			t.Fatalf("random bytes = %v, want %v", bs, want)
		}
	}
}

func TestEvalGenerateKeypair(t *testing.T) {
	eff := newFakeEffector()
	seed := noun.Atom([]byte("seed"))
	got := mustEval(t, noun.AtomFromByte(0), op1(GENERATE_KEYPAIR, lit(seed)), eff, 1000)
	private, public, ok := got.Cells()
	if !ok {
		t.Fatalf("generate-keypair result = %v, want a cell", got)
	}
	if bs, ok := private.Bytes(); !ok || len(bs) != 32 {
		t.Fatalf("private key = %v, want a 32-byte atom", private)
	}
	seedOut, entropy, ok := public.Cells()
	if !ok || !noun.Equal(seedOut, seed) {
		t.Fatalf("public key seed = %v, want %v", seedOut, seed)
	}
	if bs, ok := entropy.Bytes(); !ok || len(bs) != 32 {
		t.Fatalf("public key entropy = %v, want a 32-byte atom", entropy)
	}

	wantPrivate := derivePrivateKey(public, false, eff.Secret())
	if bs, _ := private.Bytes(); string(bs) != string(wantPrivate[:]) {
		t.Fatalf("private key does not match derivePrivateKey(public, false, secret)")
	}
}

func TestEvalEncryptDecryptRoundTrip(t *testing.T) {
	eff := newFakeEffector()
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	keyNoun := noun.Atom(key[:])
	plaintext := noun.Atom([]byte("secret message"))

	blob := mustEval(t, noun.AtomFromByte(0), op1(ENCRYPT, noun.Cell(lit(keyNoun), lit(plaintext))), eff, 1000)

	decrypted := mustEval(t, noun.AtomFromByte(0), op1(DECRYPT, noun.Cell(lit(keyNoun), lit(blob))), eff, 1000)
	flag, got, ok := decrypted.Cells()
	if !ok {
		t.Fatalf("decrypt result = %v, want a hit cell", decrypted)
	}
	if b, ok := flag.Byte(); !ok || b != 1 {
		t.Fatalf("decrypt flag = %v, want true", flag)
	}
	if !noun.Equal(got, plaintext) {
		t.Fatalf("decrypted value = %v, want %v", got, plaintext)
	}

	var wrongKey [32]byte
	for i := range wrongKey {
		wrongKey[i] = byte(255 - i)
	}
	miss := mustEval(t, noun.AtomFromByte(0), op1(DECRYPT, noun.Cell(lit(noun.Atom(wrongKey[:])), lit(blob))), eff, 1000)
	if b, ok := miss.Byte(); !ok || b != 0 {
		t.Fatalf("decrypt with the wrong key = %v, want miss", miss)
	}
}

func TestEvalExucrypt(t *testing.T) {
	eff := newFakeEffector()
	seed := noun.Atom([]byte("seed"))
	kp := mustEval(t, noun.AtomFromByte(0), op1(GENERATE_KEYPAIR, lit(seed)), eff, 1000)
	_, public, _ := kp.Cells()
	private := derivePrivateKey(public, false, eff.Secret())

	program := op1(LITERAL, noun.Atom([]byte("exucrypt result")))
	programBytes, err := canonicalize(program)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	blob, err := seal(private, [sealedNonceSize]byte{1, 2, 3, 4, 5, 6, 7, 8}, programBytes)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got := mustEval(t, noun.AtomFromByte(0), op1(EXUCRYPT, noun.Cell(lit(public), lit(noun.Atom(blob)))), eff, 1000)
	flag, result, ok := got.Cells()
	if !ok {
		t.Fatalf("exucrypt result = %v, want a hit cell", got)
	}
	if b, ok := flag.Byte(); !ok || b != 1 {
		t.Fatalf("exucrypt flag = %v, want true", flag)
	}
	// The result comes back re-sealed under K(pub); opening it with the
	// same key recovers the program's output.
	resultBytes, ok := open(private, mustBytes(t, result))
	if !ok {
		t.Fatalf("exucrypt value does not open under K(pub)")
	}
	decoded, err := noun.Deserialize(resultBytes)
	if err != nil || string(mustBytes(t, decoded)) != "exucrypt result" {
		t.Fatalf("exucrypt value opens to %v (err %v), want \"exucrypt result\"", decoded, err)
	}
}

func TestEvalAtomicFormula(t *testing.T) {
	eff := newFakeEffector()
	err := evalErr(t, noun.AtomFromByte(0), noun.AtomFromByte(5), eff, 1000)
	ee, ok := err.(*EvalError)
	if !ok || ee.Kind != AtomicFormula {
		t.Fatalf("got %v, want AtomicFormula", err)
	}
}

func TestEvalBadOpcode(t *testing.T) {
	eff := newFakeEffector()
	err := evalErr(t, noun.AtomFromByte(0), op1(200, noun.AtomFromByte(0)), eff, 1000)
	ee, ok := err.(*EvalError)
	if !ok || ee.Kind != BadOpcode || ee.Byte != 200 {
		t.Fatalf("got %v, want BadOpcode(200)", err)
	}
}

func TestEvalReservedOpcode(t *testing.T) {
	eff := newFakeEffector()
	for b := byte(ReservedOpcodeMin); b <= ReservedOpcodeMax; b++ {
		err := evalErr(t, noun.AtomFromByte(0), op1(b, noun.AtomFromByte(0)), eff, 1000)
		ee, ok := err.(*EvalError)
		if !ok || ee.Kind != BadOpcode || ee.Byte != b {
			t.Fatalf("reserved opcode %d: got %v, want BadOpcode(%d)", b, err, b)
		}
	}
}

func TestEvalTickLimitExceeded(t *testing.T) {
	eff := newFakeEffector()
	err := evalErr(t, noun.AtomFromByte(0), op1(LITERAL, noun.AtomFromByte(1)), eff, 0)
	ee, ok := err.(*EvalError)
	if !ok || ee.Kind != TickLimitExceeded {
		t.Fatalf("got %v, want TickLimitExceeded", err)
	}
}

func TestEvalDeepRecursionConstantBudget(t *testing.T) {
	// A chain of RECURSE steps should cost a fixed few ticks per step
	// (three here: the dispatch plus its two LITERAL sub-evaluations), not
	// grow with host stack depth: this is the tail contraction the
	// evaluator's loop exists to provide.
	eff := newFakeEffector()

	// formula: 5000 nested RECURSE layers, each replacing the subject
	// with 0 and continuing with the next layer's formula, ending in axis
	// 1. No decrement opcode exists, so the nesting fixes the number of
	// iterations instead of arithmetic on the subject.
	const iterations = 5000
	formula := op1(AXIS, noun.FromUint64Compact(1))
	for i := 0; i < iterations; i++ {
		formula = op1(RECURSE, noun.Cell(lit(noun.AtomFromByte(0)), lit(formula)))
	}
	ticks := noun.NewTicks(uint64(iterations)*4 + 10)
	_, err := Eval(noun.AtomFromByte(0), formula, eff, ticks)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
}
