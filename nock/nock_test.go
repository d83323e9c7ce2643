package nock

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util/testutil"
)

func reduceText(t *testing.T, h *noun.Heap, i *Interp, subject, formula string, c *Control) (noun.Noun, error) {
	t.Helper()
	sub := testutil.N(t, h, subject)
	fml := testutil.N(t, h, formula)
	product, err := i.Reduce(context.Background(), sub, fml, c)
	h.Lose(sub)
	h.Lose(fml)
	return product, err
}

func TestReduce(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	for _, tc := range []struct {
		name    string
		subject string
		formula string
		want    string
	}{
		{"fetch head", "[[4 5] 6 14 15]", "[0 2]", "[4 5]"},
		{"fetch increment", "[1 2]", "[4 0 3]", "3"},
		{"select then", "5", "[6 [1 0] [4 0 1] [1 233]]", "6"},
		{"select else", "5", "[6 [1 1] [4 0 1] [1 233]]", "233"},
		{"fetch whole", "42", "[0 1]", "42"},
		{"fetch deep", "[[4 5] 6 14 15]", "[0 14]", "14"},
		{"constant", "0", "[1 [42 43]]", "[42 43]"},
		{"constant atom", "999", "[1 17]", "17"},
		{"apply", "77", "[2 [1 42] [1 4 0 1]]", "43"},
		{"depth cell", "0", "[3 1 [1 2]]", "0"},
		{"depth atom", "0", "[3 1 17]", "1"},
		{"increment", "41", "[4 0 1]", "42"},
		{"equal yes", "[42 42]", "[5 [0 2] [0 3]]", "0"},
		{"equal no", "[42 43]", "[5 [0 2] [0 3]]", "1"},
		{"compose", "[1 2]", "[7 [4 0 3] [4 0 1]]", "4"},
		{"push", "42", "[8 [4 0 1] [0 2]]", "43"},
		{"push keeps subject", "42", "[8 [4 0 1] [0 3]]", "42"},
		{"invoke", "0", "[9 2 [1 [4 0 3] 5]]", "6"},
		{"static hint", "41", "[10 99 [4 0 1]]", "42"},
		{"dynamic hint", "41", "[10 [[1 0] [0 1]] [4 0 1]]", "42"},
		{"edit", "[[4 5] [6 14 15]]", "[10 [14 [1 0]] [0 1]]", "[[4 5] [6 0 15]]"},
		{"edit whole", "42", "[10 [1 [1 [7 8]]] [0 1]]", "[7 8]"},
		{"autocons", "[1 2]", "[[4 0 3] [0 2]]", "[3 1]"},
		{"autocons nested", "5", "[[1 6] [1 7] [1 8]]", "[6 7 8]"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			product, err := reduceText(t, h, i, tc.subject, tc.formula, nil)
			if err != nil {
				t.Fatal(err)
			}
			testutil.Eq(t, h, product, tc.want)
			h.Lose(product)
		})
	}

	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestIncrementWideAtom(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	max := new(big.Int).SetUint64(^uint64(0))
	sub := h.BigAtom(max)
	fml := testutil.N(t, h, "[4 0 1]")
	product, err := i.Reduce(context.Background(), sub, fml, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := new(big.Int).Add(max, big.NewInt(1))
	if product.Big().Cmp(want) != 0 {
		t.Fatalf("got %s", product)
	}
	h.Lose(sub)
	h.Lose(fml)
	h.Lose(product)
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestTraps(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	for _, tc := range []struct {
		name    string
		subject string
		formula string
		kind    TrapKind
	}{
		{"atom formula", "0", "[2 [1 42] [1 17]]", BadFormula},
		{"unknown operator", "0", "[11 0 1]", BadFormula},
		{"axis zero", "42", "[0 0]", BadAddress},
		{"axis off shape", "42", "[0 2]", BadAddress},
		{"invoke off shape", "0", "[9 4 [1 5 6]]", BadAddress},
		{"increment cell", "[1 2]", "[4 0 1]", NotAtom},
		{"selector cell", "0", "[6 [1 1 2] [1 0] [1 0]]", NotLoobean},
		{"selector 2", "0", "[6 [1 2] [1 0] [1 0]]", NotLoobean},
		{"edit bad axis", "42", "[10 [2 [1 9]] [0 1]]", BadAddress},
		{"malformed 2", "0", "[2 1]", BadFormula},
		{"malformed 6", "0", "[6 [1 0] [1 0]]", BadFormula},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := h.Mark()
			product, err := reduceText(t, h, i, tc.subject, tc.formula, nil)
			if err == nil {
				t.Fatalf("got %s, want a trap", product)
			}
			trap, ok := Trapped(err)
			if !ok {
				t.Fatalf("not a trap: %s", err)
			}
			if trap.Kind != tc.kind {
				t.Fatalf("kind %s, want %s", trap.Kind, tc.kind)
			}
			// References abandoned by the trap belong to the
			// frame.
			h.Rollback(m)
		})
	}

	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

// decFormula counts up to the sample's predecessor:
//
//	push 0, then loop: done when +(counter) equals the sample.
const decFormula = "[8 [1 0] [8 [1 [6 [5 [0 7] [4 0 6]] [0 6] [9 2 [10 [6 [4 0 6]] [0 1]]]]] [9 2 0 1]]]"

func TestDecLoop(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	for _, tc := range []struct {
		subject string
		want    string
	}{
		{"1", "0"},
		{"2", "1"},
		{"42", "41"},
		{"500", "499"},
	} {
		product, err := reduceText(t, h, i, tc.subject, decFormula, nil)
		if err != nil {
			t.Fatal(err)
		}
		testutil.Eq(t, h, product, tc.want)
		h.Lose(product)
	}

	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestStepBudget(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	// Decrementing 0 counts up forever; the budget must stop it.
	m := h.Mark()
	product, err := reduceText(t, h, i, "0", decFormula, &Control{Limit: 10000})
	if err == nil {
		t.Fatalf("got %s, want Interrupted", product)
	}
	trap, ok := Trapped(err)
	if !ok || trap.Kind != Interrupted {
		t.Fatalf("got %s", err)
	}
	h.Rollback(m)

	// The same budget is plenty for a terminating run.
	product, err = reduceText(t, h, i, "42", decFormula, &Control{Limit: 10000})
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "41")
	h.Lose(product)

	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestContextCancel(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := h.Mark()
	sub := testutil.N(t, h, "0")
	fml := testutil.N(t, h, decFormula)
	_, err := i.Reduce(ctx, sub, fml, nil)
	trap, ok := Trapped(err)
	if !ok || trap.Kind != Interrupted {
		t.Fatalf("got %v", err)
	}
	h.Lose(sub)
	h.Lose(fml)
	h.Rollback(m)

	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestTailRecursionDepth(t *testing.T) {
	h := noun.NewHeap()
	i := &Interp{Heap: h}

	// A counting loop with hundreds of thousands of iterations
	// must run in constant native stack: every iteration is a tail
	// position of ops 9, 10, and 6.
	product, err := reduceText(t, h, i, "300000", decFormula, nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "299999")
	h.Lose(product)
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestTrapError(t *testing.T) {
	err := error(&Trap{Kind: BadAddress, Detail: "0"})
	if !strings.Contains(err.Error(), "bad-address") {
		t.Fatalf("got %q", err)
	}
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatal("errors.As should find the trap")
	}
	if _, ok := Trapped(errors.New("nope")); ok {
		t.Fatal("Trapped should reject other errors")
	}
}
