package jet

import (
	"context"
	"math/big"

	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
)

// Natives returns the standard catalog of native implementations,
// keyed by name.  These assume the gate convention: the core's
// sample sits at axis 6 and holds the arguments.
//
// The catalog is open-ended.  Nothing here is registered until the
// embedder binds an entry to a concrete battery with Registry.Bind;
// a battery whose arm does not compute what the native computes will
// be caught by verification, not by this table.
func Natives() map[string]*Jet {
	return map[string]*Jet{
		"dec": {
			Name:   "dec",
			Class:  Pure,
			Native: decJet,
			Doc:    "Decrement: sample `a` yields `a - 1`. Punts on 0, where the counting-up loop does not terminate.",
		},
		"add": {
			Name:   "add",
			Class:  Memo,
			Native: addJet,
			Doc:    "Addition: sample `[a b]` yields `a + b`.",
		},
		"sub": {
			Name:   "sub",
			Class:  Pure,
			Native: subJet,
			Doc:    "Subtraction: sample `[a b]` yields `a - b`. Punts when `b` exceeds `a`.",
		},
		"mul": {
			Name:   "mul",
			Class:  Memo,
			Native: mulJet,
			Doc:    "Multiplication: sample `[a b]` yields `a * b`.",
		},
		"lth": {
			Name:   "lth",
			Class:  Pure,
			Native: lthJet,
			Doc:    "Order: sample `[a b]` yields loobean 0 when `a < b`.",
		},
	}
}

// sampleAxis is the conventional axis of a gate's argument.
const sampleAxis = 6

func gateSample(h *noun.Heap, core noun.Noun) (noun.Noun, bool) {
	return noun.Frag(h.Atom(sampleAxis), core)
}

func gatePair(h *noun.Heap, core noun.Noun) (*big.Int, *big.Int, bool) {
	sample, ok := gateSample(h, core)
	if !ok || !sample.IsCell() {
		return nil, nil, false
	}
	a, b := sample.Head(), sample.Tail()
	if !a.IsAtom() || !b.IsAtom() {
		return nil, nil, false
	}
	return a.Big(), b.Big(), true
}

func decJet(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
	sample, ok := gateSample(h, core)
	if !ok || !sample.IsAtom() {
		return noun.Noun{}, ErrPunt
	}
	if v, small := sample.Uint64(); small {
		if v == 0 {
			return noun.Noun{}, ErrPunt
		}
		return h.Atom(v - 1), nil
	}
	a := sample.Big()
	return h.BigAtom(a.Sub(a, big.NewInt(1))), nil
}

func addJet(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
	a, b, ok := gatePair(h, core)
	if !ok {
		return noun.Noun{}, ErrPunt
	}
	return h.BigAtom(a.Add(a, b)), nil
}

func subJet(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
	a, b, ok := gatePair(h, core)
	if !ok || a.Cmp(b) < 0 {
		return noun.Noun{}, ErrPunt
	}
	return h.BigAtom(a.Sub(a, b)), nil
}

func mulJet(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
	a, b, ok := gatePair(h, core)
	if !ok {
		return noun.Noun{}, ErrPunt
	}
	return h.BigAtom(a.Mul(a, b)), nil
}

func lthJet(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
	a, b, ok := gatePair(h, core)
	if !ok {
		return noun.Noun{}, ErrPunt
	}
	return noun.Loob(a.Cmp(b) < 0), nil
}
