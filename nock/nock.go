package nock

import (
	"context"
	"math/big"

	"github.com/noxide/loam/noun"
)

// DefaultControl will be used by Interp.Reduce if the given control
// is nil.
var DefaultControl = &Control{}

// Control influences how a reduction runs.
type Control struct {
	// Limit is the maximum number of operator applications.  0
	// means no limit.  The budget is checked only at operator
	// boundaries: a reduction is interruptible between operator
	// applications, never inside one.
	Limit int
}

// Caller re-enters the interpreter synchronously on the same thread,
// sharing the step budget of the enclosing reduction.  A native jet
// that needs to interpret a non-accelerated sub-core goes through
// its Caller.
//
// Subject and formula are borrowed; the product is owned by the
// caller.
type Caller interface {
	Reduce(ctx context.Context, subject, formula noun.Noun) (noun.Noun, error)
}

// Dispatcher is consulted at every invocation point (operator 9) and
// at memoization hints.  The zero dispatch is pure interpretation:
// an Interp with a nil Dispatcher just interprets.
type Dispatcher interface {
	// Dispatch may run a native equivalent of the arm at the
	// given axis within core.  It reports whether it produced
	// the product.  Core and axis are borrowed; a produced
	// product is owned by the caller.
	Dispatch(ctx context.Context, caller Caller, core, axis noun.Noun) (noun.Noun, bool, error)

	// MemoGet consults the memo cache for a prior product of
	// reducing formula against subject.  A hit is returned as an
	// owned reference.
	MemoGet(subject, formula noun.Noun) (noun.Noun, bool)

	// MemoPut offers a product for caching.  All three nouns are
	// borrowed.
	MemoPut(subject, formula, product noun.Noun)
}

// Interp reduces (subject, formula) pairs against a Heap, consulting
// Jets at every invocation point when Jets is non-nil.
//
// An Interp is single-threaded: one reduction at a time, and any
// reentry (from a jet) happens synchronously on the same thread.
type Interp struct {
	Heap *noun.Heap
	Jets Dispatcher
}

// memoTag is the hint atom %memo: products of the hinted formula are
// worth caching by (formula, subject).
const memoTag = 0x6f6d656d

// Reduce computes the product of formula against subject, or a
// *Trap.
//
// Subject and formula are borrowed; the product is owned by the
// caller.  On a Trap, reference counts taken during the attempt are
// not unwound: the caller is expected to have opened a frame
// (Heap.Mark) around the attempt and to roll it back, which reclaims
// the partial computation in O(1).
func (i *Interp) Reduce(ctx context.Context, subject, formula noun.Noun, c *Control) (noun.Noun, error) {
	if c == nil {
		c = DefaultControl
	}
	budget := c.Limit
	if c.Limit == 0 {
		budget = -1
	}
	return i.reduce(ctx, i.Heap.Gain(subject), i.Heap.Gain(formula), &budget)
}

// reentry is the Caller handed to jets.  It shares the enclosing
// reduction's budget.
type reentry struct {
	i      *Interp
	budget *int
}

func (r reentry) Reduce(ctx context.Context, subject, formula noun.Noun) (noun.Noun, error) {
	return r.i.reduce(ctx, r.i.Heap.Gain(subject), r.i.Heap.Gain(formula), r.budget)
}

// reduce owns sub and fml and either consumes them into the returned
// product or abandons them to the enclosing frame on a Trap.
//
// Tail positions (the final applications of operators 2, 6, 7, 8, 9
// and 10) loop rather than recurse, so iterated reductions run in
// constant native stack.  Operand sub-evaluations recurse; their
// depth is bounded by the structural nesting of the formula itself.
func (i *Interp) reduce(ctx context.Context, sub, fml noun.Noun, budget *int) (noun.Noun, error) {
	h := i.Heap
	for {
		// Operator boundary: the only interruption points.
		if *budget == 0 {
			return noun.Noun{}, &Trap{Kind: Interrupted, Detail: "step budget exhausted"}
		}
		if *budget > 0 {
			*budget--
		}
		if err := ctx.Err(); err != nil {
			return noun.Noun{}, &Trap{Kind: Interrupted, Detail: err.Error()}
		}

		if !fml.IsCell() {
			return noun.Noun{}, &Trap{Kind: BadFormula, Detail: "atom as formula"}
		}
		op := fml.Head()
		args := fml.Tail()

		// A cell in operator position distributes: both halves
		// reduce against the same subject and the products
		// pair up.
		if op.IsCell() {
			lp, err := i.reduce(ctx, h.Gain(sub), h.Gain(op), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			rp, err := i.reduce(ctx, h.Gain(sub), h.Gain(args), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			product := h.Cell(lp, rp)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil
		}

		opv, small := op.Uint64()
		if !small || opv > 10 {
			return noun.Noun{}, &Trap{Kind: BadFormula, Detail: "unknown operator"}
		}

		switch opv {
		case 0: // fetch
			frag, ok := noun.Frag(args, sub)
			if !ok {
				return noun.Noun{}, &Trap{Kind: BadAddress, Detail: args.String()}
			}
			product := h.Gain(frag)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil

		case 1: // constant
			product := h.Gain(args)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil

		case 2: // apply
			b, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			bp, err := i.reduce(ctx, h.Gain(sub), h.Gain(b), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			cp, err := i.reduce(ctx, h.Gain(sub), h.Gain(c), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			h.Lose(sub)
			h.Lose(fml)
			sub, fml = bp, cp

		case 3: // depth test
			p, err := i.reduce(ctx, h.Gain(sub), h.Gain(args), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			product := noun.Loob(p.IsCell())
			h.Lose(p)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil

		case 4: // increment
			p, err := i.reduce(ctx, h.Gain(sub), h.Gain(args), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			if !p.IsAtom() {
				return noun.Noun{}, &Trap{Kind: NotAtom, Detail: "increment of a cell"}
			}
			product := i.succ(p)
			h.Lose(p)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil

		case 5: // structural equality
			b, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			bp, err := i.reduce(ctx, h.Gain(sub), h.Gain(b), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			cp, err := i.reduce(ctx, h.Gain(sub), h.Gain(c), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			product := noun.Loob(noun.Equal(bp, cp))
			h.Lose(bp)
			h.Lose(cp)
			h.Lose(sub)
			h.Lose(fml)
			return product, nil

		case 6: // select
			b, cd, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			c, d, ok := split(cd)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			t, err := i.reduce(ctx, h.Gain(sub), h.Gain(b), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			tv, small := t.Uint64()
			if !small || tv > 1 {
				return noun.Noun{}, &Trap{Kind: NotLoobean, Detail: "selector " + t.String()}
			}
			h.Lose(t)
			var branch noun.Noun
			if tv == noun.Yes {
				branch = h.Gain(c)
			} else {
				branch = h.Gain(d)
			}
			h.Lose(fml)
			fml = branch

		case 7: // compose
			b, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			newSub, err := i.reduce(ctx, h.Gain(sub), h.Gain(b), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			next := h.Gain(c)
			h.Lose(sub)
			h.Lose(fml)
			sub, fml = newSub, next

		case 8: // push
			b, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			p, err := i.reduce(ctx, h.Gain(sub), h.Gain(b), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			next := h.Gain(c)
			h.Lose(fml)
			sub = h.Cell(p, sub)
			fml = next

		case 9: // invoke
			b, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			core, err := i.reduce(ctx, h.Gain(sub), h.Gain(c), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			if i.Jets != nil {
				product, hit, err := i.Jets.Dispatch(ctx, reentry{i, budget}, core, b)
				if err != nil {
					h.Lose(core)
					return noun.Noun{}, err
				}
				if hit {
					h.Lose(core)
					h.Lose(sub)
					h.Lose(fml)
					return product, nil
				}
			}
			arm, ok := noun.Frag(b, core)
			if !ok {
				return noun.Noun{}, &Trap{Kind: BadAddress, Detail: b.String()}
			}
			next := h.Gain(arm)
			h.Lose(sub)
			h.Lose(fml)
			sub, fml = core, next

		case 10: // hint or edit
			hint, c, ok := split(args)
			if !ok {
				return noun.Noun{}, badOperands()
			}
			if hint.IsAtom() {
				// Static annotation.  Memoization is the
				// one the reducer itself acts on, via the
				// dispatcher; everything else just names
				// the hinted formula for tooling.
				if v, _ := hint.Uint64(); v == memoTag && i.Jets != nil {
					return i.memoized(ctx, sub, fml, c, budget)
				}
				next := h.Gain(c)
				h.Lose(fml)
				fml = next
				break
			}
			if ax := hint.Head(); ax.IsAtom() && !isZero(ax) {
				// Edit: c's product with the noun at the
				// edit axis overwritten.
				val, err := i.reduce(ctx, h.Gain(sub), h.Gain(hint.Tail()), budget)
				if err != nil {
					return noun.Noun{}, err
				}
				res, err := i.reduce(ctx, h.Gain(sub), h.Gain(c), budget)
				if err != nil {
					return noun.Noun{}, err
				}
				product, ok := h.Edit(ax, res, val)
				if !ok {
					return noun.Noun{}, &Trap{Kind: BadAddress, Detail: "edit at " + ax.String()}
				}
				h.Lose(sub)
				h.Lose(fml)
				return product, nil
			}
			// Dynamic annotation: a bare formula whose
			// product is discarded.  A Trap in it still
			// aborts the reduction.
			p, err := i.reduce(ctx, h.Gain(sub), h.Gain(hint), budget)
			if err != nil {
				return noun.Noun{}, err
			}
			h.Lose(p)
			next := h.Gain(c)
			h.Lose(fml)
			fml = next
		}
	}
}

// memoized reduces c against sub through the dispatcher's memo
// cache.  Consumes sub and fml.
func (i *Interp) memoized(ctx context.Context, sub, fml, c noun.Noun, budget *int) (noun.Noun, error) {
	h := i.Heap
	if product, hit := i.Jets.MemoGet(sub, c); hit {
		h.Lose(sub)
		h.Lose(fml)
		return product, nil
	}
	product, err := i.reduce(ctx, h.Gain(sub), h.Gain(c), budget)
	if err != nil {
		return noun.Noun{}, err
	}
	i.Jets.MemoPut(sub, c, product)
	h.Lose(sub)
	h.Lose(fml)
	return product, nil
}

func (i *Interp) succ(a noun.Noun) noun.Noun {
	if v, ok := a.Uint64(); ok && v < ^uint64(0) {
		return i.Heap.Atom(v + 1)
	}
	b := a.Big()
	return i.Heap.BigAtom(b.Add(b, big.NewInt(1)))
}

// split destructures a cell into its halves, borrowed.
func split(n noun.Noun) (noun.Noun, noun.Noun, bool) {
	if !n.IsCell() {
		return noun.Noun{}, noun.Noun{}, false
	}
	return n.Head(), n.Tail(), true
}

func isZero(n noun.Noun) bool {
	v, ok := n.Uint64()
	return ok && v == 0
}

func badOperands() error {
	return &Trap{Kind: BadFormula, Detail: "malformed operands"}
}
