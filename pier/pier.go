// Package pier runs a kernel: a root core that absorbs external
// events through a fixed invocation axis, with every committed root
// made durable through a checkpoint store.
//
// A Pier is single-threaded, like the Heap and Interp under it.  The
// embedder serializes Poke, Peek, Snap, and Close onto one goroutine.
package pier

import (
	"context"
	"fmt"

	"github.com/noxide/loam/checkpoint"
	"github.com/noxide/loam/jet"
	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util"
)

// DefaultPokeAxis is the conventional axis of the event arm in a
// kernel core.
const DefaultPokeAxis = 2

// Config shapes a Pier.
type Config struct {
	// PokeAxis is the axis within the root core of the arm that
	// absorbs events.  0 means DefaultPokeAxis.
	PokeAxis uint64

	// Control bounds each reduction.  nil means unbounded.
	Control *nock.Control

	Debug bool
}

// Pier owns the root noun and the store.  The root produced by each
// successful poke replaces the old one; the old reference is
// released.
type Pier struct {
	Debug bool

	heap   *noun.Heap
	interp *nock.Interp
	jets   *jet.Registry
	store  checkpoint.Store

	pokeAxis uint64
	control  *nock.Control

	root noun.Noun
	seq  uint64
}

// ReplayError reports a logged event that no longer reduces during
// recovery.  The store's state is intact; the kernel and its log
// disagree.
type ReplayError struct {
	Seq uint64
	Err error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("pier: replay of event %d failed: %s", e.Seq, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// New assembles a Pier.  The registry must have been created over the
// same heap.  The store should already be open.
func New(h *noun.Heap, jets *jet.Registry, store checkpoint.Store, cfg Config) *Pier {
	axis := cfg.PokeAxis
	if axis == 0 {
		axis = DefaultPokeAxis
	}
	return &Pier{
		Debug:    cfg.Debug,
		heap:     h,
		interp:   &nock.Interp{Heap: h, Jets: jets},
		jets:     jets,
		store:    store,
		pokeAxis: axis,
		control:  cfg.Control,
	}
}

func (p *Pier) logf(format string, args ...interface{}) {
	if p.Debug {
		util.Logf("pier: "+format, args...)
	}
}

// Root is the current root, borrowed.
func (p *Pier) Root() noun.Noun {
	return p.root
}

// Seq is the sequence number of the last committed event.
func (p *Pier) Seq() uint64 {
	return p.seq
}

// Boot installs root (borrowed) as the kernel at sequence 0 and
// writes the initial snapshot, so the store can recover even before
// the first explicit Snap.
func (p *Pier) Boot(ctx context.Context, root noun.Noun) error {
	p.logf("Boot")
	p.root = p.heap.Gain(root)
	p.seq = 0
	return p.store.WriteSnapshot(ctx, 0, p.root)
}

// Recover rebuilds the root from the latest snapshot plus the logged
// events after it.  It reports whether the store held anything to
// recover from.
func (p *Pier) Recover(ctx context.Context) (bool, error) {
	seq, root, ok, err := p.store.LatestSnapshot(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	p.root = root
	p.seq = seq
	replayed := 0
	err = p.store.Events(ctx, seq, func(eseq uint64, event noun.Noun) error {
		defer p.heap.Lose(event)
		if eseq != p.seq+1 {
			return &ReplayError{Seq: eseq, Err: fmt.Errorf("expected event %d", p.seq+1)}
		}
		if err := p.apply(ctx, event, false); err != nil {
			return &ReplayError{Seq: eseq, Err: err}
		}
		replayed++
		return nil
	})
	if err != nil {
		return false, err
	}
	p.logf("Recover snapshot=%d replayed=%d", seq, replayed)
	return true, nil
}

// Poke applies one external event to the kernel.  The event is
// borrowed.  On success the kernel's product is the new root and the
// event is durably logged before Poke returns.  On failure (a
// *nock.Trap, a *jet.MismatchError, or a store error) the root is
// unchanged and every allocation of the attempt has been reclaimed.
func (p *Pier) Poke(ctx context.Context, event noun.Noun) error {
	if err := p.apply(ctx, event, true); err != nil {
		return err
	}
	p.logf("Poke committed seq=%d", p.seq)
	return nil
}

// apply reduces one event against the root and installs the product.
// It does the whole transaction under one frame: on any failure the
// rollback reclaims the attempt in O(1) and the root is untouched.
//
// The log append sits between the successful reduction and the
// install: a trapped event is never logged (replay must not see it),
// and an event is never installed before it is durable.
func (p *Pier) apply(ctx context.Context, event noun.Noun, record bool) error {
	h := p.heap
	m := h.Mark()
	fml := p.pokeFormula(event)
	product, err := p.interp.Reduce(ctx, p.root, fml, p.control)
	if err != nil {
		p.jets.Abort()
		h.Rollback(m)
		return err
	}
	h.Lose(fml)
	if record {
		if err := p.store.AppendEvent(ctx, p.seq+1, event); err != nil {
			p.jets.Abort()
			h.Rollback(m)
			return err
		}
	}
	// Promotion must precede the memo commit: an eviction during
	// commit may release structure the product still shares while
	// it lives in the doomed frame.
	next := h.Promote(product, m)
	p.jets.Commit()
	h.Rollback(m)
	h.Lose(p.root)
	p.root = next
	p.seq++
	return nil
}

// pokeFormula builds, in the current frame,
//
//	[9 pokeAxis [10 [6 [1 event]] [0 1]]]
//
// which replaces the kernel's sample with the event and invokes the
// event arm.
func (p *Pier) pokeFormula(event noun.Noun) noun.Noun {
	h := p.heap
	edit := h.Cell(
		h.Atom(10),
		h.Cell(
			h.Cell(h.Atom(6), h.Cell(h.Atom(1), h.Gain(event))),
			h.Cell(h.Atom(0), h.Atom(1)),
		),
	)
	return h.Cell(h.Atom(9), h.Cell(h.Atom(p.pokeAxis), edit))
}

// Peek reduces formula (borrowed) against the current root without
// committing anything.  The product is owned by the caller.  Memo
// entries earned during the peek are kept; they are products, not
// state.
func (p *Pier) Peek(ctx context.Context, formula noun.Noun) (noun.Noun, error) {
	h := p.heap
	m := h.Mark()
	product, err := p.interp.Reduce(ctx, p.root, formula, p.control)
	if err != nil {
		p.jets.Abort()
		h.Rollback(m)
		return noun.Noun{}, err
	}
	out := h.Promote(product, m)
	p.jets.Commit()
	h.Rollback(m)
	return out, nil
}

// Snap writes a snapshot of the current root and compacts the log
// behind it.
func (p *Pier) Snap(ctx context.Context) error {
	p.logf("Snap seq=%d", p.seq)
	if err := p.store.WriteSnapshot(ctx, p.seq, p.root); err != nil {
		return err
	}
	return p.store.Compact(ctx, p.seq)
}

// Close releases the root and the caches, closes the store, and
// verifies that nothing leaked.
func (p *Pier) Close(ctx context.Context) error {
	p.jets.Close()
	p.heap.Lose(p.root)
	p.root = noun.Noun{}
	err := p.store.Close(ctx)
	if lerr := p.heap.CheckLeaks(); lerr != nil {
		p.logf("leak check: %s", lerr)
		if err == nil {
			err = lerr
		}
	}
	return err
}
