package noun

import (
	"fmt"
	"math/big"
	"sort"
)

// maxDirect is the largest atom value held inline.  Atoms at or below
// this bound are always direct; BigAtom normalizes, so an indirect
// atom is always wider than a word.
const maxDirect = ^uint64(0)

// Heap owns every indirect atom and cell, tracks reference counts,
// and provides frame-scoped rollback.
//
// A Heap is exclusively owned by one goroutine during reduction.  It
// is not safe for concurrent mutation.
type Heap struct {
	Debug bool

	// nextGen is the generation tag handed to the next
	// allocation.  Generations only grow.
	nextGen uint64

	// frames[0] is the root frame.  Deeper entries are open
	// marks.
	frames []frame

	// dead records the generation spans invalidated by past
	// rollbacks, in ascending order.  Consulted only by Validate
	// and by debug checks; never walked on the rollback path.
	dead []genSpan

	live int64 // heap records outstanding
	refs int64 // owning references outstanding
}

type frame struct {
	base   uint64
	liveAt int64
	refsAt int64
}

type genSpan struct {
	lo, hi uint64 // [lo, hi)
}

// Mark is a handle on an open allocation frame, as returned by
// Heap.Mark.
type Mark struct {
	depth int
	base  uint64
}

// NewHeap creates an empty Heap with only the root frame open.
func NewHeap() *Heap {
	return &Heap{
		nextGen: 1,
		frames:  []frame{{base: 0}},
	}
}

// Atom returns the direct atom for v.  Direct atoms are not heap
// records: they have no reference count and never need Gain or Lose.
func (h *Heap) Atom(v uint64) Noun {
	return Noun{v: v}
}

// BigAtom allocates an atom for the given value, copying it.
// Values that fit in a word come back direct.
func (h *Heap) BigAtom(v *big.Int) Noun {
	if v.Sign() < 0 {
		panic("noun: negative atom")
	}
	if v.IsUint64() {
		return Noun{v: v.Uint64()}
	}
	p := &heapNoun{
		refs: 1,
		gen:  h.alloc(),
		big:  new(big.Int).Set(v),
	}
	return Noun{h: p}
}

// Bytes allocates an atom from bytes in LSB-first order.
func (h *Heap) Bytes(bs []byte) Noun {
	rev := make([]byte, len(bs))
	for i, b := range bs {
		rev[len(bs)-1-i] = b
	}
	return h.BigAtom(new(big.Int).SetBytes(rev))
}

// Cell allocates a cell.  Ownership of head and tail transfers into
// the cell: the caller's references are absorbed, not duplicated.
func (h *Heap) Cell(head, tail Noun) Noun {
	p := &heapNoun{
		refs: 1,
		gen:  h.alloc(),
		head: head,
		tail: tail,
	}
	return Noun{h: p}
}

func (h *Heap) alloc() uint64 {
	g := h.nextGen
	h.nextGen++
	h.live++
	h.refs++
	return g
}

// current returns the base generation of the innermost frame.
func (h *Heap) current() uint64 {
	return h.frames[len(h.frames)-1].base
}

// Gain increments n's reference count and returns n.
//
// Gains on nouns senior to the current frame are no-ops: a senior
// noun outlives every junior frame, and junior references to it are
// never counted, so rollback cannot strand a count.
func (h *Heap) Gain(n Noun) Noun {
	if n.h == nil {
		return n
	}
	n.h.check()
	if n.h.gen < h.current() {
		return n
	}
	n.h.refs++
	h.refs++
	return n
}

// Lose releases one owning reference to n.  When the last reference
// goes, the record is reclaimed and, for a cell, its children are
// released via an explicit work list.
//
// Losing a noun whose count is already zero is a double free: a
// corrupted store, not a recoverable condition.  Lose panics rather
// than continue silently.
func (h *Heap) Lose(n Noun) {
	if n.h == nil {
		return
	}
	work := []*heapNoun{n.h}
	base := h.current()
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if p.gen < base {
			continue
		}
		if p.refs <= 0 {
			panic(fmt.Sprintf("noun: double free (refs=%d gen=%d)", p.refs, p.gen))
		}
		p.refs--
		h.refs--
		if p.refs > 0 {
			continue
		}
		h.live--
		if p.big == nil {
			if q := p.head.h; q != nil {
				work = append(work, q)
			}
			if q := p.tail.h; q != nil {
				work = append(work, q)
			}
		}
		p.refs = refsPoisoned
		p.big = nil
		p.head = Noun{}
		p.tail = Noun{}
	}
}

// Mark opens a new allocation frame and returns its handle.
// Everything allocated after Mark, in this frame or any deeper one,
// is reclaimed by Rollback unless first promoted past the mark.
func (h *Heap) Mark() Mark {
	base := h.nextGen
	h.nextGen++ // reserve, so nested frame bases are strictly increasing
	h.frames = append(h.frames, frame{
		base:   base,
		liveAt: h.live,
		refsAt: h.refs,
	})
	return Mark{depth: len(h.frames) - 1, base: base}
}

// Rollback discards every allocation tagged to m's frame or any
// frame opened after it, in O(1): the allocator's position and
// accounting are reset to their values at Mark, and the generation
// span is recorded as dead.  Individual records are not walked and
// no reference counts are adjusted.
func (h *Heap) Rollback(m Mark) {
	if m.depth <= 0 || m.depth >= len(h.frames) || h.frames[m.depth].base != m.base {
		panic("noun: rollback of a frame that is not open")
	}
	f := h.frames[m.depth]
	h.dead = append(h.dead, genSpan{lo: f.base, hi: h.nextGen})
	h.live = f.liveAt
	h.refs = f.refsAt
	h.frames = h.frames[:m.depth]
}

// Promote copies n past the mark m so that it survives Rollback(m).
//
// The frame-local part of n's subgraph is copied into the enclosing
// frame, preserving internal sharing; parts already senior to m are
// shared in place.  The returned noun is an owned reference in the
// enclosing frame.  The caller's reference to n dies with the frame
// as usual.
func (h *Heap) Promote(n Noun, m Mark) Noun {
	if m.depth <= 0 || m.depth >= len(h.frames) || h.frames[m.depth].base != m.base {
		panic("noun: promote past a frame that is not open")
	}
	// Destination generation: the last generation belonging to
	// the enclosing frame.  Mark reserved it, so it is always
	// senior to m.base and junior to the enclosing frame's own
	// mark.
	dest := m.base - 1
	destBase := h.frames[m.depth-1].base

	out, copies, gained := h.promoteCopy(n, m.base, dest, destBase)

	// The frames junior to the destination snapshotted their
	// accounting before these records existed.  Teach them.
	for j := m.depth; j < len(h.frames); j++ {
		h.frames[j].liveAt += copies
		h.frames[j].refsAt += copies + gained
	}
	return out
}

// promoteCopy copies the junior (gen >= kill) part of root into
// generation dest.  Copying is iterative: a visit stack plus a memo
// table keyed by source record, which also preserves sharing within
// the copied subgraph.
//
// Shared seniors are reference-counted only when they belong to the
// destination frame (gen >= destBase).  More-senior records outlive
// the destination frame wholesale and are never counted from it.
func (h *Heap) promoteCopy(root Noun, kill, dest, destBase uint64) (Noun, int64, int64) {
	var copies, gained int64

	countShare := func(p *heapNoun) {
		if p.gen >= destBase {
			p.refs++
			h.refs++
			gained++
		}
	}

	if root.h == nil {
		return root, 0, 0
	}
	root.h.check()
	if root.h.gen < kill {
		countShare(root.h)
		return root, copies, gained
	}

	memo := make(map[*heapNoun]Noun)
	linked := make(map[*heapNoun]bool)

	// link resolves a child reference of a copy under
	// construction.  The first link to a fresh copy consumes its
	// initial count; every other link is a gain.
	link := func(n Noun) Noun {
		if n.h == nil {
			return n
		}
		if n.h.gen < kill {
			countShare(n.h)
			return n
		}
		c := memo[n.h]
		if linked[c.h] {
			c.h.refs++
			h.refs++
			gained++
		} else {
			linked[c.h] = true
		}
		return c
	}

	stack := []*heapNoun{root.h}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		if _, done := memo[p]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		p.check()
		if p.big != nil {
			memo[p] = Noun{h: &heapNoun{refs: 1, gen: dest, mug: p.mug, big: p.big}}
			h.live++
			h.refs++
			copies++
			stack = stack[:len(stack)-1]
			continue
		}
		ready := true
		for _, c := range []Noun{p.head, p.tail} {
			if c.h != nil && c.h.gen >= kill {
				if _, done := memo[c.h]; !done {
					stack = append(stack, c.h)
					ready = false
				}
			}
		}
		if !ready {
			continue
		}
		memo[p] = Noun{h: &heapNoun{
			refs: 1,
			gen:  dest,
			mug:  p.mug,
			head: link(p.head),
			tail: link(p.tail),
		}}
		h.live++
		h.refs++
		copies++
		stack = stack[:len(stack)-1]
	}
	return memo[root.h], copies, gained
}

// Export copies n into the root frame so that it survives every
// rollback.  Parts already owned by the root frame are shared and
// counted.  The result is an owned root-frame reference; release it
// with LoseSenior.  Caches that must outlive computation frames hold
// their entries this way.
func (h *Heap) Export(n Noun) Noun {
	if len(h.frames) == 1 {
		return h.Gain(n)
	}
	kill := h.frames[1].base
	out, copies, gained := h.promoteCopy(n, kill, 0, 0)
	for j := 1; j < len(h.frames); j++ {
		h.frames[j].liveAt += copies
		h.frames[j].refsAt += copies + gained
	}
	return out
}

// LoseSenior releases a root-frame reference (as produced by Export)
// even while junior frames are open.  Open frames' accounting
// snapshots are adjusted so that a later rollback does not resurrect
// the released counts.
func (h *Heap) LoseSenior(n Noun) {
	if n.h == nil {
		return
	}
	refs0, live0 := h.refs, h.live
	work := []*heapNoun{n.h}
	base := h.frames[0].base
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if p.gen < base {
			continue
		}
		if p.refs <= 0 {
			panic(fmt.Sprintf("noun: double free (refs=%d gen=%d)", p.refs, p.gen))
		}
		p.refs--
		h.refs--
		if p.refs > 0 {
			continue
		}
		h.live--
		if p.big == nil {
			if q := p.head.h; q != nil {
				work = append(work, q)
			}
			if q := p.tail.h; q != nil {
				work = append(work, q)
			}
		}
		p.refs = refsPoisoned
		p.big = nil
		p.head = Noun{}
		p.tail = Noun{}
	}
	dr, dl := h.refs-refs0, h.live-live0
	for j := 1; j < len(h.frames); j++ {
		h.frames[j].refsAt += dr
		h.frames[j].liveAt += dl
	}
}

// Validate reports whether n is a live noun: not reclaimed and not
// tagged to a rolled-back generation span.  Intended for debugging
// and diagnostics; the hot paths rely on check() poisoning.
func (h *Heap) Validate(n Noun) error {
	if n.h == nil {
		return nil
	}
	if n.h.refs <= 0 {
		return fmt.Errorf("noun: dead record (refs=%d)", n.h.refs)
	}
	g := n.h.gen
	i := sort.Search(len(h.dead), func(i int) bool { return h.dead[i].hi > g })
	if i < len(h.dead) && h.dead[i].lo <= g {
		return fmt.Errorf("noun: record in rolled-back span [%d,%d)", h.dead[i].lo, h.dead[i].hi)
	}
	return nil
}

// Stats describes the heap's accounting.
type Stats struct {
	Live   int64  // heap records outstanding
	Refs   int64  // owning references outstanding
	Frames int    // open frames, including the root
	Gen    uint64 // next generation tag
}

func (h *Heap) Stats() Stats {
	return Stats{
		Live:   h.live,
		Refs:   h.refs,
		Frames: len(h.frames),
		Gen:    h.nextGen,
	}
}

// CheckLeaks is the teardown diagnostic: with every frame closed and
// every root released, both counters should be zero.  A positive
// count is a leak; a negative count is an over-release that slipped
// past the double-free check.
func (h *Heap) CheckLeaks() error {
	if len(h.frames) != 1 {
		return fmt.Errorf("noun: %d frames still open", len(h.frames)-1)
	}
	if h.live != 0 || h.refs != 0 {
		return fmt.Errorf("noun: leak check: %d records, %d references outstanding", h.live, h.refs)
	}
	return nil
}
