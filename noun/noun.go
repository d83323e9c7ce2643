package noun

import (
	"math/big"
)

// A Noun is an atom or a cell.
//
// Atoms are arbitrary-precision unsigned integers.  An atom whose
// value fits in a machine word is "direct": it lives entirely in the
// Noun value itself and costs no heap storage.  Larger atoms and all
// cells are backed by heap records owned by a Heap.
//
// The zero Noun is the atom 0.
type Noun struct {
	v uint64
	h *heapNoun
}

// heapNoun backs an indirect atom or a cell.
//
// big is non-nil exactly when the record is an indirect atom.
type heapNoun struct {
	refs int32
	gen  uint64
	mug  uint32

	big *big.Int

	head Noun
	tail Noun
}

// refsPoisoned marks a record that has been reclaimed.  Touching a
// poisoned record is a use-after-free.
const refsPoisoned = -1

// IsAtom reports whether n is an atom.
func (n Noun) IsAtom() bool {
	return n.h == nil || n.h.big != nil
}

// IsCell reports whether n is a cell.
func (n Noun) IsCell() bool {
	return n.h != nil && n.h.big == nil
}

// Uint64 returns the atom's value if n is an atom that fits in a
// uint64.
//
// All atoms that fit are direct (see Heap.BigAtom normalization), so
// the second result is false exactly for cells and for atoms wider
// than a word.
func (n Noun) Uint64() (uint64, bool) {
	if n.h == nil {
		return n.v, true
	}
	return 0, false
}

// Big returns the atom's value as a new big.Int.  Panics if n is a
// cell.
func (n Noun) Big() *big.Int {
	if n.h == nil {
		return new(big.Int).SetUint64(n.v)
	}
	if n.h.big == nil {
		panic("noun: Big on a cell")
	}
	n.h.check()
	return new(big.Int).Set(n.h.big)
}

// Head returns the head of a cell.  Panics if n is an atom.
//
// The result is borrowed: it is owned by n, and the caller must Gain
// it to keep it beyond n's lifetime.
func (n Noun) Head() Noun {
	if !n.IsCell() {
		panic("noun: Head of an atom")
	}
	n.h.check()
	return n.h.head
}

// Tail returns the tail of a cell.  Panics if n is an atom.  The
// result is borrowed, as with Head.
func (n Noun) Tail() Noun {
	if !n.IsCell() {
		panic("noun: Tail of an atom")
	}
	n.h.check()
	return n.h.tail
}

// Same reports whether a and b are the same representation: equal
// direct atoms or the same heap record.  Same(a, b) implies
// Equal(a, b) but not conversely.
func Same(a, b Noun) bool {
	if a.h == nil && b.h == nil {
		return a.v == b.v
	}
	return a.h == b.h
}

// Loobean truth values.  0 is yes, 1 is no.
const (
	Yes = 0
	No  = 1
)

// Loob returns the loobean for the given condition.
func Loob(ok bool) Noun {
	if ok {
		return Noun{v: Yes}
	}
	return Noun{v: No}
}

func (p *heapNoun) check() {
	if p.refs <= 0 {
		panic("noun: use after free")
	}
}
