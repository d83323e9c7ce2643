package noun

import "math/big"

// Tree addressing: axis 1 is the whole noun, axis 2n the head of the
// node at axis n, axis 2n+1 its tail.

// Frag fetches the sub-noun of subject at the given axis.  The
// result is borrowed from subject.  ok is false if the axis is 0 or
// runs off the subject's shape.
func Frag(axis Noun, subject Noun) (Noun, bool) {
	if !axis.IsAtom() {
		return Noun{}, false
	}
	if v, ok := axis.Uint64(); ok {
		return fragSmall(v, subject)
	}
	return fragBig(axis.Big(), subject)
}

func fragSmall(axis uint64, subject Noun) (Noun, bool) {
	if axis == 0 {
		return Noun{}, false
	}
	// Walk the bits below the leading 1, high to low.
	top := 63
	for top > 0 && axis&(1<<uint(top)) == 0 {
		top--
	}
	for i := top - 1; i >= 0; i-- {
		if !subject.IsCell() {
			return Noun{}, false
		}
		if axis&(1<<uint(i)) == 0 {
			subject = subject.Head()
		} else {
			subject = subject.Tail()
		}
	}
	return subject, true
}

func fragBig(axis *big.Int, subject Noun) (Noun, bool) {
	if axis.Sign() == 0 {
		return Noun{}, false
	}
	for i := axis.BitLen() - 2; i >= 0; i-- {
		if !subject.IsCell() {
			return Noun{}, false
		}
		if axis.Bit(i) == 0 {
			subject = subject.Head()
		} else {
			subject = subject.Tail()
		}
	}
	return subject, true
}

// Edit returns a copy of target with the sub-noun at the given axis
// replaced by value.  Ownership of target and value transfers in;
// the result is owned by the caller.  ok is false (and ownership is
// returned untouched) if the axis is 0 or exceeds target's shape.
func (h *Heap) Edit(axis Noun, target, value Noun) (Noun, bool) {
	if !axis.IsAtom() {
		return Noun{}, false
	}
	big := axis.Big()
	if big.Sign() == 0 {
		return Noun{}, false
	}

	// Descend, remembering each branch taken and the sibling left
	// behind.
	type step struct {
		tookHead bool
		sibling  Noun // borrowed from target
	}
	steps := make([]step, 0, big.BitLen())
	at := target
	for i := big.BitLen() - 2; i >= 0; i-- {
		if !at.IsCell() {
			return Noun{}, false
		}
		if big.Bit(i) == 0 {
			steps = append(steps, step{tookHead: true, sibling: at.Tail()})
			at = at.Head()
		} else {
			steps = append(steps, step{tookHead: false, sibling: at.Head()})
			at = at.Tail()
		}
	}

	// Rebuild bottom-up.  Siblings are shared with target, so
	// they are gained before target is released.
	out := value
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.tookHead {
			out = h.Cell(out, h.Gain(s.sibling))
		} else {
			out = h.Cell(h.Gain(s.sibling), out)
		}
	}
	h.Lose(target)
	return out, true
}
