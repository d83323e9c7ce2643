package noun

// Equal reports full structural equality: atoms compare by value,
// cells compare head-wise then tail-wise.  The walk is iterative and
// short-circuits on representation identity and on mug mismatch.
func Equal(a, b Noun) bool {
	type pair struct{ a, b Noun }
	stack := []pair{{a, b}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if Same(p.a, p.b) {
			continue
		}
		if p.a.IsCell() != p.b.IsCell() {
			return false
		}
		if p.a.h != nil && p.b.h != nil && Mug(p.a) != Mug(p.b) {
			return false
		}
		if p.a.IsAtom() {
			// Not Same, so at least one side is indirect.
			// Atoms are normalized: an indirect atom never
			// fits in a word.
			av, aok := p.a.Uint64()
			bv, bok := p.b.Uint64()
			if aok != bok {
				return false
			}
			if aok {
				if av != bv {
					return false
				}
				continue
			}
			if p.a.Big().Cmp(p.b.Big()) != 0 {
				return false
			}
			continue
		}
		stack = append(stack, pair{p.a.Head(), p.b.Head()})
		stack = append(stack, pair{p.a.Tail(), p.b.Tail()})
	}
	return true
}
