package noun

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Mug returns n's 31-bit content hash.  Equal nouns have equal mugs.
//
// Heap records cache their mug after the first computation.  The
// computation is iterative: children are hashed before parents via an
// explicit stack, so deep structures do not grow the call stack.
func Mug(n Noun) uint32 {
	if n.h == nil {
		return mugUint64(n.v)
	}
	if n.h.mug != 0 {
		return n.h.mug
	}
	stack := []*heapNoun{n.h}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		if p.mug != 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		if p.big != nil {
			p.mug = mugBytes(atomBytes(Noun{h: p}))
			stack = stack[:len(stack)-1]
			continue
		}
		hm, tm := childMug(p.head), childMug(p.tail)
		if hm == 0 {
			stack = append(stack, p.head.h)
		}
		if tm == 0 {
			stack = append(stack, p.tail.h)
		}
		if hm == 0 || tm == 0 {
			continue
		}
		var bs [8]byte
		binary.LittleEndian.PutUint32(bs[0:], hm)
		binary.LittleEndian.PutUint32(bs[4:], tm)
		p.mug = fold(xxhash.Sum64(bs[:]))
		stack = stack[:len(stack)-1]
	}
	return n.h.mug
}

// childMug returns the child's mug if it is already known, else 0.
// Direct atoms are always known.
func childMug(n Noun) uint32 {
	if n.h == nil {
		return mugUint64(n.v)
	}
	return n.h.mug
}

func mugUint64(v uint64) uint32 {
	var bs [8]byte
	binary.LittleEndian.PutUint64(bs[:], v)
	n := 8
	for n > 0 && bs[n-1] == 0 {
		n--
	}
	return mugBytes(bs[:n])
}

func mugBytes(bs []byte) uint32 {
	return fold(xxhash.Sum64(bs))
}

// fold squashes a 64-bit hash to a nonzero 31-bit mug.  Zero is
// reserved to mean "not yet computed".
func fold(h uint64) uint32 {
	m := uint32(h^(h>>32)) & 0x7fffffff
	if m == 0 {
		m = 0x7fffffff
	}
	return m
}

// atomBytes returns an atom's value LSB-first with no trailing
// zeros.  The empty slice represents 0.
func atomBytes(n Noun) []byte {
	if n.h == nil {
		var bs [8]byte
		binary.LittleEndian.PutUint64(bs[:], n.v)
		ln := 8
		for ln > 0 && bs[ln-1] == 0 {
			ln--
		}
		return bs[:ln]
	}
	if n.h.big == nil {
		panic("noun: atomBytes on a cell")
	}
	be := n.h.big.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	return le
}
