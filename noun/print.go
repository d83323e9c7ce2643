package noun

import (
	"strings"
)

// String renders n in the syntax Parse reads.  Cells flatten along
// the tail: cell(1, cell(2, 3)) prints as [1 2 3].
func (n Noun) String() string {
	var b strings.Builder
	write(&b, n)
	return b.String()
}

type printOp struct {
	n       Noun
	literal string
}

func write(b *strings.Builder, root Noun) {
	// Iterative with an explicit stack, so printing a deep noun
	// for a diagnostic cannot itself blow the stack.
	stack := []printOp{{n: root}}
	for len(stack) > 0 {
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if op.literal != "" {
			b.WriteString(op.literal)
			continue
		}
		n := op.n
		if n.IsAtom() {
			if v, ok := n.Uint64(); ok {
				writeUint(b, v)
			} else {
				b.WriteString(n.Big().String())
			}
			continue
		}
		b.WriteByte('[')
		var elems []Noun
		for n.IsCell() {
			elems = append(elems, n.Head())
			n = n.Tail()
		}
		elems = append(elems, n)
		stack = append(stack, printOp{literal: "]"})
		for i := len(elems) - 1; i >= 0; i-- {
			if i > 0 {
				stack = append(stack, printOp{n: elems[i]}, printOp{literal: " "})
			} else {
				stack = append(stack, printOp{n: elems[i]})
			}
		}
	}
}

func writeUint(b *strings.Builder, v uint64) {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	b.Write(buf[i:])
}
