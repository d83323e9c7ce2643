package tools

import (
	"fmt"
	"io"

	"github.com/noxide/loam/noun"
)

// RenderDot writes n as a Graphviz digraph.  Shared structure shows
// up as shared nodes, so the graph makes sharing (and the lack of it)
// visible in a way the printed form cannot.
func RenderDot(n noun.Noun, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	f("digraph noun {")
	f("  node [shape=circle];")

	ids := make(map[noun.Noun]int)
	id := func(n noun.Noun) int {
		if i, ok := ids[n]; ok {
			return i
		}
		i := len(ids)
		ids[n] = i
		return i
	}

	seen := make(map[int]bool)
	stack := []noun.Noun{n}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i := id(m)
		if seen[i] {
			continue
		}
		seen[i] = true
		if m.IsAtom() {
			f("  n%d [shape=box label=%q];", i, m.String())
			continue
		}
		f("  n%d [label=\"\"];", i)
		f("  n%d -> n%d [label=\"h\"];", i, id(m.Head()))
		f("  n%d -> n%d [label=\"t\"];", i, id(m.Tail()))
		stack = append(stack, m.Tail(), m.Head())
	}

	f("}")
	return nil
}
