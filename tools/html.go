// Package tools renders human-facing reports: the jet registry as an
// HTML page and nouns as Graphviz graphs.
package tools

import (
	"fmt"
	"io"
	"sort"

	md "github.com/russross/blackfriday/v2"

	"github.com/noxide/loam/jet"
)

// RenderJetsHTML writes the registry's entries as an HTML table.
// Each jet's Doc is markdown.
func RenderJetsHTML(r *jet.Registry, out io.Writer) error {
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(out, format+"\n", args...)
	}

	jets := r.Jets()
	sigs := make([]jet.Signature, 0, len(jets))
	for sig := range jets {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool {
		if jets[sigs[i]].Name != jets[sigs[j]].Name {
			return jets[sigs[i]].Name < jets[sigs[j]].Name
		}
		return sigs[i].Battery < sigs[j].Battery
	})

	f(`<div class="jets"><table>`)
	f(`<tr><th>name</th><th>battery</th><th>axis</th><th>class</th><th>native</th><th></th></tr>`)
	for _, sig := range sigs {
		j := jets[sig]
		native := "no"
		if j.Native != nil {
			native = "yes"
		}
		f(`<tr class="jet"><td><span class="jetName">%s</span></td><td><code>%08x</code></td><td>%d</td><td>%s</td><td>%s</td><td>`,
			j.Name, sig.Battery, sig.Axis, className(j.Class), native)
		if j.Doc != "" {
			f(`<div class="jetDoc doc">%s</div>`, md.Run([]byte(j.Doc)))
		}
		f(`</td></tr>`)
	}
	f(`</table></div>`)

	return nil
}

// RenderJetsPage wraps RenderJetsHTML in a complete page.
func RenderJetsPage(r *jet.Registry, title string, out io.Writer, cssFiles []string) error {
	fmt.Fprintf(out, `<!DOCTYPE html>
<meta charset="utf-8">
<html>
  <head>
  <title>%s</title>
`, title)

	for _, cssFile := range cssFiles {
		fmt.Fprintf(out, "  <link href=%q rel=\"stylesheet\">\n", cssFile)
	}

	fmt.Fprintf(out, `
  </head>
  <body>
    <h1>%s</h1>
`, title)

	if err := RenderJetsHTML(r, out); err != nil {
		return err
	}

	fmt.Fprintf(out, `
  </body>
</html>
`)
	return nil
}

func className(c jet.Class) string {
	switch c {
	case jet.Pure:
		return "pure"
	case jet.Memo:
		return "memo"
	case jet.Stateful:
		return "stateful"
	}
	return fmt.Sprintf("class %d", c)
}
