// nock reduces a formula against a subject and prints the product.
//
// Usage:
//
//	nock SUBJECT FORMULA
//	echo "[subject formula]" | nock
//
// Both forms take noun text.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util"
)

func main() {
	var (
		limit = flag.Int("limit", 0, "maximum operator applications (0: unlimited)")
		stats = flag.Bool("stats", false, "print heap statistics to stderr")
	)
	flag.BoolVar(&util.Logging, "v", false, "log lots of wonderful things")
	flag.Parse()

	h := noun.NewHeap()
	i := &nock.Interp{Heap: h}
	c := &nock.Control{Limit: *limit}
	ctx := context.Background()

	eval := func(subject, formula noun.Noun) {
		product, err := i.Reduce(ctx, subject, formula, c)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(product)
		h.Lose(product)
	}

	switch flag.NArg() {
	case 2:
		subject, err := h.Parse(flag.Arg(0))
		if err != nil {
			log.Fatalf("subject: %s", err)
		}
		formula, err := h.Parse(flag.Arg(1))
		if err != nil {
			log.Fatalf("formula: %s", err)
		}
		eval(subject, formula)
		h.Lose(subject)
		h.Lose(formula)

	case 0:
		// Each line is [subject formula].
		in := bufio.NewScanner(os.Stdin)
		in.Buffer(make([]byte, 1<<20), 1<<20)
		for in.Scan() {
			line := strings.TrimSpace(in.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			pair, err := h.Parse(line)
			if err != nil {
				log.Fatal(err)
			}
			if !pair.IsCell() {
				log.Fatalf("want [subject formula], got %s", pair)
			}
			eval(pair.Head(), pair.Tail())
			h.Lose(pair)
		}
		if err := in.Err(); err != nil {
			log.Fatal(err)
		}

	default:
		fmt.Fprintln(os.Stderr, "usage: nock SUBJECT FORMULA")
		os.Exit(1)
	}

	if *stats {
		fmt.Fprintf(os.Stderr, "%+v\n", h.Stats())
	}
	if err := h.CheckLeaks(); err != nil {
		log.Fatal(err)
	}
}
