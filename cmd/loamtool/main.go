// loamtool inspects piers and renders reports.
//
//	loamtool snap -d pier          print the snapshot root
//	loamtool log -d pier           list the logged events
//	loamtool dot '[noun]'          render noun text as Graphviz
//	loamtool jets                  render the native catalog as HTML
//
// The -db flag switches snap and log to a bolt store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/noxide/loam/checkpoint"
	"github.com/noxide/loam/jet"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/tools"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx := context.Background()
	h := noun.NewHeap()

	switch os.Args[1] {
	case "snap":
		store := openStore(ctx, h, os.Args[2:])
		defer store.Close(ctx)
		seq, root, ok, err := store.LatestSnapshot(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if !ok {
			log.Fatal("no snapshot")
		}
		fmt.Printf("seq %d mug %08x\n%s\n", seq, noun.Mug(root), root)
		h.Lose(root)

	case "log":
		store := openStore(ctx, h, os.Args[2:])
		defer store.Close(ctx)
		err := store.Events(ctx, 0, func(seq uint64, event noun.Noun) error {
			fmt.Printf("%d %s\n", seq, event)
			h.Lose(event)
			return nil
		})
		if err != nil {
			log.Fatal(err)
		}

	case "dot":
		if len(os.Args) != 3 {
			usage()
		}
		n, err := h.Parse(os.Args[2])
		if err != nil {
			log.Fatal(err)
		}
		if err := tools.RenderDot(n, os.Stdout); err != nil {
			log.Fatal(err)
		}
		h.Lose(n)

	case "jets":
		r := jet.NewRegistry(h, 0)
		for name, j := range jet.Natives() {
			// No batteries here, so key on the name alone.
			c := h.Cord(name)
			r.Register(jet.Signature{Battery: noun.Mug(c)}, j)
			h.Lose(c)
		}
		if err := tools.RenderJetsPage(r, "native catalog", os.Stdout, nil); err != nil {
			log.Fatal(err)
		}

	default:
		usage()
	}

	if err := h.CheckLeaks(); err != nil {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, h *noun.Heap, args []string) checkpoint.Store {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	dir := fs.String("d", "pier", "pier directory")
	db := fs.String("db", "", "bolt database filename (instead of a directory)")
	fs.Parse(args)

	var store checkpoint.Store
	if *db != "" {
		store = checkpoint.NewBolt(h, *db)
	} else {
		store = checkpoint.NewDir(h, *dir)
	}
	if err := store.Open(ctx); err != nil {
		log.Fatal(err)
	}
	return store
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: loamtool {snap|log|dot|jets} ...")
	os.Exit(1)
}
