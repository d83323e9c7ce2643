// loamd runs a kernel: it boots (or recovers) a root noun, applies
// external events to it through couplings, and keeps it durable.
//
// Input payloads are noun text.  A payload starting with '?' is a
// peek: the rest is a formula reduced against the current root,
// read-only.  Anything else is poked into the kernel.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/noxide/loam/jet"
	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/pier"
	"github.com/noxide/loam/sio"
	"github.com/noxide/loam/util"
)

func main() {
	var (
		configFile = flag.String("c", "loamd.yaml", "configuration filename")
		bootFile   = flag.String("b", "", "noun-text file for the boot kernel (overrides config)")
	)
	flag.BoolVar(&util.Logging, "v", false, "log lots of wonderful things")
	flag.Parse()

	conf, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *bootFile != "" {
		conf.Boot = *bootFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, conf); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, conf *Config) error {
	h := noun.NewHeap()
	h.Debug = conf.Debug

	jets := jet.NewRegistry(h, conf.Memo)
	jets.Debug = conf.Debug
	mode, err := conf.JetMode()
	if err != nil {
		return err
	}
	jets.Mode = mode
	if err := bindJets(h, jets, conf.Jets); err != nil {
		return err
	}

	store, err := conf.OpenStore(ctx, h)
	if err != nil {
		return err
	}

	p := pier.New(h, jets, store, pier.Config{
		PokeAxis: conf.PokeAxis,
		Control:  &nock.Control{Limit: conf.Limit},
		Debug:    conf.Debug,
	})

	recovered, err := p.Recover(ctx)
	if err != nil {
		return err
	}
	if !recovered {
		if conf.Boot == "" {
			return fmt.Errorf("nothing to recover and no boot kernel")
		}
		src, err := ioutil.ReadFile(conf.Boot)
		if err != nil {
			return err
		}
		root, err := h.Parse(string(bytes.TrimSpace(src)))
		if err != nil {
			return err
		}
		err = p.Boot(ctx, root)
		h.Lose(root)
		if err != nil {
			return err
		}
		log.Printf("booted from %s", conf.Boot)
	} else {
		log.Printf("recovered at seq %d", p.Seq())
	}

	in := make(chan sio.Input, 8)
	couplings, err := conf.Couplings()
	if err != nil {
		return err
	}
	for _, c := range couplings {
		if err := c.Start(ctx, in); err != nil {
			return err
		}
		defer c.Stop(ctx)
	}

	var snapAt <-chan time.Time
	var schedule *cronexpr.Expression
	if conf.Snapshots != "" {
		schedule, err = cronexpr.Parse(conf.Snapshots)
		if err != nil {
			return fmt.Errorf("bad snapshot schedule: %w", err)
		}
		snapAt = time.After(time.Until(schedule.Next(time.Now())))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// The loop below is the only code that touches the heap.
	for {
		select {
		case <-ctx.Done():
			return p.Close(context.Background())

		case <-sigs:
			log.Printf("shutting down at seq %d", p.Seq())
			if err := p.Snap(ctx); err != nil {
				log.Printf("final snapshot failed: %s", err)
			}
			cancel()
			return p.Close(context.Background())

		case <-snapAt:
			if err := p.Snap(ctx); err != nil {
				log.Printf("snapshot failed: %s", err)
			}
			snapAt = time.After(time.Until(schedule.Next(time.Now())))

		case input := <-in:
			handle(ctx, p, h, input)
		}
	}
}

func handle(ctx context.Context, p *pier.Pier, h *noun.Heap, input sio.Input) {
	respond := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		if input.Reply == nil {
			log.Printf("%s (no reply path for %s)", msg, input.Source)
			return
		}
		if err := input.Reply([]byte(msg)); err != nil {
			log.Printf("reply to %s failed: %s", input.Source, err)
		}
	}

	body := bytes.TrimSpace(input.Body)
	if len(body) > 0 && body[0] == '?' {
		fml, err := h.Parse(string(bytes.TrimSpace(body[1:])))
		if err != nil {
			respond("bad formula: %s", err)
			return
		}
		product, err := p.Peek(ctx, fml)
		h.Lose(fml)
		if err != nil {
			respond("peek failed: %s", err)
			return
		}
		respond("%s", product)
		h.Lose(product)
		return
	}

	event, err := h.Parse(string(body))
	if err != nil {
		respond("bad event: %s", err)
		return
	}
	err = p.Poke(ctx, event)
	h.Lose(event)
	if err != nil {
		respond("poke failed: %s", err)
		return
	}
	respond("ok %d", p.Seq())
}

// bindJets attaches natives to the batteries named in the
// configuration.
func bindJets(h *noun.Heap, r *jet.Registry, bindings []JetBinding) error {
	natives := jet.Natives()
	for _, b := range bindings {
		j, ok := natives[b.Name]
		if !ok {
			return fmt.Errorf("no native named %q", b.Name)
		}
		core, err := h.Parse(b.Core)
		if err != nil {
			return fmt.Errorf("jet %q core: %w", b.Name, err)
		}
		axis := b.Axis
		if axis == 0 {
			axis = 2
		}
		_, err = r.Bind(core, axis, j)
		h.Lose(core)
		if err != nil {
			return err
		}
	}
	return nil
}
