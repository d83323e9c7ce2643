package jet

import (
	"context"
	"strconv"
	"testing"

	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util/testutil"
)

func TestMemoClassDispatch(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 64)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, addBattery, "add")

	// First invocation computes and caches; the transaction
	// commits as an embedder would around a successful event.
	m := h.Mark()
	core := gate(t, h, addBattery, "[20 22]")
	product, err := slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "42")
	r.Commit()
	h.Rollback(m)

	if s := r.Stats(); s.Hits != 1 || s.MemoHits != 0 {
		t.Fatalf("stats %+v", s)
	}

	// A structurally equal core built later hits the cache without
	// running anything.
	m = h.Mark()
	core = gate(t, h, addBattery, "[20 22]")
	product, err = slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "42")
	r.Commit()
	h.Rollback(m)

	if s := r.Stats(); s.MemoHits != 1 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoHint(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 64)
	i := &nock.Interp{Heap: h, Jets: r}

	// The hinted formula decrements; the product of the first run
	// is served from the cache on the second.
	fml := "[10 %memo " + decLoop + "]"

	run := func(subject string) {
		m := h.Mark()
		sub := testutil.N(t, h, subject)
		f := testutil.N(t, h, fml)
		product, err := i.Reduce(context.Background(), sub, f, nil)
		if err != nil {
			t.Fatal(err)
		}
		testutil.Eq(t, h, product, "99")
		h.Lose(product)
		h.Lose(f)
		h.Lose(sub)
		r.Commit()
		h.Rollback(m)
	}

	run("100")
	if s := r.Stats(); s.MemoHits != 0 {
		t.Fatalf("stats %+v", s)
	}
	run("100")
	if s := r.Stats(); s.MemoHits != 1 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoAbortDropsPending(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 64)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, addBattery, "add")

	m := h.Mark()
	core := gate(t, h, addBattery, "[1 2]")
	product, err := slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	h.Lose(product)
	r.Abort()
	h.Rollback(m)

	// Nothing was committed, so the same core computes again.
	m = h.Mark()
	core = gate(t, h, addBattery, "[1 2]")
	product, err = slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "3")
	r.Commit()
	h.Rollback(m)

	if s := r.Stats(); s.MemoHits != 0 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoPendingServesSameReduction(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 64)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, addBattery, "add")

	// Two invocations of the same core inside one reduction: the
	// second is served from the pending entries before any commit.
	m := h.Mark()
	core := gate(t, h, addBattery, "[5 6]")
	fml := testutil.N(t, h, "[[9 2 0 1] [9 2 0 1]]")
	product, err := i.Reduce(context.Background(), core, fml, nil)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "[11 11]")
	if s := r.Stats(); s.MemoHits != 1 {
		t.Fatalf("stats %+v", s)
	}
	r.Commit()
	h.Rollback(m)

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestMemoEvictionReleasesEntries(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 2)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, addBattery, "add")

	// More distinct computations than the cache holds: evictions
	// must release their root-frame references even while a frame
	// is open.
	for k := 0; k < 10; k++ {
		m := h.Mark()
		core := gate(t, h, addBattery, "["+strconv.Itoa(k)+" 1]")
		product, err := slam(t, h, i, core)
		if err != nil {
			t.Fatal(err)
		}
		testutil.Eq(t, h, product, strconv.Itoa(k+1))
		r.Commit()
		h.Rollback(m)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}
