package jet

import (
	"context"
	"errors"
	"testing"

	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util/testutil"
)

// Loop-based arithmetic batteries for gates: the sample sits at axis
// 6, and [7 [0 6] ...] re-subjects the arm to it.

// decLoop counts up to its subject's predecessor.
const decLoop = "[8 [1 0] [8 [1 [6 [5 [0 7] [4 0 6]] [0 6] [9 2 [10 [6 [4 0 6]] [0 1]]]]] [9 2 0 1]]]"

// decBattery applies decLoop to the sample.
const decBattery = "[7 [0 6] " + decLoop + "]"

// addBattery counts both halves of the sample toward their sum.
const addBattery = "[7 [0 6] [8 [1 0] [8 [1 [6 [5 [0 6] [0 14]] [0 15] [9 2 [10 [6 [4 0 6]] [10 [15 [4 0 15]] [0 1]]]]]] [9 2 0 1]]]]"

// lieBattery ignores its sample entirely.
const lieBattery = "[1 999]"

// gate builds [battery sample 0].
func gate(t *testing.T, h *noun.Heap, battery, sample string) noun.Noun {
	t.Helper()
	b := testutil.N(t, h, battery)
	s := testutil.N(t, h, sample)
	return h.Cell(b, h.Cell(s, h.Atom(0)))
}

// slam reduces [9 2 0 1] against core.
func slam(t *testing.T, h *noun.Heap, i *nock.Interp, core noun.Noun) (noun.Noun, error) {
	t.Helper()
	fml := testutil.N(t, h, "[9 2 0 1]")
	product, err := i.Reduce(context.Background(), core, fml, nil)
	h.Lose(fml)
	return product, err
}

func bind(t *testing.T, h *noun.Heap, r *Registry, battery, name string) {
	t.Helper()
	core := gate(t, h, battery, "0")
	if _, err := r.Bind(core, 2, Natives()[name]); err != nil {
		t.Fatal(err)
	}
	h.Lose(core)
}

func TestSignatureOf(t *testing.T) {
	h := noun.NewHeap()

	core := gate(t, h, addBattery, "[2 3]")
	sig, ok := SignatureOf(core, h.Atom(2))
	if !ok {
		t.Fatal("should have a signature")
	}
	if sig.Battery != noun.Mug(core.Head()) || sig.Axis != 2 {
		t.Fatalf("%+v", sig)
	}

	// Same battery, different sample: same signature.
	other := gate(t, h, addBattery, "[70 80]")
	sig2, _ := SignatureOf(other, h.Atom(2))
	if sig != sig2 {
		t.Fatal("signature should ignore the payload")
	}

	// Different axis: different signature.
	sig3, _ := SignatureOf(core, h.Atom(3))
	if sig == sig3 {
		t.Fatal("signature should include the axis")
	}

	if _, ok := SignatureOf(h.Atom(7), h.Atom(2)); ok {
		t.Fatal("an atom is not a core")
	}

	h.Lose(core)
	h.Lose(other)
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchProduction(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, decBattery, "dec")

	core := gate(t, h, decBattery, "42")
	product, err := slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "41")
	h.Lose(product)
	h.Lose(core)

	if s := r.Stats(); s.Hits != 1 {
		t.Fatalf("stats %+v", s)
	}

	// An unregistered battery misses and interprets.
	core = gate(t, h, addBattery, "[20 22]")
	product, err = slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "42")
	h.Lose(product)
	h.Lose(core)

	if s := r.Stats(); s.Hits != 1 || s.Misses == 0 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchVerify(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	r.Mode = Verify
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, decBattery, "dec")
	bind(t, h, r, addBattery, "add")

	// Honest natives verify clean.
	core := gate(t, h, addBattery, "[2 3]")
	product, err := slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "5")
	h.Lose(product)
	h.Lose(core)
	if s := r.Stats(); s.Mismatches != 0 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchMismatch(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	r.Mode = Verify
	i := &nock.Interp{Heap: h, Jets: r}
	// The arm computes 999; the native computes a+b.
	bind(t, h, r, lieBattery, "add")

	m := h.Mark()
	core := gate(t, h, lieBattery, "[2 3]")
	_, err := slam(t, h, i, core)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want a mismatch", err)
	}
	if _, ok := nock.Trapped(err); ok {
		t.Fatal("a mismatch is an internal error, not a trap")
	}
	if s := r.Stats(); s.Mismatches != 1 {
		t.Fatalf("stats %+v", s)
	}
	r.Abort()
	h.Rollback(m)

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchFallback(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	r.Mode = Fallback
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, lieBattery, "add")

	// The divergent native is discarded; the interpreted product
	// wins.
	core := gate(t, h, lieBattery, "[2 3]")
	product, err := slam(t, h, i, core)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eq(t, h, product, "999")
	h.Lose(product)
	h.Lose(core)
	if s := r.Stats(); s.Mismatches != 1 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestPuntFallsBackToInterpretation(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, decBattery, "dec")

	// dec punts on 0, where the counting loop diverges; the
	// budget proves the interpreter took over.
	m := h.Mark()
	core := gate(t, h, decBattery, "0")
	fml := testutil.N(t, h, "[9 2 0 1]")
	_, err := i.Reduce(context.Background(), core, fml, &nock.Control{Limit: 5000})
	trap, ok := nock.Trapped(err)
	if !ok || trap.Kind != nock.Interrupted {
		t.Fatalf("got %v", err)
	}
	if s := r.Stats(); s.Hits != 0 {
		t.Fatalf("stats %+v", s)
	}
	r.Abort()
	h.Rollback(m)

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestNativeTrap(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	i := &nock.Interp{Heap: h, Jets: r}

	boom := &Jet{
		Name:  "boom",
		Class: Pure,
		Native: func(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error) {
			return noun.Noun{}, &nock.Trap{Kind: nock.BadAddress, Detail: "boom"}
		},
	}
	core := gate(t, h, lieBattery, "0")
	if _, err := r.Bind(core, 2, boom); err != nil {
		t.Fatal(err)
	}

	m := h.Mark()
	attempt := h.Gain(core)
	_, err := slam(t, h, i, attempt)
	trap, ok := nock.Trapped(err)
	if !ok || trap.Kind != nock.BadAddress {
		t.Fatalf("got %v", err)
	}
	r.Abort()
	h.Rollback(m)

	h.Lose(core)
	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}

func TestNativesCatalog(t *testing.T) {
	h := noun.NewHeap()
	r := NewRegistry(h, 0)
	r.Mode = Verify
	i := &nock.Interp{Heap: h, Jets: r}
	bind(t, h, r, decBattery, "dec")
	bind(t, h, r, addBattery, "add")

	for _, tc := range []struct {
		battery string
		sample  string
		want    string
	}{
		{decBattery, "1", "0"},
		{decBattery, "100", "99"},
		{addBattery, "[0 0]", "0"},
		{addBattery, "[17 25]", "42"},
	} {
		core := gate(t, h, tc.battery, tc.sample)
		product, err := slam(t, h, i, core)
		if err != nil {
			t.Fatal(err)
		}
		testutil.Eq(t, h, product, tc.want)
		h.Lose(product)
		h.Lose(core)
	}
	if s := r.Stats(); s.Mismatches != 0 {
		t.Fatalf("stats %+v", s)
	}

	r.Close()
	if err := h.CheckLeaks(); err != nil {
		t.Fatal(err)
	}
}
