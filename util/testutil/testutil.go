package testutil

import (
	"testing"

	"github.com/noxide/loam/noun"
)

// N parses a noun literal for a fixture.
func N(t testing.TB, h *noun.Heap, src string) noun.Noun {
	t.Helper()
	n, err := h.Parse(src)
	if err != nil {
		t.Fatalf("parsing %q: %s", src, err)
	}
	return n
}

// Eq fails the test unless got is structurally equal to the noun
// literal want.  The comparison noun is released afterwards, so Eq
// does not disturb leak accounting.
func Eq(t testing.TB, h *noun.Heap, got noun.Noun, want string) {
	t.Helper()
	w := N(t, h, want)
	if !noun.Equal(got, w) {
		t.Fatalf("got %s, want %s", got, w)
	}
	h.Lose(w)
}
