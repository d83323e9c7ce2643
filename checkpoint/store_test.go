package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxide/loam/noun"
)

func openStores(t *testing.T, h *noun.Heap) map[string]Store {
	t.Helper()
	return map[string]Store{
		"dir":  NewDir(h, filepath.Join(t.TempDir(), "pier")),
		"bolt": NewBolt(h, filepath.Join(t.TempDir(), "pier.db")),
		"mem":  NewMem(h),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()

	for name, store := range openStores(t, h) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Open(ctx))
			defer store.Close(ctx)

			_, _, ok, err := store.LatestSnapshot(ctx)
			require.NoError(t, err)
			require.False(t, ok, "fresh store should have no snapshot")

			root := h.MustParse("[42 [1 2] 0x2a]")
			require.NoError(t, store.WriteSnapshot(ctx, 3, root))

			seq, got, ok, err := store.LatestSnapshot(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(3), seq)
			assert.True(t, noun.Equal(got, root), "got %s", got)
			h.Lose(got)

			// A later snapshot replaces the earlier one.
			root2 := h.MustParse("[9 9 9]")
			require.NoError(t, store.WriteSnapshot(ctx, 7, root2))
			seq, got, ok, err = store.LatestSnapshot(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(7), seq)
			assert.True(t, noun.Equal(got, root2))
			h.Lose(got)

			h.Lose(root)
			h.Lose(root2)
		})
	}
	require.NoError(t, h.CheckLeaks())
}

func TestStoreSnapshotPreservesSharing(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()

	for name, store := range openStores(t, h) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Open(ctx))
			defer store.Close(ctx)

			shared := h.MustParse("[1 2 3]")
			root := h.Cell(h.Gain(shared), shared)
			require.NoError(t, store.WriteSnapshot(ctx, 1, root))

			_, got, ok, err := store.LatestSnapshot(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, noun.Same(got.Head(), got.Tail()), "sharing lost")
			h.Lose(got)
			h.Lose(root)
		})
	}
	require.NoError(t, h.CheckLeaks())
}

func TestStoreEvents(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()

	for name, store := range openStores(t, h) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Open(ctx))
			defer store.Close(ctx)

			events := []string{"[1 0]", "[2 [3 4]]", "[3 %foo]"}
			for k, src := range events {
				e := h.MustParse(src)
				require.NoError(t, store.AppendEvent(ctx, uint64(k+1), e))
				h.Lose(e)
			}

			var heard []string
			err := store.Events(ctx, 0, func(seq uint64, event noun.Noun) error {
				heard = append(heard, event.String())
				h.Lose(event)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"[1 0]", "[2 3 4]", "[3 7303014]"}, heard)

			// Replay after a prefix.
			heard = nil
			err = store.Events(ctx, 2, func(seq uint64, event noun.Noun) error {
				assert.Equal(t, uint64(3), seq)
				heard = append(heard, event.String())
				h.Lose(event)
				return nil
			})
			require.NoError(t, err)
			assert.Len(t, heard, 1)

			// Compaction drops the prefix for good.
			require.NoError(t, store.Compact(ctx, 2))
			heard = nil
			err = store.Events(ctx, 0, func(seq uint64, event noun.Noun) error {
				heard = append(heard, event.String())
				h.Lose(event)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"[3 7303014]"}, heard)

			// Appends keep working after compaction.
			e := h.MustParse("[4 4]")
			require.NoError(t, store.AppendEvent(ctx, 4, e))
			h.Lose(e)
			heard = nil
			err = store.Events(ctx, 3, func(seq uint64, event noun.Noun) error {
				heard = append(heard, event.String())
				h.Lose(event)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"[4 4]"}, heard)
		})
	}
	require.NoError(t, h.CheckLeaks())
}

func TestDirTornTailIgnored(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()
	dir := filepath.Join(t.TempDir(), "pier")

	s := NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	for k := 1; k <= 3; k++ {
		e := h.MustParse("[7 8]")
		require.NoError(t, s.AppendEvent(ctx, uint64(k), e))
		h.Lose(e)
	}
	require.NoError(t, s.Close(ctx))

	// Chop bytes off the tail: an unacknowledged append from a
	// crash.  The intact prefix still replays.
	logPath := filepath.Join(dir, "events.log")
	bs, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(logPath, bs[:len(bs)-3], 0644))

	s = NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	var seqs []uint64
	err = s.Events(ctx, 0, func(seq uint64, event noun.Noun) error {
		seqs = append(seqs, seq)
		h.Lose(event)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seqs)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, h.CheckLeaks())
}

func TestDirOrphanedTemporaryIgnored(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()
	dir := filepath.Join(t.TempDir(), "pier")

	s := NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	root := h.MustParse("[1 2]")
	require.NoError(t, s.WriteSnapshot(ctx, 5, root))
	require.NoError(t, s.Close(ctx))

	// A crash mid-snapshot leaves a temporary; the published
	// snapshot must win.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snap.loam.tmp"), []byte("junk"), 0644))

	s = NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	seq, got, ok, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(5), seq)
	assert.True(t, noun.Equal(got, root))
	h.Lose(got)
	h.Lose(root)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, h.CheckLeaks())
}

func TestDirCorruptSnapshotDetected(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()
	dir := filepath.Join(t.TempDir(), "pier")

	s := NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	root := h.MustParse("[1 2 3]")
	require.NoError(t, s.WriteSnapshot(ctx, 1, root))
	h.Lose(root)
	require.NoError(t, s.Close(ctx))

	// Flip a byte inside the graph: the header's mug must notice.
	snapPath := filepath.Join(dir, "snap.loam")
	bs, err := os.ReadFile(snapPath)
	require.NoError(t, err)
	bs[len(bs)-1] ^= 0xff
	require.NoError(t, os.WriteFile(snapPath, bs, 0644))

	s = NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	_, _, _, err = s.LatestSnapshot(ctx)
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, h.CheckLeaks())
}

func TestDirBadSequenceOrderDetected(t *testing.T) {
	ctx := context.Background()
	h := noun.NewHeap()
	dir := filepath.Join(t.TempDir(), "pier")

	s := NewDir(h, dir)
	require.NoError(t, s.Open(ctx))
	e := h.MustParse("[1 1]")
	require.NoError(t, s.AppendEvent(ctx, 2, e))
	require.NoError(t, s.AppendEvent(ctx, 1, e))
	h.Lose(e)

	err := s.Events(ctx, 0, func(seq uint64, event noun.Noun) error {
		h.Lose(event)
		return nil
	})
	var corrupt *CorruptError
	require.ErrorAs(t, err, &corrupt)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, h.CheckLeaks())
}

func TestImageHeader(t *testing.T) {
	h := noun.NewHeap()

	root := h.MustParse("[5 6]")
	bs, err := encodeImage(9, root)
	require.NoError(t, err)

	seq, got, err := decodeImage(bs, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seq)
	assert.True(t, noun.Equal(got, root))
	h.Lose(got)
	h.Lose(root)

	var corrupt *CorruptError

	// Bad magic.
	bad := append([]byte(nil), bs...)
	bad[0] = 'x'
	_, _, err = decodeImage(bad, h)
	require.ErrorAs(t, err, &corrupt)

	// Unsupported version.
	bad = append([]byte(nil), bs...)
	bad[4] = 0x7f
	_, _, err = decodeImage(bad, h)
	require.ErrorAs(t, err, &corrupt)

	// Truncated header.
	_, _, err = decodeImage(bs[:10], h)
	require.ErrorAs(t, err, &corrupt)

	require.NoError(t, h.CheckLeaks())
}
