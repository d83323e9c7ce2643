package checkpoint

import (
	"context"
	"fmt"

	"github.com/noxide/loam/noun"
)

// Mem is an in-memory Store for tests and ephemeral piers.  It keeps
// the encoded forms rather than live nouns so replay exercises the
// same codec path the durable stores do.
type Mem struct {
	heap *noun.Heap

	snapSeq  uint64
	snap     []byte
	haveSnap bool

	events []memEvent
}

type memEvent struct {
	seq     uint64
	payload []byte
}

func NewMem(h *noun.Heap) *Mem {
	return &Mem{heap: h}
}

func (s *Mem) Open(ctx context.Context) error  { return nil }
func (s *Mem) Close(ctx context.Context) error { return nil }

func (s *Mem) WriteSnapshot(ctx context.Context, seq uint64, root noun.Noun) error {
	bs, err := encodeImage(seq, root)
	if err != nil {
		return err
	}
	s.snapSeq, s.snap, s.haveSnap = seq, bs, true
	return nil
}

func (s *Mem) LatestSnapshot(ctx context.Context) (uint64, noun.Noun, bool, error) {
	if !s.haveSnap {
		return 0, noun.Noun{}, false, nil
	}
	seq, root, err := decodeImage(s.snap, s.heap)
	if err != nil {
		return 0, noun.Noun{}, false, err
	}
	return seq, root, true, nil
}

func (s *Mem) AppendEvent(ctx context.Context, seq uint64, event noun.Noun) error {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	s.events = append(s.events, memEvent{seq: seq, payload: payload})
	return nil
}

func (s *Mem) Events(ctx context.Context, after uint64, f func(seq uint64, event noun.Noun) error) error {
	var prev uint64
	for i, rec := range s.events {
		if i > 0 && rec.seq <= prev {
			return &CorruptError{What: "event list", Err: fmt.Errorf("sequence %d after %d", rec.seq, prev)}
		}
		prev = rec.seq
		if rec.seq <= after {
			continue
		}
		event, err := decodeEvent(rec.payload, s.heap)
		if err != nil {
			return &CorruptError{What: "event list", Err: fmt.Errorf("event %d: %w", rec.seq, err)}
		}
		if err := f(rec.seq, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Mem) Compact(ctx context.Context, through uint64) error {
	kept := s.events[:0]
	for _, rec := range s.events {
		if rec.seq > through {
			kept = append(kept, rec)
		}
	}
	s.events = kept
	return nil
}
