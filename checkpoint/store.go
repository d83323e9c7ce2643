package checkpoint

import (
	"context"
	"fmt"

	"github.com/noxide/loam/noun"
)

// A Store holds checkpoint images: snapshots of a root noun plus the
// append-only log of events applied since.  Snapshot writes are
// atomic, and an event append is durable before AppendEvent returns;
// those two promises are what recovery is built on.
//
// Sequence numbers count committed events.  A snapshot at sequence n
// captures the root after event n; the live log then holds events
// with sequence > n.
type Store interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// WriteSnapshot durably replaces the current snapshot.  A
	// crash mid-write leaves the prior snapshot and the full log
	// intact.
	WriteSnapshot(ctx context.Context, seq uint64, root noun.Noun) error

	// LatestSnapshot loads the current snapshot, if any.  The
	// returned root is owned by the caller.
	LatestSnapshot(ctx context.Context) (uint64, noun.Noun, bool, error)

	// AppendEvent durably appends one committed event.
	AppendEvent(ctx context.Context, seq uint64, event noun.Noun) error

	// Events replays every logged event with sequence > after, in
	// order.  Each event handed to f is owned by f.
	Events(ctx context.Context, after uint64, f func(seq uint64, event noun.Noun) error) error

	// Compact discards log entries with sequence <= through.
	// Safe once a snapshot at that sequence has been written.
	Compact(ctx context.Context, through uint64) error
}

// CorruptError reports a snapshot or log that cannot be read back.
// Unlike a reduction Trap, this is not recoverable without operator
// intervention.
type CorruptError struct {
	What string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint: corrupt %s: %s", e.What, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
