package jet

import (
	"context"
	"errors"
	"fmt"

	"github.com/noxide/loam/nock"
	"github.com/noxide/loam/noun"
	"github.com/noxide/loam/util"
)

// Class gives a jet's semantics class.
type Class int

const (
	// Pure: same product for same core, no observable state.
	Pure Class = iota

	// Memo: pure, and products are worth caching by
	// (formula, subject).
	Memo

	// Stateful: the native touches state outside the noun world.
	// Never memoized, and never run twice for verification.
	Stateful
)

// Native is a native equivalent of one arm of one battery.  The core
// is borrowed; a returned product is owned by the caller.
//
// A Native that cannot handle its input (for example, an input on
// which the interpreted arm would not terminate) returns ErrPunt to
// fall back to interpretation.  A returned *nock.Trap means the
// computation fails, just as the interpreted arm would.
type Native func(ctx context.Context, h *noun.Heap, caller nock.Caller, core noun.Noun) (noun.Noun, error)

// ErrPunt is returned by a Native to decline an input.
var ErrPunt = errors.New("jet: punt")

// Signature identifies a computation: the content hash of its code
// (the battery, the head of the core) plus the invocation axis.
type Signature struct {
	Battery uint32
	Axis    uint64
}

// SignatureOf computes the signature for invoking the arm at the
// given axis within core.  ok is false when the core is not a cell
// or the axis does not fit in a word; no registration can match
// those.
func SignatureOf(core, axis noun.Noun) (Signature, bool) {
	if !core.IsCell() {
		return Signature{}, false
	}
	av, small := axis.Uint64()
	if !small {
		return Signature{}, false
	}
	return Signature{Battery: noun.Mug(core.Head()), Axis: av}, true
}

// Jet is one registration entry.
type Jet struct {
	Name  string
	Class Class

	// Native is optional: a nil Native means the entry exists
	// only to name the computation (pure interpretation).
	Native Native

	// Doc is optional markdown describing the computation, for
	// the registry report.
	Doc string
}

// Mode selects how much the registry trusts its natives.
type Mode int

const (
	// Production runs a matching native and uses its product.
	Production Mode = iota

	// Verify runs both the native and the interpreted arm and
	// raises a *MismatchError on divergence.  The mismatch is a
	// fatal internal error, not a Trap.
	Verify

	// Fallback runs both, logs a divergence, and uses the
	// interpreted product.  A divergent native is never silently
	// trusted.
	Fallback
)

// MismatchError reports a native product that is not structurally
// equal to the unaccelerated interpretation.  It indicates an
// acceleration bug: the process should abort rather than continue
// with unverifiable state.
type MismatchError struct {
	Name        string
	Sig         Signature
	Native      string
	Interpreted string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("jet %q (battery %08x axis %d): native %s != interpreted %s",
		e.Name, e.Sig.Battery, e.Sig.Axis, e.Native, e.Interpreted)
}

// Stats counts registry activity.
type Stats struct {
	Hits       int64
	Misses     int64
	MemoHits   int64
	Mismatches int64
}

// Registry maps signatures to jets and carries the memo cache.  It
// belongs to the single reduction thread; no locking.
type Registry struct {
	Mode  Mode
	Debug bool

	heap *noun.Heap
	jets map[Signature]*Jet
	memo *memoCache

	stats Stats
}

// NewRegistry creates a Registry over h with a memo cache bounded to
// memoSize entries.  memoSize 0 disables memoization.
func NewRegistry(h *noun.Heap, memoSize int) *Registry {
	return &Registry{
		heap: h,
		jets: make(map[Signature]*Jet),
		memo: newMemoCache(h, memoSize),
	}
}

// Register binds a signature to a jet.
func (r *Registry) Register(sig Signature, j *Jet) {
	r.jets[sig] = j
}

// Bind computes the signature for the arm at axis within core and
// registers j under it.
func (r *Registry) Bind(core noun.Noun, axis uint64, j *Jet) (Signature, error) {
	sig, ok := SignatureOf(core, r.heap.Atom(axis))
	if !ok {
		return Signature{}, fmt.Errorf("jet: cannot bind %q: not a core", j.Name)
	}
	r.Register(sig, j)
	return sig, nil
}

// Jets lists the registered entries, for the registry report.
func (r *Registry) Jets() map[Signature]*Jet {
	out := make(map[Signature]*Jet, len(r.jets))
	for sig, j := range r.jets {
		out[sig] = j
	}
	return out
}

func (r *Registry) Stats() Stats {
	return r.stats
}

func (r *Registry) logf(format string, args ...interface{}) {
	if r.Debug {
		util.Logf("jet: "+format, args...)
	}
}

// Dispatch implements nock.Dispatcher.  It is consulted at every
// invocation; on a registration with a native it substitutes the
// native product, subject to the registry's Mode.
func (r *Registry) Dispatch(ctx context.Context, caller nock.Caller, core, axis noun.Noun) (noun.Noun, bool, error) {
	sig, ok := SignatureOf(core, axis)
	if !ok {
		return noun.Noun{}, false, nil
	}
	j := r.jets[sig]
	if j == nil || j.Native == nil {
		r.stats.Misses++
		return noun.Noun{}, false, nil
	}

	arm, ok := noun.Frag(axis, core)
	if !ok {
		// The interpreted path would trap the same way; let it.
		return noun.Noun{}, false, nil
	}

	if j.Class == Memo && r.memo.enabled() {
		if product, hit := r.memo.get(core, arm); hit {
			r.stats.MemoHits++
			return product, true, nil
		}
	}

	product, handled, err := r.run(ctx, caller, j, sig, core, arm)
	if err != nil || !handled {
		return noun.Noun{}, handled, err
	}
	r.stats.Hits++
	if j.Class == Memo && r.memo.enabled() {
		r.memo.put(core, arm, product)
	}
	return product, true, nil
}

// run executes the native under the registry's mode.  core and arm
// are borrowed; the product is owned.
func (r *Registry) run(ctx context.Context, caller nock.Caller, j *Jet, sig Signature, core, arm noun.Noun) (noun.Noun, bool, error) {
	native, err := j.Native(ctx, r.heap, caller, core)
	if err != nil {
		if errors.Is(err, ErrPunt) {
			r.logf("%q punted", j.Name)
			return noun.Noun{}, false, nil
		}
		// Traps from a native are the computation failing, the
		// same as the interpreted arm trapping.
		return noun.Noun{}, true, err
	}

	if r.Mode == Production || j.Class == Stateful {
		return native, true, nil
	}

	// Verification: the interpreted arm is the ground truth.
	interpreted, err := caller.Reduce(ctx, core, arm)
	if err != nil {
		r.heap.Lose(native)
		return noun.Noun{}, true, err
	}
	if noun.Equal(native, interpreted) {
		r.heap.Lose(interpreted)
		return native, true, nil
	}

	r.stats.Mismatches++
	mismatch := &MismatchError{
		Name:        j.Name,
		Sig:         sig,
		Native:      native.String(),
		Interpreted: interpreted.String(),
	}
	if r.Mode == Fallback {
		util.Logf("jet: discarding divergent native: %s", mismatch)
		r.heap.Lose(native)
		return interpreted, true, nil
	}
	return noun.Noun{}, true, mismatch
}
