package nock

// Reduction failures ("traps") are user-level errors: a malformed
// formula or a bad address in otherwise healthy machinery.  They
// unwind the whole reduction and are recoverable by the caller,
// typically by rolling back the allocation frame opened for the
// attempt.  Nothing here is a store-corruption error; those panic.

import "errors"

// TrapKind classifies a reduction failure.
type TrapKind int

const (
	// BadAddress: an axis of 0, or one that runs off the
	// subject's shape.
	BadAddress TrapKind = iota

	// NotAtom: increment applied to a cell.
	NotAtom

	// NotLoobean: a selector that reduced to something other
	// than 0 or 1.
	NotLoobean

	// BadFormula: a formula that is an atom, has an unknown
	// operator, or malformed operands.
	BadFormula

	// Interrupted: the step budget ran out, or the context was
	// canceled between operator applications.
	Interrupted
)

func (k TrapKind) String() string {
	switch k {
	case BadAddress:
		return "bad-address"
	case NotAtom:
		return "not-atom"
	case NotLoobean:
		return "not-loobean"
	case BadFormula:
		return "bad-formula"
	case Interrupted:
		return "interrupted"
	}
	return "trap"
}

// Trap is the structured failure outcome of a reduction.  A Trap
// from any sub-evaluation aborts the entire enclosing reduction.
type Trap struct {
	Kind TrapKind

	// Detail optionally says what was wrong, e.g. the offending
	// axis rendered as text.
	Detail string
}

func (t *Trap) Error() string {
	if t.Detail == "" {
		return "nock: " + t.Kind.String()
	}
	return "nock: " + t.Kind.String() + ": " + t.Detail
}

// Trapped returns the Trap in err's chain, if any.
func Trapped(err error) (*Trap, bool) {
	var t *Trap
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
