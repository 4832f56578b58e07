// Package bcerrors defines the semantic error kinds shared by every
// component of the chain/state engine. Components return one of these
// wrapped in an *Error rather than ad-hoc error strings so callers can
// classify a failure with errors.Is/errors.As instead of parsing text.
package bcerrors

import "fmt"

// Kind classifies why an operation failed. These mirror the error kinds
// a validating node must distinguish between: some are fatal to the
// operation that produced them (InvalidSignature..BadBlock), some are
// informational (MempoolFull), and some are cluster-level conditions
// surfaced by the consensus monitor (ChainFork, StateDivergence).
type Kind string

const (
	InvalidSignature    Kind = "invalid_signature"
	BadNonce            Kind = "bad_nonce"
	InsufficientBalance Kind = "insufficient_balance"
	MalformedTransaction Kind = "malformed_transaction"
	BadBlock            Kind = "bad_block"
	ChainFork           Kind = "chain_fork"
	MempoolFull         Kind = "mempool_full"
	PeerUnreachable     Kind = "peer_unreachable"
	StateDivergence     Kind = "state_divergence"
	PersisterFault      Kind = "persister_fault"
)

// Error pairs a Kind with the underlying cause. The cause is kept so
// logs retain the specific reason even though callers branch on Kind.
type Error struct {
	Kind  Kind
	Cause error
}

// New constructs an *Error for kind, wrapping a formatted cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same Kind, so callers can write
// errors.Is(err, bcerrors.New(bcerrors.BadNonce, "")) or, more simply,
// Is(err, bcerrors.BadNonce).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Is reports whether err is a *bcerrors.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !asError(err, &e) {
		return false
	}
	return e.Kind == kind
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
