package domain

import "fmt"

// Kind classifies an error by the handling policy it carries, per the
// taxonomy in spec.md §7. Components branch on Kind, never on message
// text.
type Kind int

const (
	// KindUnknown is the zero value; treated like KindTransient.
	KindUnknown Kind = iota
	// KindTransient marks transport failures (index timeout, chat 5xx,
	// tracker 5xx, subprocess failure) that the retry decorator should
	// retry with backoff.
	KindTransient
	// KindPermanentInput marks malformed input (bad field count, missing
	// required field, unrecognized timezone, unknown match_level) that
	// should be skipped with one structured log entry, never retried.
	KindPermanentInput
	// KindNotFound marks an absent external resource (object 404, ticket
	// deleted); callers treat this as normal control flow.
	KindNotFound
	// KindAuthz marks an authorization failure or clock skew (object 403);
	// logged with guidance, the owning task ends ok=false, never retried.
	KindAuthz
	// KindInvariant marks a violated programming invariant (line without
	// 10 fields reaching the assembler, match_level outside the allowed
	// set, a nil traceback passed to a saver); a bug. Errors of this kind
	// are returned to the caller like any other; nothing panics on them.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanentInput:
		return "permanent_input"
	case KindNotFound:
		return "not_found"
	case KindAuthz:
		return "authz"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that
// produced it, the way callers up the stack decide whether to retry, skip,
// or propagate.
type Error struct {
	Op    string
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// E builds an *Error. cause may be nil when the kind alone is the message.
func E(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// KindOf extracts the Kind from err, walking Unwrap chains. An *Error whose
// Kind is KindUnknown is looked through to its cause; KindUnknown is
// returned only if no *Error with a known Kind is found.
func KindOf(err error) Kind {
	for err != nil {
		if de, ok := err.(*Error); ok && de.Kind != KindUnknown {
			return de.Kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return KindUnknown
}

// IsRetryable is the predicate pkg/retry.Policy should use across the
// module: only KindTransient (and the zero-value KindUnknown, treated the
// same) is retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}
