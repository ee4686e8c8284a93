package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAllNodesUnreachable is returned (wrapped in *ExhaustedError) when every
// attempt of a logical request failed.
var ErrAllNodesUnreachable = errors.New("all nodes unreachable")

// FailureKind classifies why a single attempt failed. Every kind triggers
// failover.
type FailureKind string

const (
	// KindTransport covers connection errors and timeouts.
	KindTransport FailureKind = "transport"
	// KindStatus means the node answered with a non-2xx status.
	KindStatus FailureKind = "status"
	// KindDecode means the node answered 2xx with a body that is not the
	// expected JSON.
	KindDecode FailureKind = "decode"
)

// AttemptError describes one failed attempt against one node.
type AttemptError struct {
	Node       string
	Attempt    int
	Kind       FailureKind
	StatusCode int    // set for KindStatus
	Body       string // truncated response body, set for KindStatus
	Err        error
}

func (e *AttemptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Node, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AttemptError) Unwrap() error { return e.Err }

// ExhaustedError is the terminal failure of a logical request. It matches
// ErrAllNodesUnreachable with errors.Is and exposes every attempt through
// errors.As.
type ExhaustedError struct {
	Method   string
	Path     string
	Attempts []*AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("%s %s: %v after %d attempts (%s)",
		e.Method, e.Path, ErrAllNodesUnreachable, len(e.Attempts), strings.Join(parts, "; "))
}

// Is reports ErrAllNodesUnreachable.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllNodesUnreachable
}

// Unwrap returns the individual attempt errors.
func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a
	}
	return out
}

// AnsweredOnlyWith reports whether at least one node answered and every node
// that answered did so with the given HTTP status. Transport failures are
// ignored.
func (e *ExhaustedError) AnsweredOnlyWith(code int) bool {
	answered := false
	for _, a := range e.Attempts {
		switch {
		case a.Kind == KindTransport:
		case a.Kind == KindStatus && a.StatusCode == code:
			answered = true
		default:
			return false
		}
	}
	return answered
}
