// Package errs defines the fault taxonomy shared by every triage-bot
// component, mirroring tools/si/internal/githubbridge's APIErrorDetails
// shape: a typed kind, a composed human message, and an optional
// retry-after hint, wrapped around the underlying cause.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fault per spec section 7.
type Kind string

const (
	// Input faults.
	KindParseError       Kind = "parse_error"
	KindInvalidInput     Kind = "invalid_input"
	KindPolicyViolation  Kind = "policy_violation"

	// External service faults.
	KindAuthentication Kind = "authentication"
	KindPermission     Kind = "permission"
	KindNotFound       Kind = "not_found"
	KindRateLimit      Kind = "rate_limit"
	KindCommandTimeout Kind = "command_timeout"
	KindNetworkError   Kind = "network_error"
	KindCommandFailure Kind = "command_failure"

	// Resource faults.
	KindCloneTooLarge       Kind = "clone_too_large"
	KindPathTraversal       Kind = "path_traversal"
	KindTokenBudgetExceeded Kind = "token_budget_exceeded"

	// Safety faults.
	KindRedactionFailure       Kind = "redaction_failure"
	KindLLMOutputInvalid       Kind = "llm_output_invalid"
	KindPromptInjectionSuspected Kind = "prompt_injection_suspected"

	// Lifecycle faults.
	KindCancelled Kind = "cancelled"
	KindTimedOut  Kind = "timed_out"
)

// retryable marks which kinds §5 designates as retryable in principle;
// the final decision also depends on attempt count and elapsed budget.
var retryable = map[Kind]bool{
	KindNetworkError:   true,
	KindCommandTimeout: true,
	KindRateLimit:      true,
}

// Error is the shared fault type. It is always constructed via the Kind
// constructors below so callers can rely on Kind being populated.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e == nil {
		return "triagebot: nil error"
	}
	if e.Message == "" {
		return fmt.Sprintf("triagebot: %s", e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("triagebot: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("triagebot: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a server-supplied retry hint (rate limiting).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Is lets errors.Is match on Kind via a sentinel built with New(kind, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the fault's kind is retryable per §5's policy
// (network/timeout/5xx-family from VCS and LLM, plus rate limiting which
// instead honors retry_after).
func Retryable(err error) bool {
	return retryable[KindOf(err)]
}

// Terminal reports whether the fault always ends the pipeline run without
// retry, per §7's propagation rules (Input and Safety faults, plus
// Cancelled/TimedOut).
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindParseError, KindInvalidInput, KindPolicyViolation,
		KindRedactionFailure, KindLLMOutputInvalid, KindPromptInjectionSuspected,
		KindCancelled, KindTimedOut:
		return true
	default:
		return false
	}
}
