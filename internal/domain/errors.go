package domain

import (
	"errors"
	"fmt"
)

// ErrNoCredential: the mentor has never connected a scheduling account.
// Recoverable by re-initiating onboarding.
var ErrNoCredential = errors.New("no scheduling credential for mentor")

// AuthError: both token refresh paths are exhausted. Surfaced to the
// caller; retry policy belongs to the caller, not to the token manager.
type AuthError struct {
	MentorID   string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("scheduling auth failed for mentor %s: status=%d body=%q", e.MentorID, e.StatusCode, e.Body)
}

// MalformedWebhookError: payload failed shape validation. The raw body has
// already been audit-logged; the delivery is discarded.
type MalformedWebhookError struct {
	Reason string
}

func (e *MalformedWebhookError) Error() string {
	return "malformed webhook: " + e.Reason
}

// ProcessorError: non-2xx from the payment or scheduling provider.
type ProcessorError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("%s %s failed: status=%d body=%q", e.Provider, e.Op, e.StatusCode, e.Body)
}

// InvariantViolationError marks a programming-level bug (fee-split
// mismatch, terminal-state downgrade). The write is rejected, never
// coerced.
type InvariantViolationError struct {
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Msg
}
