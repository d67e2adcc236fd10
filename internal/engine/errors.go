package engine

import (
	"fmt"
	"strings"
)

// ValidationError indicates malformed or incomplete input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateError indicates an operation that does not apply to the case's
// current stage or status.
type StateError struct {
	Message string
}

func (e StateError) Error() string { return e.Message }

// ConflictError indicates a role-separation violation. Conflicts holds every
// violated rule, in evaluation order.
type ConflictError struct {
	Conflicts []string
}

func (e ConflictError) Error() string {
	return "role conflict: " + strings.Join(e.Conflicts, "; ")
}

// AccessDeniedError indicates a restricted write attempted without an active
// access grant.
type AccessDeniedError struct {
	Resource string
}

func (e AccessDeniedError) Error() string {
	return fmt.Sprintf("access grant required for %s", e.Resource)
}

// Blocker names one unmet precondition for a stage transition.
type Blocker struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BlockedError carries the full set of unmet preconditions for a transition.
type BlockedError struct {
	Target   string
	Blockers []Blocker
}

func (e BlockedError) Error() string {
	codes := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		codes = append(codes, b.Code)
	}
	return fmt.Sprintf("transition to %s blocked: %s", e.Target, strings.Join(codes, ", "))
}

// StaleWriteError indicates the case changed since the caller read it.
type StaleWriteError struct {
	CaseID          string
	ExpectedVersion int64
}

func (e StaleWriteError) Error() string {
	return fmt.Sprintf("case %s changed since version %d; re-read and retry", e.CaseID, e.ExpectedVersion)
}

// OverrideRequiredError is the soft block raised by dismissal guardrails. The
// same request succeeds when resubmitted with an override reason.
type OverrideRequiredError struct {
	Code    string
	Message string
}

func (e OverrideRequiredError) Error() string { return e.Message }

// UnavailableError indicates a dependency (storage, webhook target) failure
// rather than a caller mistake.
type UnavailableError struct {
	Message string
}

func (e UnavailableError) Error() string { return e.Message }
