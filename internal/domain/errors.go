package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable outcomes of the dispatch
// contracts. Callers match them with errors.Is; the handler layer
// translates each into a user-visible reply.
var (
	// ErrAlreadyClaimed: the request left the open state before this
	// claim committed (claimed by someone else, or closed). Expected
	// under contention, not a fault.
	ErrAlreadyClaimed = errors.New("request already claimed")

	// ErrNoActiveAssignment: the sender has no assigned conversation
	// to relay through.
	ErrNoActiveAssignment = errors.New("no active assignment")

	// ErrNotFound: unknown user, agent, or request id. At the chat
	// boundary this is a stale-reference click.
	ErrNotFound = errors.New("not found")

	// ErrActiveRequestExists: the user already has an open or assigned
	// request, so a second one cannot be created. Expected when
	// concurrent first messages race; the loser folds its text into
	// the existing request.
	ErrActiveRequestExists = errors.New("user already has an active request")
)

// IneligibleReason says which claim precondition the agent failed.
type IneligibleReason string

const (
	ReasonUnavailable      IneligibleReason = "unavailable"
	ReasonBusy             IneligibleReason = "already assigned"
	ReasonLanguageMismatch IneligibleReason = "language mismatch"
)

// IneligibleError rejects a claim because of the agent's own state,
// not the request's. The reason is surfaced so the agent can correct
// their configuration.
type IneligibleError struct {
	AgentID string
	Reason  IneligibleReason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("agent %s ineligible: %s", e.AgentID, e.Reason)
}
