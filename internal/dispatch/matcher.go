// Package dispatch implements the routing core of the support desk:
// matching open requests to eligible agents, arbitrating concurrent
// claims, and relaying messages inside an assigned conversation.
package dispatch

import (
	"context"

	"supportdesk/internal/domain"
)

// Matcher selects which agents may serve a request. Eligibility is a
// pure predicate over agent state; the matcher never mutates anything.
type Matcher struct {
	store domain.Store
}

func NewMatcher(store domain.Store) *Matcher {
	return &Matcher{store: store}
}

// Eligible reports whether the agent may serve the request right now,
// and the first failed precondition when not. Checks run in a fixed
// order so the reported reason is deterministic: availability, then
// free slot, then language.
func Eligible(agent domain.Agent, req domain.Request) (bool, domain.IneligibleReason) {
	if !agent.Available {
		return false, domain.ReasonUnavailable
	}
	if agent.ActiveRequestID != "" {
		return false, domain.ReasonBusy
	}
	if !agent.Speaks(req.Language) {
		return false, domain.ReasonLanguageMismatch
	}
	return true, ""
}

// EligibleAgents returns every agent that could claim the request at
// this instant. The result is a snapshot: agents may become ineligible
// before a claim lands, which the arbiter re-checks transactionally.
func (m *Matcher) EligibleAgents(ctx context.Context, req domain.Request) ([]domain.Agent, error) {
	agents, err := m.store.ListAvailableAgents(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Agent
	for _, a := range agents {
		if ok, _ := Eligible(a, req); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// ClaimableRequests returns the open requests the agent could claim,
// in arrival order. Used for the agent-side backlog listing.
func (m *Matcher) ClaimableRequests(ctx context.Context, agent domain.Agent) ([]domain.Request, error) {
	open, err := m.store.ListOpenRequests(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Request
	for _, r := range open {
		if ok, _ := Eligible(agent, r); ok {
			out = append(out, r)
		}
	}
	return out, nil
}
