package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/events"
	"supportdesk/internal/metrics"
)

// Arbiter serializes competing claims on open requests. All state
// transitions happen inside one store transaction, so at most one
// agent ever wins a request regardless of how many claims race.
type Arbiter struct {
	store     domain.Store
	notifier  domain.Notifier
	publisher events.Publisher
	logger    *slog.Logger
}

func NewArbiter(store domain.Store, notifier domain.Notifier, publisher events.Publisher, logger *slog.Logger) *Arbiter {
	return &Arbiter{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// AttemptClaim tries to bind the request to the agent. Exactly one of
// the racing claims on a request succeeds; the rest return
// ErrAlreadyClaimed. Agent-side precondition failures return an
// IneligibleError naming the first failed check. Either way the agent
// is notified of the outcome before this returns.
func (a *Arbiter) AttemptClaim(ctx context.Context, agentID, requestID string) (*domain.Request, error) {
	now := time.Now().UTC()
	var (
		req   *domain.Request
		agent *domain.Agent
	)

	err := a.store.Transact(ctx, func(tx domain.Tx) error {
		var err error
		req, err = tx.GetRequest(requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return domain.ErrNotFound
		}
		if req.Status != domain.StatusOpen {
			return domain.ErrAlreadyClaimed
		}

		agent, err = tx.GetAgent(agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return domain.ErrNotFound
		}
		if ok, reason := Eligible(*agent, *req); !ok {
			return &domain.IneligibleError{AgentID: agentID, Reason: reason}
		}

		return tx.AssignRequest(requestID, agentID, now)
	})
	if err != nil {
		a.reject(ctx, agentID, requestID, err)
		return nil, err
	}

	req.Status = domain.StatusAssigned
	req.AgentID = agentID
	req.AssignedAt = &now
	agent.ActiveRequestID = requestID

	metrics.RequestsAssigned.Inc()
	metrics.OpenRequests.Dec()
	metrics.ActiveConversations.Inc()
	metrics.TimeToClaim.Observe(now.Sub(req.CreatedAt).Seconds())

	a.logger.Info("request claimed",
		"request_id", requestID,
		"agent_id", agentID,
		"language", req.Language,
	)

	a.settle(ctx, *req, *agent)

	if err := a.publisher.Publish(ctx, events.KeyRequestAssigned, events.NewRequestAssigned(*req)); err != nil {
		a.logger.Warn("publish assigned event failed", "request_id", requestID, "err", err)
	}
	return req, nil
}

// settle delivers the post-claim notifications: the winner gets the
// customer introduction plus a history replay, the customer learns who
// picked up, and every other broadcast recipient hears the request is
// gone.
func (a *Arbiter) settle(ctx context.Context, req domain.Request, agent domain.Agent) {
	customer, err := a.store.GetUser(ctx, req.UserID)
	if err != nil || customer == nil {
		a.logger.Error("customer lookup after claim failed",
			"request_id", req.ID, "user_id", req.UserID, "err", err)
		customer = &domain.User{ID: req.UserID}
	}

	history, err := a.store.MessagesByRequest(ctx, req.ID, 0)
	if err != nil {
		a.logger.Warn("history replay load failed", "request_id", req.ID, "err", err)
	}

	a.notifier.NotifyAssigned(ctx, req, *customer, agent, history)

	recipients, err := a.store.BroadcastRecipients(ctx, req.ID)
	if err != nil {
		a.logger.Warn("broadcast recipients lookup failed", "request_id", req.ID, "err", err)
		return
	}
	for _, id := range recipients {
		if id == agent.ID {
			continue
		}
		a.notifier.NotifyClaimLost(ctx, id, req.ID)
	}
}

func (a *Arbiter) reject(ctx context.Context, agentID, requestID string, cause error) {
	var ineligible *domain.IneligibleError
	switch {
	case errors.Is(cause, domain.ErrAlreadyClaimed):
		metrics.ClaimConflicts.Inc()
		a.logger.Info("claim lost race", "request_id", requestID, "agent_id", agentID)
		a.notifier.NotifyClaimRejected(ctx, agentID, cause)
	case errors.As(cause, &ineligible):
		metrics.ClaimsRejected.Inc()
		a.logger.Info("claim rejected",
			"request_id", requestID,
			"agent_id", agentID,
			"reason", string(ineligible.Reason),
		)
		a.notifier.NotifyClaimRejected(ctx, agentID, cause)
	case errors.Is(cause, domain.ErrNotFound):
		a.logger.Info("claim on unknown reference", "request_id", requestID, "agent_id", agentID)
		a.notifier.NotifyClaimRejected(ctx, agentID, cause)
	default:
		a.logger.Error("claim failed", "request_id", requestID, "agent_id", agentID, "err", cause)
	}
}
