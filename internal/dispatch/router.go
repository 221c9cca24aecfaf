package dispatch

import (
	"context"
	"log/slog"
	"time"

	"supportdesk/internal/domain"
	"supportdesk/internal/events"
	"supportdesk/internal/metrics"
)

// Router relays messages inside an assigned conversation and handles
// its termination. Relayed text is delivered verbatim: no prefixes, no
// rewriting, so both sides read exactly what the other typed.
type Router struct {
	store     domain.Store
	notifier  domain.Notifier
	publisher events.Publisher
	logger    *slog.Logger
}

func NewRouter(store domain.Store, notifier domain.Notifier, publisher events.Publisher, logger *slog.Logger) *Router {
	return &Router{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// RelayFromCustomer appends the customer's line to the transcript and
// forwards it to the assigned agent. The request must be assigned;
// open and closed requests have no relay counterpart.
func (r *Router) RelayFromCustomer(ctx context.Context, req domain.Request, text string) error {
	if req.Status != domain.StatusAssigned {
		return domain.ErrNoActiveAssignment
	}
	if err := r.store.AppendMessage(ctx, domain.Message{
		RequestID: req.ID,
		Sender:    domain.RoleCustomer,
		Body:      text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	metrics.MessagesRelayed.Inc()
	r.notifier.DeliverToAgent(ctx, req.AgentID, text)
	return nil
}

// RelayFromAgent appends the agent's line and forwards it to the
// customer. Returns ErrNoActiveAssignment when the agent holds no
// assigned conversation.
func (r *Router) RelayFromAgent(ctx context.Context, agent domain.Agent, text string) error {
	req, err := r.activeAssignment(ctx, agent)
	if err != nil {
		return err
	}
	if err := r.store.AppendMessage(ctx, domain.Message{
		RequestID: req.ID,
		Sender:    domain.RoleAgent,
		Body:      text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	metrics.MessagesRelayed.Inc()
	r.notifier.DeliverToUser(ctx, req.UserID, text)
	return nil
}

func (r *Router) activeAssignment(ctx context.Context, agent domain.Agent) (*domain.Request, error) {
	if agent.ActiveRequestID == "" {
		return nil, domain.ErrNoActiveAssignment
	}
	req, err := r.store.GetRequest(ctx, agent.ActiveRequestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Status != domain.StatusAssigned {
		// Stale slot; treat as unbound rather than failing loudly.
		return nil, domain.ErrNoActiveAssignment
	}
	return req, nil
}

// Close terminates the request from either side (or administratively)
// and frees the agent's slot. Closing an already-closed request is a
// no-op so that racing /close commands cannot fail each other.
func (r *Router) Close(ctx context.Context, requestID string, closedBy domain.SenderRole) (*domain.Request, error) {
	now := time.Now().UTC()
	var (
		req        *domain.Request
		wasOpen    bool
		alreadyEnd bool
	)

	err := r.store.Transact(ctx, func(tx domain.Tx) error {
		var err error
		req, err = tx.GetRequest(requestID)
		if err != nil {
			return err
		}
		if req == nil {
			return domain.ErrNotFound
		}
		if req.Status == domain.StatusClosed {
			alreadyEnd = true
			return nil
		}
		wasOpen = req.Status == domain.StatusOpen

		if err := tx.CloseRequest(requestID, now); err != nil {
			return err
		}
		if req.AgentID != "" {
			return tx.ClearAgentAssignment(req.AgentID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyEnd {
		return req, nil
	}

	req.Status = domain.StatusClosed
	req.ClosedAt = &now

	metrics.RequestsClosed.Inc()
	if wasOpen {
		metrics.OpenRequests.Dec()
	} else {
		metrics.ActiveConversations.Dec()
	}

	r.logger.Info("request closed",
		"request_id", requestID,
		"closed_by", string(closedBy),
		"was_open", wasOpen,
	)

	r.notifyClosed(ctx, *req, closedBy)

	if err := r.publisher.Publish(ctx, events.KeyRequestClosed, events.NewRequestClosed(*req, closedBy)); err != nil {
		r.logger.Warn("publish closed event failed", "request_id", requestID, "err", err)
	}
	return req, nil
}

func (r *Router) notifyClosed(ctx context.Context, req domain.Request, closedBy domain.SenderRole) {
	customer, err := r.store.GetUser(ctx, req.UserID)
	if err != nil || customer == nil {
		r.logger.Error("customer lookup on close failed",
			"request_id", req.ID, "user_id", req.UserID, "err", err)
		customer = &domain.User{ID: req.UserID}
	}

	var agent *domain.Agent
	if req.AgentID != "" {
		agent, err = r.store.GetAgent(ctx, req.AgentID)
		if err != nil {
			r.logger.Warn("agent lookup on close failed",
				"request_id", req.ID, "agent_id", req.AgentID, "err", err)
		}
	}

	r.notifier.NotifyClosed(ctx, req, *customer, agent, closedBy)
}
