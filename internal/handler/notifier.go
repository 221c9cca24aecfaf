package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"supportdesk/internal/domain"
	"supportdesk/internal/replies"
)

const (
	defaultPreviewLen   = 200
	defaultHistoryLines = 50
)

// BusNotifier renders notifications through the reply catalog and
// delivers them over the message bus. Chat identities carry their
// channel as a "channel:chatID" prefix, so delivery needs no routing
// table beyond the bus itself.
type BusNotifier struct {
	bus          domain.MessageBus
	catalog      *replies.Catalog
	logger       *slog.Logger
	previewLen   int
	historyLines int
}

func NewBusNotifier(bus domain.MessageBus, catalog *replies.Catalog, logger *slog.Logger, previewLen, historyLines int) *BusNotifier {
	if previewLen <= 0 {
		previewLen = defaultPreviewLen
	}
	if historyLines <= 0 {
		historyLines = defaultHistoryLines
	}
	return &BusNotifier{
		bus:          bus,
		catalog:      catalog,
		logger:       logger,
		previewLen:   previewLen,
		historyLines: historyLines,
	}
}

var _ domain.Notifier = (*BusNotifier)(nil)

// SplitIdentity separates a "channel:chatID" identity. IDs without a
// channel prefix come back with an empty channel, which the bus logs
// and drops.
func SplitIdentity(id string) (channel, chatID string) {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

func (n *BusNotifier) send(id, text string, buttons ...domain.Button) {
	channel, chatID := SplitIdentity(id)
	n.bus.SendOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: text,
		Buttons: buttons,
	})
}

func (n *BusNotifier) BroadcastNewRequest(ctx context.Context, req domain.Request, customer domain.User, agents []domain.Agent) {
	text := n.catalog.Render("", replies.KeyRequestOffer, map[string]string{
		"language": req.Language,
		"name":     customer.DisplayName(),
		"query":    truncate(req.InitialQuery, n.previewLen),
	})
	claim := domain.Button{
		Label: n.catalog.Get("", replies.KeyClaimButton),
		Data:  "claim_" + req.ID,
	}
	for _, a := range agents {
		n.send(a.ID, text, claim)
	}
	n.logger.Info("request broadcast", "request_id", req.ID, "agents", len(agents))
}

func (n *BusNotifier) NotifyAssigned(ctx context.Context, req domain.Request, customer domain.User, agent domain.Agent, history []domain.Message) {
	var sb strings.Builder
	sb.WriteString(n.catalog.Render("", replies.KeyAssignedAgent, map[string]string{
		"name":     customer.DisplayName(),
		"language": req.Language,
	}))
	if len(history) > n.historyLines {
		history = history[len(history)-n.historyLines:]
	}
	for _, m := range history {
		sb.WriteString("\n")
		sb.WriteString(n.catalog.Render("", replies.KeyHistoryLine, map[string]string{
			"sender": string(m.Sender),
			"body":   m.Body,
		}))
	}
	n.send(agent.ID, sb.String())

	n.send(customer.ID, n.catalog.Render(req.Language, replies.KeyAssignedCustomer, map[string]string{
		"agent": agent.DisplayName,
	}))
}

func (n *BusNotifier) NotifyClaimLost(ctx context.Context, agentID, requestID string) {
	n.send(agentID, n.catalog.Render("", replies.KeyClaimLost, map[string]string{
		"request": shortID(requestID),
	}))
}

func (n *BusNotifier) NotifyClaimRejected(ctx context.Context, agentID string, reason error) {
	var ineligible *domain.IneligibleError
	switch {
	case errors.As(reason, &ineligible):
		n.send(agentID, n.catalog.Render("", replies.KeyClaimIneligible, map[string]string{
			"reason": string(ineligible.Reason),
		}))
	case errors.Is(reason, domain.ErrNotFound):
		n.send(agentID, n.catalog.Get("", replies.KeyClaimUnknown))
	default:
		n.send(agentID, n.catalog.Get("", replies.KeyClaimTaken))
	}
}

func (n *BusNotifier) DeliverToUser(ctx context.Context, userID, text string) {
	n.send(userID, text)
}

func (n *BusNotifier) DeliverToAgent(ctx context.Context, agentID, text string) {
	n.send(agentID, text)
}

func (n *BusNotifier) NotifyClosed(ctx context.Context, req domain.Request, customer domain.User, agent *domain.Agent, closedBy domain.SenderRole) {
	n.send(customer.ID, n.catalog.Get(req.Language, replies.KeyClosedCustomer))
	if agent != nil {
		n.send(agent.ID, n.catalog.Render("", replies.KeyClosedAgent, map[string]string{
			"request": shortID(req.ID),
		}))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
