package domain

import "context"

// Notifier is the notification gateway: everything the dispatch core
// asks the chat transport to deliver. Every call is best-effort and
// fire-and-forget; implementations log failures and never surface them,
// because the store, not delivery, is the source of truth for state.
type Notifier interface {
	// BroadcastNewRequest offers the request to each agent with a
	// claim affordance bound to the request id.
	BroadcastNewRequest(ctx context.Context, req Request, customer User, agents []Agent)

	// NotifyAssigned tells the winning agent and the customer that the
	// conversation is bound, replaying history to the agent.
	NotifyAssigned(ctx context.Context, req Request, customer User, agent Agent, history []Message)

	// NotifyClaimLost tells a previously-broadcast agent the request
	// went to someone else.
	NotifyClaimLost(ctx context.Context, agentID, requestID string)

	// NotifyClaimRejected tells an agent why their own claim failed.
	NotifyClaimRejected(ctx context.Context, agentID string, reason error)

	DeliverToUser(ctx context.Context, userID, text string)
	DeliverToAgent(ctx context.Context, agentID, text string)

	// NotifyClosed tells both parties the conversation ended.
	NotifyClosed(ctx context.Context, req Request, customer User, agent *Agent, closedBy SenderRole)
}
