package domain

import (
	"context"
	"time"
)

// Store is the persistence contract the dispatch core depends on.
// Lookup methods return (nil, nil) when the row does not exist.
// Every mutation that spans a Request and an Agent must go through
// Transact so that concurrent claims serialize on commit order.
type Store interface {
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	SetUserLanguage(ctx context.Context, id, language string) error

	GetAgent(ctx context.Context, id string) (*Agent, error)
	CreateAgent(ctx context.Context, a Agent) error
	SetAgentLanguages(ctx context.Context, id string, languages []string) error
	SetAgentAvailability(ctx context.Context, id string, available bool) error
	ListAvailableAgents(ctx context.Context) ([]Agent, error)

	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// ActiveRequestByUser returns the user's open or assigned request,
	// if any. A user has at most one at a time.
	ActiveRequestByUser(ctx context.Context, userID string) (*Request, error)
	// ListOpenRequests returns open requests in arrival order.
	ListOpenRequests(ctx context.Context) ([]Request, error)

	AppendMessage(ctx context.Context, m Message) error
	MessagesByRequest(ctx context.Context, requestID string, limit int) ([]Message, error)

	// RecordBroadcast remembers which agents were offered a request, so
	// losers of a later claim race can be told it is gone.
	RecordBroadcast(ctx context.Context, requestID string, agentIDs []string) error
	BroadcastRecipients(ctx context.Context, requestID string) ([]string, error)

	// Transact runs fn inside one write transaction. If fn returns an
	// error the transaction rolls back and nothing is committed.
	Transact(ctx context.Context, fn func(Tx) error) error
}

// Tx is the view of the store inside a transaction. Reads observe the
// transaction's snapshot; writes become visible atomically on commit.
type Tx interface {
	GetRequest(id string) (*Request, error)
	GetAgent(id string) (*Agent, error)

	// AssignRequest performs the open -> assigned transition and binds
	// both sides of the assignment.
	AssignRequest(requestID, agentID string, at time.Time) error

	// CloseRequest performs the terminal transition and stamps the
	// closure time.
	CloseRequest(requestID string, at time.Time) error

	// ClearAgentAssignment frees the agent's single assignment slot.
	ClearAgentAssignment(agentID string) error
}
