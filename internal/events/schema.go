package events

import (
	"time"

	"github.com/google/uuid"

	"supportdesk/internal/domain"
)

// Routing keys, versioned per event schema.
const (
	KeyRequestCreated  = "requests.created.v1"
	KeyRequestAssigned = "requests.assigned.v1"
	KeyRequestClosed   = "requests.closed.v1"
)

const producer = "supportdesk"

// Meta identifies and correlates a published event.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Producer      string    `json:"producer"`
	Time          time.Time `json:"time"`
	// Event name and version, e.g. requests.assigned.v1
	Type string `json:"type"`
}

// Envelope is the wire shape of every published event.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type RequestCreatedV1 struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

type RequestAssignedV1 struct {
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	AgentID    string    `json:"agent_id"`
	Language   string    `json:"language"`
	AssignedAt time.Time `json:"assigned_at"`
}

type RequestClosedV1 struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	ClosedBy  string    `json:"closed_by"`
	ClosedAt  time.Time `json:"closed_at"`
}

func newMeta(eventType, correlationID string) Meta {
	return Meta{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Producer:      producer,
		Time:          time.Now().UTC(),
		Type:          eventType,
	}
}

// NewRequestCreated builds the envelope for a freshly opened request.
// The request id doubles as the correlation id across its lifecycle.
func NewRequestCreated(r domain.Request) Envelope {
	return Envelope{
		Meta: newMeta(KeyRequestCreated, r.ID),
		Data: RequestCreatedV1{
			RequestID: r.ID,
			UserID:    r.UserID,
			Language:  r.Language,
			CreatedAt: r.CreatedAt,
		},
	}
}

func NewRequestAssigned(r domain.Request) Envelope {
	assignedAt := time.Now().UTC()
	if r.AssignedAt != nil {
		assignedAt = *r.AssignedAt
	}
	return Envelope{
		Meta: newMeta(KeyRequestAssigned, r.ID),
		Data: RequestAssignedV1{
			RequestID:  r.ID,
			UserID:     r.UserID,
			AgentID:    r.AgentID,
			Language:   r.Language,
			AssignedAt: assignedAt,
		},
	}
}

func NewRequestClosed(r domain.Request, closedBy domain.SenderRole) Envelope {
	closedAt := time.Now().UTC()
	if r.ClosedAt != nil {
		closedAt = *r.ClosedAt
	}
	return Envelope{
		Meta: newMeta(KeyRequestClosed, r.ID),
		Data: RequestClosedV1{
			RequestID: r.ID,
			UserID:    r.UserID,
			AgentID:   r.AgentID,
			ClosedBy:  string(closedBy),
			ClosedAt:  closedAt,
		},
	}
}
