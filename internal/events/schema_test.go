package events

import (
	"testing"
	"time"

	"supportdesk/internal/domain"
)

func TestEnvelope_CorrelatesOnRequestID(t *testing.T) {
	req := domain.Request{
		ID:        "req-1",
		UserID:    "telegram:1",
		Language:  "en",
		CreatedAt: time.Now().UTC(),
	}

	created := NewRequestCreated(req)
	if created.Meta.Type != KeyRequestCreated {
		t.Fatalf("type = %q, want %q", created.Meta.Type, KeyRequestCreated)
	}
	if created.Meta.CorrelationID != "req-1" {
		t.Fatalf("correlation id should be the request id, got %q", created.Meta.CorrelationID)
	}
	if created.Meta.ID == "" || created.Meta.Producer != "supportdesk" {
		t.Fatalf("meta incomplete: %+v", created.Meta)
	}

	assignedAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	req.AgentID = "telegram:10"
	req.AssignedAt = &assignedAt

	assigned := NewRequestAssigned(req)
	data, ok := assigned.Data.(RequestAssignedV1)
	if !ok {
		t.Fatalf("unexpected payload type %T", assigned.Data)
	}
	if data.AgentID != "telegram:10" || !data.AssignedAt.Equal(assignedAt) {
		t.Fatalf("assigned payload wrong: %+v", data)
	}

	closed := NewRequestClosed(req, domain.RoleSystem)
	cd, ok := closed.Data.(RequestClosedV1)
	if !ok {
		t.Fatalf("unexpected payload type %T", closed.Data)
	}
	if cd.ClosedBy != "system" {
		t.Fatalf("closed_by = %q, want system", cd.ClosedBy)
	}
	// No ClosedAt recorded on the request: stamped at publish time.
	if cd.ClosedAt.IsZero() {
		t.Fatal("closed_at should never be zero")
	}

	// Every event of one request shares the correlation id.
	if assigned.Meta.CorrelationID != "req-1" || closed.Meta.CorrelationID != "req-1" {
		t.Fatal("lifecycle events must share the request correlation id")
	}
	// But each has a distinct event id.
	if created.Meta.ID == assigned.Meta.ID {
		t.Fatal("event ids must be unique")
	}
}
