package domain

import (
	"strings"
	"time"
)

// User is a customer identified by their stable chat identity.
// Language is chosen once at session start and applies to every
// request the user opens afterwards.
type User struct {
	ID        string // chat identity, unique per transport
	Username  string
	FirstName string
	Language  string // empty until the user has picked one
	CreatedAt time.Time
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Agent is a human responder. An agent holds at most one active
// assignment at a time; ActiveRequestID is empty when free.
type Agent struct {
	ID              string // chat identity, unique per transport
	DisplayName     string
	Languages       []string // normalized lowercase codes
	Available       bool
	ActiveRequestID string
	CreatedAt       time.Time
}

// Speaks reports whether the agent has declared proficiency in the
// given language code.
func (a Agent) Speaks(lang string) bool {
	lang = NormalizeLanguage(lang)
	for _, l := range a.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// RequestStatus is the finite state machine of a support request:
// open -> assigned -> closed, with open -> closed reserved for
// administrative cancellation.
type RequestStatus string

const (
	StatusOpen     RequestStatus = "open"
	StatusAssigned RequestStatus = "assigned"
	StatusClosed   RequestStatus = "closed"
)

// Request is one customer support episode. AgentID is set exactly once,
// together with the open -> assigned transition; a request has an agent
// iff its status is assigned or it was assigned before closing.
type Request struct {
	ID           string
	UserID       string
	Language     string
	InitialQuery string
	Status       RequestStatus
	AgentID      string
	CreatedAt    time.Time
	AssignedAt   *time.Time
	ClosedAt     *time.Time
}

// SenderRole tags who authored a relayed message.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleAgent    SenderRole = "agent"
	// RoleSystem marks administrative actions such as a cancelled
	// request; it never appears as a message sender.
	RoleSystem SenderRole = "system"
)

// Message is one relayed chat line, append-only per request.
type Message struct {
	ID        int64
	RequestID string
	Sender    SenderRole
	Body      string
	CreatedAt time.Time
}

// NormalizeLanguage lowercases and trims a language code ("ES " -> "es").
func NormalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// NormalizeLanguages normalizes a list of codes, dropping empties and
// duplicates while preserving first-seen order.
func NormalizeLanguages(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	var out []string
	for _, c := range codes {
		c = NormalizeLanguage(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
