package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"supportdesk/internal/domain"
	"supportdesk/internal/events"
	"supportdesk/internal/metrics"
)

// ErrUnsupportedLanguage rejects a language code outside the configured
// set.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ChatIdentity is what the transport knows about a sender.
type ChatIdentity struct {
	ID        string
	Username  string
	FirstName string
}

// Service is the application façade the chat handlers call into. It
// owns session bootstrap and request creation and delegates matching,
// claiming, and relaying to the dispatch components.
type Service struct {
	store     domain.Store
	matcher   *Matcher
	arbiter   *Arbiter
	router    *Router
	notifier  domain.Notifier
	publisher events.Publisher
	logger    *slog.Logger
	languages []string
}

func NewService(store domain.Store, notifier domain.Notifier, publisher events.Publisher, logger *slog.Logger, languages []string) *Service {
	return &Service{
		store:     store,
		matcher:   NewMatcher(store),
		arbiter:   NewArbiter(store, notifier, publisher, logger),
		router:    NewRouter(store, notifier, publisher, logger),
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		languages: domain.NormalizeLanguages(languages),
	}
}

// SupportedLanguages returns the configured language codes in order.
func (s *Service) SupportedLanguages() []string {
	return s.languages
}

func (s *Service) supported(code string) bool {
	code = domain.NormalizeLanguage(code)
	for _, l := range s.languages {
		if l == code {
			return true
		}
	}
	return false
}

// StartSession gets or creates the customer record and reports any
// request already in flight. Restarting a session never forks a second
// request: the existing one is returned instead.
func (s *Service) StartSession(ctx context.Context, id ChatIdentity) (*domain.User, *domain.Request, error) {
	user, err := s.store.GetUser(ctx, id.ID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		user = &domain.User{
			ID:        id.ID,
			Username:  id.Username,
			FirstName: id.FirstName,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateUser(ctx, *user); err != nil {
			return nil, nil, err
		}
		s.logger.Info("customer registered", "user_id", user.ID)
	}

	active, err := s.store.ActiveRequestByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, active, nil
}

// SelectLanguage records the customer's language choice. The code must
// be one of the configured languages.
func (s *Service) SelectLanguage(ctx context.Context, userID, code string) error {
	code = domain.NormalizeLanguage(code)
	if !s.supported(code) {
		return ErrUnsupportedLanguage
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return domain.ErrNotFound
	}
	return s.store.SetUserLanguage(ctx, userID, code)
}

// TextOutcome says what a customer's free-form text turned into.
type TextOutcome int

const (
	// OutcomeRelayed: the text went to the assigned agent.
	OutcomeRelayed TextOutcome = iota
	// OutcomeQueued: the request is still open; the text was appended
	// to its transcript for later replay.
	OutcomeQueued
	// OutcomeOpened: the text became the initial query of a new request.
	OutcomeOpened
	// OutcomeNeedLanguage: no language chosen yet, nothing created.
	OutcomeNeedLanguage
	// OutcomeNeedStart: unknown sender, session never started.
	OutcomeNeedStart
)

// CustomerTextResult reports how a customer message was handled.
type CustomerTextResult struct {
	Outcome TextOutcome
	Request *domain.Request
	// Notified is how many agents were offered a newly opened request.
	Notified int
}

// CustomerText is the customer-side text entry point: relay when a
// conversation is bound, queue while waiting, otherwise open a new
// request with the text as its initial query.
func (s *Service) CustomerText(ctx context.Context, userID, text string) (CustomerTextResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return CustomerTextResult{}, err
	}
	if user == nil {
		return CustomerTextResult{Outcome: OutcomeNeedStart}, nil
	}

	active, err := s.store.ActiveRequestByUser(ctx, userID)
	if err != nil {
		return CustomerTextResult{}, err
	}
	if active != nil {
		switch active.Status {
		case domain.StatusAssigned:
			if err := s.router.RelayFromCustomer(ctx, *active, text); err != nil {
				return CustomerTextResult{}, err
			}
			return CustomerTextResult{Outcome: OutcomeRelayed, Request: active}, nil
		default:
			// Open request waiting for an agent: keep the transcript
			// growing so the eventual claimer sees everything.
			if err := s.store.AppendMessage(ctx, domain.Message{
				RequestID: active.ID,
				Sender:    domain.RoleCustomer,
				Body:      text,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return CustomerTextResult{}, err
			}
			return CustomerTextResult{Outcome: OutcomeQueued, Request: active}, nil
		}
	}

	if user.Language == "" {
		return CustomerTextResult{Outcome: OutcomeNeedLanguage}, nil
	}

	req, notified, err := s.openRequest(ctx, *user, text)
	if errors.Is(err, domain.ErrActiveRequestExists) {
		// Lost a race against another first message from the same
		// user. Re-run against the request that won; this time the
		// active lookup finds it and the text is queued or relayed.
		return s.CustomerText(ctx, userID, text)
	}
	if err != nil {
		return CustomerTextResult{}, err
	}
	return CustomerTextResult{Outcome: OutcomeOpened, Request: req, Notified: notified}, nil
}

// openRequest creates the request, records the initial query in its
// transcript, and broadcasts the offer to every eligible agent.
func (s *Service) openRequest(ctx context.Context, user domain.User, query string) (*domain.Request, int, error) {
	now := time.Now().UTC()
	req := domain.Request{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Language:     user.Language,
		InitialQuery: query,
		Status:       domain.StatusOpen,
		CreatedAt:    now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, 0, err
	}
	if err := s.store.AppendMessage(ctx, domain.Message{
		RequestID: req.ID,
		Sender:    domain.RoleCustomer,
		Body:      query,
		CreatedAt: now,
	}); err != nil {
		return nil, 0, err
	}

	metrics.RequestsCreated.Inc()
	metrics.OpenRequests.Inc()
	s.logger.Info("request opened",
		"request_id", req.ID,
		"user_id", user.ID,
		"language", req.Language,
	)

	if err := s.publisher.Publish(ctx, events.KeyRequestCreated, events.NewRequestCreated(req)); err != nil {
		s.logger.Warn("publish created event failed", "request_id", req.ID, "err", err)
	}

	agents, err := s.matcher.EligibleAgents(ctx, req)
	if err != nil {
		s.logger.Error("eligible agent lookup failed", "request_id", req.ID, "err", err)
		return &req, 0, nil
	}
	if len(agents) == 0 {
		s.logger.Info("no eligible agents", "request_id", req.ID, "language", req.Language)
		return &req, 0, nil
	}

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	if err := s.store.RecordBroadcast(ctx, req.ID, ids); err != nil {
		s.logger.Error("record broadcast failed", "request_id", req.ID, "err", err)
	}
	s.notifier.BroadcastNewRequest(ctx, req, user, agents)
	metrics.BroadcastsSent.Add(int64(len(agents)))
	return &req, len(agents), nil
}

// CustomerClose closes the customer's in-flight request, assigned or
// still open. Returns ErrNoActiveAssignment when there is nothing to
// close.
func (s *Service) CustomerClose(ctx context.Context, userID string) (*domain.Request, error) {
	active, err := s.store.ActiveRequestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, domain.ErrNoActiveAssignment
	}
	return s.router.Close(ctx, active.ID, domain.RoleCustomer)
}

// RegisterAgent creates or updates an agent with the given languages.
// Codes outside the configured set are dropped; at least one must
// survive.
func (s *Service) RegisterAgent(ctx context.Context, id ChatIdentity, languages []string) (*domain.Agent, error) {
	langs := s.filterSupported(languages)
	if len(langs) == 0 {
		return nil, ErrUnsupportedLanguage
	}

	agent, err := s.store.GetAgent(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		name := id.FirstName
		if name == "" {
			name = id.Username
		}
		if name == "" {
			name = id.ID
		}
		agent = &domain.Agent{
			ID:          id.ID,
			DisplayName: name,
			Languages:   langs,
			Available:   true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreateAgent(ctx, *agent); err != nil {
			return nil, err
		}
		s.logger.Info("agent registered", "agent_id", agent.ID, "languages", langs)
		return agent, nil
	}

	if err := s.store.SetAgentLanguages(ctx, agent.ID, langs); err != nil {
		return nil, err
	}
	agent.Languages = langs
	s.logger.Info("agent languages updated", "agent_id", agent.ID, "languages", langs)
	return agent, nil
}

// SetAgentLanguages replaces a registered agent's language set.
func (s *Service) SetAgentLanguages(ctx context.Context, agentID string, languages []string) (*domain.Agent, error) {
	langs := s.filterSupported(languages)
	if len(langs) == 0 {
		return nil, ErrUnsupportedLanguage
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.store.SetAgentLanguages(ctx, agentID, langs); err != nil {
		return nil, err
	}
	agent.Languages = langs
	return agent, nil
}

func (s *Service) filterSupported(codes []string) []string {
	var out []string
	for _, c := range domain.NormalizeLanguages(codes) {
		if s.supported(c) {
			out = append(out, c)
		}
	}
	return out
}

// ToggleAvailability flips the agent's availability and returns the
// new state. An unavailable agent keeps any conversation they already
// hold; they only stop receiving new offers.
func (s *Service) ToggleAvailability(ctx context.Context, agentID string) (bool, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	if agent == nil {
		return false, domain.ErrNotFound
	}
	next := !agent.Available
	if err := s.store.SetAgentAvailability(ctx, agentID, next); err != nil {
		return false, err
	}
	s.logger.Info("agent availability toggled", "agent_id", agentID, "available", next)
	return next, nil
}

// ClaimableRequests lists the open requests the agent could claim.
func (s *Service) ClaimableRequests(ctx context.Context, agentID string) ([]domain.Request, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	return s.matcher.ClaimableRequests(ctx, *agent)
}

// Claim arbitrates the agent's claim on the request.
func (s *Service) Claim(ctx context.Context, agentID, requestID string) (*domain.Request, error) {
	return s.arbiter.AttemptClaim(ctx, agentID, requestID)
}

// AgentText relays an agent's free-form text to the customer of their
// active conversation.
func (s *Service) AgentText(ctx context.Context, agentID, text string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return domain.ErrNotFound
	}
	return s.router.RelayFromAgent(ctx, *agent, text)
}

// AgentClose closes the agent's active conversation.
func (s *Service) AgentClose(ctx context.Context, agentID string) (*domain.Request, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.ErrNotFound
	}
	if agent.ActiveRequestID == "" {
		return nil, domain.ErrNoActiveAssignment
	}
	return s.router.Close(ctx, agent.ActiveRequestID, domain.RoleAgent)
}

// CancelRequest closes any non-closed request administratively, open
// ones included. Used by the operator CLI.
func (s *Service) CancelRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	return s.router.Close(ctx, requestID, domain.RoleSystem)
}
