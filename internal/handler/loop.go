// Package handler consumes chat events from the message bus, parses
// commands and button callbacks, and drives the dispatch service. One
// handler serves every connected transport.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"supportdesk/internal/dispatch"
	"supportdesk/internal/domain"
	"supportdesk/internal/replies"
)

const defaultConcurrency = 4

// Handler is the chat-facing event loop.
type Handler struct {
	bus         domain.MessageBus
	svc         *dispatch.Service
	store       domain.Store
	catalog     *replies.Catalog
	logger      *slog.Logger
	concurrency int
	previewLen  int
}

// Config holds the handler's dependencies and tuning parameters.
type Config struct {
	Bus         domain.MessageBus
	Service     *dispatch.Service
	Store       domain.Store
	Catalog     *replies.Catalog
	Logger      *slog.Logger
	Concurrency int // max events processed in parallel
	PreviewLen  int // initial-query preview length in listings
}

func New(cfg Config) *Handler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = defaultPreviewLen
	}
	return &Handler{
		bus:         cfg.Bus,
		svc:         cfg.Service,
		store:       cfg.Store,
		catalog:     cfg.Catalog,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		previewLen:  cfg.PreviewLen,
	}
}

// Run consumes inbound events with bounded concurrency until the
// context is cancelled or the bus closes.
func (h *Handler) Run(ctx context.Context) {
	h.logger.Info("handler loop started", "concurrency", h.concurrency)

	sem := make(chan struct{}, h.concurrency)
	inbound := h.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler loop stopping")
			return
		case evt, ok := <-inbound:
			if !ok {
				h.logger.Info("inbound channel closed, handler loop stopping")
				return
			}
			sem <- struct{}{}
			go func(e domain.InboundEvent) {
				defer func() { <-sem }()
				h.process(ctx, e)
			}(evt)
		}
	}
}

// Identity builds the store-wide identity for a chat event. The
// channel name is folded into the id so one database serves several
// transports without collisions.
func Identity(evt domain.InboundEvent) dispatch.ChatIdentity {
	return dispatch.ChatIdentity{
		ID:        evt.Channel + ":" + evt.ChatID,
		Username:  evt.Username,
		FirstName: evt.FirstName,
	}
}

func (h *Handler) process(ctx context.Context, evt domain.InboundEvent) {
	id := Identity(evt)

	switch {
	case evt.Kind == domain.KindCallback:
		h.handleCallback(ctx, evt, id)
	default:
		if cmd := ParseCommand(evt.Content); cmd != nil {
			h.handleCommand(ctx, evt, id, cmd)
			return
		}
		h.handleText(ctx, evt, id)
	}
}

func (h *Handler) reply(evt domain.InboundEvent, text string, buttons ...domain.Button) {
	h.bus.SendOutbound(domain.OutboundMessage{
		Channel: evt.Channel,
		ChatID:  evt.ChatID,
		Content: text,
		Buttons: buttons,
	})
}

func (h *Handler) languageButtons() []domain.Button {
	langs := h.svc.SupportedLanguages()
	buttons := make([]domain.Button, len(langs))
	for i, code := range langs {
		buttons[i] = domain.Button{
			Label: replies.LanguageLabel(code),
			Data:  "lang_" + code,
		}
	}
	return buttons
}

// userLanguage returns the sender's chosen language for localization,
// or "" (English fallback) when unknown.
func (h *Handler) userLanguage(ctx context.Context, userID string) string {
	user, err := h.store.GetUser(ctx, userID)
	if err != nil || user == nil {
		return ""
	}
	return user.Language
}

func (h *Handler) isAgent(ctx context.Context, id string) (*domain.Agent, bool) {
	agent, err := h.store.GetAgent(ctx, id)
	if err != nil {
		h.logger.Error("agent lookup failed", "id", id, "err", err)
		return nil, false
	}
	return agent, agent != nil
}

func (h *Handler) handleCommand(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity, cmd *ChatCommand) {
	h.logger.Debug("command", "name", cmd.Name, "chat", evt.ChatID, "channel", evt.Channel)

	switch cmd.Name {
	case "start":
		h.cmdStart(ctx, evt, id)
	case "close":
		h.cmdClose(ctx, evt, id)
	case "register_agent":
		h.cmdRegisterAgent(ctx, evt, id, cmd.Args)
	case "languages":
		h.cmdLanguages(ctx, evt, id, cmd.Args)
	case "status_toggle":
		h.cmdStatusToggle(ctx, evt, id)
	case "requests":
		h.cmdRequests(ctx, evt, id)
	case "help":
		if _, ok := h.isAgent(ctx, id.ID); ok {
			h.reply(evt, h.catalog.Get("", replies.KeyHelpAgent))
			return
		}
		h.reply(evt, h.catalog.Get(h.userLanguage(ctx, id.ID), replies.KeyHelpCustomer))
	default:
		h.reply(evt, h.catalog.Get(h.userLanguage(ctx, id.ID), replies.KeyUnknownCommand))
	}
}

func (h *Handler) cmdStart(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	// Agents get their status back, not the customer onboarding.
	if agent, ok := h.isAgent(ctx, id.ID); ok {
		status := "unavailable"
		if agent.Available {
			status = "available"
		}
		h.reply(evt, h.catalog.Render("", replies.KeyStartAgent, map[string]string{
			"name":      agent.DisplayName,
			"languages": strings.Join(agent.Languages, ", "),
			"status":    status,
		}))
		return
	}

	user, active, err := h.svc.StartSession(ctx, id)
	if err != nil {
		h.logger.Error("start session failed", "id", id.ID, "err", err)
		return
	}

	if active != nil {
		h.reply(evt, h.catalog.Render(user.Language, replies.KeyWelcomeBack, map[string]string{
			"name":   user.DisplayName(),
			"status": string(active.Status),
		}))
		return
	}
	if user.Language == "" {
		h.reply(evt, h.catalog.Render("", replies.KeyChooseLanguage, map[string]string{
			"name": user.DisplayName(),
		}), h.languageButtons()...)
		return
	}
	h.reply(evt, h.catalog.Render(user.Language, replies.KeyLanguageSet, map[string]string{
		"language": replies.LanguageLabel(user.Language),
	}))
}

func (h *Handler) cmdClose(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	if _, ok := h.isAgent(ctx, id.ID); ok {
		if _, err := h.svc.AgentClose(ctx, id.ID); err != nil {
			if errors.Is(err, domain.ErrNoActiveAssignment) {
				h.reply(evt, h.catalog.Get("", replies.KeyNoAssignment))
				return
			}
			h.logger.Error("agent close failed", "agent_id", id.ID, "err", err)
		}
		return
	}

	if _, err := h.svc.CustomerClose(ctx, id.ID); err != nil {
		if errors.Is(err, domain.ErrNoActiveAssignment) {
			h.reply(evt, h.catalog.Get(h.userLanguage(ctx, id.ID), replies.KeyNothingToClose))
			return
		}
		h.logger.Error("customer close failed", "user_id", id.ID, "err", err)
	}
}

// splitLanguageArgs accepts both "/languages en es" and
// "/languages en,es".
func splitLanguageArgs(args []string) []string {
	var out []string
	for _, a := range args {
		for _, code := range strings.Split(a, ",") {
			if code = strings.TrimSpace(code); code != "" {
				out = append(out, code)
			}
		}
	}
	return out
}

func (h *Handler) cmdRegisterAgent(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity, args []string) {
	agent, err := h.svc.RegisterAgent(ctx, id, splitLanguageArgs(args))
	if err != nil {
		if errors.Is(err, dispatch.ErrUnsupportedLanguage) {
			h.reply(evt, h.catalog.Render("", replies.KeyBadLanguages, map[string]string{
				"languages": strings.Join(h.svc.SupportedLanguages(), ", "),
			}))
			return
		}
		h.logger.Error("register agent failed", "id", id.ID, "err", err)
		return
	}
	h.reply(evt, h.catalog.Render("", replies.KeyAgentRegistered, map[string]string{
		"languages": strings.Join(agent.Languages, ", "),
	}))
}

func (h *Handler) cmdLanguages(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity, args []string) {
	agent, err := h.svc.SetAgentLanguages(ctx, id.ID, splitLanguageArgs(args))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.reply(evt, h.catalog.Get("", replies.KeyNotAgent))
		case errors.Is(err, dispatch.ErrUnsupportedLanguage):
			h.reply(evt, h.catalog.Render("", replies.KeyBadLanguages, map[string]string{
				"languages": strings.Join(h.svc.SupportedLanguages(), ", "),
			}))
		default:
			h.logger.Error("set languages failed", "id", id.ID, "err", err)
		}
		return
	}
	h.reply(evt, h.catalog.Render("", replies.KeyLanguagesUpdated, map[string]string{
		"languages": strings.Join(agent.Languages, ", "),
	}))
}

func (h *Handler) cmdStatusToggle(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	available, err := h.svc.ToggleAvailability(ctx, id.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(evt, h.catalog.Get("", replies.KeyNotAgent))
			return
		}
		h.logger.Error("toggle availability failed", "id", id.ID, "err", err)
		return
	}
	key := replies.KeyAvailableOff
	if available {
		key = replies.KeyAvailableOn
	}
	h.reply(evt, h.catalog.Get("", key))
}

func (h *Handler) cmdRequests(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	agent, ok := h.isAgent(ctx, id.ID)
	if !ok {
		h.reply(evt, h.catalog.Get("", replies.KeyNotAgent))
		return
	}

	// The agent's own conversation comes first, then the backlog.
	if agent.ActiveRequestID != "" {
		if r, err := h.store.GetRequest(ctx, agent.ActiveRequestID); err == nil && r != nil {
			h.reply(evt, h.catalog.Render("", replies.KeyActiveConvo, map[string]string{
				"language": r.Language,
				"name":     h.customerName(ctx, r.UserID),
				"query":    truncate(r.InitialQuery, h.previewLen),
			}))
		}
	}

	reqs, err := h.svc.ClaimableRequests(ctx, id.ID)
	if err != nil {
		h.logger.Error("list requests failed", "id", id.ID, "err", err)
		return
	}
	if len(reqs) == 0 {
		h.reply(evt, h.catalog.Get("", replies.KeyRequestsEmpty))
		return
	}

	h.reply(evt, h.catalog.Get("", replies.KeyRequestsHeader))
	claimLabel := h.catalog.Get("", replies.KeyClaimButton)
	for i, r := range reqs {
		line := h.catalog.Render("", replies.KeyRequestsLine, map[string]string{
			"index":    fmt.Sprintf("%d", i+1),
			"language": r.Language,
			"name":     h.customerName(ctx, r.UserID),
			"query":    truncate(r.InitialQuery, h.previewLen),
		})
		h.reply(evt, line, domain.Button{Label: claimLabel, Data: "claim_" + r.ID})
	}
}

func (h *Handler) customerName(ctx context.Context, userID string) string {
	if u, err := h.store.GetUser(ctx, userID); err == nil && u != nil {
		return u.DisplayName()
	}
	return userID
}

func (h *Handler) handleCallback(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	data := evt.CallbackData
	switch {
	case strings.HasPrefix(data, "lang_"):
		h.selectLanguage(ctx, evt, id, strings.TrimPrefix(data, "lang_"))
	case strings.HasPrefix(data, "claim_"):
		h.claim(ctx, evt, id, strings.TrimPrefix(data, "claim_"))
	default:
		h.logger.Warn("unknown callback", "data", data, "chat", evt.ChatID)
	}
}

func (h *Handler) selectLanguage(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity, code string) {
	if err := h.svc.SelectLanguage(ctx, id.ID, code); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			h.reply(evt, h.catalog.Get("", replies.KeyNeedStart))
		case errors.Is(err, dispatch.ErrUnsupportedLanguage):
			h.reply(evt, h.catalog.Get("", replies.KeyNeedLanguage), h.languageButtons()...)
		default:
			h.logger.Error("select language failed", "id", id.ID, "err", err)
		}
		return
	}
	h.reply(evt, h.catalog.Render(code, replies.KeyLanguageSet, map[string]string{
		"language": replies.LanguageLabel(code),
	}))
}

// claim runs the arbitration. Win or lose, the arbiter already
// notified the agent; only an unregistered sender needs a reply here.
func (h *Handler) claim(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity, requestID string) {
	if _, ok := h.isAgent(ctx, id.ID); !ok {
		h.reply(evt, h.catalog.Get("", replies.KeyNotAgent))
		return
	}
	if _, err := h.svc.Claim(ctx, id.ID, requestID); err != nil {
		h.logger.Debug("claim did not succeed", "agent_id", id.ID, "request_id", requestID, "err", err)
	}
}

func (h *Handler) handleText(ctx context.Context, evt domain.InboundEvent, id dispatch.ChatIdentity) {
	if _, ok := h.isAgent(ctx, id.ID); ok {
		if err := h.svc.AgentText(ctx, id.ID, evt.Content); err != nil {
			if errors.Is(err, domain.ErrNoActiveAssignment) {
				h.reply(evt, h.catalog.Get("", replies.KeyNoAssignment))
				return
			}
			h.logger.Error("agent relay failed", "agent_id", id.ID, "err", err)
		}
		return
	}

	res, err := h.svc.CustomerText(ctx, id.ID, evt.Content)
	if err != nil {
		h.logger.Error("customer text failed", "user_id", id.ID, "err", err)
		return
	}

	lang := h.userLanguage(ctx, id.ID)
	switch res.Outcome {
	case dispatch.OutcomeRelayed:
		// Delivered to the agent verbatim; no echo.
	case dispatch.OutcomeQueued:
		h.reply(evt, h.catalog.Get(lang, replies.KeyRequestQueued))
	case dispatch.OutcomeOpened:
		h.reply(evt, h.catalog.Get(lang, replies.KeyRequestOpened))
		if res.Notified == 0 {
			h.reply(evt, h.catalog.Get(lang, replies.KeyNoAgents))
		}
	case dispatch.OutcomeNeedLanguage:
		h.reply(evt, h.catalog.Get("", replies.KeyNeedLanguage), h.languageButtons()...)
	case dispatch.OutcomeNeedStart:
		h.reply(evt, h.catalog.Get("", replies.KeyNeedStart))
	}
}
