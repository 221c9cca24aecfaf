package handler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"supportdesk/internal/dispatch"
	"supportdesk/internal/domain"
	"supportdesk/internal/events"
	"supportdesk/internal/replies"
	"supportdesk/internal/store"
)

// --- ParseCommand ---

func TestParseCommand(t *testing.T) {
	cases := []struct {
		input string
		name  string
		args  []string
	}{
		{"/start", "start", nil},
		{"/START", "start", nil},
		{"  /close  ", "close", nil},
		{"/register_agent en es", "register_agent", []string{"en", "es"}},
		{"/start@supportbot", "start", nil},
		{"/requests@supportbot now", "requests", []string{"now"}},
	}
	for _, tc := range cases {
		cmd := ParseCommand(tc.input)
		if cmd == nil {
			t.Fatalf("%q: expected a command", tc.input)
		}
		if cmd.Name != tc.name {
			t.Errorf("%q: name = %q, want %q", tc.input, cmd.Name, tc.name)
		}
		if len(cmd.Args) != len(tc.args) {
			t.Errorf("%q: args = %v, want %v", tc.input, cmd.Args, tc.args)
			continue
		}
		for i := range tc.args {
			if cmd.Args[i] != tc.args[i] {
				t.Errorf("%q: args = %v, want %v", tc.input, cmd.Args, tc.args)
				break
			}
		}
	}
}

func TestParseCommand_NotACommand(t *testing.T) {
	for _, input := range []string{"hello", "", "   ", "just /start in the middle"} {
		if cmd := ParseCommand(input); cmd != nil {
			t.Errorf("%q: expected nil, got %+v", input, cmd)
		}
	}
}

func TestSplitLanguageArgs(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"en", "es"}, []string{"en", "es"}},
		{[]string{"en,es"}, []string{"en", "es"}},
		{[]string{"en,", "es,fr"}, []string{"en", "es", "fr"}},
		{nil, nil},
	}
	for _, tc := range cases {
		got := splitLanguageArgs(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("%v: got %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("%v: got %v, want %v", tc.in, got, tc.want)
				break
			}
		}
	}
}

// --- SplitIdentity ---

func TestSplitIdentity(t *testing.T) {
	cases := []struct {
		id      string
		channel string
		chatID  string
	}{
		{"telegram:12345", "telegram", "12345"},
		{"console:local", "console", "local"},
		{"telegram:group:99", "telegram", "group:99"},
		{"bare", "", "bare"},
	}
	for _, tc := range cases {
		ch, chat := SplitIdentity(tc.id)
		if ch != tc.channel || chat != tc.chatID {
			t.Errorf("%q: got (%q, %q), want (%q, %q)", tc.id, ch, chat, tc.channel, tc.chatID)
		}
	}
}

// --- BusNotifier ---

// captureBus records outbound messages for assertions.
type captureBus struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (b *captureBus) Publish(domain.InboundEvent)                     {}
func (b *captureBus) Subscribe() <-chan domain.InboundEvent           { return nil }
func (b *captureBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *captureBus) Close()                                          {}

func (b *captureBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
}

func (b *captureBus) last(t *testing.T) domain.OutboundMessage {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		t.Fatal("no outbound messages")
	}
	return b.sent[len(b.sent)-1]
}

func newTestNotifier(t *testing.T) (*BusNotifier, *captureBus) {
	t.Helper()
	bus := &captureBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBusNotifier(bus, replies.NewCatalog(), logger, 0, 0), bus
}

func TestBroadcastNewRequest_ClaimButtonCarriesRequestID(t *testing.T) {
	n, bus := newTestNotifier(t)

	req := domain.Request{ID: "req-123", Language: "en", InitialQuery: "help me"}
	customer := domain.User{ID: "telegram:1", FirstName: "Ada"}
	agents := []domain.Agent{
		{ID: "telegram:10"},
		{ID: "console:alice"},
	}
	n.BroadcastNewRequest(context.Background(), req, customer, agents)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.sent) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(bus.sent))
	}
	for _, msg := range bus.sent {
		if len(msg.Buttons) != 1 || msg.Buttons[0].Data != "claim_req-123" {
			t.Fatalf("claim button wrong: %+v", msg.Buttons)
		}
		if !strings.Contains(msg.Content, "Ada") || !strings.Contains(msg.Content, "help me") {
			t.Fatalf("offer text wrong: %q", msg.Content)
		}
	}
	if bus.sent[0].Channel != "telegram" || bus.sent[1].Channel != "console" {
		t.Fatalf("channel routing wrong: %+v", bus.sent)
	}
}

func TestBroadcastNewRequest_TruncatesLongQuery(t *testing.T) {
	bus := &captureBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewBusNotifier(bus, replies.NewCatalog(), logger, 10, 0)

	req := domain.Request{ID: "r1", Language: "en", InitialQuery: strings.Repeat("x", 50)}
	n.BroadcastNewRequest(context.Background(), req, domain.User{ID: "u"}, []domain.Agent{{ID: "telegram:10"}})

	msg := bus.last(t)
	if strings.Contains(msg.Content, strings.Repeat("x", 11)) {
		t.Fatalf("query not truncated: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "…") {
		t.Fatalf("truncation marker missing: %q", msg.Content)
	}
}

func TestNotifyAssigned_ReplaysHistoryAndLocalizesCustomer(t *testing.T) {
	n, bus := newTestNotifier(t)

	req := domain.Request{ID: "r1", Language: "es"}
	customer := domain.User{ID: "telegram:1", FirstName: "Ada", Language: "es"}
	agent := domain.Agent{ID: "telegram:10", DisplayName: "Grace"}
	history := []domain.Message{
		{Sender: domain.RoleCustomer, Body: "hola"},
		{Sender: domain.RoleCustomer, Body: "mi impresora explotó"},
	}
	n.NotifyAssigned(context.Background(), req, customer, agent, history)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if len(bus.sent) != 2 {
		t.Fatalf("expected agent + customer messages, got %d", len(bus.sent))
	}
	agentMsg, customerMsg := bus.sent[0], bus.sent[1]

	if !strings.Contains(agentMsg.Content, "[customer] hola") ||
		!strings.Contains(agentMsg.Content, "mi impresora explotó") {
		t.Fatalf("history not replayed: %q", agentMsg.Content)
	}
	// Customer notification rendered in the request language.
	if !strings.Contains(customerMsg.Content, "Grace se ha unido") {
		t.Fatalf("customer notice not localized: %q", customerMsg.Content)
	}
}

func TestNotifyAssigned_CapsHistory(t *testing.T) {
	bus := &captureBus{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := NewBusNotifier(bus, replies.NewCatalog(), logger, 0, 2)

	history := []domain.Message{
		{Sender: domain.RoleCustomer, Body: "one"},
		{Sender: domain.RoleCustomer, Body: "two"},
		{Sender: domain.RoleCustomer, Body: "three"},
	}
	n.NotifyAssigned(context.Background(), domain.Request{ID: "r1", Language: "en"},
		domain.User{ID: "telegram:1"}, domain.Agent{ID: "telegram:10"}, history)

	bus.mu.Lock()
	agentMsg := bus.sent[0]
	bus.mu.Unlock()
	if strings.Contains(agentMsg.Content, "one") {
		t.Fatalf("oldest line should be dropped: %q", agentMsg.Content)
	}
	if !strings.Contains(agentMsg.Content, "two") || !strings.Contains(agentMsg.Content, "three") {
		t.Fatalf("tail missing: %q", agentMsg.Content)
	}
}

func TestNotifyClaimRejected_ReasonSelection(t *testing.T) {
	n, bus := newTestNotifier(t)
	ctx := context.Background()

	n.NotifyClaimRejected(ctx, "telegram:10", domain.ErrAlreadyClaimed)
	if !strings.Contains(bus.last(t).Content, "Too late") {
		t.Fatalf("conflict text wrong: %q", bus.last(t).Content)
	}

	n.NotifyClaimRejected(ctx, "telegram:10", &domain.IneligibleError{
		AgentID: "telegram:10", Reason: domain.ReasonLanguageMismatch,
	})
	if !strings.Contains(bus.last(t).Content, "language mismatch") {
		t.Fatalf("ineligible text wrong: %q", bus.last(t).Content)
	}

	n.NotifyClaimRejected(ctx, "telegram:10", domain.ErrNotFound)
	if !strings.Contains(bus.last(t).Content, "no longer exists") {
		t.Fatalf("not-found text wrong: %q", bus.last(t).Content)
	}
}

func TestDeliver_Verbatim(t *testing.T) {
	n, bus := newTestNotifier(t)
	ctx := context.Background()

	const text = "exactly   this, *unchanged*"
	n.DeliverToUser(ctx, "telegram:1", text)
	if got := bus.last(t); got.Content != text || got.ChatID != "1" {
		t.Fatalf("user delivery altered: %+v", got)
	}
	n.DeliverToAgent(ctx, "console:bob", text)
	if got := bus.last(t); got.Content != text || got.Channel != "console" {
		t.Fatalf("agent delivery altered: %+v", got)
	}
}

// --- Handler command flows ---

func newHandlerHarness(t *testing.T) (*Handler, *captureBus, *dispatch.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := &captureBus{}
	catalog := replies.NewCatalog()
	notifier := NewBusNotifier(bus, catalog, logger, 0, 0)
	svc := dispatch.NewService(st, notifier, events.Nop{}, logger, []string{"en", "es"})
	h := New(Config{
		Bus:     bus,
		Service: svc,
		Store:   st,
		Catalog: catalog,
		Logger:  logger,
	})
	return h, bus, svc
}

func consoleEvent(chatID, kind, content, callback string) domain.InboundEvent {
	return domain.InboundEvent{
		Channel:      "console",
		ChatID:       chatID,
		FirstName:    chatID,
		Kind:         domain.EventKind(kind),
		Content:      content,
		CallbackData: callback,
	}
}

func openRequestFor(t *testing.T, svc *dispatch.Service, userID, text string) *domain.Request {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.StartSession(ctx, dispatch.ChatIdentity{ID: userID, FirstName: userID}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := svc.SelectLanguage(ctx, userID, "en"); err != nil {
		t.Fatalf("select language: %v", err)
	}
	res, err := svc.CustomerText(ctx, userID, text)
	if err != nil || res.Outcome != dispatch.OutcomeOpened {
		t.Fatalf("open request: %v %v", res.Outcome, err)
	}
	return res.Request
}

func TestCmdStart_AgentGetsStatusNotOnboarding(t *testing.T) {
	h, bus, svc := newHandlerHarness(t)
	ctx := context.Background()

	if _, err := svc.RegisterAgent(ctx, dispatch.ChatIdentity{ID: "console:a1", FirstName: "Grace"}, []string{"en"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h.process(ctx, consoleEvent("a1", "command", "/start", ""))

	msg := bus.last(t)
	if !strings.Contains(msg.Content, "support agent") || !strings.Contains(msg.Content, "available") {
		t.Fatalf("expected agent greeting with status, got %q", msg.Content)
	}
	if len(msg.Buttons) != 0 {
		t.Fatalf("agent greeting must not carry the language picker: %+v", msg.Buttons)
	}
}

func TestCmdStart_CustomerStillGetsLanguagePicker(t *testing.T) {
	h, bus, _ := newHandlerHarness(t)

	h.process(context.Background(), consoleEvent("u1", "command", "/start", ""))

	msg := bus.last(t)
	if len(msg.Buttons) == 0 {
		t.Fatalf("new customer should see language buttons: %+v", msg)
	}
}

func TestCmdRequests_ListsActiveConversationFirst(t *testing.T) {
	h, bus, svc := newHandlerHarness(t)
	ctx := context.Background()

	if _, err := svc.RegisterAgent(ctx, dispatch.ChatIdentity{ID: "console:a1"}, []string{"en"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	mine := openRequestFor(t, svc, "console:u1", "printer on fire")
	if _, err := svc.Claim(ctx, "console:a1", mine.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	openRequestFor(t, svc, "console:u2", "disk full")

	before := len(bus.sent)
	h.process(ctx, consoleEvent("a1", "command", "/requests", ""))

	bus.mu.Lock()
	sent := bus.sent[before:]
	bus.mu.Unlock()
	if len(sent) < 2 {
		t.Fatalf("expected active line plus backlog, got %d messages", len(sent))
	}
	if !strings.Contains(sent[0].Content, "active conversation") ||
		!strings.Contains(sent[0].Content, "printer on fire") {
		t.Fatalf("active conversation not listed first: %q", sent[0].Content)
	}
	last := sent[len(sent)-1]
	if !strings.Contains(last.Content, "disk full") || len(last.Buttons) != 1 {
		t.Fatalf("claimable backlog missing: %+v", last)
	}
}

func TestCmdRequests_BusyAgentEmptyBacklogStillSeesActive(t *testing.T) {
	h, bus, svc := newHandlerHarness(t)
	ctx := context.Background()

	if _, err := svc.RegisterAgent(ctx, dispatch.ChatIdentity{ID: "console:a1"}, []string{"en"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	mine := openRequestFor(t, svc, "console:u1", "printer on fire")
	if _, err := svc.Claim(ctx, "console:a1", mine.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	before := len(bus.sent)
	h.process(ctx, consoleEvent("a1", "command", "/requests", ""))

	bus.mu.Lock()
	sent := bus.sent[before:]
	bus.mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected active line + empty notice, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Content, "active conversation") {
		t.Fatalf("active conversation missing: %q", sent[0].Content)
	}
	if !strings.Contains(sent[1].Content, "No open requests") {
		t.Fatalf("empty backlog notice missing: %q", sent[1].Content)
	}
}

func TestNotifyClosed_AgentOptional(t *testing.T) {
	n, bus := newTestNotifier(t)
	ctx := context.Background()

	// No agent bound: only the customer hears about it.
	n.NotifyClosed(ctx, domain.Request{ID: "r1", Language: "en"},
		domain.User{ID: "telegram:1"}, nil, domain.RoleSystem)

	bus.mu.Lock()
	count := len(bus.sent)
	bus.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 message without agent, got %d", count)
	}

	agent := domain.Agent{ID: "telegram:10"}
	n.NotifyClosed(ctx, domain.Request{ID: "r1", Language: "en"},
		domain.User{ID: "telegram:1"}, &agent, domain.RoleAgent)

	bus.mu.Lock()
	count = len(bus.sent)
	bus.mu.Unlock()
	if count != 3 {
		t.Fatalf("expected customer + agent messages, got %d total", count)
	}
}
