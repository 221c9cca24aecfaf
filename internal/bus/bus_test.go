package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"supportdesk/internal/domain"
)

func newTestBus(size int) *InMemoryBus {
	return New(size, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSubscribe(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()

	evt := domain.InboundEvent{
		Channel: "telegram",
		ChatID:  "123",
		Kind:    domain.KindMessage,
		Content: "hello",
	}
	b.Publish(evt)

	select {
	case got := <-b.Subscribe():
		if got.Channel != "telegram" || got.Content != "hello" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishOrder(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()

	for _, content := range []string{"one", "two", "three"} {
		b.Publish(domain.InboundEvent{Channel: "console", Content: content})
	}

	sub := b.Subscribe()
	for _, want := range []string{"one", "two", "three"} {
		got := <-sub
		if got.Content != want {
			t.Fatalf("order broken: got %q, want %q", got.Content, want)
		}
	}
}

func TestOutboundRouting(t *testing.T) {
	b := newTestBus(10)
	defer b.Close()

	var mu sync.Mutex
	var telegram, console []string

	b.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		mu.Lock()
		telegram = append(telegram, msg.ChatID)
		mu.Unlock()
	})
	b.OnOutbound("console", func(msg domain.OutboundMessage) {
		mu.Lock()
		console = append(console, msg.ChatID)
		mu.Unlock()
	})

	b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "1"})
	b.SendOutbound(domain.OutboundMessage{Channel: "console", ChatID: "local"})
	// Unregistered channel: logged and dropped, no panic.
	b.SendOutbound(domain.OutboundMessage{Channel: "slack", ChatID: "x"})

	mu.Lock()
	defer mu.Unlock()
	if len(telegram) != 1 || telegram[0] != "1" {
		t.Fatalf("telegram routing wrong: %v", telegram)
	}
	if len(console) != 1 || console[0] != "local" {
		t.Fatalf("console routing wrong: %v", console)
	}
}

func TestPublishAfterClose_DoesNotPanic(t *testing.T) {
	b := newTestBus(10)
	b.Close()
	b.Publish(domain.InboundEvent{Channel: "telegram", Content: "late"})
	// Double close is also safe.
	b.Close()
}

func TestConcurrentPublishers(t *testing.T) {
	b := newTestBus(256)
	defer b.Close()

	const publishers = 8
	const perPublisher = 20

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(domain.InboundEvent{Channel: "console", Content: "x"})
			}
		}()
	}
	wg.Wait()

	sub := b.Subscribe()
	for i := 0; i < publishers*perPublisher; i++ {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d events arrived", i, publishers*perPublisher)
		}
	}
}
