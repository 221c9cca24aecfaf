package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"supportdesk/internal/domain"
)

// Console implements domain.Channel as a local terminal session, used
// for trying the desk without a Telegram token. One console is one
// chat identity; buttons are printed with their payloads and pressed
// by typing "@<payload>".
type Console struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	chatID string
	name   string
}

type ConsoleConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	ChatID string // defaults to "local"
	Name   string // display name, defaults to "console user"
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ChatID == "" {
		cfg.ChatID = "local"
	}
	if cfg.Name == "" {
		cfg.Name = "console user"
	}
	return &Console{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		chatID: cfg.ChatID,
		name:   cfg.Name,
	}
}

func (c *Console) Name() string { return "console" }

// Start runs the REPL and blocks until the context is cancelled or
// input ends.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("console", func(msg domain.OutboundMessage) {
		fmt.Fprintln(c.out, msg.Content)
		for _, b := range msg.Buttons {
			fmt.Fprintf(c.out, "  [%s] type @%s\n", b.Label, b.Data)
		}
		fmt.Fprint(c.out, "> ")
	})

	fmt.Fprintln(c.out, "Support desk console. /start to begin, /quit to exit.")
	fmt.Fprint(c.out, "> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("console session ended")
			return nil
		}

		evt := domain.InboundEvent{
			Channel:   "console",
			ChatID:    c.chatID,
			FirstName: c.name,
			Timestamp: time.Now(),
		}
		switch {
		case strings.HasPrefix(line, "@"):
			evt.Kind = domain.KindCallback
			evt.CallbackData = strings.TrimPrefix(line, "@")
		case strings.HasPrefix(line, "/"):
			evt.Kind = domain.KindCommand
			evt.Content = line
		default:
			evt.Kind = domain.KindMessage
			evt.Content = line
		}
		c.bus.Publish(evt)
	}
}

// Stop is a no-op; the console exits when Start returns.
func (c *Console) Stop() error { return nil }
