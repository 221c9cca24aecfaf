package domain

import (
	"context"
	"time"
)

// EventKind distinguishes the inbound event shapes a chat transport
// can produce.
type EventKind string

const (
	KindMessage  EventKind = "message"  // plain text
	KindCommand  EventKind = "command"  // slash command, parsed by the handler
	KindCallback EventKind = "callback" // inline button press
)

// InboundEvent is one chat event: a message, command, or button press.
// ChatID is the sender's stable chat identity on the given channel.
type InboundEvent struct {
	Channel      string
	ChatID       string
	Username     string
	FirstName    string
	Kind         EventKind
	Content      string // message text or full command line
	CallbackData string // set for KindCallback
	Timestamp    time.Time
}

// Button is an inline affordance attached to an outbound message.
// Data comes back verbatim as InboundEvent.CallbackData when pressed.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is one delivery the handler asks a channel to make.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Buttons []Button
}

// Channel is a chat transport. Start blocks until the context is
// cancelled or the transport fails.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// MessageBus decouples chat transports from the event handler.
type MessageBus interface {
	Publish(evt InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
