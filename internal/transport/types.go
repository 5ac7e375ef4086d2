package transport

import (
	"context"
	"time"
)

// ChannelKind is the conversation type an inbound event came from.
type ChannelKind string

const (
	KindPrivate    ChannelKind = "private"
	KindGroup      ChannelKind = "group"
	KindSupergroup ChannelKind = "supergroup"
	KindChannel    ChannelKind = "channel"
	KindUnknown    ChannelKind = ""
)

// Broadcast reports whether the kind is a multi-member conversation
// (group, supergroup or channel).
func (k ChannelKind) Broadcast() bool {
	switch k {
	case KindGroup, KindSupergroup, KindChannel:
		return true
	default:
		return false
	}
}

// Inbound is one chat event normalized away from the transport.
type Inbound struct {
	Kind        ChannelKind
	ChatID      int64
	FromID      int64
	DisplayName string
	Username    string
	Text        string
	At          time.Time
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// InboundHandler consumes one inbound event. It is called synchronously by
// the transport; a slow handler delays the acknowledgement of that event.
type InboundHandler func(ctx context.Context, in Inbound)

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, h InboundHandler) error
	Stop(ctx context.Context) error
}
