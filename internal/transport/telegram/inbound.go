package telegram

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "shopbot/internal/transport"
)

// ToInbound normalizes a Telegram update. Messages, channel posts and
// "bot added to chat" membership changes are kept; other updates report
// false.
func ToInbound(u tele.Update) (kit.Inbound, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m != nil && m.Chat != nil {
		in := kit.Inbound{
			Kind:   chatKind(m.Chat.Type),
			ChatID: m.Chat.ID,
			Text:   strings.TrimSpace(m.Text),
			At:     time.Now(),
		}
		if m.Unixtime > 0 {
			in.At = time.Unix(m.Unixtime, 0)
		}
		if m.Sender != nil {
			in.FromID = m.Sender.ID
			in.Username = m.Sender.Username
		}
		in.DisplayName = displayName(m.Chat, m.Sender)
		return in, true
	}

	if cm := u.MyChatMember; cm != nil && cm.Chat != nil && joined(cm) {
		in := kit.Inbound{
			Kind:   chatKind(cm.Chat.Type),
			ChatID: cm.Chat.ID,
			At:     time.Now(),
		}
		if cm.Unixtime > 0 {
			in.At = time.Unix(cm.Unixtime, 0)
		}
		if cm.Sender != nil {
			in.FromID = cm.Sender.ID
			in.Username = cm.Sender.Username
		}
		in.DisplayName = displayName(cm.Chat, cm.Sender)
		return in, true
	}
	return kit.Inbound{}, false
}

func joined(cm *tele.ChatMemberUpdate) bool {
	if cm.NewChatMember == nil {
		return false
	}
	switch cm.NewChatMember.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true
	default:
		return false
	}
}

func chatKind(t tele.ChatType) kit.ChannelKind {
	switch t {
	case tele.ChatPrivate:
		return kit.KindPrivate
	case tele.ChatGroup:
		return kit.KindGroup
	case tele.ChatSuperGroup:
		return kit.KindSupergroup
	case tele.ChatChannel, tele.ChatChannelPrivate:
		return kit.KindChannel
	default:
		return kit.KindUnknown
	}
}

// displayName prefers the chat title, then the sender's name.
func displayName(c *tele.Chat, from *tele.User) string {
	if c != nil {
		if t := strings.TrimSpace(c.Title); t != "" {
			return t
		}
	}
	if from != nil {
		if n := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName)); n != "" {
			return n
		}
	}
	if c != nil {
		return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	}
	return ""
}
