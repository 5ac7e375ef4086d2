// Package tgui provides small helpers for composing Telegram messages in
// ParseMode="HTML": escaping, inline tags, a line builder, and the number
// and time formats used by shop announcements.
package tgui
