package dispatch

import (
	"strings"
	"time"

	"shopbot/internal/feed"
	"shopbot/internal/model"
	"shopbot/pkg/tgui"
)

// OrderMessage renders the announcement for a new order.
func OrderMessage(o model.Order, loc *time.Location) string {
	at := o.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return tgui.New().
		Title("🛒", "NEW ORDER!").
		Rule().
		KV("👤", "User", o.BuyerName).
		KV("📦", "Product", o.ProductName).
		KV("💰", "Price", tgui.FormatPrice(o.TotalPrice)+" VND").
		KV("🕐", "Time", tgui.FormatTime(at, loc)).
		String()
}

// ProductMessage renders the announcement for an appended catalog row. A
// zero price reads "Contact us"; the row timestamp is shown verbatim.
func ProductMessage(row feed.Row, persisted bool, loc *time.Location) string {
	price := "Contact us"
	if row.Price > 0 {
		price = tgui.FormatPrice(row.Price) + " VND"
	}
	ts := strings.TrimSpace(row.Timestamp)
	if ts == "" {
		ts = tgui.FormatTime(time.Now(), loc)
	}
	b := tgui.New().
		Title("📦", "NEW PRODUCT!").
		Rule().
		KV("🏷️", "Name", row.Name).
		KV("💰", "Price", price).
		KV("🕐", "Time", ts)
	if persisted {
		b.Blank().RawLine(tgui.JoinH(" ", tgui.Esc("✅"), tgui.I("Added to the shop!")))
	} else {
		b.Blank().RawLine(tgui.JoinH(" ", tgui.Esc("⚠️"), tgui.I("Not saved to the shop yet.")))
	}
	return b.String()
}
