package registration

import (
	"shopbot/internal/model"
	"shopbot/pkg/tgui"
)

func msgGroupRegistered() string {
	return "✅ This group is now registered for notifications."
}

func msgRegistered() string {
	return tgui.New().
		Line("✅ Registration successful!").
		Blank().
		Line("You will be notified about new orders and new products.").
		String()
}

func msgRegisteredAs(username, role string) string {
	return tgui.New().
		Line("✅ Registration successful!").
		Blank().
		KV("👤", "Account", username).
		KV("🔑", "Role", role).
		Blank().
		Line("You will be notified about new orders and new products.").
		String()
}

func msgAlreadyRegistered() string { return "⚠️ You are already registered." }

func msgLoginRejected() string { return "❌ Login failed. Check your credentials and try again." }

func msgTryLater() string { return "⚠️ Something went wrong. Please try again later." }

// msgPrivateBot shows the login forms with placeholders only.
func msgPrivateBot() string {
	return tgui.New().
		Title("🔒", "Private bot").
		Blank().
		Line("Register with one of:").
		RawLine(tgui.Code("/login <password>")).
		RawLine(tgui.Code("/login <username> <password>")).
		Blank().
		RawLine(tgui.I("Ask the shop admin for your credentials.")).
		String()
}

func msgStatus(r model.Recipient) string {
	b := tgui.New().Line("👋 You are online and registered for notifications.")
	if r.Username != "" {
		b.KV("👤", "Account", r.Username)
	}
	return b.String()
}

func msgHelp() string {
	return tgui.New().
		Title("📖", "Usage").
		Blank().
		Bullets(
			tgui.JoinH(" - ", tgui.Code("/start"), tgui.Esc("check your status")),
			tgui.JoinH(" - ", tgui.Code("/login <password>"), tgui.Esc("subscribe with the bot password")),
			tgui.JoinH(" - ", tgui.Code("/login <username> <password>"), tgui.Esc("subscribe with a shop account")),
			tgui.JoinH(" - ", tgui.Code("/help"), tgui.Esc("show this help")),
		).
		String()
}

func msgUsage() string {
	return tgui.New().
		Line("Unknown command.").
		RawLine(tgui.JoinH(" ", tgui.Esc("Send"), tgui.Code("/help"), tgui.Esc("for usage."))).
		String()
}
