package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/render"
	tele "gopkg.in/telebot.v4"

	logx "shopbot/pkg/logx"
)

const maxUpdateBytes = 1 << 20

// WebhookHandler serves Telegram webhook deliveries. The update is handled
// before the response is written; Telegram gets 200 whatever the handler
// did, 401 for a wrong secret token and 400 for a body it cannot decode.
func (a *Adapter) WebhookHandler() http.Handler {
	secret := a.cfg.SecretToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				a.log.Warn("webhook rejected: bad secret token", logx.String("remote", r.RemoteAddr))
				render.Status(r, http.StatusUnauthorized)
				render.PlainText(w, r, "unauthorized")
				return
			}
		}

		var u tele.Update
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&u); err != nil {
			a.log.Warn("webhook body rejected", logx.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.PlainText(w, r, "bad request")
			return
		}

		a.runMu.Lock()
		h := a.handler
		a.runMu.Unlock()
		if in, ok := ToInbound(u); ok && h != nil {
			h(r.Context(), in)
		} else if !ok {
			a.log.Trace("webhook update ignored", logx.Int("update_id", u.ID))
		}
		render.PlainText(w, r, "OK")
	})
}
