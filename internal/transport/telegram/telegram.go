// Package telegram is the Telegram Bot API transport built on telebot.
//
// Outbound text goes through SendText. Inbound updates arrive either through
// the webhook handler (production) or through long polling (development);
// both normalize the update into a transport.Inbound and call the handler
// synchronously.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "shopbot/internal/runtime/supervisor"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

const (
	ModeWebhook = "webhook"
	ModePoll    = "poll"

	// SecretHeader carries the webhook secret token on every delivery.
	SecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

var ErrNoToken = errors.New("telegram token is empty")

type Config struct {
	Token       string
	Mode        string
	PollTimeout time.Duration
	// PublicURL is the externally reachable base URL; the webhook is
	// registered at PublicURL + Path.
	PublicURL   string
	Path        string
	SecretToken string
	// Offline skips the getMe call at construction.
	Offline bool
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// WebhookURL joins PublicURL and Path. It is empty when PublicURL is unset.
func (c Config) WebhookURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	if base == "" {
		return ""
	}
	p := strings.TrimSpace(c.Path)
	if p == "" {
		p = "/telegram/webhook"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	runCtx  context.Context
	handler kit.InboundHandler
	sup     *rtsup.Supervisor
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = ModeWebhook
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	settings := tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: cfg.Offline,
		// Long polls must outlive the client timeout.
		Client: &http.Client{Timeout: cfg.PollTimeout + 20*time.Second},
		OnError: func(err error, _ tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	}
	if cfg.Mode == ModePoll {
		settings.Poller = &tele.LongPoller{Timeout: cfg.PollTimeout}
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not polling).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	fwd := func(c tele.Context) error {
		a.dispatch(c.Update())
		return nil
	}
	a.bot.Handle(tele.OnText, fwd)
	a.bot.Handle(tele.OnChannelPost, fwd)
	a.bot.Handle(tele.OnAddedToGroup, fwd)
	a.bot.Handle(tele.OnMyChatMember, fwd)
}

// dispatch converts u and hands it to the current handler.
func (a *Adapter) dispatch(u tele.Update) bool {
	in, ok := ToInbound(u)
	if !ok {
		return false
	}
	a.runMu.Lock()
	h := a.handler
	ctx := a.runCtx
	a.runMu.Unlock()
	if h == nil {
		a.log.Debug("update dropped; no handler", logx.Int64("chat_id", in.ChatID))
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h(ctx, in)
	return true
}

// Start installs h. In poll mode it also clears any webhook and starts the
// long-poll loop under a restarting supervisor.
func (a *Adapter) Start(ctx context.Context, h kit.InboundHandler) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.handler = h
	a.runCtx = ctx
	poll := a.cfg.Mode == ModePoll
	if poll {
		a.sup = rtsup.New(ctx,
			rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.poll"))),
			rtsup.WithCancelOnError(false),
		)
	}
	sup := a.sup
	a.runMu.Unlock()

	if !poll {
		a.log.Info("telegram ready", logx.String("mode", ModeWebhook))
		return nil
	}

	if err := a.bot.RemoveWebhook(); err != nil {
		a.log.Warn("remove webhook before polling failed", logx.Err(err))
	}

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup = nil
	a.running = false
	a.handler = nil
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SetWebhook registers WebhookURL with Telegram.
func (a *Adapter) SetWebhook(ctx context.Context) (string, error) {
	url := a.cfg.WebhookURL()
	if url == "" {
		return "", errors.New("telegram: public url is empty")
	}
	err := callWithContext(ctx, func() error {
		return a.bot.SetWebhook(&tele.Webhook{
			Endpoint:    &tele.WebhookEndpoint{PublicURL: url},
			SecretToken: a.cfg.SecretToken,
		})
	})
	if err != nil {
		return "", fmt.Errorf("telegram: set webhook: %w", err)
	}
	a.log.Info("webhook registered", logx.String("url", url))
	return url, nil
}

// RemoveWebhook deletes the registered webhook.
func (a *Adapter) RemoveWebhook(ctx context.Context) error {
	if err := callWithContext(ctx, func() error { return a.bot.RemoveWebhook() }); err != nil {
		return fmt.Errorf("telegram: remove webhook: %w", err)
	}
	a.log.Info("webhook removed")
	return nil
}

const telegramTextLimit = 4000

// SendText sends text, split into Telegram-sized chunks. The returned
// reference points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		sendOpt := &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		var msg *tele.Message
		err := callWithContext(ctx, func() error {
			var err error
			msg, err = a.bot.Send(chat, chunk, sendOpt)
			return err
		})
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// callWithContext runs fn and returns early when ctx ends. telebot calls
// carry no context; the http client timeout bounds the abandoned call.
func callWithContext(ctx context.Context, fn func() error) error {
	if ctx == nil {
		return fn()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		// Don't split inside a tag for HTML parse mode.
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
