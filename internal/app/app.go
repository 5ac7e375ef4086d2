package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/dispatch"
	"shopbot/internal/eventbus"
	"shopbot/internal/httpapi"
	"shopbot/internal/registration"
	rtsup "shopbot/internal/runtime/supervisor"
	kit "shopbot/internal/transport"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	sup *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sink eventbus.Sink

	pipe    *pipeline
	adapter *telegram.Adapter
	reg     *registration.Machine
	http    *httpapi.Server

	startedAt time.Time
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, nil)
		return err
	})

	bus := eventbus.New()

	var sink eventbus.Sink
	if mc, enabled, err := mapEventsConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		sink, err = eventbus.OpenSink(ctx, mc)
		if err != nil {
			return nil, err
		}
		log.Info("event mirror enabled", logx.String("driver", mc.Driver))
	}

	pipe, err := openPipeline(ctx, cfg, bus, log)
	if err != nil {
		closeSink(sink)
		return nil, err
	}
	pipe.notif.SetSender(ad)

	rcfg, err := mapRegistrationConfig(cfg)
	if err != nil {
		closeSink(sink)
		_ = pipe.Close()
		return nil, err
	}
	reg := registration.New(rcfg, pipe.dir, pipe.store, pipe.store, pipe.notif, bus,
		log.With(logx.String("comp", "registration")))

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		closeSink(sink)
		_ = pipe.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		sink:    sink,
		pipe:    pipe,
		adapter: ad,
		reg:     reg,
	}
	router := httpapi.NewRouter(httpapi.Routes{
		WebhookPath: tcfg.Path,
		Webhook:     ad.WebhookHandler(),
		Health:      a.health,
		Pprof:       cfg.HTTP.Pprof,
		PprofToken:  cfg.HTTP.PprofToken,
	}, log.With(logx.String("comp", "http")))
	a.http = httpapi.NewServer(hcfg, router, log.With(logx.String("comp", "http")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkHotSections(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.handleInbound); err != nil {
		return err
	}

	a.http.Start(a.sup.Context())
	if a.cfg.Telegram.Webhook.AutoSet && strings.TrimSpace(a.cfg.Telegram.Webhook.PublicURL) != "" &&
		!strings.EqualFold(a.cfg.Telegram.Mode, telegram.ModePoll) {
		wctx, cancel := context.WithTimeout(a.sup.Context(), 15*time.Second)
		if _, err := a.adapter.SetWebhook(wctx); err != nil {
			a.log.Warn("webhook auto-registration failed", logx.Err(err))
		}
		cancel()
	}

	if err := a.pipe.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.sink != nil {
		mc, _, _ := mapEventsConfig(a.cfg)
		a.sup.Go0("eventbus.mirror", func(c context.Context) {
			eventbus.Mirror(c, a.bus, a.sink, mc.Types, mc.Timeout, a.log.With(logx.String("comp", "eventbus")))
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Ticks fire every few seconds; keep them below debug.
				if e.Type == eventbus.TypeTickCompleted || e.Type == eventbus.TypeTickSkipped {
					a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("mode", a.cfg.Telegram.Mode),
		logx.String("addr", a.cfg.HTTP.Addr),
	)
	return nil
}

func (a *App) handleInbound(ctx context.Context, in kit.Inbound) {
	out := a.reg.Handle(ctx, in)
	if out == registration.OutcomeIgnored {
		return
	}
	a.log.Debug("inbound handled", logx.Int64("chat_id", in.ChatID), logx.String("outcome", string(out)))
}

// applyConfig pushes the hot-reloadable sections to their components and
// logs the sections that need a restart. Only the reload goroutine calls it.
func (a *App) applyConfig(newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(a.cfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)

	a.logs.Apply(mapLoggingConfig(newCfg))

	if rcfg, err := mapRegistrationConfig(newCfg); err != nil {
		a.log.Warn("invalid auth config; keeping previous", logx.Err(err))
	} else {
		a.reg.Apply(rcfg)
	}

	// Only the rate is live; the rest of the section waits for a restart.
	if ncfg, err := mapNotifierConfig(a.cfg); err == nil {
		ncfg.RatePerSec = newCfg.Dispatch.RatePerSec
		a.pipe.notif.Apply(ncfg)
	}

	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	a.cfg = newCfg
	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}

// checkHotSections maps the sections applyConfig pushes live, so a reload
// that cannot be applied is rejected before it is committed.
func checkHotSections(cfg *config.Config) error {
	if _, err := mapRegistrationConfig(cfg); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (a *App) health(ctx context.Context) httpapi.Health {
	h := httpapi.Health{Status: "ok", Telegram: "configured", Timestamp: time.Now().UTC()}

	details := map[string]any{
		"uptime":   time.Since(a.startedAt).Truncate(time.Second).String(),
		"dispatch": a.pipe.sched.Status(),
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := a.pipe.store.Ping(pctx)
	cancel()
	if err != nil {
		h.Status = "degraded"
		details["storage"] = err.Error()
	} else {
		details["storage"] = "ok"
	}

	sups := map[string]any{}
	if a.sup != nil {
		sups["app"] = a.sup.Snapshot()
	}
	if s := a.http.Supervisor(); s != nil {
		sups["http"] = s.Counters()
	}
	if s := a.adapter.Supervisor(); s != nil {
		sups["telegram"] = s.Counters()
	}
	details["supervisors"] = sups
	h.Extra = details
	return h
}

// Status is a point-in-time dispatch view.
func (a *App) Status() dispatch.Status { return a.pipe.sched.Status() }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Order: trigger and in-flight tick, then inbound surfaces, then sinks and store.
	step("dispatch", 10*time.Second, a.pipe.sched.Stop)
	step("http", 5*time.Second, a.http.Stop)
	step("telegram", 3*time.Second, a.adapter.Stop)
	step("eventbus.mirror", time.Second, func(context.Context) error {
		if a.sink == nil {
			return nil
		}
		return a.sink.Close()
	})
	step("storage", time.Second, func(context.Context) error { return a.pipe.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func closeSink(s eventbus.Sink) {
	if s != nil {
		_ = s.Close()
	}
}
