package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/eventbus"
	"shopbot/internal/httpapi"
	"shopbot/internal/registration"
	"shopbot/internal/storage"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func fileFeedConfig(t *testing.T, csv string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.csv")
	if err := os.WriteFile(feedPath, []byte(csv), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	guard := 1
	return &config.Config{
		Feed:     config.FeedConfig{Driver: "file", Path: feedPath},
		Storage:  config.StorageConfig{Driver: "sqlite", Path: filepath.Join(dir, "shop.db")},
		Dispatch: config.DispatchConfig{ColdStartGuard: &guard, Timezone: "UTC"},
	}, dir
}

func TestMapDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		t.Fatalf("mapDispatchConfig: %v", err)
	}
	if dc.Interval != 5*time.Second || dc.StoreTimeout != 5*time.Second {
		t.Fatalf("dispatch = %+v", dc)
	}
	if dc.Location.String() != defaultTimezone {
		t.Fatalf("location = %s", dc.Location)
	}

	det, err := mapDetectorConfig(cfg)
	if err != nil || det.ColdStartGuard != defaultColdStartGuard || det.Timeout != 15*time.Second {
		t.Fatalf("detector = %+v, %v", det, err)
	}

	fc, err := mapFeedConfig(cfg)
	if err != nil || !fc.SkipHeader {
		t.Fatalf("feed = %+v, %v", fc, err)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.Path != defaultStorePath || sc.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v, %v", sc, err)
	}

	tc, err := mapTelegramConfig(cfg)
	if err != nil || tc.Path != httpapi.DefaultWebhookPath || tc.PollTimeout != 10*time.Second {
		t.Fatalf("telegram = %+v, %v", tc, err)
	}

	if _, enabled, err := mapEventsConfig(cfg); err != nil || enabled {
		t.Fatalf("events enabled=%v err=%v", enabled, err)
	}
}

func TestMapOverrides(t *testing.T) {
	t.Parallel()

	two, skip := 2, false
	cfg := &config.Config{
		Telegram: config.TelegramConfig{GroupLog: "-100123", Mode: "POLL"},
		Dispatch: config.DispatchConfig{
			Interval:       "30s",
			ColdStartGuard: &two,
			SendTimeout:    "3s",
			RatePerSec:     7,
			FanoutWorkers:  2,
		},
		Feed:    config.FeedConfig{Driver: "csv_url", URL: " https://example.com/f.csv ", SkipHeader: &skip},
		Storage: config.StorageConfig{Driver: "postgres", DSN: "postgres://x@y/z", MaxConns: 3},
		Events:  &config.EventsConfig{Driver: "redis", URL: "redis://localhost:6379/0", Types: []string{eventbus.TypeOrderNotified}},
		Logging: config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}},
	}

	if dc, _ := mapDispatchConfig(cfg); dc.Interval != 30*time.Second {
		t.Fatalf("interval = %v", dc.Interval)
	}
	if det, _ := mapDetectorConfig(cfg); det.ColdStartGuard != 2 {
		t.Fatalf("guard override lost: %d", det.ColdStartGuard)
	}
	nc, _ := mapNotifierConfig(cfg)
	if nc.SendTimeout != 3*time.Second || nc.RatePerSec != 7 || nc.Workers != 2 {
		t.Fatalf("notifier = %+v", nc)
	}
	if fc, _ := mapFeedConfig(cfg); fc.SkipHeader || fc.URL != "https://example.com/f.csv" {
		t.Fatalf("feed = %+v", fc)
	}
	if sc, err := mapStorageConfig(cfg); err != nil || sc.Driver != "postgres" || sc.MaxConns != 3 {
		t.Fatalf("storage = %+v, %v", sc, err)
	}
	if tc, _ := mapTelegramConfig(cfg); tc.Mode != telegram.ModePoll {
		t.Fatalf("mode = %q", tc.Mode)
	}
	mc, enabled, err := mapEventsConfig(cfg)
	if err != nil || !enabled || mc.Driver != "redis" || mc.Timeout != 3*time.Second {
		t.Fatalf("events = %+v enabled=%v err=%v", mc, enabled, err)
	}
	lc := mapLoggingConfig(cfg)
	if lc.Telegram.ChatID != -100123 || !lc.Telegram.Enabled {
		t.Fatalf("logging = %+v", lc.Telegram)
	}
}

func TestMapStorageRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "mysql"}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSeedStoreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "seed.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rep, err := seedStore(ctx, st, DefaultSeedAccounts, DefaultSeedProduct, logx.Nop())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rep.AccountsCreated != 2 || !rep.ProductCreated {
		t.Fatalf("first run = %+v", rep)
	}

	rep, err = seedStore(ctx, st, DefaultSeedAccounts, DefaultSeedProduct, logx.Nop())
	if err != nil {
		t.Fatalf("seed again: %v", err)
	}
	if rep.AccountsCreated != 0 || rep.AccountsKept != 2 || rep.ProductCreated {
		t.Fatalf("second run = %+v", rep)
	}

	acc, err := st.AccountByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("AccountByUsername: %v", err)
	}
	if !acc.VerifyPassword("admin123") || acc.Role != "admin" {
		t.Fatalf("admin account not usable: %+v", acc)
	}
	if n, _ := st.CountProducts(ctx); n != 1 {
		t.Fatalf("products = %d", n)
	}
}

func TestSyncReconcilesFeed(t *testing.T) {
	t.Parallel()

	cfg, dir := fileFeedConfig(t, "ts,name,price\nt1,Widget,100\nt2,Gadget,\"1.500\"\n")
	body := `{
  "feed": {"driver": "file", "path": "` + filepath.ToSlash(cfg.Feed.Path) + `"},
  "storage": {"driver": "sqlite", "path": "` + filepath.ToSlash(cfg.Storage.Path) + `"},
  "dispatch": {"timezone": "UTC"},
  "logging": {"level": "error"}
}`
	rep, err := Sync(context.Background(), writeConfig(t, dir, body))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Rows != 2 || rep.Result.Added != 2 || rep.Watermark != 2 || rep.Products != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

// newTestApp builds an App without a network-facing Telegram client.
func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	ctx := context.Background()
	bus := eventbus.New()
	pipe, err := openPipeline(ctx, cfg, bus, logx.Nop())
	if err != nil {
		t.Fatalf("openPipeline: %v", err)
	}
	t.Cleanup(func() { _ = pipe.Close() })

	ad, err := telegram.New(telegram.Config{Token: "123:test", Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("telegram.New: %v", err)
	}
	rcfg, _ := mapRegistrationConfig(cfg)
	logs, _ := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })

	return &App{
		cfg:       cfg,
		log:       logx.Nop(),
		logs:      logs,
		bus:       bus,
		pipe:      pipe,
		adapter:   ad,
		reg:       registration.New(rcfg, pipe.dir, pipe.store, pipe.store, pipe.notif, bus, logx.Nop()),
		http:      httpapi.NewServer(httpapi.Config{Addr: "127.0.0.1:0"}, nil, logx.Nop()),
		startedAt: time.Now(),
	}
}

func TestHealthReportsDispatchState(t *testing.T) {
	t.Parallel()

	cfg, _ := fileFeedConfig(t, "t1,Widget,100\nt2,Gadget,50\n")
	cfg.Feed.SkipHeader = new(bool)
	a := newTestApp(t, cfg)
	if _, err := a.pipe.sched.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	h := a.health(context.Background())
	if !h.Healthy() || h.Telegram != "configured" {
		t.Fatalf("health = %+v", h)
	}
	if h.Extra["storage"] != "ok" {
		t.Fatalf("storage detail = %v", h.Extra["storage"])
	}
	if st := a.Status(); st.Watermark != 2 {
		t.Fatalf("watermark = %d", st.Watermark)
	}
	if _, ok := h.Extra["supervisors"]; !ok {
		t.Fatalf("supervisor counters missing")
	}
}

func TestApplyConfigHotSections(t *testing.T) {
	t.Parallel()

	cfg, _ := fileFeedConfig(t, "t1,Widget,100\n")
	cfg.Auth = config.AuthConfig{PassPhrase: "old"}
	a := newTestApp(t, cfg)

	next := *cfg
	next.Auth = config.AuthConfig{PassPhrase: "new"}
	next.Dispatch.RatePerSec = 3
	next.Dispatch.Interval = "1m"
	a.applyConfig(&next)

	if a.cfg != &next {
		t.Fatalf("applied config not recorded")
	}
	if strings.TrimSpace(a.cfg.Auth.PassPhrase) != "new" {
		t.Fatalf("auth not applied")
	}
}
