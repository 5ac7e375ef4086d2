package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopbot/internal/catalog"
	"shopbot/internal/config"
	"shopbot/internal/dispatch"
	"shopbot/internal/eventbus"
	"shopbot/internal/feed"
	"shopbot/internal/httpapi"
	"shopbot/internal/notifier"
	"shopbot/internal/registration"
	"shopbot/internal/storage"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
	"shopbot/pkg/tgui"
)

const (
	defaultTimezone       = "Asia/Ho_Chi_Minh"
	defaultColdStartGuard = 0
	defaultStorePath      = "./shopbot.db"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	var chatID int64
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		chatID, _ = strconv.ParseInt(g, 10, 64)
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	path := strings.TrimSpace(cfg.Telegram.Webhook.Path)
	if path == "" {
		path = httpapi.DefaultWebhookPath
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		Mode:        strings.ToLower(strings.TrimSpace(cfg.Telegram.Mode)),
		PollTimeout: pollTimeout,
		PublicURL:   strings.TrimSpace(cfg.Telegram.Webhook.PublicURL),
		Path:        path,
		SecretToken: cfg.Telegram.Webhook.SecretToken,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultStorePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: driver, DSN: strings.TrimSpace(sc.DSN), MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.feed_timeout", cfg.Dispatch.FeedTimeout, 15*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	skip := true
	if cfg.Feed.SkipHeader != nil {
		skip = *cfg.Feed.SkipHeader
	}
	return feed.Config{
		Driver:     strings.ToLower(strings.TrimSpace(cfg.Feed.Driver)),
		SheetID:    strings.TrimSpace(cfg.Feed.SheetID),
		SheetName:  strings.TrimSpace(cfg.Feed.SheetName),
		URL:        strings.TrimSpace(cfg.Feed.URL),
		Path:       strings.TrimSpace(cfg.Feed.Path),
		SkipHeader: skip,
		Timeout:    timeout,
	}, nil
}

func mapDetectorConfig(cfg *config.Config) (catalog.DetectorConfig, error) {
	timeout, err := config.ParseDurationOrDefault("dispatch.feed_timeout", cfg.Dispatch.FeedTimeout, 15*time.Second)
	if err != nil {
		return catalog.DetectorConfig{}, err
	}
	guard := defaultColdStartGuard
	if cfg.Dispatch.ColdStartGuard != nil {
		guard = *cfg.Dispatch.ColdStartGuard
	}
	return catalog.DetectorConfig{ColdStartGuard: guard, Timeout: timeout}, nil
}

func storeTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("dispatch.store_timeout", cfg.Dispatch.StoreTimeout, 5*time.Second)
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	interval, err := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, 5*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	st, err := storeTimeout(cfg)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Interval:     interval,
		StoreTimeout: st,
		Location:     location(cfg),
	}, nil
}

func location(cfg *config.Config) *time.Location {
	tz := strings.TrimSpace(cfg.Dispatch.Timezone)
	if tz == "" {
		tz = defaultTimezone
	}
	return tgui.LoadLocation(tz)
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:  cfg.Dispatch.RatePerSec,
		SendTimeout: sendTimeout,
		Workers:     cfg.Dispatch.FanoutWorkers,
		HistorySize: cfg.Dispatch.HistorySize,
	}, nil
}

func mapRegistrationConfig(cfg *config.Config) (registration.Config, error) {
	st, err := storeTimeout(cfg)
	if err != nil {
		return registration.Config{}, err
	}
	return registration.Config{
		PassPhrase:   cfg.Auth.PassPhrase,
		AllowedRoles: cfg.Auth.AllowedRoles,
		Timeout:      st,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// Covers one synchronous webhook delivery including the reply.
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// mapEventsConfig reports enabled=false when the section is absent or the
// driver is "none".
func mapEventsConfig(cfg *config.Config) (eventbus.MirrorConfig, bool, error) {
	ec := cfg.Events
	if ec == nil {
		return eventbus.MirrorConfig{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(ec.Driver))
	if driver == "" || driver == "none" {
		return eventbus.MirrorConfig{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("events.timeout", ec.Timeout, 3*time.Second)
	if err != nil {
		return eventbus.MirrorConfig{}, false, err
	}
	return eventbus.MirrorConfig{
		Driver:   driver,
		URL:      strings.TrimSpace(ec.URL),
		Topic:    strings.TrimSpace(ec.Topic),
		Types:    ec.Types,
		Timeout:  timeout,
		Password: ec.Password,
	}, true, nil
}
