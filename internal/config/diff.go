package config

import (
	"reflect"
	"sort"
	"strings"

	logx "shopbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed sections that only take effect after a restart.
//
// Hot sections: logging, auth, and dispatch when only rate_per_sec changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token or secret)
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Token != nT.Token || oT.Webhook.SecretToken != nT.Webhook.SecretToken ||
		strings.TrimSpace(oT.Mode) != strings.TrimSpace(nT.Mode) ||
		strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		strings.TrimSpace(oT.GroupLog) != strings.TrimSpace(nT.GroupLog) ||
		strings.TrimSpace(oT.Webhook.PublicURL) != strings.TrimSpace(nT.Webhook.PublicURL) ||
		strings.TrimSpace(oT.Webhook.Path) != strings.TrimSpace(nT.Webhook.Path) ||
		oT.Webhook.AutoSet != nT.Webhook.AutoSet {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.String("telegram.mode", strings.TrimSpace(nT.Mode)),
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nT.GroupLog) != ""),
			logx.Bool("telegram.webhook.public_url_set", strings.TrimSpace(nT.Webhook.PublicURL) != ""),
		)
	}

	// HTTP (never log pprof token)
	oH, nH := oldCfg.HTTP, newCfg.HTTP
	if oH.PprofToken != nH.PprofToken || !reflect.DeepEqual(redactHTTP(oH), redactHTTP(nH)) {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(nH.Addr)),
			logx.Bool("http.pprof", nH.Pprof),
			logx.Bool("http.pprof_token_set", strings.TrimSpace(nH.PprofToken) != ""),
		)
	}

	// Auth (hot; never log the pass-phrase)
	if oldCfg.Auth.PassPhrase != newCfg.Auth.PassPhrase ||
		!reflect.DeepEqual(oldCfg.Auth.AllowedRoles, newCfg.Auth.AllowedRoles) {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.Bool("auth.pass_phrase_set", newCfg.Auth.PassPhrase != ""),
			logx.String("auth.allowed_roles", strings.Join(newCfg.Auth.AllowedRoles, ",")),
		)
	}

	// Dispatch (rate is hot, the rest shapes the scheduler at start)
	oD, nD := oldCfg.Dispatch, newCfg.Dispatch
	if !reflect.DeepEqual(oD, nD) {
		changed = append(changed, "dispatch")
		rateOnly := oD
		rateOnly.RatePerSec = nD.RatePerSec
		if !reflect.DeepEqual(rateOnly, nD) {
			restart = append(restart, "dispatch")
		}
		guard := -1
		if nD.ColdStartGuard != nil {
			guard = *nD.ColdStartGuard
		}
		attrs = append(attrs,
			logx.String("dispatch.interval", strings.TrimSpace(nD.Interval)),
			logx.Int("dispatch.cold_start_guard", guard),
			logx.Int("dispatch.rate_per_sec", nD.RatePerSec),
			logx.Int("dispatch.fanout_workers", nD.FanoutWorkers),
			logx.String("dispatch.timezone", strings.TrimSpace(nD.Timezone)),
		)
	}

	// Feed
	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		restart = append(restart, "feed")
		attrs = append(attrs,
			logx.String("feed.driver", strings.TrimSpace(newCfg.Feed.Driver)),
			logx.String("feed.sheet_name", strings.TrimSpace(newCfg.Feed.SheetName)),
		)
	}

	// Storage (never log DSN)
	oS, nS := oldCfg.Storage, newCfg.Storage
	if oS != nS {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// Events (nil means disabled)
	if !reflect.DeepEqual(oldCfg.Events, newCfg.Events) {
		changed = append(changed, "events")
		restart = append(restart, "events")
		driver := "none"
		if newCfg.Events != nil {
			driver = strings.TrimSpace(newCfg.Events.Driver)
		}
		attrs = append(attrs, logx.String("events.driver", driver))
	}

	// Logging (hot)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func redactHTTP(h HTTPConfig) HTTPConfig {
	h.PprofToken = ""
	return h
}
