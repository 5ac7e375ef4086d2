package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Auth     AuthConfig     `json:"auth"`
	Dispatch DispatchConfig `json:"dispatch"`
	Feed     FeedConfig     `json:"feed"`
	Storage  StorageConfig  `json:"storage"`
	Events   *EventsConfig  `json:"events,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"` // do not log

	// Mode is "webhook" (default) or "poll".
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=webhook poll"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// GroupLog is the chat id that receives WARN+ log records when
	// logging.telegram is enabled.
	GroupLog string `json:"group_log,omitempty"`

	Webhook WebhookConfig `json:"webhook"`
}

type WebhookConfig struct {
	// PublicURL is the externally reachable base URL (e.g. "https://shop.example.com").
	PublicURL   string `json:"public_url,omitempty" validate:"omitempty,url"`
	Path        string `json:"path,omitempty" validate:"omitempty,startswith=/"`
	SecretToken string `json:"secret_token,omitempty"` // do not log
	AutoSet     bool   `json:"auto_set,omitempty"`
}

// HTTPConfig controls the inbound HTTP server (webhook, health, pprof).
//
// Security note:
//   - pprof is mounted under /debug only when Pprof is true.
//   - Set PprofToken when the server is reachable from outside.
type HTTPConfig struct {
	Addr       string `json:"addr,omitempty"`
	Pprof      bool   `json:"pprof,omitempty"`
	PprofToken string `json:"pprof_token,omitempty"` // do not log

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type AuthConfig struct {
	// PassPhrase unlocks /login <pass_phrase>. Empty disables that form;
	// whitespace is rejected.
	PassPhrase   string   `json:"pass_phrase,omitempty"` // do not log
	AllowedRoles []string `json:"allowed_roles,omitempty" validate:"omitempty,dive,required"`
}

// DispatchConfig controls the polling loop.
//
// All durations are Go duration strings. Defaults (when omitted):
//   - interval: "5s"
//   - cold_start_guard: 0
//   - send_timeout: "10s"
//   - feed_timeout: "15s"
//   - store_timeout: "5s"
//   - fanout_workers: 4
//   - rate_per_sec: 20
//   - timezone: "Asia/Ho_Chi_Minh"
type DispatchConfig struct {
	Interval       string `json:"interval,omitempty"`
	ColdStartGuard *int   `json:"cold_start_guard,omitempty" validate:"omitempty,min=0"`
	SendTimeout    string `json:"send_timeout,omitempty"`
	FeedTimeout    string `json:"feed_timeout,omitempty"`
	StoreTimeout   string `json:"store_timeout,omitempty"`
	FanoutWorkers  int    `json:"fanout_workers,omitempty" validate:"min=0,max=64"`
	RatePerSec     int    `json:"rate_per_sec,omitempty" validate:"min=0"`
	HistorySize    int    `json:"history_size,omitempty" validate:"min=0"`
	Timezone       string `json:"timezone,omitempty"`
}

// FeedConfig selects the catalog source.
//
// Example:
//
//	"feed": { "driver": "sheets", "sheet_id": "1AbC...", "sheet_name": "Products" }
type FeedConfig struct {
	Driver     string `json:"driver,omitempty" validate:"omitempty,oneof=sheets csv_url file"`
	SheetID    string `json:"sheet_id,omitempty" validate:"required_if=Driver sheets"`
	SheetName  string `json:"sheet_name,omitempty"`
	URL        string `json:"url,omitempty" validate:"required_if=Driver csv_url"`
	Path       string `json:"path,omitempty" validate:"required_if=Driver file"`
	SkipHeader *bool  `json:"skip_header,omitempty"`
}

// StorageConfig controls the relational store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./shopbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=sqlite postgres"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty" validate:"required_if=Driver postgres"` // do not log
	BusyTimeout string `json:"busy_timeout,omitempty"`                               // sqlite only
	MaxConns    int32  `json:"max_conns,omitempty" validate:"min=0"`                 // postgres only
}

// EventsConfig mirrors dispatch events to an external broker.
// Nil means disabled.
type EventsConfig struct {
	Driver   string   `json:"driver" validate:"oneof=none redis amqp"`
	URL      string   `json:"url,omitempty" validate:"required_unless=Driver none"`
	Password string   `json:"password,omitempty"` // redis only; do not log
	Topic    string   `json:"topic,omitempty"`
	Types    []string `json:"types,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
