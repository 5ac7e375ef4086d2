package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envOverrides are the deployment variables that win over the config file.
// Empty values leave the file untouched.
type envOverrides struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	BotPassword   string `envconfig:"BOT_PASSWORD"`
	SheetID       string `envconfig:"SHEET_ID"`
	SheetName     string `envconfig:"SHEET_NAME"`
	ServerURL     string `envconfig:"SERVER_URL"`
	DBURL         string `envconfig:"DB_URL"`
	Port          string `envconfig:"PORT"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored and existing variables are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	env.apply(cfg)
	return nil
}

func (e envOverrides) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, e.TelegramToken)
	set(&cfg.Auth.PassPhrase, e.BotPassword)
	set(&cfg.Feed.SheetID, e.SheetID)
	set(&cfg.Feed.SheetName, e.SheetName)
	set(&cfg.Telegram.Webhook.PublicURL, e.ServerURL)
	set(&cfg.Logging.Level, strings.ToLower(e.LogLevel))
	if dsn := strings.TrimSpace(e.DBURL); dsn != "" {
		cfg.Storage.DSN = dsn
		if isPostgresURL(dsn) {
			cfg.Storage.Driver = "postgres"
		}
	}
	if port := strings.TrimSpace(e.Port); port != "" {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(port, ":")
	}
}

func isPostgresURL(s string) bool {
	s = strings.ToLower(s)
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}
