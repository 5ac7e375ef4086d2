package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks struct constraints plus the fields that need parsing
// (durations, timezone, chat ids). It returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"dispatch.interval", cfg.Dispatch.Interval},
		{"dispatch.send_timeout", cfg.Dispatch.SendTimeout},
		{"dispatch.feed_timeout", cfg.Dispatch.FeedTimeout},
		{"dispatch.store_timeout", cfg.Dispatch.StoreTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	}
	if cfg.Events != nil {
		durations = append(durations, struct{ path, raw string }{"events.timeout", cfg.Events.Timeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if iv, err := ParseDurationField("dispatch.interval", cfg.Dispatch.Interval); err == nil && iv > 0 && iv < time.Second {
		errs = append(errs, fmt.Errorf("dispatch.interval: must be >= 1s"))
	}

	if tz := strings.TrimSpace(cfg.Dispatch.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("dispatch.timezone: %w", err))
		}
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	// /login splits on whitespace, so such a phrase could never be typed.
	if strings.ContainsFunc(cfg.Auth.PassPhrase, unicode.IsSpace) {
		errs = append(errs, errors.New("auth.pass_phrase: must not contain whitespace"))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		errs = append(errs, errors.New("logging.telegram.enabled requires telegram.group_log"))
	}
	return errors.Join(errs...)
}

// fieldPath turns "Config.dispatch.fanout_workers" into "dispatch.fanout_workers".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Namespace()
	}
	return path
}
