package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/dispatch"
	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	"shopbot/internal/storage"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
)

// loadForCommand loads and validates the config and returns a console
// logger at the configured level. One-shot commands use it instead of New.
func loadForCommand(cfgPath string) (*config.Config, logx.Logger, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, logx.Logger{}, err
	}
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	return cfg, logx.NewConsole(level), nil
}

// Sync reconciles the whole feed into the product store once and reports
// the totals. No notification is sent.
func Sync(ctx context.Context, cfgPath string) (dispatch.SyncReport, error) {
	cfg, log, err := loadForCommand(cfgPath)
	if err != nil {
		return dispatch.SyncReport{}, err
	}
	pipe, err := openPipeline(ctx, cfg, eventbus.New(), log)
	if err != nil {
		return dispatch.SyncReport{}, err
	}
	defer pipe.Close()
	return pipe.sched.Bootstrap(ctx)
}

// SeedAccount is one login created by Seed.
type SeedAccount struct {
	Username string
	Password string
	Role     string
}

// DefaultSeedAccounts are the demo logins.
var DefaultSeedAccounts = []SeedAccount{
	{Username: "admin", Password: "admin123", Role: model.RoleAdmin},
	{Username: "user", Password: "user123", Role: model.RoleUser},
}

// DefaultSeedProduct is the demo catalog entry.
var DefaultSeedProduct = model.Product{
	Name:        "iPhone 15 Pro Max",
	Price:       34990000,
	Description: "Apple flagship phone",
	Image:       "📱",
}

type SeedReport struct {
	AccountsCreated int
	AccountsKept    int
	ProductCreated  bool
}

// Seed creates the demo accounts and product. Existing rows are kept, so
// running it twice changes nothing.
func Seed(ctx context.Context, cfgPath string) (SeedReport, error) {
	cfg, log, err := loadForCommand(cfgPath)
	if err != nil {
		return SeedReport{}, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return SeedReport{}, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return SeedReport{}, err
	}
	defer store.Close()
	return seedStore(ctx, store, DefaultSeedAccounts, DefaultSeedProduct, log)
}

type seedTarget interface {
	storage.AccountStore
	storage.ProductStore
}

func seedStore(ctx context.Context, st seedTarget, accounts []SeedAccount, product model.Product, log logx.Logger) (SeedReport, error) {
	var rep SeedReport
	for _, sa := range accounts {
		_, err := st.AccountByUsername(ctx, sa.Username)
		if err == nil {
			rep.AccountsKept++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return rep, fmt.Errorf("seed account %s: %w", sa.Username, err)
		}
		hash, err := model.HashPassword(sa.Password)
		if err != nil {
			return rep, fmt.Errorf("seed account %s: %w", sa.Username, err)
		}
		if _, err := st.CreateAccount(ctx, model.Account{
			Username:     sa.Username,
			PasswordHash: hash,
			Role:         sa.Role,
			CreatedAt:    time.Now(),
		}); err != nil {
			return rep, fmt.Errorf("seed account %s: %w", sa.Username, err)
		}
		rep.AccountsCreated++
		log.Info("account created", logx.String("username", sa.Username), logx.String("role", sa.Role))
	}

	if product.Name != "" {
		_, err := st.ProductByName(ctx, product.Name)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNotFound):
			if product.CreatedAt.IsZero() {
				product.CreatedAt = time.Now()
			}
			if _, err := st.CreateProduct(ctx, product); err != nil {
				return rep, fmt.Errorf("seed product: %w", err)
			}
			rep.ProductCreated = true
			log.Info("product created", logx.String("name", product.Name))
		default:
			return rep, fmt.Errorf("seed product: %w", err)
		}
	}
	return rep, nil
}

// Webhook registers (set=true) or removes the Telegram webhook and returns
// the registered URL.
func Webhook(ctx context.Context, cfgPath string, set bool) (string, error) {
	cfg, log, err := loadForCommand(cfgPath)
	if err != nil {
		return "", err
	}
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return "", err
	}
	// Registration is independent of how this process would receive updates.
	tcfg.Mode = telegram.ModeWebhook
	ad, err := telegram.New(tcfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return "", err
	}
	if !set {
		return "", ad.RemoveWebhook(ctx)
	}
	return ad.SetWebhook(ctx)
}
