// Package recipients is the persistent set of chat addresses that receive
// order and catalog announcements.
package recipients

import (
	"context"
	"errors"
	"sync"
	"time"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	"shopbot/internal/storage"
	logx "shopbot/pkg/logx"
)

// Directory serializes check-then-write registration so two concurrent
// logins from one chat cannot both report "created". Reads go straight to
// the store.
type Directory struct {
	mu      sync.Mutex
	store   storage.RecipientStore
	bus     eventbus.Bus
	log     logx.Logger
	timeout time.Duration
}

func New(store storage.RecipientStore, bus eventbus.Bus, timeout time.Duration, log logx.Logger) *Directory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{store: store, bus: bus, log: log, timeout: timeout}
}

// Register upserts r by chat address. created is false when the address
// was already registered; the stored record is refreshed either way.
func (d *Directory) Register(ctx context.Context, r model.Recipient) (created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.mu.Lock()
	created, err = d.store.UpsertRecipient(ctx, r)
	d.mu.Unlock()
	if err != nil {
		return false, err
	}
	if created {
		d.log.Info("recipient registered", logx.Int64("chat_id", r.ChatID), logx.String("tier", string(r.Tier)), logx.String("username", r.Username))
		eventbus.Publish(d.bus, eventbus.TypeRecipientRegistered, map[string]any{"chat_id": r.ChatID, "tier": r.Tier})
	}
	return created, nil
}

// Get returns the registered recipient for chatID, or storage.ErrNotFound.
func (d *Directory) Get(ctx context.Context, chatID int64) (model.Recipient, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.RecipientByChatID(ctx, chatID)
}

func (d *Directory) Exists(ctx context.Context, chatID int64) (bool, error) {
	_, err := d.Get(ctx, chatID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// All returns every registered recipient in registration order.
func (d *Directory) All(ctx context.Context) ([]model.Recipient, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.Recipients(ctx)
}
