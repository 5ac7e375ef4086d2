package storage

import (
	"context"
	"errors"
	"time"

	"shopbot/internal/model"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate key")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq-style URL or keyword string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means default
}

// AuditEntry records one registration attempt or operator action.
// Secrets never go into an entry.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Action        string
	Target        string
	OK            bool
	Error         string
	MetaJSON      string
}

type OrderStore interface {
	// UnnotifiedOrders returns orders whose notified flag is false or unset,
	// oldest first (created_at, then id).
	UnnotifiedOrders(ctx context.Context) ([]model.Order, error)
	MarkOrderNotified(ctx context.Context, id int64) error
	CountUnnotifiedOrders(ctx context.Context) (int, error)
	CreateOrder(ctx context.Context, o model.Order) (int64, error)
}

type ProductStore interface {
	ProductByName(ctx context.Context, name string) (model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (int64, error)
	UpdateProductPrice(ctx context.Context, id int64, price int64) error
	CountProducts(ctx context.Context) (int, error)
}

type AccountStore interface {
	AccountByUsername(ctx context.Context, username string) (model.Account, error)
	CreateAccount(ctx context.Context, a model.Account) (int64, error)
}

type RecipientStore interface {
	RecipientByChatID(ctx context.Context, chatID int64) (model.Recipient, error)
	// UpsertRecipient inserts r or refreshes the stored display name and
	// bound username. created reports whether a new row was written.
	UpsertRecipient(ctx context.Context, r model.Recipient) (created bool, err error)
	Recipients(ctx context.Context) ([]model.Recipient, error)
}

// Store is the full persistence API used by the app.
type Store interface {
	OrderStore
	ProductStore
	AccountStore
	RecipientStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Ping(ctx context.Context) error
	Close() error
}
