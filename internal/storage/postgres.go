package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shopbot/internal/model"
	logx "shopbot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

const pgUniqueViolation = "23505"

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*pgStore, error) {
	const op = "storage.postgres.open"

	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: parse config: %w", op, err)
	}
	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: create pool: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: migrate: %w", op, err)
	}
	log.Debug("postgres store ready", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) UnnotifiedOrders(ctx context.Context) ([]model.Order, error) {
	const op = "storage.postgres.UnnotifiedOrders"
	const query = `
		SELECT o.id, o.user_id, COALESCE(u.username, ''), o.product_id, COALESCE(p.name, ''),
		       o.quantity, o.total_price, o.status, o.created_at
		  FROM orders o
		  LEFT JOIN users u ON u.id = o.user_id
		  LEFT JOIN products p ON p.id = o.product_id
		 WHERE o.notified IS NOT TRUE
		 ORDER BY o.created_at ASC, o.id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Order, error) {
		var o model.Order
		err := row.Scan(&o.ID, &o.BuyerID, &o.BuyerName, &o.ProductID, &o.ProductName, &o.Quantity, &o.TotalPrice, &o.Status, &o.CreatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}
	return out, nil
}

func (s *pgStore) MarkOrderNotified(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET notified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage.postgres.MarkOrderNotified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) CountUnnotifiedOrders(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE notified IS NOT TRUE`).Scan(&n)
	return n, err
}

func (s *pgStore) CreateOrder(ctx context.Context, o model.Order) (int64, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Status == "" {
		o.Status = "pending"
	}
	if o.Quantity <= 0 {
		o.Quantity = 1
	}
	var notified *bool
	if o.Notified {
		notified = &o.Notified
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO orders(user_id, product_id, quantity, total_price, status, notified, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		o.BuyerID, o.ProductID, o.Quantity, o.TotalPrice, o.Status, notified, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage.postgres.CreateOrder: %w", err)
	}
	return id, nil
}

func (s *pgStore) ProductByName(ctx context.Context, name string) (model.Product, error) {
	var p model.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, price, description, image, created_at FROM products WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.Image, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("storage.postgres.ProductByName: %w", err)
	}
	return p, nil
}

func (s *pgStore) CreateProduct(ctx context.Context, p model.Product) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO products(name, price, description, image, created_at) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		p.Name, p.Price, p.Description, p.Image, p.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isPgUnique(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("storage.postgres.CreateProduct: %w", err)
	}
	return id, nil
}

func (s *pgStore) UpdateProductPrice(ctx context.Context, id int64, price int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE products SET price = $1 WHERE id = $2`, price, id)
	if err != nil {
		return fmt.Errorf("storage.postgres.UpdateProductPrice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (s *pgStore) AccountByUsername(ctx context.Context, username string) (model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password, role, created_at FROM users WHERE username = $1`, username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("storage.postgres.AccountByUsername: %w", err)
	}
	return a, nil
}

func (s *pgStore) CreateAccount(ctx context.Context, a model.Account) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Role == "" {
		a.Role = model.RoleUser
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users(username, password, role, created_at) VALUES($1,$2,$3,$4) RETURNING id`,
		a.Username, a.PasswordHash, a.Role, a.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isPgUnique(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("storage.postgres.CreateAccount: %w", err)
	}
	return id, nil
}

func (s *pgStore) RecipientByChatID(ctx context.Context, chatID int64) (model.Recipient, error) {
	var (
		r    model.Recipient
		tier string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT chat_id, display_name, username, tier, registered_at FROM telegram_users WHERE chat_id = $1`, chatID,
	).Scan(&r.ChatID, &r.DisplayName, &r.Username, &tier, &r.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Recipient{}, ErrNotFound
	}
	if err != nil {
		return model.Recipient{}, fmt.Errorf("storage.postgres.RecipientByChatID: %w", err)
	}
	r.Tier = model.Tier(tier)
	return r, nil
}

func (s *pgStore) UpsertRecipient(ctx context.Context, r model.Recipient) (bool, error) {
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now()
	}
	// xmax = 0 only for a freshly inserted row.
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO telegram_users(chat_id, display_name, username, tier, registered_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE telegram_users.username END
		 RETURNING (xmax = 0)`,
		r.ChatID, r.DisplayName, r.Username, string(r.Tier), r.RegisteredAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("storage.postgres.UpsertRecipient: %w", err)
	}
	return created, nil
}

func (s *pgStore) Recipients(ctx context.Context) ([]model.Recipient, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, display_name, username, tier, registered_at FROM telegram_users ORDER BY registered_at, chat_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.postgres.Recipients: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Recipient, error) {
		var (
			r    model.Recipient
			tier string
		)
		err := row.Scan(&r.ChatID, &r.DisplayName, &r.Username, &tier, &r.RegisteredAt)
		r.Tier = model.Tier(tier)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage.postgres.Recipients: collect: %w", err)
	}
	return out, nil
}

func (s *pgStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, err, meta)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.At, e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.Action, e.Target, e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
