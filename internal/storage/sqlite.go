package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shopbot/internal/model"
	logx "shopbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

// Fixed-width UTC timestamps so TEXT columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLite out of SQLITE_BUSY territory.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UnnotifiedOrders(ctx context.Context) ([]model.Order, error) {
	const op = "storage.sqlite.UnnotifiedOrders"
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.user_id, COALESCE(u.username, ''), o.product_id, COALESCE(p.name, ''),
		       o.quantity, o.total_price, o.status, o.created_at
		  FROM orders o
		  LEFT JOIN users u ON u.id = o.user_id
		  LEFT JOIN products p ON p.id = o.product_id
		 WHERE o.notified IS NULL OR o.notified = 0
		 ORDER BY o.created_at ASC, o.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var (
			o  model.Order
			at string
		)
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.BuyerName, &o.ProductID, &o.ProductName, &o.Quantity, &o.TotalPrice, &o.Status, &at); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		o.CreatedAt = parseSQLiteTime(at)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *sqliteStore) MarkOrderNotified(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage.sqlite.MarkOrderNotified: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CountUnnotifiedOrders(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE notified IS NULL OR notified = 0`).Scan(&n)
	return n, err
}

func (s *sqliteStore) CreateOrder(ctx context.Context, o model.Order) (int64, error) {
	const op = "storage.sqlite.CreateOrder"
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Status == "" {
		o.Status = "pending"
	}
	if o.Quantity <= 0 {
		o.Quantity = 1
	}
	var notified any
	if o.Notified {
		notified = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(user_id, product_id, quantity, total_price, status, notified, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		o.BuyerID, o.ProductID, o.Quantity, o.TotalPrice, o.Status, notified, formatSQLiteTime(o.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ProductByName(ctx context.Context, name string) (model.Product, error) {
	var (
		p  model.Product
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price, description, image, created_at FROM products WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.Image, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("storage.sqlite.ProductByName: %w", err)
	}
	p.CreatedAt = parseSQLiteTime(at)
	return p, nil
}

func (s *sqliteStore) CreateProduct(ctx context.Context, p model.Product) (int64, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products(name, price, description, image, created_at) VALUES(?,?,?,?,?)`,
		p.Name, p.Price, p.Description, p.Image, formatSQLiteTime(p.CreatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("storage.sqlite.CreateProduct: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) UpdateProductPrice(ctx context.Context, id int64, price int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET price = ? WHERE id = ?`, price, id)
	if err != nil {
		return fmt.Errorf("storage.sqlite.UpdateProductPrice: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func (s *sqliteStore) AccountByUsername(ctx context.Context, username string) (model.Account, error) {
	var (
		a  model.Account
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, role, created_at FROM users WHERE username = ?`, username,
	).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.Role, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("storage.sqlite.AccountByUsername: %w", err)
	}
	a.CreatedAt = parseSQLiteTime(at)
	return a, nil
}

func (s *sqliteStore) CreateAccount(ctx context.Context, a model.Account) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Role == "" {
		a.Role = model.RoleUser
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password, role, created_at) VALUES(?,?,?,?)`,
		a.Username, a.PasswordHash, a.Role, formatSQLiteTime(a.CreatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("storage.sqlite.CreateAccount: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) RecipientByChatID(ctx context.Context, chatID int64) (model.Recipient, error) {
	var (
		r    model.Recipient
		tier string
		at   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, display_name, username, tier, registered_at FROM telegram_users WHERE chat_id = ?`, chatID,
	).Scan(&r.ChatID, &r.DisplayName, &r.Username, &tier, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Recipient{}, ErrNotFound
	}
	if err != nil {
		return model.Recipient{}, fmt.Errorf("storage.sqlite.RecipientByChatID: %w", err)
	}
	r.Tier = model.Tier(tier)
	r.RegisteredAt = parseSQLiteTime(at)
	return r, nil
}

func (s *sqliteStore) UpsertRecipient(ctx context.Context, r model.Recipient) (bool, error) {
	const op = "storage.sqlite.UpsertRecipient"
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM telegram_users WHERE chat_id = ?`, r.ChatID).Scan(&one)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("%s: lookup: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO telegram_users(chat_id, display_name, username, tier, registered_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE telegram_users.username END`,
		r.ChatID, r.DisplayName, r.Username, string(r.Tier), formatSQLiteTime(r.RegisteredAt),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: commit: %w", op, err)
	}
	return created, nil
}

func (s *sqliteStore) Recipients(ctx context.Context) ([]model.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, display_name, username, tier, registered_at FROM telegram_users ORDER BY registered_at, chat_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.sqlite.Recipients: %w", err)
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		var (
			r    model.Recipient
			tier string
			at   string
		)
		if err := rows.Scan(&r.ChatID, &r.DisplayName, &r.Username, &tier, &at); err != nil {
			return nil, fmt.Errorf("storage.sqlite.Recipients: scan: %w", err)
		}
		r.Tier = model.Tier(tier)
		r.RegisteredAt = parseSQLiteTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, action, target, ok, err, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		formatSQLiteTime(e.At), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Action, e.Target, ok, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func formatSQLiteTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseSQLiteTime(s string) time.Time {
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t
	}
	// Rows written by the storefront may use RFC 3339 or SQLite's default format.
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
