package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopbot/internal/feed"
	"shopbot/internal/model"
	"shopbot/internal/storage"
	logx "shopbot/pkg/logx"
)

// RowOutcome describes what reconciling a single row did.
type RowOutcome struct {
	Row     feed.Row
	Product model.Product
	Created bool
	Updated bool
	Err     error
}

// Persisted reports whether the row is reflected in the product store.
func (o RowOutcome) Persisted() bool { return o.Err == nil }

type Result struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

type Reconciler struct {
	store   storage.ProductStore
	timeout time.Duration
	log     logx.Logger
}

func NewReconciler(store storage.ProductStore, timeout time.Duration, log logx.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{store: store, timeout: timeout, log: log}
}

// ReconcileRow upserts one row keyed by exact product name: a known name
// with a different price is updated, an unknown name is created with the
// placeholder image, and anything else is left alone.
func (r *Reconciler) ReconcileRow(ctx context.Context, row feed.Row) RowOutcome {
	out := RowOutcome{Row: row}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p, err := r.store.ProductByName(ctx, row.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = model.Product{Name: row.Name, Price: row.Price, Image: model.PlaceholderImage, CreatedAt: time.Now()}
		id, cerr := r.store.CreateProduct(ctx, p)
		if errors.Is(cerr, storage.ErrDuplicate) {
			// Created concurrently by the storefront; fall back to an update.
			if p, err = r.store.ProductByName(ctx, row.Name); err != nil {
				out.Err = fmt.Errorf("reconcile %q: %w", row.Name, err)
				return out
			}
			return r.updatePrice(ctx, out, p, row.Price)
		}
		if cerr != nil {
			out.Err = fmt.Errorf("reconcile %q: create: %w", row.Name, cerr)
			return out
		}
		p.ID = id
		out.Product = p
		out.Created = true
		return out
	case err != nil:
		out.Err = fmt.Errorf("reconcile %q: lookup: %w", row.Name, err)
		return out
	default:
		return r.updatePrice(ctx, out, p, row.Price)
	}
}

func (r *Reconciler) updatePrice(ctx context.Context, out RowOutcome, p model.Product, price int64) RowOutcome {
	out.Product = p
	if p.Price == price {
		return out
	}
	if err := r.store.UpdateProductPrice(ctx, p.ID, price); err != nil {
		out.Err = fmt.Errorf("reconcile %q: update price: %w", p.Name, err)
		return out
	}
	out.Product.Price = price
	out.Updated = true
	return out
}

// Reconcile applies every row in order. Failures are counted and logged;
// the remaining rows are still processed.
func (r *Reconciler) Reconcile(ctx context.Context, rows []feed.Row) Result {
	var res Result
	for _, row := range rows {
		if ctx.Err() != nil {
			res.Failed += len(rows) - (res.Added + res.Updated + res.Unchanged + res.Failed)
			break
		}
		o := r.ReconcileRow(ctx, row)
		switch {
		case o.Err != nil:
			res.Failed++
			r.log.Warn("catalog row not persisted", logx.Int("index", row.Index), logx.String("name", row.Name), logx.Err(o.Err))
		case o.Created:
			res.Added++
		case o.Updated:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	return res
}
