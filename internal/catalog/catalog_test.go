package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shopbot/internal/feed"
	"shopbot/internal/model"
	"shopbot/internal/storage"
	logx "shopbot/pkg/logx"
)

type memProducts struct {
	mu      sync.Mutex
	byName  map[string]model.Product
	nextID  int64
	failGet error
}

func newMemProducts() *memProducts { return &memProducts{byName: map[string]model.Product{}} }

func (m *memProducts) ProductByName(_ context.Context, name string) (model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return model.Product{}, m.failGet
	}
	p, ok := m.byName[name]
	if !ok {
		return model.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) CreateProduct(_ context.Context, p model.Product) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[p.Name]; ok {
		return 0, storage.ErrDuplicate
	}
	m.nextID++
	p.ID = m.nextID
	m.byName[p.Name] = p
	return p.ID, nil
}

func (m *memProducts) UpdateProductPrice(_ context.Context, id int64, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.byName {
		if p.ID == id {
			p.Price = price
			m.byName[name] = p
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memProducts) CountProducts(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byName), nil
}

type staticSource struct {
	rows []feed.Row
	err  error
}

func (s *staticSource) ReadAllRows(context.Context) ([]feed.Row, error) { return s.rows, s.err }

func rows(names ...string) []feed.Row {
	out := make([]feed.Row, 0, len(names))
	for i, n := range names {
		out = append(out, feed.Row{Index: i, Name: n, Price: int64(100 * (i + 1))})
	}
	return out
}

func TestDetectNewRows(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		feed      []feed.Row
		err       error
		last      int
		guard     int
		wantRows  int
		wantCount int
		wantOK    bool
	}{
		{name: "grew", feed: rows("a", "b", "c"), last: 2, wantRows: 1, wantCount: 3, wantOK: true},
		{name: "unchanged", feed: rows("a", "b"), last: 2, wantRows: 0, wantCount: 2, wantOK: true},
		{name: "cold start", feed: rows("a", "b", "c"), last: 0, wantRows: 0, wantCount: 3, wantOK: true},
		{name: "shrunk", feed: rows("a"), last: 3, wantRows: 0, wantCount: 1, wantOK: true},
		{name: "custom guard", feed: rows("a", "b", "c", "d"), last: 2, guard: 2, wantRows: 0, wantCount: 4, wantOK: true},
		{name: "read failure", err: errors.New("sheet down"), last: 5, wantRows: 0, wantCount: 5, wantOK: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewDetector(&staticSource{rows: tt.feed, err: tt.err}, DetectorConfig{ColdStartGuard: tt.guard}, logx.Nop())
			got := d.DetectNewRows(context.Background(), tt.last)
			if len(got.Rows) != tt.wantRows || got.Count != tt.wantCount || got.OK != tt.wantOK {
				t.Fatalf("DetectNewRows = {rows:%d count:%d ok:%v}, want {rows:%d count:%d ok:%v}",
					len(got.Rows), got.Count, got.OK, tt.wantRows, tt.wantCount, tt.wantOK)
			}
		})
	}
}

func TestDetectNewRowsReturnsAppendedSlice(t *testing.T) {
	t.Parallel()
	d := NewDetector(&staticSource{rows: rows("Widget", "Gadget", "Gizmo")}, DetectorConfig{}, logx.Nop())
	got := d.DetectNewRows(context.Background(), 1)
	if len(got.Rows) != 2 || got.Rows[0].Name != "Gadget" || got.Rows[1].Name != "Gizmo" {
		t.Fatalf("unexpected rows: %+v", got.Rows)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemProducts()
	r := NewReconciler(store, 0, logx.Nop())

	feedRows := rows("Widget", "Gadget")
	first := r.Reconcile(ctx, feedRows)
	if first.Added != 2 || first.Updated != 0 {
		t.Fatalf("first pass = %+v, want 2 added", first)
	}
	second := r.Reconcile(ctx, feedRows)
	if second.Added != 0 || second.Updated != 0 || second.Unchanged != 2 {
		t.Fatalf("second pass = %+v, want 2 unchanged", second)
	}
	if n, _ := store.CountProducts(ctx); n != 2 {
		t.Fatalf("products = %d, want 2", n)
	}
	p, _ := store.ProductByName(ctx, "Widget")
	if p.Image != model.PlaceholderImage || p.Description != "" {
		t.Fatalf("feed product defaults not applied: %+v", p)
	}
}

func TestReconcileRowUpdatesPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemProducts()
	_, _ = store.CreateProduct(ctx, model.Product{Name: "Widget", Price: 100})
	r := NewReconciler(store, 0, logx.Nop())

	o := r.ReconcileRow(ctx, feed.Row{Name: "Widget", Price: 120})
	if !o.Updated || o.Created || !o.Persisted() || o.Product.Price != 120 {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	p, _ := store.ProductByName(ctx, "Widget")
	if p.Price != 120 {
		t.Fatalf("stored price = %d, want 120", p.Price)
	}
}

func TestReconcileRowStoreFailure(t *testing.T) {
	t.Parallel()
	store := newMemProducts()
	store.failGet = errors.New("db locked")
	r := NewReconciler(store, 0, logx.Nop())

	o := r.ReconcileRow(context.Background(), feed.Row{Name: "Widget"})
	if o.Persisted() {
		t.Fatal("row should not be persisted on store failure")
	}
	res := r.Reconcile(context.Background(), rows("a", "b"))
	if res.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", res.Failed)
	}
}
