package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shopbot/internal/model"
	logx "shopbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "shop.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestUnnotifiedOrdersOrderingAndMarking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	uid, err := st.CreateAccount(ctx, model.Account{Username: "alice", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	pid, err := st.CreateProduct(ctx, model.Product{Name: "Widget", Price: 100})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	late, _ := st.CreateOrder(ctx, model.Order{BuyerID: uid, ProductID: pid, TotalPrice: 100, CreatedAt: base.Add(time.Minute)})
	early, _ := st.CreateOrder(ctx, model.Order{BuyerID: uid, ProductID: pid, TotalPrice: 100, CreatedAt: base})
	tie, _ := st.CreateOrder(ctx, model.Order{BuyerID: uid, ProductID: pid, TotalPrice: 100, CreatedAt: base.Add(time.Minute)})
	if _, err := st.CreateOrder(ctx, model.Order{BuyerID: uid, ProductID: pid, Notified: true, CreatedAt: base}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	orders, err := st.UnnotifiedOrders(ctx)
	if err != nil {
		t.Fatalf("UnnotifiedOrders: %v", err)
	}
	want := []int64{early, late, tie}
	if len(orders) != len(want) {
		t.Fatalf("got %d orders, want %d", len(orders), len(want))
	}
	for i, id := range want {
		if orders[i].ID != id {
			t.Fatalf("orders[%d].ID = %d, want %d", i, orders[i].ID, id)
		}
	}
	if orders[0].BuyerName != "alice" || orders[0].ProductName != "Widget" {
		t.Fatalf("join fields missing: %+v", orders[0])
	}
	if !orders[0].CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt = %v, want %v", orders[0].CreatedAt, base)
	}

	if err := st.MarkOrderNotified(ctx, early); err != nil {
		t.Fatalf("MarkOrderNotified: %v", err)
	}
	if n, _ := st.CountUnnotifiedOrders(ctx); n != 2 {
		t.Fatalf("CountUnnotifiedOrders = %d, want 2", n)
	}
	if err := st.MarkOrderNotified(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkOrderNotified(missing) = %v, want ErrNotFound", err)
	}
}

func TestProductLookupAndDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.ProductByName(ctx, "Gadget"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ProductByName(missing) = %v, want ErrNotFound", err)
	}
	id, err := st.CreateProduct(ctx, model.Product{Name: "Gadget", Price: 50, Image: model.PlaceholderImage})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if _, err := st.CreateProduct(ctx, model.Product{Name: "Gadget"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate CreateProduct = %v, want ErrDuplicate", err)
	}
	if err := st.UpdateProductPrice(ctx, id, 75); err != nil {
		t.Fatalf("UpdateProductPrice: %v", err)
	}
	p, err := st.ProductByName(ctx, "Gadget")
	if err != nil {
		t.Fatalf("ProductByName: %v", err)
	}
	if p.Price != 75 || p.Image != model.PlaceholderImage {
		t.Fatalf("unexpected product: %+v", p)
	}
	if _, err := st.ProductByName(ctx, "gadget"); !errors.Is(err, ErrNotFound) {
		t.Fatal("name lookup must be exact")
	}
}

func TestUpsertRecipientIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	created, err := st.UpsertRecipient(ctx, model.Recipient{ChatID: 42, DisplayName: "Ops", Tier: model.TierUser})
	if err != nil || !created {
		t.Fatalf("first upsert = (%v, %v), want (true, nil)", created, err)
	}
	created, err = st.UpsertRecipient(ctx, model.Recipient{ChatID: 42, DisplayName: "Ops 2", Username: "admin", Tier: model.TierUser})
	if err != nil || created {
		t.Fatalf("second upsert = (%v, %v), want (false, nil)", created, err)
	}
	// An empty username must not clear the bound account.
	if _, err := st.UpsertRecipient(ctx, model.Recipient{ChatID: 42, DisplayName: "Ops 3", Tier: model.TierUser}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}

	all, err := st.Recipients(ctx)
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d recipients, want 1", len(all))
	}
	if all[0].Username != "admin" || all[0].DisplayName != "Ops 3" {
		t.Fatalf("unexpected recipient: %+v", all[0])
	}
	if _, err := st.RecipientByChatID(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecipientByChatID(missing) = %v, want ErrNotFound", err)
	}
}

func TestAccountsAndAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.CreateAccount(ctx, model.Account{Username: "admin", PasswordHash: "h", Role: model.RoleAdmin}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := st.CreateAccount(ctx, model.Account{Username: "admin", PasswordHash: "h"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate CreateAccount = %v, want ErrDuplicate", err)
	}
	acc, err := st.AccountByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("AccountByUsername: %v", err)
	}
	if acc.Role != model.RoleAdmin {
		t.Fatalf("Role = %q, want admin", acc.Role)
	}
	if err := st.AppendAudit(ctx, AuditEntry{ChatID: 1, Action: "login", OK: false, Error: "bad secret"}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}
