package dispatch

import (
	"context"
	"time"

	"shopbot/internal/catalog"
	"shopbot/internal/feed"
	"shopbot/internal/model"
	"shopbot/internal/notifier"
)

type Config struct {
	// Interval between ticks; defaults to 5s.
	Interval time.Duration
	// StoreTimeout bounds recipient listing and order marking.
	StoreTimeout time.Duration
	// Location renders timestamps in announcements; nil means UTC.
	Location *time.Location
}

type OrderDetector interface {
	DetectUnnotified(ctx context.Context) []model.Order
}

type OrderMarker interface {
	MarkOrderNotified(ctx context.Context, id int64) error
}

type CatalogDetector interface {
	ReadAll(ctx context.Context) ([]feed.Row, error)
	DetectNewRows(ctx context.Context, lastCount int) catalog.Detection
}

type CatalogReconciler interface {
	ReconcileRow(ctx context.Context, row feed.Row) catalog.RowOutcome
	Reconcile(ctx context.Context, rows []feed.Row) catalog.Result
}

type RecipientLister interface {
	All(ctx context.Context) ([]model.Recipient, error)
}

type Notifier interface {
	FanOut(ctx context.Context, recipients []model.Recipient, text string) notifier.FanOutReport
}

// Counter reports store totals for the startup log. Optional.
type Counter interface {
	CountUnnotifiedOrders(ctx context.Context) (int, error)
	CountProducts(ctx context.Context) (int, error)
}

// TickReport summarizes one Tick.
type TickReport struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	Skipped      bool          `json:"skipped,omitempty"`
	Orders       int           `json:"orders"`
	OrdersMarked int           `json:"orders_marked"`
	Rows         int           `json:"rows"`
	FeedOK       bool          `json:"feed_ok"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	Watermark    int           `json:"watermark"`
	Took         time.Duration `json:"took"`
}

// SyncReport summarizes a full catalog sync.
type SyncReport struct {
	Rows          int            `json:"rows"`
	Result        catalog.Result `json:"result"`
	PendingOrders int            `json:"pending_orders"`
	Products      int            `json:"products"`
	Watermark     int            `json:"watermark"`
}

// Status is a point-in-time view for health endpoints.
type Status struct {
	Running   bool        `json:"running"`
	Watermark int         `json:"watermark"`
	Ticks     uint64      `json:"ticks"`
	Skipped   uint64      `json:"skipped"`
	LastTick  *TickReport `json:"last_tick,omitempty"`
}
