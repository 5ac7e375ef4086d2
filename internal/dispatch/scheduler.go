package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	logx "shopbot/pkg/logx"
)

const (
	defaultInterval     = 5 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Deps are the collaborators of a Scheduler. Counter and Bus may be nil.
type Deps struct {
	Orders     OrderDetector
	Marker     OrderMarker
	Catalog    CatalogDetector
	Reconciler CatalogReconciler
	Recipients RecipientLister
	Notifier   Notifier
	Counter    Counter
	Bus        eventbus.Bus
}

type Scheduler struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	// tickMu is held for the whole of a tick.
	tickMu sync.Mutex

	mu        sync.Mutex
	watermark int
	last      *TickReport
	c         *cron.Cron
	cancelRun context.CancelFunc

	ticks   atomic.Uint64
	skipped atomic.Uint64
}

func New(cfg Config, deps Deps, log logx.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, deps: deps, log: log}
}

// Watermark returns the number of feed rows already seen.
func (s *Scheduler) Watermark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark
}

// advance moves the watermark to n unless it is already past it.
func (s *Scheduler) advance(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.watermark {
		s.watermark = n
	}
	return s.watermark
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.c != nil, Watermark: s.watermark}
	if s.last != nil {
		last := *s.last
		st.LastTick = &last
	}
	s.mu.Unlock()
	st.Ticks = s.ticks.Load()
	st.Skipped = s.skipped.Load()
	return st
}

// Bootstrap reconciles the whole feed into the product store and sets the
// watermark to the feed length. It holds the tick guard, so it never runs
// alongside a tick.
func (s *Scheduler) Bootstrap(ctx context.Context) (SyncReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var rep SyncReport
	s.log.Info("catalog sync started")
	rows, err := s.deps.Catalog.ReadAll(ctx)
	if err != nil {
		rep.Watermark = s.Watermark()
		return rep, fmt.Errorf("catalog sync: %w", err)
	}
	rep.Rows = len(rows)
	rep.Result = s.deps.Reconciler.Reconcile(ctx, rows)
	rep.Watermark = s.advance(len(rows))

	if s.deps.Counter != nil {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		if n, err := s.deps.Counter.CountUnnotifiedOrders(cctx); err == nil {
			rep.PendingOrders = n
		} else {
			s.log.Warn("count pending orders failed", logx.Err(err))
		}
		if n, err := s.deps.Counter.CountProducts(cctx); err == nil {
			rep.Products = n
		} else {
			s.log.Warn("count products failed", logx.Err(err))
		}
		cancel()
	}

	s.log.Info("catalog sync finished",
		logx.Int("rows", rep.Rows),
		logx.Int("added", rep.Result.Added),
		logx.Int("updated", rep.Result.Updated),
		logx.Int("unchanged", rep.Result.Unchanged),
		logx.Int("failed", rep.Result.Failed),
		logx.Int("pending_orders", rep.PendingOrders),
		logx.Int("products", rep.Products),
		logx.Int("watermark", rep.Watermark),
	)
	return rep, nil
}

// Start runs the startup sync and registers the periodic tick. A failed
// sync is logged; the loop starts anyway with the watermark at zero, which
// the cold-start guard keeps from announcing the existing feed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if _, err := s.Bootstrap(ctx); err != nil {
		s.log.Warn("startup sync failed", logx.Err(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := "@every " + s.cfg.Interval.String()
	if _, err := c.AddFunc(spec, func() { s.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("dispatch: schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.c = c
	s.cancelRun = cancel
	s.mu.Unlock()

	c.Start()
	s.log.Info("dispatch loop started", logx.Duration("interval", s.cfg.Interval), logx.String("tz", s.cfg.Location.String()))
	return nil
}

// Stop halts the trigger and waits for a running tick to finish, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancelRun
	s.c = nil
	s.cancelRun = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	var err error
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		done := make(chan struct{})
		go func() {
			s.tickMu.Lock()
			s.tickMu.Unlock()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("dispatch loop stopped", logx.Duration("took", time.Since(start)), logx.Bool("clean", err == nil))
	return err
}

// Tick runs one pass. When another tick is in progress it returns at once
// with Skipped set.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	rep := TickReport{ID: uuid.NewString(), StartedAt: time.Now()}
	if !s.tickMu.TryLock() {
		rep.Skipped = true
		rep.Watermark = s.Watermark()
		s.skipped.Add(1)
		s.log.Debug("tick skipped; previous tick still running", logx.String("tick", rep.ID))
		eventbus.Publish(s.deps.Bus, eventbus.TypeTickSkipped, rep)
		return rep
	}
	defer s.tickMu.Unlock()

	log := s.log.With(logx.String("tick", rep.ID))
	// Calls run on work so shutdown cannot split a fan-out from its commit;
	// ctx only keeps the passes from starting another item.
	work := context.WithoutCancel(ctx)
	s.orderPass(ctx, work, log, &rep)
	s.catalogPass(ctx, work, log, &rep)

	rep.Watermark = s.Watermark()
	rep.Took = time.Since(rep.StartedAt)
	s.ticks.Add(1)
	s.mu.Lock()
	last := rep
	s.last = &last
	s.mu.Unlock()

	if rep.Orders > 0 || rep.Rows > 0 || rep.Failed > 0 {
		log.Info("tick finished",
			logx.Int("orders", rep.Orders),
			logx.Int("orders_marked", rep.OrdersMarked),
			logx.Int("rows", rep.Rows),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("watermark", rep.Watermark),
			logx.Duration("took", rep.Took),
		)
	} else {
		log.Trace("tick finished", logx.Bool("feed_ok", rep.FeedOK), logx.Duration("took", rep.Took))
	}
	eventbus.Publish(s.deps.Bus, eventbus.TypeTickCompleted, rep)
	return rep
}

// orderPass relays pending orders. An order is marked after its fan-out
// finished, whatever the number of successful deliveries. When recipients
// cannot be listed the pass stops and the remaining orders wait for the next
// tick.
func (s *Scheduler) orderPass(ctx, work context.Context, log logx.Logger, rep *TickReport) {
	orders := s.deps.Orders.DetectUnnotified(work)
	rep.Orders = len(orders)
	if len(orders) == 0 {
		return
	}
	log.Info("pending orders found", logx.Int("count", len(orders)))

	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		recips, err := s.listRecipients(work)
		if err != nil {
			log.Warn("list recipients failed; order pass deferred", logx.Int64("order_id", o.ID), logx.Err(err))
			return
		}
		fo := s.deps.Notifier.FanOut(work, recips, OrderMessage(o, s.cfg.Location))
		rep.Sent += fo.Sent
		rep.Failed += fo.Failed

		mctx, cancel := context.WithTimeout(work, s.cfg.StoreTimeout)
		err = s.deps.Marker.MarkOrderNotified(mctx, o.ID)
		cancel()
		if err != nil {
			log.Warn("mark order notified failed", logx.Int64("order_id", o.ID), logx.Err(err))
			continue
		}
		rep.OrdersMarked++
		log.Info("order announced",
			logx.Int64("order_id", o.ID),
			logx.Int("recipients", len(recips)),
			logx.Int("sent", fo.Sent),
			logx.Int("failed", fo.Failed),
		)
		eventbus.Publish(s.deps.Bus, eventbus.TypeOrderNotified, map[string]any{
			"order_id": o.ID,
			"sent":     fo.Sent,
			"failed":   fo.Failed,
		})
	}
}

// catalogPass announces rows appended since the watermark, then advances
// it. If recipients cannot be listed the watermark stops at the first
// unannounced row.
func (s *Scheduler) catalogPass(ctx, work context.Context, log logx.Logger, rep *TickReport) {
	last := s.Watermark()
	det := s.deps.Catalog.DetectNewRows(work, last)
	rep.FeedOK = det.OK
	rep.Rows = len(det.Rows)
	if !det.OK {
		return
	}
	if len(det.Rows) > 0 {
		log.Info("new catalog rows", logx.Int("count", len(det.Rows)), logx.Int("from", last), logx.Int("to", det.Count))
	}

	upTo := det.Count
	for i, row := range det.Rows {
		if ctx.Err() != nil {
			upTo = last + i
			break
		}
		out := s.deps.Reconciler.ReconcileRow(work, row)
		if out.Err != nil {
			log.Warn("catalog row not persisted", logx.String("name", row.Name), logx.Err(out.Err))
		}
		recips, err := s.listRecipients(work)
		if err != nil {
			log.Warn("list recipients failed; catalog pass deferred", logx.String("name", row.Name), logx.Err(err))
			upTo = last + i
			break
		}
		fo := s.deps.Notifier.FanOut(work, recips, ProductMessage(row, out.Persisted(), s.cfg.Location))
		rep.Sent += fo.Sent
		rep.Failed += fo.Failed
		log.Info("product announced",
			logx.String("name", row.Name),
			logx.Bool("persisted", out.Persisted()),
			logx.Bool("created", out.Created),
			logx.Int("sent", fo.Sent),
		)
		eventbus.Publish(s.deps.Bus, eventbus.TypeProductAnnounced, map[string]any{
			"name":      row.Name,
			"price":     row.Price,
			"persisted": out.Persisted(),
			"sent":      fo.Sent,
		})
	}
	s.advance(upTo)
}

func (s *Scheduler) listRecipients(ctx context.Context) ([]model.Recipient, error) {
	lctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.deps.Recipients.All(lctx)
}
