package app

import (
	"context"
	"fmt"

	"shopbot/internal/catalog"
	"shopbot/internal/config"
	"shopbot/internal/dispatch"
	"shopbot/internal/eventbus"
	"shopbot/internal/feed"
	"shopbot/internal/notifier"
	"shopbot/internal/orders"
	"shopbot/internal/recipients"
	"shopbot/internal/storage"
	logx "shopbot/pkg/logx"
)

// pipeline is the store-and-feed half of the service: everything the
// dispatch loop needs except the chat transport.
type pipeline struct {
	store    storage.Store
	dir      *recipients.Directory
	notif    *notifier.Service
	sched    *dispatch.Scheduler
	detector *catalog.Detector
}

// openPipeline opens the store and the feed and wires the detectors, the
// reconciler, the directory, the notifier and the scheduler. The notifier
// has no sender yet; the caller installs one when a transport exists.
func openPipeline(ctx context.Context, cfg *config.Config, bus eventbus.Bus, log logx.Logger) (*pipeline, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	fc, err := mapFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	dc, err := mapDetectorConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	src, err := feed.Open(fc)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	detector := catalog.NewDetector(src, dc, log.With(logx.String("comp", "catalog")))
	reconciler := catalog.NewReconciler(store, schedCfg.StoreTimeout, log.With(logx.String("comp", "catalog")))
	orderDet := orders.NewDetector(store, schedCfg.StoreTimeout, log.With(logx.String("comp", "orders")))
	dir := recipients.New(store, bus, schedCfg.StoreTimeout, log.With(logx.String("comp", "recipients")))
	notif := notifier.New(ncfg, nil, log.With(logx.String("comp", "notifier")), bus)

	sched := dispatch.New(schedCfg, dispatch.Deps{
		Orders:     orderDet,
		Marker:     store,
		Catalog:    detector,
		Reconciler: reconciler,
		Recipients: dir,
		Notifier:   notif,
		Counter:    store,
		Bus:        bus,
	}, log.With(logx.String("comp", "dispatch")))

	return &pipeline{
		store:    store,
		dir:      dir,
		notif:    notif,
		sched:    sched,
		detector: detector,
	}, nil
}

func (p *pipeline) Close() error {
	if p == nil || p.store == nil {
		return nil
	}
	return p.store.Close()
}
