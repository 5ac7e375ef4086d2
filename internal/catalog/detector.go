// Package catalog turns the append-only feed into product records: the
// Detector finds rows appended since the last observed count, and the
// Reconciler upserts rows into the product store by name.
package catalog

import (
	"context"
	"time"

	"shopbot/internal/feed"
	logx "shopbot/pkg/logx"
)

// Detection is the result of one feed poll.
//
// Count is the feed length observed by this poll and is reported even when
// Rows is empty. When OK is false the feed could not be read and Count
// echoes the caller's lastCount.
type Detection struct {
	Rows  []feed.Row
	Count int
	OK    bool
}

type DetectorConfig struct {
	// ColdStartGuard suppresses detection while lastCount <= guard, so a
	// scheduler that never saw the feed does not announce the whole sheet.
	ColdStartGuard int
	Timeout        time.Duration
}

type Detector struct {
	src feed.Source
	cfg DetectorConfig
	log logx.Logger
}

func NewDetector(src feed.Source, cfg DetectorConfig, log logx.Logger) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ColdStartGuard < 0 {
		cfg.ColdStartGuard = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{src: src, cfg: cfg, log: log}
}

// ReadAll returns the whole feed within the configured timeout.
func (d *Detector) ReadAll(ctx context.Context) ([]feed.Row, error) {
	if d.src == nil {
		return nil, feed.ErrNoSource
	}
	rctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return d.src.ReadAllRows(rctx)
}

// DetectNewRows returns the rows at positions [lastCount, newCount) when the
// feed grew past lastCount and lastCount is above the cold-start guard.
// Feed failures are logged and reported as OK=false; they never escape.
func (d *Detector) DetectNewRows(ctx context.Context, lastCount int) Detection {
	rows, err := d.ReadAll(ctx)
	if err != nil {
		d.log.Warn("feed read failed", logx.Int("last_count", lastCount), logx.Err(err))
		return Detection{Count: lastCount}
	}

	det := Detection{Count: len(rows), OK: true}
	if det.Count > lastCount && lastCount > d.cfg.ColdStartGuard {
		det.Rows = append([]feed.Row(nil), rows[lastCount:det.Count]...)
	} else if det.Count > lastCount {
		d.log.Debug("feed grew during cold start; not announcing",
			logx.Int("last_count", lastCount), logx.Int("count", det.Count))
	}
	return det
}
