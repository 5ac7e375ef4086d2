// Package orders finds orders that have not been announced yet.
package orders

import (
	"context"
	"time"

	"shopbot/internal/model"
	"shopbot/internal/storage"
	logx "shopbot/pkg/logx"
)

type Source interface {
	UnnotifiedOrders(ctx context.Context) ([]model.Order, error)
}

type Detector struct {
	src     Source
	timeout time.Duration
	log     logx.Logger
}

func NewDetector(src Source, timeout time.Duration, log logx.Logger) *Detector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{src: src, timeout: timeout, log: log}
}

// DetectUnnotified returns pending orders oldest first. A store failure or
// timeout is logged and yields an empty batch so the next tick retries.
func (d *Detector) DetectUnnotified(ctx context.Context) []model.Order {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.src.UnnotifiedOrders(qctx)
	if err != nil {
		d.log.Warn("order query failed", logx.Err(err))
		return nil
	}
	return out
}

var _ Source = (storage.OrderStore)(nil)
