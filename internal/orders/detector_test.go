package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"shopbot/internal/model"
	logx "shopbot/pkg/logx"
)

type fakeSource struct {
	orders []model.Order
	err    error
	block  bool
}

func (f fakeSource) UnnotifiedOrders(ctx context.Context) ([]model.Order, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.orders, f.err
}

func TestDetectUnnotified(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  fakeSource
		want int
	}{
		{name: "pending", src: fakeSource{orders: []model.Order{{ID: 1}, {ID: 2}}}, want: 2},
		{name: "none", src: fakeSource{}, want: 0},
		{name: "store error", src: fakeSource{err: errors.New("conn refused")}, want: 0},
		{name: "timeout", src: fakeSource{block: true}, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewDetector(tt.src, 20*time.Millisecond, logx.Nop())
			if got := d.DetectUnnotified(context.Background()); len(got) != tt.want {
				t.Fatalf("DetectUnnotified returned %d orders, want %d", len(got), tt.want)
			}
		})
	}
}
