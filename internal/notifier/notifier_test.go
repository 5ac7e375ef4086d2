package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     map[int64][]string
	fail     map[int64]error
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: map[int64][]string{}, fail: map[int64]error{}}
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	if opt == nil || opt.ParseMode != "HTML" {
		return kit.MessageRef{}, errors.New("expected HTML parse mode")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.sent[to.ChatID] = append(f.sent[to.ChatID], text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent[to.ChatID])}, nil
}

func recipients(ids ...int64) []model.Recipient {
	out := make([]model.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Recipient{ChatID: id})
	}
	return out
}

func TestSendWithoutSender(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	err := s.Send(context.Background(), 1, "hi")
	if !errors.Is(err, ErrNoSender) {
		t.Fatalf("Send err = %v, want ErrNoSender", err)
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de.ChatID != 1 {
		t.Fatalf("Send err = %#v, want *DeliveryError for chat 1", err)
	}
}

func TestSendTimeout(t *testing.T) {
	t.Parallel()
	fs := newFakeSender()
	fs.delay = time.Second
	s := New(Config{SendTimeout: 20 * time.Millisecond}, fs, logx.Nop(), nil)

	start := time.Now()
	err := s.Send(context.Background(), 9, "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("send timeout not enforced")
	}
}

func TestFanOutCountsFailures(t *testing.T) {
	t.Parallel()
	fs := newFakeSender()
	fs.fail[2] = errors.New("chat not found")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	s := New(Config{RatePerSec: 1000}, fs, logx.Nop(), bus)

	rep := s.FanOut(context.Background(), recipients(1, 2, 3), "<b>order</b>")
	if rep.Attempted != 3 || rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("report = %+v, want attempted=3 sent=2 failed=1", rep)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].ChatID != 2 {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	if len(fs.sent[1]) != 1 || len(fs.sent[3]) != 1 {
		t.Fatalf("sent = %v", fs.sent)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeDeliveryFailed {
			t.Fatalf("event type = %q", ev.Type)
		}
	default:
		t.Fatal("expected a delivery failure event")
	}

	hist := s.Snapshot()
	if len(hist) != 3 {
		t.Fatalf("history = %d items, want 3", len(hist))
	}
}

func TestFanOutEmpty(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newFakeSender(), logx.Nop(), nil)
	rep := s.FanOut(context.Background(), nil, "x")
	if rep.Attempted != 0 || rep.Sent != 0 || rep.Failed != 0 {
		t.Fatalf("report = %+v, want zero", rep)
	}
}

func TestFanOutBoundsParallelism(t *testing.T) {
	t.Parallel()
	fs := newFakeSender()
	fs.delay = 10 * time.Millisecond
	s := New(Config{RatePerSec: 1000, Workers: 2}, fs, logx.Nop(), nil)

	rep := s.FanOut(context.Background(), recipients(1, 2, 3, 4, 5, 6), "x")
	if rep.Sent != 6 {
		t.Fatalf("sent = %d, want 6", rep.Sent)
	}
	if p := fs.peak.Load(); p > 2 {
		t.Fatalf("peak parallel sends = %d, want <= 2", p)
	}
}

func TestHistoryIsCapped(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 1000, HistorySize: 2}, newFakeSender(), logx.Nop(), nil)
	for i := int64(1); i <= 5; i++ {
		if err := s.Send(context.Background(), i, "x"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	hist := s.Snapshot()
	if len(hist) != 2 || hist[0].ChatID != 4 || hist[1].ChatID != 5 {
		t.Fatalf("history = %+v", hist)
	}
}
