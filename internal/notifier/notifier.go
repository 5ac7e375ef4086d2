package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
	"shopbot/pkg/tgui"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec  = 20
	defaultSendTimeout = 10 * time.Second
	defaultWorkers     = 4
	defaultHistorySize = 300
	historyTextRunes   = 200
)

// Service sends HTML text to chat addresses. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	sender  kit.Sender
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply swaps pacing settings. In-flight sends keep the old limiter.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender attaches the transport. Until then every Send fails with
// ErrNoSender.
func (s *Service) SetSender(sender kit.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Send makes one delivery attempt of text to chatID.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return &DeliveryError{ChatID: chatID, Err: ErrNoSender}
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	if err := lim.Wait(callCtx); err != nil {
		cancel()
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	_, err := sender.SendText(callCtx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      tgui.ParseModeHTML,
		DisablePreview: true,
	})
	cancel()

	s.appendHistory(chatID, text, err == nil, cfg.HistorySize)
	if err != nil {
		now := time.Now()
		eventbus.Publish(s.bus, eventbus.TypeDeliveryFailed, DeliveryEvent{ChatID: chatID, At: now, Error: err.Error()})
		return &DeliveryError{ChatID: chatID, Err: err}
	}
	return nil
}

// FanOut sends text to every recipient with bounded parallelism and returns
// once every attempt has finished. Individual failures are logged and
// counted, never returned.
func (s *Service) FanOut(ctx context.Context, recipients []model.Recipient, text string) FanOutReport {
	var rep FanOutReport
	if len(recipients) == 0 {
		return rep
	}

	s.mu.Lock()
	workers := s.cfg.Workers
	s.mu.Unlock()
	if workers > len(recipients) {
		workers = len(recipients)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, workers)
	)
	for _, r := range recipients {
		wg.Add(1)
		sem <- struct{}{}
		go func(chatID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.Send(ctx, chatID, text)

			mu.Lock()
			defer mu.Unlock()
			rep.Attempted++
			if err == nil {
				rep.Sent++
				return
			}
			rep.Failed++
			var de *DeliveryError
			if !errors.As(err, &de) {
				de = &DeliveryError{ChatID: chatID, Err: err}
			}
			rep.Errors = append(rep.Errors, de)
			s.log.Warn("delivery failed", logx.Int64("chat_id", chatID), logx.Err(de.Err))
		}(r.ChatID)
	}
	wg.Wait()
	return rep
}

// Snapshot returns a copy of the recent delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(chatID int64, text string, ok bool, max int) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: chatID, OK: ok, Text: tgui.TruncRunes(text, historyTextRunes)})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}
