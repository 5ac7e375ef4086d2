package notifier

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSender is returned when the service has no transport attached.
var ErrNoSender = errors.New("notifier: no sender configured")

// Config controls delivery pacing.
type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
	// Workers bounds the parallel sends of one FanOut.
	Workers int
	// HistorySize caps the in-memory delivery history.
	HistorySize int
}

// DeliveryError reports a failed delivery to one chat address.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// FanOutReport summarizes one FanOut. Attempted equals Sent+Failed.
type FanOutReport struct {
	Attempted int
	Sent      int
	Failed    int
	Errors    []*DeliveryError
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	OK     bool
	Text   string
}

// DeliveryEvent is published on the event bus when a send fails.
type DeliveryEvent struct {
	ChatID int64     `json:"chat_id"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
