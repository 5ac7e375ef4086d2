package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	logx "shopbot/pkg/logx"
)

// Sink forwards events to an external broker so other services can react
// to dispatch activity.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
	Close() error
}

// MirrorConfig selects the external sink.
//
// Driver values: "" or "none" (disabled), "redis", "amqp".
type MirrorConfig struct {
	Driver   string
	URL      string // redis://... or amqp://...
	Topic    string // redis channel or amqp queue name
	Types    []string
	Timeout  time.Duration
	Password string
}

// OpenSink returns (nil, nil) when mirroring is disabled.
func OpenSink(ctx context.Context, cfg MirrorConfig) (Sink, error) {
	const op = "eventbus.OpenSink"

	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = "shopbot.events"
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		client := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%s: redis ping: %w", op, err)
		}
		return &RedisSink{client: client, channel: topic}, nil
	case "amqp":
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%s: amqp dial: %w", op, err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: amqp channel: %w", op, err)
		}
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("%s: queue declare: %w", op, err)
		}
		return &AMQPSink{conn: conn, ch: ch, queue: topic}, nil
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}

// RedisSink publishes events as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, body).Err()
}

func (s *RedisSink) Close() error { return s.client.Close() }

// AMQPSink publishes events as persistent JSON messages to a durable queue.
type AMQPSink struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Type:         e.Type,
		Body:         body,
	})
}

func (s *AMQPSink) Close() error {
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}

// Mirror forwards bus events to sink until ctx is done. An empty types list
// forwards everything. Send failures are logged and dropped.
func Mirror(ctx context.Context, bus Bus, sink Sink, types []string, timeout time.Duration, log logx.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	allow := map[string]bool{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			allow[t] = true
		}
	}

	events, unsub := bus.Subscribe(256)
	defer unsub()
	log = log.With(logx.String("sink", sink.Name()))
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if len(allow) > 0 && !allow[e.Type] {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			err := sink.Send(sctx, e)
			cancel()
			if err != nil {
				log.Warn("event mirror send failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}
