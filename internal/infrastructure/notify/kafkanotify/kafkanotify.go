// Package kafkanotify implements devicecore's repository.NotificationChannel
// over Kafka, grounded on the teacher's revocation consumer
// (internal/infrastructure/consumers/revocation_consumer.go), for
// fleet/hub deployments where many devices share one process and a
// broker fans notifications out to them instead of one long-poll per
// device.
package kafkanotify

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/edgeweave/devicecore/pkg/logger"
)

// Config points at the broker and topic notifications arrive on. Topic
// filtering (pairing, commands, revocation) happens on the message
// key, not on separate Kafka topics, so one reader serves every
// Subscribe call.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Channel is the production repository.NotificationChannel.
type Channel struct {
	reader *kafka.Reader
	log    logger.Logger

	mu          sync.Mutex
	subscribers map[string][]func(payload []byte)
	started     bool
	stop        chan struct{}
}

// New constructs a Channel. Start must be called once before Subscribe
// callbacks will actually fire.
func New(cfg Config, log logger.Logger) *Channel {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "devicecore"
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        groupID,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &Channel{
		reader:      reader,
		log:         log,
		subscribers: map[string][]func(payload []byte){},
		stop:        make(chan struct{}),
	}
}

// Subscribe registers fn for topic, keyed on the Kafka message key. The
// returned unsubscribe removes fn; it does not stop the reader.
func (c *Channel) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error) {
	c.mu.Lock()
	c.subscribers[topic] = append(c.subscribers[topic], fn)
	idx := len(c.subscribers[topic]) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[topic]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}, nil
}

// Start runs the consume loop until ctx is cancelled or Stop is called.
// It is expected to run in its own goroutine.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			c.log.Warn("kafka notify fetch failed", logger.String("error", err.Error()))
			continue
		}
		c.dispatch(string(msg.Key), msg.Value)
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Channel) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	subs := append([]func(payload []byte){}, c.subscribers[topic]...)
	c.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(payload)
		}
	}
}

// Stop halts the consume loop and closes the underlying reader.
func (c *Channel) Stop() {
	close(c.stop)
	if err := c.reader.Close(); err != nil {
		c.log.Warn("kafka reader close failed", logger.String("error", err.Error()))
	}
}
