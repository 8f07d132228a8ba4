// Package messaging provides the NATS JetStream client for the moderation
// pipeline. It owns the durable stream carrying task intake and dead-letter
// traffic, the publishers that feed it, and the pull consumer the worker
// drains.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Stream layout. One durable stream holds both subjects so task intake and
// dead-letter traffic share retention settings.
const (
	StreamName        = "MODERATION"
	SubjectTasks      = "moderation.tasks"
	SubjectDeadLetter = "moderation.dlq"
)

// ErrConsumerStopped is returned by TaskConsumer.Next after Stop has been
// called and the remaining buffered messages have been drained.
var ErrConsumerStopped = jetstream.ErrMsgIteratorClosed

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "tradepost",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  zerolog.Logger
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails; later
// disconnects are retried by the underlying connection.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			} else {
				log.Info().Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")

	return &Client{conn: nc, js: js, log: log}, nil
}

// EnsureStream creates or updates the moderation stream. Idempotent; every
// process calls it at startup so ordering between binaries does not matter.
func (c *Client) EnsureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectTasks, SubjectDeadLetter},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("jetstream ensure stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishTask publishes a task message and waits for the stream ack, so a
// nil return means the message is durably stored.
func (c *Client) PublishTask(ctx context.Context, data []byte) error {
	if _, err := c.js.Publish(ctx, SubjectTasks, data); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", SubjectTasks, err)
	}
	return nil
}

// PublishDeadLetter publishes a dead-letter message for offline inspection.
func (c *Client) PublishDeadLetter(ctx context.Context, data []byte) error {
	if _, err := c.js.Publish(ctx, SubjectDeadLetter, data); err != nil {
		return fmt.Errorf("jetstream publish %s: %w", SubjectDeadLetter, err)
	}
	return nil
}

// Delivery is one message received from the task stream. Ack must be called
// once the message has been fully handled; unacked deliveries come back
// after the ack wait elapses.
type Delivery interface {
	Data() []byte
	Ack() error
}

// jsDelivery adapts a jetstream message to Delivery.
type jsDelivery struct {
	msg jetstream.Msg
}

func (d jsDelivery) Data() []byte { return d.msg.Data() }
func (d jsDelivery) Ack() error   { return d.msg.Ack() }

// TaskConsumer is a durable pull consumer over the task subject. Messages
// arrive in stream order, one Next at a time, and are redelivered when not
// acked within the ack wait.
type TaskConsumer struct {
	msgs jetstream.MessagesContext
}

// ConsumeTasks binds a durable consumer to the task subject. Worker
// processes sharing the durable name split the stream between them.
func (c *Client) ConsumeTasks(ctx context.Context, durable string, ackWait time.Duration) (*TaskConsumer, error) {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: SubjectTasks,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream consumer %s: %w", durable, err)
	}

	msgs, err := cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("jetstream messages %s: %w", durable, err)
	}

	return &TaskConsumer{msgs: msgs}, nil
}

// Next blocks until a message arrives. After Stop it returns
// ErrConsumerStopped.
func (tc *TaskConsumer) Next() (Delivery, error) {
	msg, err := tc.msgs.Next()
	if err != nil {
		return nil, err
	}
	return jsDelivery{msg: msg}, nil
}

// Stop ends the subscription; a blocked Next returns ErrConsumerStopped.
func (tc *TaskConsumer) Stop() {
	tc.msgs.Stop()
}

// Close drains the connection, flushing pending publishes.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.log.Warn().Err(err).Msg("nats drain")
	}
	c.log.Info().Msg("nats client closed")
}
