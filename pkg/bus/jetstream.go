package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aibozo/codeurv2/pkg/config"
	"github.com/aibozo/codeurv2/pkg/retry"
)

// JetStreamBus is the production Bus implementation. Each topic is its own
// JetStream stream (subjects "<topic>.>"), and Publish addresses a specific
// partition by publishing to subject "<topic>.<key>" so JetStream's
// per-subject ordering gives per-key FIFO for free.
type JetStreamBus struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg config.BusConfig
}

// Connect dials NATS and wraps it with a JetStream context, mirroring the
// natsclient.Client construction the semspec processor components use.
func Connect(ctx context.Context, cfg config.BusConfig) (*JetStreamBus, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("codeurv2"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &JetStreamBus{nc: nc, js: js, cfg: cfg}, nil
}

// EnsureStream creates (or updates) the stream backing topic if it does not
// already exist. Components call this once at startup for every topic they
// own; it is idempotent.
func (b *JetStreamBus) EnsureStream(ctx context.Context, topic string) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     topic,
		Subjects: []string{topic + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %q: %w", topic, err)
	}
	return nil
}

func (b *JetStreamBus) Publish(ctx context.Context, topic, key string, data []byte) error {
	subject := subjectFor(topic, key)
	return retry.Do(ctx, b.cfg.PublishRetry, func(ctx context.Context) error {
		_, err := b.js.Publish(ctx, subject, data)
		return err
	})
}

func (b *JetStreamBus) Subscribe(ctx context.Context, topic, group string) (Iterator, error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, topic, jetstream.ConsumerConfig{
		Durable:       group,
		FilterSubject: topic + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create durable consumer %q/%q: %w", topic, group, err)
	}
	return &jetstreamIterator{consumer: consumer, topic: topic}, nil
}

func (b *JetStreamBus) Close() error {
	b.nc.Close()
	return nil
}

func subjectFor(topic, key string) string {
	if key == "" {
		return topic + ".-"
	}
	return topic + "." + key
}

// jetstreamIterator adapts JetStream's Fetch-one-with-timeout call into the
// blocking pull-iterator shape pkg/bus.Iterator exposes, following the
// planner component's "Fetch(1, FetchMaxWait(...))" loop.
type jetstreamIterator struct {
	consumer jetstream.Consumer
	topic    string
}

func (it *jetstreamIterator) Next(ctx context.Context) (*Message, error) {
	type fetched struct {
		batch jetstream.MessageBatch
		err   error
	}
	fetchCh := make(chan fetched, 1)
	go func() {
		batch, err := it.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		fetchCh <- fetched{batch, err}
	}()
	var batch jetstream.MessageBatch
	var err error
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-fetchCh:
		batch, err = f.batch, f.err
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, ErrNoMoreMessages
	}

	for msg := range batch.Messages() {
		meta, _ := msg.Metadata()
		ts := time.Now()
		if meta != nil {
			ts = meta.Timestamp
		}
		return &Message{
			Envelope: Envelope{
				Topic:     it.topic,
				Key:       keyFromSubject(it.topic, msg.Subject()),
				Data:      msg.Data(),
				Timestamp: ts,
			},
			ack: msg.Ack,
			nak: func() error { return msg.Nak() },
		}, nil
	}
	if err := batch.Error(); err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	return nil, ErrNoMoreMessages
}

func (it *jetstreamIterator) Close() error { return nil }

func keyFromSubject(topic, subject string) string {
	prefix := topic + "."
	if len(subject) > len(prefix) && subject[:len(prefix)] == prefix {
		return subject[len(prefix):]
	}
	return ""
}
