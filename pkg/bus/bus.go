// Package bus implements the durable, topic-addressed event bus (component
// A of the pipeline): at-least-once delivery, consumer groups, and
// partition-keyed (per-key FIFO) ordering, backed by NATS JetStream.
//
// The wire-level choice is grounded on the JetStream usage in the C360Studio
// semspec processor components (pull consumers, durable names, explicit
// Ack), adapted here behind a narrow Bus interface so the orchestrator and
// the component packages never import jetstream directly. The low-latency
// WebSocket delivery side channel tarsy builds on Postgres LISTEN/NOTIFY
// (pkg/events/listener.go, publisher.go) is kept as bus/notify.go: JetStream
// is the durable log, NOTIFY is how a catching-up subscriber is woken
// without polling.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMoreMessages is returned by an Iterator's Next when a Fetch times out
// having received nothing; callers should loop and call Next again.
var ErrNoMoreMessages = errors.New("bus: no messages available")

// Envelope is the codec-independent shape every published message carries:
// a partition Key for per-key FIFO ordering, and an opaque payload decoded
// by the caller via Decode.
type Envelope struct {
	Topic     string
	Key       string
	Data      []byte
	Timestamp time.Time
}

// Decode unmarshals the envelope's JSON payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Message is a received Envelope plus the Ack/Nak control tarsy's handlers
// call after processing (see handleMessage in the grounding example).
type Message struct {
	Envelope
	ack func() error
	nak func() error
}

// Ack acknowledges successful processing; JetStream will not redeliver.
func (m *Message) Ack() error { return m.ack() }

// Nak signals processing failed; JetStream redelivers per the consumer's
// backoff policy.
func (m *Message) Nak() error { return m.nak() }

// Iterator is the pull-iterator consumer model mandated by the REDESIGN
// FLAGS: callers loop calling Next(ctx) rather than registering a push
// callback.
type Iterator interface {
	// Next blocks until a message is available, ctx is cancelled, or the
	// underlying fetch window elapses (returning ErrNoMoreMessages, not an
	// error — callers should just call Next again).
	Next(ctx context.Context) (*Message, error)
	Close() error
}

// Bus publishes to and subscribes from topic-addressed streams. A topic maps
// onto one JetStream stream; Key maps onto the NATS subject suffix so
// messages sharing a Key are delivered in order to any one consumer.
type Bus interface {
	// Publish appends data to topic under the given partition key, retrying
	// per the bus's configured RetryConfig on transient failure.
	Publish(ctx context.Context, topic, key string, data []byte) error

	// Subscribe returns a pull Iterator bound to a durable consumer group:
	// two Subscribe calls with the same group compete for messages (each
	// message goes to one of them, not to both), matching JetStream's
	// durable-consumer semantics.
	Subscribe(ctx context.Context, topic, group string) (Iterator, error)

	Close() error
}
