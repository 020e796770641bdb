// Package kafka publishes persisted events to Kafka topics.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/codewandler/esengine/core/es"
)

// Writer is the part of *kafkago.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Config struct {
	Log *slog.Logger
	// Topic returns the topic of a message. Defaults to the message subject.
	// Leave it nil when the writer has a fixed topic set.
	Topic func(es.Message) string
}

// Publisher writes one Kafka message per event, keyed by aggregate id so the
// events of one aggregate land in one partition.
type Publisher struct {
	w     Writer
	log   *slog.Logger
	topic func(es.Message) string
}

func NewPublisher(w Writer, cfg Config) *Publisher {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		w:     w,
		log:   log.With(slog.String("publisher", "kafka")),
		topic: cfg.Topic,
	}
}

// NewWriter returns a writer for brokers that leaves the topic to each message.
func NewWriter(brokers ...string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (p *Publisher) Publish(ctx context.Context, msg es.Message) error {
	km := toKafkaMessage(msg)
	if p.topic != nil {
		km.Topic = p.topic(msg)
	}
	if err := p.w.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Subject(), err)
	}
	p.log.Debug("published", slog.String("topic", km.Topic), slog.String("event_id", msg.EventID))
	return nil
}

func (p *Publisher) Close() error { return p.w.Close() }

// SubjectTopic routes every event to "<aggregate type>.<event type>".
func SubjectTopic(msg es.Message) string { return msg.Subject() }

// AggregateTopic routes all events of an aggregate type to one topic.
func AggregateTopic(msg es.Message) string { return msg.AggregateType }

func toKafkaMessage(msg es.Message) kafkago.Message {
	headers := msg.Headers()
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	km := kafkago.Message{
		Key:     []byte(msg.AggregateID),
		Value:   msg.Payload,
		Time:    msg.OccurredAt,
		Headers: make([]kafkago.Header, 0, len(keys)),
	}
	for _, k := range keys {
		km.Headers = append(km.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return km
}

var _ es.Publisher = (*Publisher)(nil)
