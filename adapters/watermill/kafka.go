package watermill

import (
	"log/slog"

	"github.com/IBM/sarama"
	wm "github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/codewandler/esengine/core/es"
)

const aggregateIDHeader = "es-aggregate-id"

type KafkaConfig struct {
	Brokers []string
	Log     *slog.Logger
	// Topic defaults to the message subject.
	Topic func(es.Message) string
}

// NewKafkaPublisher publishes through watermill-kafka with a synchronous,
// all-replica-acknowledged sarama producer. Messages are partitioned by
// aggregate id so each stream keeps its order.
func NewKafkaPublisher(cfg KafkaConfig) (*Publisher, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	saramaCfg := wmkafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1

	pub, err := wmkafka.NewPublisher(wmkafka.PublisherConfig{
		Brokers:               cfg.Brokers,
		Marshaler:             wmkafka.NewWithPartitioningMarshaler(partitionKey),
		OverwriteSaramaConfig: saramaCfg,
	}, wm.NewSlogLogger(log))
	if err != nil {
		return nil, err
	}
	return NewPublisher(pub, cfg.Topic), nil
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(aggregateIDHeader), nil
}
