package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/esengine/core/es"
)

const (
	defaultSubjectPrefix = "esengine.events"
	defaultStreamName    = "ESENGINE_EVENTS"
)

type PublisherConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string
	StreamName    string
}

// Publisher publishes persisted events to a JetStream stream. The event id is
// used as the message id, so redelivered events are dropped by the server
// within its duplicate window.
type Publisher struct {
	js            jetstream.JetStream
	closeNc       closeFunc
	log           *slog.Logger
	subjectPrefix string
	stream        jetstream.Stream
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	log = log.With(
		slog.String("publisher", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		FirstSeq: 1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	log.Debug("stream ready")
	return &Publisher{
		js:            js,
		closeNc:       closeNc,
		log:           log,
		subjectPrefix: subjectPrefix,
		stream:        stream,
	}, nil
}

// Subject returns the NATS subject of msg: "<prefix>.<aggregate type>.<event type>".
func (p *Publisher) Subject(msg es.Message) string {
	return p.subjectPrefix + "." + sanitizeToken(msg.AggregateType) + "." + sanitizeToken(msg.EventType)
}

func (p *Publisher) Publish(ctx context.Context, msg es.Message) error {
	m := natsgo.NewMsg(p.Subject(msg))
	for k, v := range msg.Headers() {
		m.Header.Set(k, v)
	}
	m.Data = msg.Payload

	ack, err := p.js.PublishMsg(ctx, m, jetstream.WithMsgID(msg.EventID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", m.Subject, err)
	}
	if ack.Duplicate {
		p.log.Debug("duplicate publish", slog.String("event_id", msg.EventID), slog.Uint64("seq", ack.Sequence))
	}
	return nil
}

func (p *Publisher) Stream() jetstream.Stream { return p.stream }

func (p *Publisher) Close() error {
	p.js.CleanupPublisher()
	p.closeNc()
	return nil
}

// sanitizeToken keeps subject tokens free of the separators NATS reserves.
func sanitizeToken(s string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}

var _ es.Publisher = (*Publisher)(nil)
