package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	StreamName    = "ESCROW_EVENTS"
	subjectPrefix = "escrow.events"
)

// Subject returns escrow.events.{type}.{event_id}.
func Subject(m Message) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, m.Type, m.EventID)
}

// Sink delivers a message synchronously.
type Sink interface {
	Publish(ctx context.Context, m Message) error
}

// JetStreamSink publishes messages to the ESCROW_EVENTS stream.
type JetStreamSink struct {
	js jetstream.JetStream
}

// NewJetStreamSink returns a sink publishing through js.
func NewJetStreamSink(js jetstream.JetStream) *JetStreamSink {
	return &JetStreamSink{js: js}
}

// Publish sends m with its id as the JetStream dedup header.
func (s *JetStreamSink) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.js.Publish(ctx, Subject(m), data, jetstream.WithMsgID(m.ID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", m.Type, err)
	}
	return nil
}

// EnsureStream creates or updates the escrow events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("event-escrow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
