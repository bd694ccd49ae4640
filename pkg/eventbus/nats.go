package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/speedrun-hq/speedrun-solver/pkg/logger"
	"github.com/speedrun-hq/speedrun-solver/pkg/models"
)

const (
	// DefaultStreamName is the JetStream stream lifecycle events are stored in
	DefaultStreamName = "SOLVER_EVENTS"

	// SubjectPrefix prefixes every mirrored subject: solver.<category>.<kind>
	SubjectPrefix = "solver"
)

// NATSSink mirrors lifecycle events to a NATS JetStream stream so that
// external consumers can follow order progress.
type NATSSink struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	stream string
	logger logger.Logger
}

var _ Sink = (*NATSSink)(nil)

// NewNATSSink connects to NATS and ensures the event stream exists
func NewNATSSink(url string, log logger.Logger) (*NATSSink, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	conn, err := nats.Connect(url,
		nats.Name("speedrun-solver"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Notice("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sink := &NATSSink{
		conn:   conn,
		js:     js,
		stream: DefaultStreamName,
		logger: log,
	}
	if err := sink.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return sink, nil
}

func (s *NATSSink) ensureStream() error {
	if _, err := s.js.StreamInfo(s.stream); err == nil {
		return nil
	}

	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:      s.stream,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", s.stream, err)
	}
	s.logger.Info("Created NATS stream %s", s.stream)
	return nil
}

// Subject returns the subject an event is published on
func Subject(event models.Event) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, event.Category(), event.Kind)
}

// Publish sends the event as JSON. The event id doubles as the message id so
// JetStream de-duplicates re-sends.
func (s *NATSSink) Publish(event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	if _, err := s.js.Publish(Subject(event), data, nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close drains the connection
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
