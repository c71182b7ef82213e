package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the AI core. The conversational and document
// subsystems subscribe to these to react to learning outcomes.
const (
	SubjectPatternCreated      = "anchor.pattern.created"
	SubjectPatternSuperseded   = "anchor.pattern.superseded"
	SubjectLearningApplied     = "anchor.learning.applied"
	SubjectExperimentCompleted = "anchor.experiment.completed"
)

// Config holds NATS configuration.
type Config struct {
	URL        string        `yaml:"url" json:"url"`
	StreamName string        `yaml:"stream_name" json:"stream_name"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Bus publishes AI-core lifecycle events over NATS JetStream. A nil *Bus
// is valid and drops all publishes, so callers need no wiring in tests.
type Bus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// New connects to NATS and ensures the event stream exists.
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "ANCHOR"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &Bus{conn: nc, js: js, streamName: cfg.StreamName}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(b.streamName)
	if err == nil {
		return nil
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"anchor.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	return err
}

// Publish sends an event. Best-effort: a nil bus or a marshal/publish
// failure never propagates to the caller's learning cycle.
func (b *Bus) Publish(subject string, payload interface{}) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Drain()
}
