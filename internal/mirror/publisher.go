// Package mirror publishes a copy of every room broadcast to NATS JetStream
// so external consumers (overlays, audit tooling) can follow along. Room
// state authority stays in-process; the mirror is outbound only.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds JetStream settings for the event mirror.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration
}

// DefaultConfig returns the default mirror configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "ROOM_EVENTS",
		SubjectPrefix: "room.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        24 * time.Hour,
	}
}

// Publisher mirrors room events onto room.events.<slug> subjects.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

// NewPublisher connects to NATS and ensures the event stream exists.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &Publisher{nc: nc, js: js, config: cfg}

	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return p, nil
}

func (p *Publisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     p.config.StreamName,
		Subjects: []string{p.config.SubjectPrefix + ".>"},
		MaxAge:   p.config.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create or update stream %s: %w", p.config.StreamName, err)
	}
	log.Info().Str("stream", p.config.StreamName).Msg("event mirror stream ready")
	return nil
}

// Publish mirrors one event. Fire-and-forget: publish failures are logged
// and never surface to the room session.
func (p *Publisher) Publish(slug string, event []byte) {
	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, slug)
	if _, err := p.js.PublishAsync(subject, event); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to mirror event")
	}
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
