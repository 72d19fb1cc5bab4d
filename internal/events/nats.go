// Package events publishes scrape lifecycle events for downstream consumers
// (the dashboard refreshes its views when a scrape lands new records).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/govwatchmy/procurement-pipeline/pkg/logger"
)

// SubjectScrapeCompleted is the subject scrape run summaries are published on.
const SubjectScrapeCompleted = "govwatch.scrape.completed"

// ScrapeEvent is the run summary published after every completed run,
// successful or not.
type ScrapeEvent struct {
	RunID       string    `json:"run_id"`
	Success     bool      `json:"success"`
	Count       int       `json:"count"`
	Message     string    `json:"message"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher emits scrape lifecycle events.
type Publisher interface {
	ScrapeCompleted(ctx context.Context, ev ScrapeEvent) error
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "govwatch-scraper",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NATSPublisher implements Publisher over a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSPublisher connects to NATS and returns a publisher.
func NewNATSPublisher(cfg NATSConfig, log *logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSPublisher{
		conn: conn,
		log:  log.WithComponent("events"),
	}, nil
}

// ScrapeCompleted publishes a run summary.
func (p *NATSPublisher) ScrapeCompleted(_ context.Context, ev ScrapeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(SubjectScrapeCompleted, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.log.Info("scrape event published", "subject", SubjectScrapeCompleted, "run_id", ev.RunID)
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.WithError(err).Warn("nats drain failed")
	}
}
