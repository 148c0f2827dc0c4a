// Package events publishes engine notifications over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rendis/autoflow/internal/engine"
)

// SubjectExecutionFinished receives one message per finalized execution.
const SubjectExecutionFinished = "autoflow.execution.finished"

// Connect dials NATS at url with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("autoflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ExecutionPublisher implements engine.Notifier over NATS.
type ExecutionPublisher struct {
	pub     Publisher
	subject string
}

// NewExecutionPublisher publishes on SubjectExecutionFinished.
func NewExecutionPublisher(pub Publisher) *ExecutionPublisher {
	return &ExecutionPublisher{pub: pub, subject: SubjectExecutionFinished}
}

func (p *ExecutionPublisher) ExecutionFinished(_ context.Context, summary *engine.ExecutionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal execution summary: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

var _ engine.Notifier = (*ExecutionPublisher)(nil)
