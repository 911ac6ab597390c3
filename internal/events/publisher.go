// Package events publishes route impact reports on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "routeimpact.routes"

// conn is the subset of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends route reports to <prefix>.<route id>
type Publisher struct {
	conn   conn
	prefix string
}

// NewPublisher connects to NATS at url
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("routeimpact"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newPublisher(nc, prefix), nil
}

func newPublisher(c conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: c, prefix: prefix}
}

// Subject returns the subject reports for routeID are published on
func (p *Publisher) Subject(routeID string) string {
	return p.prefix + "." + routeID
}

// PublishRouteReport publishes report as JSON
func (p *Publisher) PublishRouteReport(ctx context.Context, routeID string, report any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := p.conn.Publish(p.Subject(routeID), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(routeID), err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}
