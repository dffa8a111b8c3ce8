package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/logging"
	"github.com/dmitrijs2005/propcheck/internal/resilience"
	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn used by NATSPublisher.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type NATSPublisher struct {
	conn     Conn
	subject  string
	breakers *resilience.Breakers
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Breakers       *resilience.Breakers
	Logger         logging.Logger
}

// Dial connects to url. The connection keeps retrying in the background so
// that an agent started offline still gets its events out later.
func Dial(url, subject string, opts Options) (*NATSPublisher, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("propcheck-agent"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn(context.Background(), "nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(context.Background(), "nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return NewNATSPublisher(conn, subject, opts.Breakers), nil
}

func NewNATSPublisher(conn Conn, subject string, breakers *resilience.Breakers) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, breakers: breakers}
}

func (p *NATSPublisher) PublishJobSubmitted(ctx context.Context, ev JobSubmitted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return p.breakers.Execute(ctx, "nats.publish", func(context.Context) error {
		if err := p.conn.Publish(p.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	})
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
