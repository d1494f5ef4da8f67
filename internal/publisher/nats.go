package publisher

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// PublisherMetrics is satisfied by metrics.Collector.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type NATSPublisher struct {
	nc      *nats.Conn
	logger  *slog.Logger
	metrics PublisherMetrics
}

func NewNATSPublisher(url string, logger *slog.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	logger = logger.With("component", "nats")

	setConnected := func(connected bool) {
		if m != nil {
			m.NATSSetConnected(connected)
		}
	}

	nc, err := nats.Connect(url,
		nats.Name("ktmtrack"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	setConnected(true)

	return &NATSPublisher{nc: nc, logger: logger, metrics: m}, nil
}

// Publish sends data on subject. Delivery is fire-and-forget.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	start := time.Now()
	err := p.nc.Publish(subject, data)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("published", "subject", subject, "bytes", len(data))
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
