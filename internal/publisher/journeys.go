package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ktmtrack/internal/config"
	"ktmtrack/internal/domain"
	"ktmtrack/internal/tracker"
)

// Sink is satisfied by NATSPublisher.
type Sink interface {
	Publish(subject string, data []byte) error
}

// Reporter is satisfied by tracker.Tracker.
type Reporter interface {
	Report(ctx context.Context, q tracker.Query) (*domain.Report, error)
}

// JourneyMessage is the payload published for one watched journey.
type JourneyMessage struct {
	Journey string         `json:"journey"`
	Report  *domain.Report `json:"report,omitempty"`
	Error   string         `json:"error,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// JourneyPublisher publishes a report for every configured journey.
type JourneyPublisher struct {
	journeys []config.Journey
	reporter Reporter
	sink     Sink
	prefix   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewJourneyPublisher(journeys []config.Journey, reporter Reporter, sink Sink, prefix string, logger *slog.Logger) *JourneyPublisher {
	return &JourneyPublisher{
		journeys: journeys,
		reporter: reporter,
		sink:     sink,
		prefix:   prefix,
		logger:   logger.With("component", "journey_publisher"),
		now:      time.Now,
	}
}

// Subject returns the NATS subject for a journey name.
func (p *JourneyPublisher) Subject(name string) string {
	return p.prefix + "." + subjectToken(name)
}

// PublishAll reports and publishes every journey. A journey whose report
// fails is still published, carrying the error text, so subscribers see
// the failure. It returns the number of messages that could not be sent.
func (p *JourneyPublisher) PublishAll(ctx context.Context) int {
	start := time.Now()
	failed := 0

	for _, j := range p.journeys {
		if ctx.Err() != nil {
			return failed
		}

		msg := JourneyMessage{Journey: j.Name, SentAt: p.now()}
		report, err := p.reporter.Report(ctx, tracker.Query{
			RouteID:        j.RouteID,
			Origin:         j.Origin,
			BoardingStopID: j.BoardingStopID,
			VehicleLabel:   j.VehicleLabel,
		})
		if err != nil {
			p.logger.Warn("journey report failed", "journey", j.Name, "error", err)
			msg.Error = err.Error()
		} else {
			msg.Report = report
		}

		if err := p.publish(j.Name, msg); err != nil {
			p.logger.Error("journey publish failed", "journey", j.Name, "error", err)
			failed++
		}
	}

	p.logger.Debug("journeys published",
		"count", len(p.journeys),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return failed
}

func (p *JourneyPublisher) publish(name string, msg JourneyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal journey %s: %w", name, err)
	}
	return p.sink.Publish(p.Subject(name), data)
}
