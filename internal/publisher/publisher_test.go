package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktmtrack/internal/config"
	"ktmtrack/internal/domain"
	"ktmtrack/internal/tracker"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type published struct {
	subject string
	data    []byte
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []published
	fail map[string]bool
}

func (s *fakeSink) Publish(subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[subject] {
		return errors.New("nats: connection closed")
	}
	s.msgs = append(s.msgs, published{subject, data})
	return nil
}

type fakeReporter struct {
	queries []tracker.Query
}

func (r *fakeReporter) Report(_ context.Context, q tracker.Query) (*domain.Report, error) {
	r.queries = append(r.queries, q)
	if q.RouteID == "missing" {
		return nil, domain.ErrUnknownRoute
	}
	return &domain.Report{RouteID: q.RouteID, Origin: q.Origin, NoData: true}, nil
}

func TestSubjectToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"morning", "morning"},
		{" KL Sentral.Rawang ", "KL_Sentral_Rawang"},
		{"a>b*c/d", "a_b_c_d"},
		{"", "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectToken(tt.in), tt.in)
	}
}

func TestPublishAll(t *testing.T) {
	journeys := []config.Journey{
		{Name: "morning commute", RouteID: "KS", Origin: "Tanjung Malim", BoardingStopID: "19100"},
		{Name: "broken", RouteID: "missing", Origin: "X", BoardingStopID: "1"},
	}
	rep := &fakeReporter{}
	sink := &fakeSink{}
	p := NewJourneyPublisher(journeys, rep, sink, "ktmtrack.journeys", discard)
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	failed := p.PublishAll(context.Background())
	assert.Zero(t, failed)
	require.Len(t, sink.msgs, 2)
	require.Len(t, rep.queries, 2)
	assert.Equal(t, "19100", rep.queries[0].BoardingStopID)

	assert.Equal(t, "ktmtrack.journeys.morning_commute", sink.msgs[0].subject)
	var ok JourneyMessage
	require.NoError(t, json.Unmarshal(sink.msgs[0].data, &ok))
	assert.Equal(t, "morning commute", ok.Journey)
	require.NotNil(t, ok.Report)
	assert.Equal(t, "KS", ok.Report.RouteID)
	assert.Empty(t, ok.Error)
	assert.True(t, ok.SentAt.Equal(fixed))

	var bad JourneyMessage
	require.NoError(t, json.Unmarshal(sink.msgs[1].data, &bad))
	assert.Nil(t, bad.Report)
	assert.Contains(t, bad.Error, "unknown route")
}

func TestPublishAllCountsSinkFailures(t *testing.T) {
	journeys := []config.Journey{
		{Name: "a", RouteID: "KS", Origin: "X", BoardingStopID: "1"},
		{Name: "b", RouteID: "KS", Origin: "X", BoardingStopID: "2"},
	}
	sink := &fakeSink{fail: map[string]bool{"j.b": true}}
	p := NewJourneyPublisher(journeys, &fakeReporter{}, sink, "j", discard)

	assert.Equal(t, 1, p.PublishAll(context.Background()))
	require.Len(t, sink.msgs, 1)
	assert.Equal(t, "j.a", sink.msgs[0].subject)
}

func TestPublishAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &fakeSink{}
	p := NewJourneyPublisher([]config.Journey{{Name: "a"}}, &fakeReporter{}, sink, "j", discard)

	p.PublishAll(ctx)
	assert.Empty(t, sink.msgs)
}
