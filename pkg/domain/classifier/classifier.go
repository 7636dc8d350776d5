// Package classifier maps a patient's free-text reason onto a catalogue
// service through an LLM. It is a soft dependency: every failure is reported
// as "no match" and the booking flow falls back to manual selection.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/napryag/doctor_booking_bot/pkg/observability/metrics"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const (
	DefaultThreshold = 0.7
	DefaultTimeout   = 8 * time.Second
)

// Completer sends one system + user prompt pair to a model and returns the
// raw text it answered with.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Match is a confident mapping of free text onto a service.
type Match struct {
	ServiceID       int64
	DurationMinutes int
	Confidence      float64
}

type Service struct {
	completer Completer
	threshold float64
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.BookingMetrics
}

func New(completer Completer, threshold float64, timeout time.Duration, logger zerolog.Logger, m *metrics.BookingMetrics) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		completer: completer,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.With().Str("component", "classifier").Logger(),
		metrics:   m,
	}
}

// Enabled reports whether s can classify at all. A nil Service is disabled.
func (s *Service) Enabled() bool {
	return s != nil && s.completer != nil
}

// Classify returns the service text most likely refers to, or nil when the
// model is unsure, answers garbage, names an unknown service or fails.
func (s *Service) Classify(ctx context.Context, text string, catalog []model.Service) *Match {
	if !s.Enabled() || strings.TrimSpace(text) == "" || len(catalog) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.completer.Complete(ctx, systemPrompt(catalog), text)
	if err != nil {
		s.logger.Warn().Err(err).Msg("classification request failed")
		s.metrics.ObserveClassifier("error")
		return nil
	}

	m, err := parseMatch(raw, catalog)
	if err != nil {
		s.logger.Warn().Err(err).Str("raw", raw).Msg("unusable classifier answer")
		s.metrics.ObserveClassifier("error")
		return nil
	}
	if m == nil || m.Confidence < s.threshold {
		s.logger.Debug().Str("raw", raw).Msg("no confident match")
		s.metrics.ObserveClassifier("miss")
		return nil
	}

	s.logger.Debug().Int64("service_id", m.ServiceID).Float64("confidence", m.Confidence).Msg("classified")
	s.metrics.ObserveClassifier("match")
	return m
}

func systemPrompt(catalog []model.Service) string {
	var b strings.Builder
	b.WriteString("You route patient requests at a doctor's practice to a service from the catalogue below.\n")
	b.WriteString("Patients write in Russian or Armenian.\n\nCatalogue:\n")
	for _, svc := range catalog {
		fmt.Fprintf(&b, "- id=%d; name=%q; alt_name=%q; typical_duration_minutes=%d\n",
			svc.ID, svc.NameRU, svc.NameARM, svc.DurationMin)
	}
	b.WriteString("\nAnswer with a single JSON object and nothing else:\n")
	b.WriteString(`{"service_id": <id from the catalogue or null>, "duration_minutes": <integer>, "confidence": <0..1>}`)
	b.WriteString("\nUse null and a low confidence when nothing in the catalogue fits.")
	return b.String()
}

type answer struct {
	ServiceID       *int64   `json:"service_id"`
	DurationMinutes *int     `json:"duration_minutes"`
	Confidence      *float64 `json:"confidence"`
}

// parseMatch extracts the first JSON object from raw. A well-formed answer
// without a service yields (nil, nil).
func parseMatch(raw string, catalog []model.Service) (*Match, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errs.New("no JSON object in answer")
	}

	var a answer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return nil, errs.New("failed to unmarshal answer").Wrap(err)
	}
	if a.Confidence == nil {
		return nil, errs.New("answer has no confidence")
	}
	if a.ServiceID == nil {
		return nil, nil
	}

	var svc *model.Service
	for i := range catalog {
		if catalog[i].ID == *a.ServiceID {
			svc = &catalog[i]
			break
		}
	}
	if svc == nil {
		return nil, errs.New("unknown service in answer").Arg("service_id", *a.ServiceID)
	}

	duration := svc.DurationMin
	if a.DurationMinutes != nil && *a.DurationMinutes > 0 && *a.DurationMinutes <= 8*60 {
		duration = *a.DurationMinutes
	}
	return &Match{ServiceID: svc.ID, DurationMinutes: duration, Confidence: *a.Confidence}, nil
}
