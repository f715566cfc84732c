// Package ingest is the single entry point for readings. External readings
// and synthetic readings produced by rule actions both pass through it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rule-broker/internal/logger"
	"rule-broker/internal/metrics"
	"rule-broker/internal/reading"
	"rule-broker/internal/stats"
)

// Evaluator runs rule evaluation for a newly stored reading
type Evaluator interface {
	EvaluateAndTrigger(ctx context.Context, clientID string, incoming reading.Reading)
}

// CommandPublisher forwards synthetic readings to the devices they target
type CommandPublisher interface {
	PublishCommand(ctx context.Context, clientID string, r reading.Reading) error
}

type depthKey struct{}

// WithDepth returns a context carrying the cascade depth d
func WithDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

// DepthFrom returns the cascade depth carried by ctx, 0 when absent
func DepthFrom(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// Service validates, stores and evaluates readings
type Service struct {
	store    reading.Store
	maxDepth int

	mu        sync.RWMutex
	evaluator Evaluator
	publisher CommandPublisher

	logger  *logger.Logger
	metrics *metrics.Metrics
	stats   *stats.StatsCollector
	now     func() time.Time
}

// NewService creates the ingestion path. maxDepth is the deepest cascade hop
// that still triggers evaluation.
func NewService(store reading.Store, maxDepth int, log *logger.Logger, m *metrics.Metrics, st *stats.StatsCollector) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	return &Service{
		store:    store,
		maxDepth: maxDepth,
		logger:   log,
		metrics:  m,
		stats:    st,
		now:      time.Now,
	}
}

// SetEvaluator attaches the rule engine. The engine's action executor
// appends through this service, so the two are wired after construction.
func (s *Service) SetEvaluator(e Evaluator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluator = e
}

// SetPublisher attaches a device command publisher. It may be called while
// readings are flowing.
func (s *Service) SetPublisher(p CommandPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

func (s *Service) collaborators() (Evaluator, CommandPublisher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluator, s.publisher
}

// Submit accepts an external reading. A zero timestamp is set to now.
func (s *Service) Submit(ctx context.Context, clientID string, r reading.Reading) (reading.Reading, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if err := r.Validate(); err != nil {
		s.metrics.IncReadingsTotal("external", "rejected")
		return r, err
	}

	if err := s.store.Append(ctx, clientID, r); err != nil {
		s.metrics.IncReadingsTotal("external", "rejected")
		if !errors.Is(err, reading.ErrDuplicateTimestamp) {
			s.stats.IncErrors()
		}
		return r, fmt.Errorf("storing reading: %w", err)
	}

	s.metrics.IncReadingsTotal("external", "accepted")
	s.stats.IncReadings(false)
	s.logger.Info("reading appended",
		"clientId", clientID,
		"deviceId", r.DeviceID,
		"type", r.Type,
		"internal", false,
		"depth", 0)

	s.evaluate(WithDepth(ctx, 0), clientID, r)
	return r, nil
}

// AppendInternal stores a synthetic reading produced by a rule action. The
// reading is one hop deeper than the context it was produced in; it is
// always stored but only evaluated while within the cascade limit.
func (s *Service) AppendInternal(ctx context.Context, clientID string, r reading.Reading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if err := r.Validate(); err != nil {
		s.metrics.IncReadingsTotal("internal", "rejected")
		return err
	}

	if err := s.store.AppendInternal(ctx, clientID, r); err != nil {
		s.metrics.IncReadingsTotal("internal", "rejected")
		s.stats.IncErrors()
		return fmt.Errorf("storing synthetic reading: %w", err)
	}

	depth := DepthFrom(ctx) + 1
	s.metrics.IncReadingsTotal("internal", "accepted")
	s.stats.IncReadings(true)
	s.logger.Info("reading appended",
		"clientId", clientID,
		"deviceId", r.DeviceID,
		"type", r.Type,
		"internal", true,
		"depth", depth)

	if _, publisher := s.collaborators(); publisher != nil {
		if err := publisher.PublishCommand(ctx, clientID, r); err != nil {
			s.logger.Warn("failed to publish device command",
				"clientId", clientID,
				"deviceId", r.DeviceID,
				"error", err)
		}
	}

	if depth > s.maxDepth {
		s.logger.Debug("cascade limit reached, skipping evaluation",
			"clientId", clientID,
			"deviceId", r.DeviceID,
			"depth", depth,
			"maxDepth", s.maxDepth)
		return nil
	}

	s.evaluate(WithDepth(ctx, depth), clientID, r)
	return nil
}

func (s *Service) evaluate(ctx context.Context, clientID string, r reading.Reading) {
	evaluator, _ := s.collaborators()
	if evaluator == nil {
		return
	}
	evaluator.EvaluateAndTrigger(ctx, clientID, r)
}
