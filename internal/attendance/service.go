package attendance

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"industrialvisit/internal/metrics"
	"industrialvisit/internal/queue"
)

// maxWriteAttempts bounds retries of version-guarded visit writes.
const maxWriteAttempts = 3

// Publisher receives visit events after successful writes.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service coordinates visits, QR tokens, check-ins and feedback.
type Service struct {
	store    Store
	tokenTTL time.Duration
	events   Publisher
	metrics  *metrics.Metrics
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends visit events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMetrics records check-in and rotation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used when a request carries no time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service backed by a store.
func NewService(store Store, tokenTTL time.Duration, opts ...Option) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	s := &Service{
		store:    store,
		tokenTTL: tokenTTL,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenTTL is the lifetime of tokens minted by this service.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

func (s *Service) clock(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

// publish is best-effort: events feed the audit trail and never gate a write.
func (s *Service) publish(ctx context.Context, msg queue.Message) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, msg); err != nil {
		log.Printf("publish %s for visit %s failed: %v", msg.Type, msg.VisitID, err)
	}
}

// manageableVisit loads a visit and checks the actor may mutate it.
func (s *Service) manageableVisit(ctx context.Context, actor Actor, visitID string) (Visit, error) {
	v, err := s.store.GetVisit(ctx, visitID)
	if err != nil {
		return Visit{}, err
	}
	if !actor.canManage(v) {
		return Visit{}, ErrForbidden
	}
	return v, nil
}

// retryOnConflict runs fn until it stops failing with ErrVersionConflict.
func retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err = fn(); !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}
	return err
}
