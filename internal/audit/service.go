package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service captures structured audit events. Record hands the event to a
// background worker so callers on the hot path never block on persistence;
// queries go straight to the store.
type Service struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	inbox     chan Event
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPublisher mirrors events to an external stream beside the store.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithBuffer(size int) Option {
	return func(s *Service) {
		s.inbox = make(chan Event, size)
	}
}

func NewService(store Store, opts ...Option) *Service {
	svc := &Service{
		store:  store,
		logger: slog.Default(),
		inbox:  make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Record enqueues an event for the worker. If the buffer is full the event
// is written synchronously; audit records are never dropped silently.
func (s *Service) Record(ctx context.Context, event Event) {
	event = s.stamp(event)
	select {
	case s.inbox <- event:
	default:
		s.persist(context.WithoutCancel(ctx), event)
	}
}

// Emit writes an event synchronously. Used where the caller needs the
// record committed before proceeding, such as list deletion.
func (s *Service) Emit(ctx context.Context, event Event) error {
	return s.store.Append(ctx, s.stamp(event))
}

func (s *Service) List(ctx context.Context, listID string, filter Filter) ([]Event, int, error) {
	return s.store.ListByList(ctx, listID, filter)
}

func (s *Service) DeleteByList(ctx context.Context, listID string) error {
	return s.store.DeleteByList(ctx, listID)
}

func (s *Service) stamp(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return event
}

func (s *Service) persist(ctx context.Context, event Event) {
	if err := s.store.Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to append audit event",
			"action", event.Action,
			"entry_id", event.EntryID,
			"error", err,
		)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to publish audit event",
				"action", event.Action,
				"error", err,
			)
		}
	}
}
