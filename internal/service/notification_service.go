package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/pkg/jobs"
)

// NotificationService is the fire-and-forget sink for registration events.
// Events are dispatched through a background worker queue; delivery here is a
// structured log line, the contract being only emit(event). A full queue drops
// the event rather than blocking a decision.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the sink and its dispatch queue. Call Start
// before emitting and Stop on shutdown.
func NewNotificationService(cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{logger: logger}
	s.queue = jobs.NewQueue("registration-events", s.deliver, cfg)
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue and stops the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Emit enqueues an event for delivery. Failures are logged and swallowed; a
// notification never fails a committed decision.
func (s *NotificationService) Emit(event models.RegistrationEvent) {
	if err := s.queue.Enqueue(jobs.Job{ID: event.RegistrationID, Type: string(event.Type), Payload: event}); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("type", string(event.Type)),
			zap.String("registration_id", event.RegistrationID),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.RegistrationEvent)
	if !ok {
		s.logger.Warn("notification payload has unexpected type", zap.String("job_id", job.ID))
		return nil
	}
	s.logger.Info("registration event",
		zap.String("type", string(event.Type)),
		zap.String("registration_id", event.RegistrationID),
		zap.String("student_id", event.StudentID),
		zap.String("offering_id", event.OfferingID),
		zap.String("status", string(event.Status)),
		zap.String("reason", event.Reason),
		zap.Bool("forced", event.Forced),
	)
	return nil
}
