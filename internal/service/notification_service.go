package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okulsys/attendance-api/internal/models"
	appErrors "github.com/okulsys/attendance-api/pkg/errors"
	"github.com/okulsys/attendance-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (int64, error)
}

type notificationFlags interface {
	WebPushEnabled(ctx context.Context) bool
}

// PushSender delivers a web-push message. The transport lives outside this
// service; implementations may talk to a push gateway or drop messages in
// development.
type PushSender interface {
	SendPush(ctx context.Context, userID, title, body string) error
}

// PushPayload is the job payload for asynchronous push delivery.
type PushPayload struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// NotificationService persists in-app notifications and optionally fans out
// to web push through a background queue, keeping dispatch fire-and-forget
// for the caller.
type NotificationService struct {
	repo   notificationRepository
	flags  notificationFlags
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService constructs the service. The queue may be nil when
// push delivery is not configured.
func NewNotificationService(repo notificationRepository, flags notificationFlags, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, flags: flags, logger: logger}
}

// StartPushQueue wires and starts the asynchronous push delivery queue.
func (s *NotificationService) StartPushQueue(ctx context.Context, sender PushSender, cfg jobs.QueueConfig) {
	s.queue = jobs.NewQueue("web-push", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(PushPayload)
		if !ok {
			s.logger.Error("unexpected push payload type", zap.String("job_id", job.ID))
			return nil
		}
		return sender.SendPush(ctx, payload.UserID, payload.Title, payload.Body)
	}, cfg)
	s.queue.Start(ctx)
}

// StopPushQueue drains the push queue workers.
func (s *NotificationService) StopPushQueue() {
	if s.queue != nil {
		s.queue.Stop()
	}
}

// Notify persists an in-app notification and, when the flag allows it,
// enqueues a web-push delivery. Implements NotificationDispatcher.
func (s *NotificationService) Notify(ctx context.Context, userID, title, body string) error {
	notification := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Channel: models.NotificationChannelInApp,
		Title:   title,
		Body:    body,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist notification")
	}

	if s.queue != nil && s.flags.WebPushEnabled(ctx) {
		job := jobs.Job{
			ID:      uuid.NewString(),
			Type:    "web_push",
			Payload: PushPayload{UserID: userID, Title: title, Body: body},
		}
		if err := s.queue.Enqueue(job); err != nil {
			// Push fan-out is best effort; the in-app row already exists.
			s.logger.Warn("failed to enqueue push delivery", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// List returns the newest notifications for a user.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return rows, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	affected, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// LoggingPushSender is the development PushSender; it records deliveries in
// the log instead of calling a push gateway.
type LoggingPushSender struct {
	Logger *zap.Logger
}

// SendPush implements PushSender.
func (s *LoggingPushSender) SendPush(_ context.Context, userID, title, _ string) error {
	if s.Logger != nil {
		s.Logger.Info("web push delivered", zap.String("user_id", userID), zap.String("title", title))
	}
	return nil
}
