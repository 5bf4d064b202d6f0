package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// EnrolleeReader loads the enrollee a notice is about
type EnrolleeReader interface {
	GetEnrollee(ctx context.Context, id string) (*enrollment.Enrollee, error)
}

// Service builds notices and fans them out to every sender
type Service struct {
	enrollees     EnrolleeReader
	senders       []Sender
	waitingMonths int
	recorder      *audit.Recorder
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewService creates a notification service. With no senders every notice is
// only recorded.
func NewService(enrollees EnrolleeReader, waitingMonths int, recorder *audit.Recorder, metrics *observability.Metrics, senders ...Sender) *Service {
	return &Service{
		enrollees:     enrollees,
		senders:       senders,
		waitingMonths: waitingMonths,
		recorder:      recorder,
		metrics:       metrics,
		now:           time.Now,
	}
}

// NotifyActivation sends the welcome notice of an enrollee
func (s *Service) NotifyActivation(ctx context.Context, enrolleeID string) error {
	e, err := s.enrollees.GetEnrollee(ctx, enrolleeID)
	if err != nil {
		return fmt.Errorf("failed to load enrollee %s: %w", enrolleeID, err)
	}

	notice := NewWelcomeNotice(e, s.waitingMonths, s.now().UTC())
	fields := map[string]any{
		"enrollee_id":        enrolleeID,
		"email":              notice.Email,
		"coverage_start":     notice.CoverageStart.Format("2006-01-02"),
		"waiting_period_end": notice.WaitingPeriodEnd.Format("2006-01-02"),
	}

	return s.fanOut(ctx, "Welcome notification", fields, func(sender Sender) error {
		return sender.SendWelcome(ctx, notice)
	})
}

// NotifyRegistration confirms an intake that did not start recurring billing
func (s *Service) NotifyRegistration(ctx context.Context, e *enrollment.Enrollee) error {
	notice := NewRegistrationNotice(e)
	fields := map[string]any{"enrollee_id": e.ID, "email": notice.Email}

	return s.fanOut(ctx, "Registration confirmation", fields, func(sender Sender) error {
		return sender.SendRegistration(ctx, notice)
	})
}

func (s *Service) fanOut(ctx context.Context, what string, fields map[string]any, send func(Sender) error) error {
	if len(s.senders) == 0 {
		s.recorder.Info(ctx, audit.CategoryNotification, what+" skipped: no channels configured", fields)
		return nil
	}

	var errs []error
	for _, sender := range s.senders {
		channelFields := make(map[string]any, len(fields)+1)
		for k, v := range fields {
			channelFields[k] = v
		}
		channelFields["channel"] = sender.Channel()

		if err := send(sender); err != nil {
			s.metrics.RecordNotification(sender.Channel(), "failed")
			s.recorder.Error(ctx, audit.CategoryNotification, what+" failed", err, channelFields)
			errs = append(errs, fmt.Errorf("%s: %w", sender.Channel(), err))
			continue
		}
		s.metrics.RecordNotification(sender.Channel(), "sent")
		s.recorder.Info(ctx, audit.CategoryNotification, what+" sent", channelFields)
	}
	return errors.Join(errs...)
}
