package notifications

import (
	"context"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

// WelcomeNotice is sent when coverage is activated
type WelcomeNotice struct {
	EnrolleeID       string                 `json:"enrolleeId"`
	FirstName        string                 `json:"firstName"`
	PaternalName     string                 `json:"paternalSurname"`
	FullName         string                 `json:"fullName"`
	Email            string                 `json:"email"`
	Periodicity      enrollment.Periodicity `json:"periodicity"`
	CoverageStart    time.Time              `json:"coverageStart"`
	WaitingPeriodEnd time.Time              `json:"waitingPeriodEnd"`
	ActivatedAt      time.Time              `json:"activatedAt"`
}

// RegistrationNotice confirms an intake without recurring billing
type RegistrationNotice struct {
	EnrolleeID     string                 `json:"enrolleeId"`
	FirstName      string                 `json:"firstName"`
	PaternalName   string                 `json:"paternalSurname"`
	Email          string                 `json:"email"`
	Periodicity    enrollment.Periodicity `json:"periodicity"`
	DependentCount int                    `json:"dependentCount"`
	RegisteredAt   time.Time              `json:"registeredAt"`
}

// Sender delivers notices over one channel
type Sender interface {
	Channel() string
	SendWelcome(ctx context.Context, n WelcomeNotice) error
	SendRegistration(ctx context.Context, n RegistrationNotice) error
}

// NewWelcomeNotice builds the welcome notice of an enrollee. Coverage starts on
// the first day of the month after registration.
func NewWelcomeNotice(e *enrollment.Enrollee, waitingMonths int, activatedAt time.Time) WelcomeNotice {
	start := e.CoverageStart
	if start.IsZero() {
		start = enrollment.CoverageStart(e.RegisteredAt)
	}
	return WelcomeNotice{
		EnrolleeID:       e.ID,
		FirstName:        e.Person.FirstName,
		PaternalName:     e.Person.PaternalName,
		FullName:         e.Person.FullName(),
		Email:            e.Person.Email,
		Periodicity:      e.Periodicity,
		CoverageStart:    start,
		WaitingPeriodEnd: enrollment.WaitingPeriodEnd(start, waitingMonths),
		ActivatedAt:      activatedAt,
	}
}

// NewRegistrationNotice builds the confirmation notice of an enrollee
func NewRegistrationNotice(e *enrollment.Enrollee) RegistrationNotice {
	return RegistrationNotice{
		EnrolleeID:     e.ID,
		FirstName:      e.Person.FirstName,
		PaternalName:   e.Person.PaternalName,
		Email:          e.Person.Email,
		Periodicity:    e.Periodicity,
		DependentCount: e.DependentCount,
		RegisteredAt:   e.RegisteredAt,
	}
}
