package notifications

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

type stubEnrollees map[string]*enrollment.Enrollee

func (s stubEnrollees) GetEnrollee(ctx context.Context, id string) (*enrollment.Enrollee, error) {
	if e, ok := s[id]; ok {
		return e, nil
	}
	return nil, storage.ErrNotFound
}

type fakeSender struct {
	channel       string
	err           error
	welcomes      []WelcomeNotice
	registrations []RegistrationNotice
}

func (f *fakeSender) Channel() string { return f.channel }

func (f *fakeSender) SendWelcome(ctx context.Context, n WelcomeNotice) error {
	f.welcomes = append(f.welcomes, n)
	return f.err
}

func (f *fakeSender) SendRegistration(ctx context.Context, n RegistrationNotice) error {
	f.registrations = append(f.registrations, n)
	return f.err
}

type captureDialer struct {
	messages []*gomail.Message
	err      error
}

func (d *captureDialer) DialAndSend(m ...*gomail.Message) error {
	d.messages = append(d.messages, m...)
	return d.err
}

type nullSink struct{ entries []*audit.Entry }

func (n *nullSink) Log(ctx context.Context, e *audit.Entry) error {
	n.entries = append(n.entries, e)
	return nil
}
func (n *nullSink) Close() error { return nil }

func testEnrollee() *enrollment.Enrollee {
	return &enrollment.Enrollee{
		ID: "e-1",
		Person: enrollment.Person{
			FirstName:    "Ana",
			PaternalName: "Quispe",
			MaternalName: "Mamani",
			Email:        "ana@example.com",
		},
		Periodicity:    enrollment.PeriodicityMonthly,
		DependentCount: 2,
		RegisteredAt:   time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC),
		CoverageStart:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewWelcomeNotice(t *testing.T) {
	n := NewWelcomeNotice(testEnrollee(), 3, time.Now())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), n.CoverageStart)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), n.WaitingPeriodEnd)
	assert.Equal(t, "Ana Quispe Mamani", n.FullName)

	e := testEnrollee()
	e.CoverageStart = time.Time{}
	n = NewWelcomeNotice(e, 0, time.Now())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), n.CoverageStart)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), n.WaitingPeriodEnd)
}

func TestRenderTemplates(t *testing.T) {
	subject, body, err := RenderWelcome(NewWelcomeNotice(testEnrollee(), 3, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, welcomeSubject, subject)
	assert.Contains(t, body, "¡Hola Ana Quispe!")
	assert.Contains(t, body, "01/01/2025")
	assert.Contains(t, body, "01/04/2025")
	assert.Contains(t, body, "Mensual")

	subject, body, err = RenderRegistration(NewRegistrationNotice(testEnrollee()))
	require.NoError(t, err)
	assert.Equal(t, registrationSubject, subject)
	assert.Contains(t, body, "10/12/2024")
	assert.Contains(t, body, "Dependientes registrados: 2")

	e := testEnrollee()
	e.DependentCount = 0
	e.Person.FirstName = "<b>Ana</b>"
	_, body, err = RenderRegistration(NewRegistrationNotice(e))
	require.NoError(t, err)
	assert.NotContains(t, body, "Dependientes registrados")
	assert.Contains(t, body, "&lt;b&gt;Ana&lt;/b&gt;")
}

func TestEmailSender(t *testing.T) {
	dialer := &captureDialer{}
	sender := &EmailSender{dialer: dialer, from: "no-reply@oncoplus.example"}

	require.NoError(t, sender.SendWelcome(context.Background(), NewWelcomeNotice(testEnrollee(), 3, time.Now())))
	require.Len(t, dialer.messages, 1)

	m := dialer.messages[0]
	assert.Equal(t, []string{"ana@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"no-reply@oncoplus.example"}, m.GetHeader("From"))
	assert.Equal(t, []string{welcomeSubject}, m.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	assert.True(t, strings.Contains(buf.String(), "text/html"))

	assert.ErrorIs(t, sender.SendRegistration(context.Background(), RegistrationNotice{}), ErrNoRecipient)

	dialer.err = errors.New("535 auth failed")
	err = sender.SendRegistration(context.Background(), NewRegistrationNotice(testEnrollee()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535 auth failed")
}

func TestNewEmailSender_Defaults(t *testing.T) {
	sender := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com"})
	assert.Equal(t, "email", sender.Channel())
	assert.Equal(t, "bot@example.com", sender.from)
	d := sender.dialer.(*gomail.Dialer)
	assert.Equal(t, 587, d.Port)
}

func TestService_NotifyActivation(t *testing.T) {
	email := &fakeSender{channel: "email"}
	hook := &fakeSender{channel: "webhook", err: errors.New("endpoint down")}
	sink := &nullSink{}
	recorder := audit.NewRecorder(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), sink, "test")
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	svc := NewService(stubEnrollees{"e-1": testEnrollee()}, 3, recorder, metrics, email, hook)

	err := svc.NotifyActivation(context.Background(), "e-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: endpoint down")

	require.Len(t, email.welcomes, 1)
	assert.Equal(t, "ana@example.com", email.welcomes[0].Email)
	require.Len(t, hook.welcomes, 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("email", "sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("webhook", "failed")))
	require.Len(t, sink.entries, 2)
	assert.Equal(t, "webhook", sink.entries[1].Context["channel"])

	err = svc.NotifyActivation(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestService_NotifyRegistration(t *testing.T) {
	email := &fakeSender{channel: "email"}
	svc := NewService(stubEnrollees{}, 3, nil, nil, email)

	require.NoError(t, svc.NotifyRegistration(context.Background(), testEnrollee()))
	require.Len(t, email.registrations, 1)
	assert.Equal(t, 2, email.registrations[0].DependentCount)
}

func TestService_NoSenders(t *testing.T) {
	svc := NewService(stubEnrollees{"e-1": testEnrollee()}, 3, nil, nil)
	assert.NoError(t, svc.NotifyActivation(context.Background(), "e-1"))
}
