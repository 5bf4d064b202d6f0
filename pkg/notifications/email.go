package notifications

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

// ErrNoRecipient is returned when the enrollee has no email address
var ErrNoRecipient = errors.New("no recipient email address")

// SMTPConfig holds SMTP connection settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// mailDialer is the part of gomail.Dialer the sender uses
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers notices over SMTP
type EmailSender struct {
	dialer mailDialer
	from   string
}

// NewEmailSender creates an SMTP sender
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Channel names the delivery channel
func (s *EmailSender) Channel() string { return "email" }

// SendWelcome emails the welcome notice
func (s *EmailSender) SendWelcome(ctx context.Context, n WelcomeNotice) error {
	subject, body, err := RenderWelcome(n)
	if err != nil {
		return err
	}
	return s.send(ctx, n.Email, subject, body)
}

// SendRegistration emails the registration confirmation
func (s *EmailSender) SendRegistration(ctx context.Context, n RegistrationNotice) error {
	subject, body, err := RenderRegistration(n)
	if err != nil {
		return err
	}
	return s.send(ctx, n.Email, subject, body)
}

func (s *EmailSender) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
