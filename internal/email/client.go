// Package email sends caregiver alert emails over SMTP.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"medminder/internal/config"
	"medminder/pkg/models"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailService struct {
	cfg    *config.Config
	dialer dialer
	log    *slog.Logger
}

// NewEmailService creates the SMTP-backed alert channel.
func NewEmailService(cfg *config.Config, log *slog.Logger) (*EmailService, error) {
	if cfg.SMTPUsername == "" || cfg.SMTPPassword == "" {
		return nil, fmt.Errorf("SMTP credentials not configured")
	}
	if cfg.CaregiverEmail == "" {
		return nil, fmt.Errorf("CAREGIVER_EMAIL not configured")
	}
	if log == nil {
		log = slog.Default()
	}

	d := gomail.NewDialer(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUsername,
		cfg.SMTPPassword,
	)

	return &EmailService{
		cfg:    cfg,
		dialer: d,
		log:    log,
	}, nil
}

// SendEmail sends one HTML email.
func (s *EmailService) SendEmail(to, subject, htmlBody string) error {
	from := s.cfg.SMTPFromEmail
	if from == "" {
		from = s.cfg.SMTPUsername
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", s.cfg.SMTPFromName, from))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *EmailService) Name() string { return "email" }

// Deliver emails the caregiver about a. gomail has no context support, so
// ctx is only checked before dialing.
func (s *EmailService) Deliver(ctx context.Context, a models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("🚨 Medication alert - %s", a.PatientName)
	body := MedicationAlertTemplate(s.cfg.CaregiverName, a)

	if err := s.SendEmail(s.cfg.CaregiverEmail, subject, body); err != nil {
		s.log.Error("❌ failed to email alert", "patient", a.PatientName, "err", err)
		return err
	}

	s.log.Info("📧 alert emailed", "to", s.cfg.CaregiverEmail, "patient", a.PatientName)
	return nil
}
