// Package push notifies caregiver phones through Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"medminder/pkg/models"
)

// Sender is the part of *messaging.Client the service needs.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PatientSource resolves the medicine named in confirmation pushes.
type PatientSource interface {
	GetPatient(ctx context.Context, id int64) (*models.Patient, error)
}

type FirebaseService struct {
	client   Sender
	tokens   []string
	patients PatientSource
	timeout  time.Duration
	log      *slog.Logger
}

type AlertResult struct {
	Success   bool
	MessageID string
	Error     error
	SentAt    time.Time
}

// NewFirebaseService initializes the FCM client from a service-account file.
func NewFirebaseService(ctx context.Context, credentialsPath string, tokens []string, log *slog.Logger) (*FirebaseService, error) {
	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	s := NewWithSender(client, tokens, log)
	s.log.Info("✅ Firebase service initialized", "devices", len(tokens))
	return s, nil
}

// NewWithSender builds the service around any Sender.
func NewWithSender(client Sender, tokens []string, log *slog.Logger) *FirebaseService {
	if log == nil {
		log = slog.Default()
	}
	return &FirebaseService{
		client:  client,
		tokens:  tokens,
		timeout: 15 * time.Second,
		log:     log,
	}
}

// WithPatients lets confirmation pushes name the medicine.
func (s *FirebaseService) WithPatients(p PatientSource) *FirebaseService {
	s.patients = p
	return s
}

func (s *FirebaseService) Name() string { return "push" }

// Deliver sends the alert to every caregiver device. It fails only when no
// device received it.
func (s *FirebaseService) Deliver(ctx context.Context, a models.Alert) error {
	if len(s.tokens) == 0 {
		return fmt.Errorf("no caregiver device tokens configured")
	}

	var errs []error
	delivered := 0
	for _, result := range s.SendAlertNotificationMultiple(ctx, s.tokens, a) {
		if result.Success {
			delivered++
			continue
		}
		errs = append(errs, result.Error)
	}
	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SendAlertNotification sends a critical alert to one caregiver device.
func (s *FirebaseService) SendAlertNotification(ctx context.Context, deviceToken string, a models.Alert) (*AlertResult, error) {
	if deviceToken == "" {
		err := fmt.Errorf("device token is empty")
		return &AlertResult{Error: err, SentAt: time.Now()}, err
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "⚠️ Medication alert",
			Body:  a.Message,
		},
		Data: map[string]string{
			"type":         "medication_alert",
			"patient_name": a.PatientName,
			"reason":       a.Reason,
			"priority":     "high",
			"timestamp":    fmt.Sprintf("%d", a.Timestamp.Unix()),
			"alert_id":     a.ID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "alert",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "medminder_alerts",
				DefaultSound: true,
				Color:        "#FF0000",
			},
		},
	}

	response, err := s.client.Send(ctx, message)
	result := &AlertResult{
		Success:   err == nil,
		MessageID: response,
		Error:     err,
		SentAt:    time.Now(),
	}
	if err != nil {
		if IsInvalidTokenError(err) {
			s.log.Warn("⚠️ caregiver device token no longer valid", "token", shortToken(deviceToken))
		}
		return result, fmt.Errorf("error sending alert push: %w", err)
	}

	s.log.Info("⚠️ alert push sent", "patient", a.PatientName, "message_id", response)
	return result, nil
}

// SendAlertNotificationMultiple sends to each token in turn.
func (s *FirebaseService) SendAlertNotificationMultiple(ctx context.Context, tokens []string, a models.Alert) []*AlertResult {
	results := make([]*AlertResult, 0, len(tokens))
	for _, token := range tokens {
		result, err := s.SendAlertNotification(ctx, token, a)
		if err != nil {
			s.log.Error("❌ failed to push alert", "token", shortToken(token), "err", err)
		}
		results = append(results, result)
	}
	return results
}

// SendMedicationConfirmation tells a caregiver the dose was taken.
func (s *FirebaseService) SendMedicationConfirmation(ctx context.Context, deviceToken, patientName, medicine string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	body := fmt.Sprintf("%s took their medication", patientName)
	if medicine != "" {
		body = fmt.Sprintf("%s took their %s", patientName, medicine)
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "✅ Medication confirmed",
			Body:  body,
		},
		Data: map[string]string{
			"type":         "medication_confirmed",
			"patient_name": patientName,
			"medication":   medicine,
			"timestamp":    fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "normal",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				ChannelID:    "medminder_medications",
				DefaultSound: true,
				Color:        "#00FF00",
			},
		},
	}

	response, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending medication push: %w", err)
	}

	s.log.Info("✅ medication confirmation pushed", "patient", patientName, "message_id", response)
	return nil
}

// OnStatus pushes a confirmation for every TAKEN write. Sending happens in
// the background so ledger writers are never held up by FCM.
func (s *FirebaseService) OnStatus(e models.StatusEvent) {
	if e.Status != models.StatusTaken || len(s.tokens) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		var medicine string
		if s.patients != nil {
			if p, err := s.patients.GetPatient(ctx, e.PatientID); err == nil {
				medicine = p.Medicine
			}
		}
		for _, token := range s.tokens {
			if err := s.SendMedicationConfirmation(ctx, token, e.PatientName, medicine); err != nil {
				s.log.Error("❌ failed to push confirmation", "patient", e.PatientName, "err", err)
			}
		}
	}()
}

// IsInvalidTokenError reports whether FCM rejected the token itself.
func IsInvalidTokenError(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsSenderIDMismatch(err)
}

func shortToken(t string) string {
	if len(t) > 10 {
		return t[:10] + "..."
	}
	return t
}
