package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/Vivekb0311/sla/internal/config"
	"google.golang.org/api/option"
)

// EscalationQueue is the PGMQ queue between the escalation sweep and the
// notification worker.
const EscalationQueue = "sla_escalations"

// EscalationNotice is the queue message describing one fired escalation.
type EscalationNotice struct {
	EscalationID string          `json:"escalation_id"`
	HistoryID    string          `json:"history_id"`
	SlaID        string          `json:"sla_id"`
	EntityID     string          `json:"entity_id"`
	Level        int             `json:"level"`
	Recipients   []string        `json:"recipients"`
	MailTemplate string          `json:"mail_template,omitempty"`
	MailConfig   json.RawMessage `json:"mail_config,omitempty"`
	SendEmail    bool            `json:"send_email"`
	SendPush     bool            `json:"send_push"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

// NotificationService dispatches escalation notices: e-mail through the
// configured mail gateway and push through FCM. Both channels are best
// effort; a delivery failure is logged, recorded and never propagated into a
// state transition.
type NotificationService struct {
	PG           *sql.DB
	client       *messaging.Client
	gatewayURL   string
	gatewayToken string
	fromEmail    string
	httpClient   *http.Client
}

func NewNotificationService(pg *sql.DB) *NotificationService {
	service := &NotificationService{
		PG:           pg,
		gatewayURL:   config.App.MailGatewayURL,
		gatewayToken: config.App.MailGatewayToken,
		fromEmail:    config.App.MailFrom,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}

	if config.App.FCMCredentialsFile != "" {
		opt := option.WithCredentialsFile(config.App.FCMCredentialsFile)
		app, err := firebase.NewApp(context.Background(), nil, opt)
		if err != nil {
			log.Printf("Firebase app not initialized: %v (push disabled)", err)
			return service
		}
		client, err := app.Messaging(context.Background())
		if err != nil {
			log.Printf("Firebase messaging client not initialized: %v (push disabled)", err)
			return service
		}
		service.client = client
		log.Println("Notification service: FCM messaging initialized")
	} else {
		log.Println("Notification service: no FCM credentials configured, push disabled")
	}
	return service
}

// Enqueue hands a fired escalation to the notification worker via PGMQ.
func (s *NotificationService) Enqueue(ctx context.Context, notice *EscalationNotice) error {
	notice.EnqueuedAt = time.Now()
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshaling escalation notice: %w", err)
	}
	var msgID int64
	err = s.PG.QueryRowContext(ctx, `SELECT pgmq.send($1, $2)`, EscalationQueue, string(payload)).Scan(&msgID)
	if err != nil {
		return fmt.Errorf("enqueueing escalation notice: %w", err)
	}
	log.Printf("Enqueued escalation notice %s (level %d) as message %d", notice.EscalationID, notice.Level, msgID)
	return nil
}

// Deliver sends one notice over its enabled channels. Per-channel failures
// are collected so the worker can decide between retry and dead-letter.
func (s *NotificationService) Deliver(ctx context.Context, notice *EscalationNotice) error {
	var firstErr error
	if notice.SendEmail && len(notice.Recipients) > 0 {
		if err := s.sendEmail(ctx, notice); err != nil {
			log.Printf("Email delivery for escalation %s failed: %v", notice.EscalationID, err)
			s.logFailure(ctx, notice, "email", err)
			firstErr = err
		}
	}
	if notice.SendPush {
		for _, recipient := range notice.Recipients {
			if err := s.sendPush(ctx, recipient, notice); err != nil {
				log.Printf("Push delivery to %s for escalation %s failed: %v", recipient, notice.EscalationID, err)
				s.logFailure(ctx, notice, "push", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

type mailRequest struct {
	To       []string `json:"to"`
	From     string   `json:"from"`
	Subject  string   `json:"subject"`
	Content  string   `json:"content"`
	Template string   `json:"template,omitempty"`
}

func (s *NotificationService) sendEmail(ctx context.Context, notice *EscalationNotice) error {
	if s.gatewayURL == "" {
		return fmt.Errorf("mail gateway not configured")
	}

	subject := fmt.Sprintf("SLA %s escalated to level %d", notice.SlaID, notice.Level)
	content := fmt.Sprintf("Entity %s has escalated to level %d.", notice.EntityID, notice.Level)
	if len(notice.MailConfig) > 0 {
		var mailBody struct {
			Email struct {
				Subject string `json:"subject"`
				Content string `json:"content"`
			} `json:"EMAIL"`
		}
		if err := json.Unmarshal(notice.MailConfig, &mailBody); err == nil {
			if mailBody.Email.Subject != "" {
				subject = mailBody.Email.Subject
			}
			if mailBody.Email.Content != "" {
				content = mailBody.Email.Content
			}
		}
	}

	body, err := json.Marshal(mailRequest{
		To:       notice.Recipients,
		From:     s.fromEmail,
		Subject:  subject,
		Content:  content,
		Template: notice.MailTemplate,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL+"/api/v1/mail", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.gatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.gatewayToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *NotificationService) sendPush(ctx context.Context, email string, notice *EscalationNotice) error {
	if s.client == nil {
		log.Println("FCM client not initialized, skipping push")
		return nil
	}

	var fcmToken string
	err := s.PG.QueryRowContext(ctx,
		`SELECT fcm_token FROM users WHERE email = $1 AND fcm_token IS NOT NULL AND fcm_token != ''`,
		email,
	).Scan(&fcmToken)
	if err == sql.ErrNoRows {
		log.Printf("No FCM token for %s, skipping push", email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching FCM token: %w", err)
	}

	message := &messaging.Message{
		Token: fcmToken,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("SLA %s escalated", notice.SlaID),
			Body:  fmt.Sprintf("Entity %s reached escalation level %d", notice.EntityID, notice.Level),
		},
		Data: map[string]string{
			"type":       "sla_escalation",
			"history_id": notice.HistoryID,
			"entity_id":  notice.EntityID,
			"level":      fmt.Sprintf("%d", notice.Level),
		},
	}

	_, err = s.client.Send(ctx, message)
	return err
}

func (s *NotificationService) logFailure(ctx context.Context, notice *EscalationNotice, channel string, sendErr error) {
	recipients, _ := json.Marshal(notice.Recipients)
	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO notification_logs (escalation_id, history_id, channel, recipients, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		notice.EscalationID, notice.HistoryID, channel, recipients, sendErr.Error(),
	)
	if err != nil {
		log.Printf("Failed to record notification failure: %v", err)
	}
}
