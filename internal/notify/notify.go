// Package notify sends an alert when a job reaches its terminal failure
// state. It is adapted from the teacher's internal/email package (a
// magic-link sender), repurposed from transactional auth email to
// operational alerting, keeping the same Sender interface and
// local/production split.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/outpostlabs/jobengine/internal/jobcore"
)

// Sender delivers a terminal-failure notification for record.
type Sender interface {
	NotifyTerminalFailure(ctx context.Context, record *jobcore.JobRecord, cause error) error
}

// LogSender logs the notification instead of sending it — used in
// ENV=local so local development never depends on Resend credentials.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) NotifyTerminalFailure(_ context.Context, record *jobcore.JobRecord, cause error) error {
	s.logger.Warn("job failed permanently (local dev notification)",
		"job_id", record.ID,
		"handler", record.Handler,
		"attempts", record.Attempts,
		"error", cause,
	)
	return nil
}

// ResendSender sends the notification via the Resend API — used in
// staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
	to     string
}

func (s *ResendSender) NotifyTerminalFailure(ctx context.Context, record *jobcore.JobRecord, cause error) error {
	subject := fmt.Sprintf("job %s failed permanently: %s", record.ID, record.Handler)
	body := fmt.Sprintf(
		"<p>Handler: %s</p><p>Job ID: %s</p><p>Attempts: %d</p><p>Error: %s</p>",
		record.Handler, record.ID, record.Attempts, cause,
	)

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{s.to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send terminal failure notification: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from, to string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
		to:     to,
	}
}
