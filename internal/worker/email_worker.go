package worker

// email_worker.go
// Sends report and anomaly e-mails queued on QueueEmail.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	To         []string `json:"to"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	AttachPath string   `json:"attach_path,omitempty"`
}

// Mailer is satisfied by *infra.Mailer.
type Mailer interface {
	Send(to []string, subject, body, attachPath string) error
}

// EmailWorker processes email jobs from QueueEmail.
type EmailWorker struct {
	mailer Mailer
}

func NewEmailWorker(mailer Mailer) *EmailWorker {
	return &EmailWorker{mailer: mailer}
}

// Process sends one message. A payload without recipients is dropped, not retried.
func (w *EmailWorker) Process(_ context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("email_worker: invalid payload")
		return nil
	}
	if len(payload.To) == 0 {
		log.Warn().Str("subject", payload.Subject).Msg("email_worker: no recipients, skipping")
		return nil
	}

	if err := w.mailer.Send(payload.To, payload.Subject, payload.Body, payload.AttachPath); err != nil {
		return fmt.Errorf("email_worker: send %q: %w", payload.Subject, err)
	}
	log.Info().Strs("to", payload.To).Str("subject", payload.Subject).Msg("email_worker: sent")
	return nil
}
