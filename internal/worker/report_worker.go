package worker

// report_worker.go
// Renders the daily receiving report PDF for a finished day and queues the
// e-mail that delivers it.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
)

// ReportJobPayload is the job envelope sent to QueueReport.
type ReportJobPayload struct {
	Day        string   `json:"day"` // YYYY-MM-DD, UTC
	Recipients []string `json:"recipients"`
}

// EmailEnqueuer is satisfied by *Dispatcher.
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, payload EmailJobPayload) error
}

// ReportWorker builds one report per job.
type ReportWorker struct {
	repo        repository.ReceivingRepository
	emails      EmailEnqueuer
	storagePath string
}

func NewReportWorker(repo repository.ReceivingRepository, emails EmailEnqueuer, storagePath string) *ReportWorker {
	return &ReportWorker{repo: repo, emails: emails, storagePath: storagePath}
}

// Process handles a single report job:
//  1. Load every record delivered on the day
//  2. Render the PDF into the storage path
//  3. Enqueue the e-mail with the PDF attached
func (w *ReportWorker) Process(ctx context.Context, raw json.RawMessage) error {
	var payload ReportJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Error().Err(err).Msg("report_worker: invalid payload")
		return nil
	}
	day, err := time.Parse("2006-01-02", payload.Day)
	if err != nil {
		log.Error().Str("day", payload.Day).Msg("report_worker: invalid day")
		return nil
	}

	records, err := w.repo.ListDeliveredBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("report_worker: load records: %w", err)
	}

	path, err := infra.GenerateReceivingReportPDF(day, records, w.storagePath)
	if err != nil {
		return fmt.Errorf("report_worker: %w", err)
	}
	log.Info().Str("day", payload.Day).Int("records", len(records)).Str("path", path).Msg("report_worker: report generated")

	if len(payload.Recipients) == 0 || w.emails == nil {
		return nil
	}
	return w.emails.EnqueueEmail(ctx, EmailJobPayload{
		To:         payload.Recipients,
		Subject:    fmt.Sprintf("[RIG] Receiving report %s", payload.Day),
		Body:       fmt.Sprintf("Attached is the receiving report for %s (%d shipments).\n", payload.Day, len(records)),
		AttachPath: path,
	})
}
