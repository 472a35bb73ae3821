package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
)

// AnomalyAlert describes a record whose advice regressed to not-received.
type AnomalyAlert struct {
	RecordID     uuid.UUID
	SupplierCode string
	SupplierName string
	Key          string
	DetectedAt   time.Time
}

// AnomalyNotifier forwards anomalies to people (e-mail); optional.
type AnomalyNotifier interface {
	NotifyAnomaly(ctx context.Context, a AnomalyAlert) error
}

// ReceivingService runs the three passes of a reconciliation cycle. Each pass
// processes records one at a time in list order and only returns an error when
// it could not even list its work; per-record failures are logged and counted.
type ReceivingService interface {
	Reconcile(ctx context.Context, st repository.Store, current, previous Snapshot, rep *dto.CycleReport)
	SyncDetails(ctx context.Context, st repository.Store, rep *dto.CycleReport) error
	SyncStorage(ctx context.Context, st repository.Store, rep *dto.CycleReport) error
}

type Option func(*receivingService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *receivingService) { s.now = now }
}

func WithAnomalyNotifier(n AnomalyNotifier) Option {
	return func(s *receivingService) { s.alerts = n }
}

type receivingService struct {
	feed   Feed
	sink   events.Sink
	alerts AnomalyNotifier
	now    func() time.Time
}

func NewReceivingService(feed Feed, sink events.Sink, opts ...Option) ReceivingService {
	s := &receivingService{feed: feed, sink: sink, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ── Reconcile ────────────────────────────────────────────────────────────────

func (s *receivingService) Reconcile(ctx context.Context, st repository.Store, current, previous Snapshot, rep *dto.CycleReport) {
	rules := &tagRules{plans: st.Plans}
	for _, adv := range current.Items() {
		s.reconcileOne(ctx, st, rules, adv, previous, rep)
	}
}

func (s *receivingService) reconcileOne(ctx context.Context, st repository.Store, rules *tagRules,
	adv infra.ShipmentAdvice, previous Snapshot, rep *dto.CycleReport) {
	key := adv.Triple()
	id := key.Identity()
	if id.IsZero() {
		log.Debug().Str("supplier", adv.SupplierCode).Msg("reconcile: advice without asn/do/invoice ignored")
		return
	}

	rec, err := st.Receivings.FindByIdentity(ctx, adv.SupplierCode, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec, err = nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("identity", id.String()).Msg("reconcile: lookup failed")
		rep.Errors++
		return
	}

	prev, hasPrev := previous.Match(adv)

	switch {
	case rec == nil && hasPrev && !prev.ReceiveStatus && adv.ReceiveStatus:
		s.create(ctx, st, rules, adv, rep)
	case rec != nil && !adv.ReceiveStatus:
		s.flagRegressed(ctx, st, rec, rep)
	case rec != nil && adv.IsCompleted && !rec.IsCompleted:
		s.completeUntracked(ctx, st, rec, rep)
	}
}

// create handles the 0→1 receive edge of an identity that has no record yet.
func (s *receivingService) create(ctx context.Context, st repository.Store, rules *tagRules,
	adv infra.ShipmentAdvice, rep *dto.CycleReport) {
	key := adv.Triple()
	logger := log.With().Str("supplier", adv.SupplierCode).Str("identity", key.Identity().String()).Logger()

	if err := s.insertRecord(ctx, st, rules, adv, rep); err != nil {
		logger.Error().Err(err).Msg("reconcile: create failed, advice skipped")
		rep.Skipped++
	}
}

func (s *receivingService) insertRecord(ctx context.Context, st repository.Store, rules *tagRules,
	adv infra.ShipmentAdvice, rep *dto.CycleReport) error {
	key := adv.Triple()

	tag, err := rules.lookup(ctx, adv.SupplierCode)
	if err != nil {
		return fmt.Errorf("tag rules: %w", err)
	}

	var planID *uuid.UUID
	plan, err := st.Plans.FindCurrentPlan(ctx)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Warn().Str("supplier", adv.SupplierCode).Msg("reconcile: no current plan, record created without plan")
	case err != nil:
		return fmt.Errorf("current plan: %w", err)
	default:
		planID = &plan.ID
	}

	// read the feed before writing anything: a feed failure leaves no trace
	lines, err := s.fetchLines(ctx, key)
	if err != nil {
		return fmt.Errorf("detail feed: %w", err)
	}

	name := strings.TrimSpace(adv.SupplierName)
	if name == "" {
		name = adv.SupplierCode
	}
	rec := &model.ReceivingRecord{
		SupplierCode:       adv.SupplierCode,
		AsnNumber:          model.OptionalString(key.AsnNumber),
		DoNumber:           model.OptionalString(key.DoNumber),
		Invoice:            model.OptionalString(key.Invoice),
		IsCompleted:        adv.IsCompleted,
		ActualDeliveryTime: s.now().Truncate(time.Minute),
		TagName:            tag,
		PlanID:             planID,
	}

	err = st.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Receivings.UpsertSupplier(ctx, &model.Supplier{SupplierCode: adv.SupplierCode, SupplierName: name}); err != nil {
			return fmt.Errorf("supplier: %w", err)
		}
		if err := tx.Receivings.Create(ctx, rec); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if err := writeDetails(ctx, tx, rec.ID, lines); err != nil {
			return fmt.Errorf("insert details: %w", err)
		}
		if err := tx.Receivings.ArchiveToHistory(ctx, rec); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rep.Created++
	log.Info().
		Str("record_id", rec.ID.String()).
		Str("supplier", rec.SupplierCode).
		Str("identity", key.Identity().String()).
		Bool("completed", rec.IsCompleted).
		Int("lines", len(lines)).
		Msg("reconcile: receiving record created")

	s.emitRecord(ctx, st, events.CalendarUpdated, rec.ID, rep)
	return nil
}

// fetchLines reads the detail feed for key. Duplicate part numbers keep the
// first line.
func (s *receivingService) fetchLines(ctx context.Context, key model.IdentityTriple) ([]infra.ShipmentDetailLine, error) {
	lines, err := s.feed.FetchDetail(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		log.Warn().Str("identity", key.Identity().String()).Msg("reconcile: detail feed returned no lines")
		return nil, nil
	}

	seen := make(map[string]bool, len(lines))
	out := make([]infra.ShipmentDetailLine, 0, len(lines))
	for _, l := range lines {
		if seen[l.PartNo] {
			log.Warn().Str("identity", key.Identity().String()).Str("part_no", l.PartNo).
				Msg("reconcile: duplicate part number in detail feed ignored")
			continue
		}
		seen[l.PartNo] = true
		out = append(out, l)
	}
	return out, nil
}

func writeDetails(ctx context.Context, st repository.Store, recordID uuid.UUID, lines []infra.ShipmentDetailLine) error {
	for _, l := range lines {
		d := &model.ReceivingDetail{
			ReceivingRecordID: recordID,
			PartNo:            l.PartNo,
			Quantity:          l.Quantity,
			QuantityRemain:    l.QuantityRemain,
			QuantityScan:      l.QuantityScan,
			StockInStatus:     l.StockInStatus,
			StockInLocation:   model.OptionalString(l.StockInLocation),
		}
		if err := st.Receivings.CreateDetail(ctx, d); err != nil {
			return fmt.Errorf("part %s: %w", l.PartNo, err)
		}
	}
	return nil
}

// flagRegressed handles an advice that went back to not-received while a
// record exists for it.
func (s *receivingService) flagRegressed(ctx context.Context, st repository.Store, rec *model.ReceivingRecord, rep *dto.CycleReport) {
	flipped := false
	if !rec.IsCompleted {
		if err := st.Receivings.UpdateCompletion(ctx, rec.ID, true); err != nil {
			// the anomaly is still reported, with the flag as stored
			log.Error().Err(err).Str("record_id", rec.ID.String()).Msg("reconcile: could not complete regressed record")
			rep.Errors++
		} else {
			rec.IsCompleted = true
			flipped = true
			rep.Completed++
		}
	}

	rep.Anomalies++
	log.Warn().
		Str("record_id", rec.ID.String()).
		Str("supplier", rec.SupplierCode).
		Str("identity", rec.Triple().Identity().String()).
		Bool("completed_now", flipped).
		Msg("reconcile: advice regressed to not-received")

	s.emit(ctx, events.New(events.ReceivingAnomaly, rec.ID, rec.ID.String(), rec.SupplierName(), rec.IsCompleted), rep)

	if flipped && s.alerts != nil {
		alert := AnomalyAlert{
			RecordID:     rec.ID,
			SupplierCode: rec.SupplierCode,
			SupplierName: rec.SupplierName(),
			Key:          rec.Triple().Identity().String(),
			DetectedAt:   s.now(),
		}
		if err := s.alerts.NotifyAnomaly(ctx, alert); err != nil {
			log.Warn().Err(err).Str("record_id", rec.ID.String()).Msg("reconcile: anomaly notification failed")
		}
	}
}

// completeUntracked handles a record the feed reports completed before the
// detail pass saw it finish: the lines are rebuilt from the feed.
func (s *receivingService) completeUntracked(ctx context.Context, st repository.Store, rec *model.ReceivingRecord, rep *dto.CycleReport) {
	logger := log.With().Str("record_id", rec.ID.String()).Str("identity", rec.Triple().Identity().String()).Logger()

	if rec.ActualLeadTime == nil {
		logger.Warn().Msg("reconcile: completion seen before any lead time, skipped")
		rep.Suspects++
		return
	}

	lines, err := s.fetchLines(ctx, rec.Triple())
	if err != nil {
		logger.Warn().Err(err).Msg("reconcile: detail feed failed, completion retried next cycle")
		rep.Errors++
		return
	}

	err = st.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Receivings.UpdateCompletion(ctx, rec.ID, true); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if err := tx.Receivings.DeleteDetailsByRecord(ctx, rec.ID); err != nil {
			return fmt.Errorf("delete details: %w", err)
		}
		if err := writeDetails(ctx, tx, rec.ID, lines); err != nil {
			return fmt.Errorf("insert details: %w", err)
		}
		// fresh lines have to go through the storage pass again
		if rec.IsStored {
			if err := tx.Receivings.UpdateStored(ctx, rec.ID, false); err != nil {
				return fmt.Errorf("reset stored: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("reconcile: detail resync failed")
		rep.Errors++
		return
	}
	rep.Completed++
	rep.Resynced++
	logger.Info().Int("lines", len(lines)).Msg("reconcile: completed record resynced")

	s.emitRecord(ctx, st, events.ScanCompleted, rec.ID, rep)
}

// ── Detail pass ──────────────────────────────────────────────────────────────

func (s *receivingService) SyncDetails(ctx context.Context, st repository.Store, rep *dto.CycleReport) error {
	recs, err := st.Receivings.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("list incomplete: %w", err)
	}
	for i := range recs {
		s.syncRecordDetails(ctx, st, &recs[i], rep)
	}
	return nil
}

func (s *receivingService) syncRecordDetails(ctx context.Context, st repository.Store, rec *model.ReceivingRecord, rep *dto.CycleReport) {
	logger := log.With().Str("record_id", rec.ID.String()).Logger()

	lead := LeadTime(rec.ActualLeadTime, rec.ActualDeliveryTime, s.now())
	if err := st.Receivings.UpdateLeadTime(ctx, rec.ID, lead); err != nil {
		logger.Error().Err(err).Msg("details: update lead time failed")
		rep.Errors++
		return
	}
	rec.ActualLeadTime = &lead

	persisted, err := st.Receivings.ListDetails(ctx, rec.ID)
	if err != nil {
		logger.Error().Err(err).Msg("details: list persisted lines failed")
		rep.Errors++
		return
	}
	rec.Details = persisted
	s.emit(ctx, events.New(events.LeadTimeUpdated, rec.ID, dto.NewReceivingResponse(rec)), rep)

	external, err := s.feed.FetchDetail(ctx, rec.Triple())
	if err != nil {
		logger.Warn().Err(err).Msg("details: detail feed failed")
		rep.Errors++
		return
	}

	byPart := make(map[string]*model.ReceivingDetail, len(persisted))
	for i := range persisted {
		byPart[persisted[i].PartNo] = &persisted[i]
	}

	for _, ext := range external {
		line, ok := byPart[ext.PartNo]
		if !ok {
			continue
		}

		if ext.QuantityRemain == 0 && line.QuantityRemain != 0 {
			zero := 0
			if err := st.Receivings.PatchDetail(ctx, line.ID, repository.DetailPatch{QuantityRemain: &zero}); err != nil {
				logger.Error().Err(err).Str("part_no", line.PartNo).Msg("details: patch remain failed")
				rep.Errors++
			} else {
				line.QuantityRemain = 0
				rep.LinesPatched++
			}
		}

		if ScanNearlyDone(ext.Quantity, ext.QuantityScan) && ext.QuantityScan != line.QuantityScan {
			scan := ext.QuantityScan
			if err := st.Receivings.PatchDetail(ctx, line.ID, repository.DetailPatch{QuantityScan: &scan}); err != nil {
				logger.Error().Err(err).Str("part_no", line.PartNo).Msg("details: patch scan failed")
				rep.Errors++
				continue
			}
			line.QuantityScan = scan
			rep.LinesPatched++
			s.emitRecord(ctx, st, events.ScanProgress, rec.ID, rep)
		}
	}
}

// LeadTime is the elapsed time since delivery, never less than what was
// already recorded.
func LeadTime(recorded *time.Duration, delivered, now time.Time) time.Duration {
	lead := now.Sub(delivered)
	if lead < 0 {
		lead = 0
	}
	if recorded != nil && *recorded > lead {
		lead = *recorded
	}
	return lead
}

// ScanNearlyDone reports whether scan is at quantity or one short of it; the
// last unit is often still on the scanner when the feed is read.
func ScanNearlyDone(quantity, scan int) bool {
	return scan == quantity || scan == quantity-1
}

// ── Storage pass ─────────────────────────────────────────────────────────────

func (s *receivingService) SyncStorage(ctx context.Context, st repository.Store, rep *dto.CycleReport) error {
	recs, err := st.Receivings.ListUnstored(ctx)
	if err != nil {
		return fmt.Errorf("list unstored: %w", err)
	}
	for i := range recs {
		s.syncRecordStorage(ctx, st, &recs[i], rep)
	}
	return nil
}

func (s *receivingService) syncRecordStorage(ctx context.Context, st repository.Store, rec *model.ReceivingRecord, rep *dto.CycleReport) {
	logger := log.With().Str("record_id", rec.ID.String()).Logger()

	if err := st.Receivings.UpdateStorageTime(ctx, rec.ID, s.now()); err != nil {
		logger.Error().Err(err).Msg("storage: update storage time failed")
		rep.Errors++
		return
	}

	external, err := s.feed.FetchDetail(ctx, rec.Triple())
	if err != nil {
		logger.Warn().Err(err).Msg("storage: detail feed failed")
		rep.Errors++
		return
	}
	persisted, err := st.Receivings.ListDetails(ctx, rec.ID)
	if err != nil {
		logger.Error().Err(err).Msg("storage: list persisted lines failed")
		rep.Errors++
		return
	}

	for _, ext := range external {
		line := matchExact(persisted, rec.ID, ext)
		if line == nil {
			continue
		}
		loc := strings.TrimSpace(ext.StockInLocation)
		if !ext.StockInStatus || line.StockInStatus || loc == "" || model.StringValue(line.StockInLocation) != "" {
			continue
		}

		qty, remain, scan, status := ext.Quantity, ext.QuantityRemain, ext.QuantityScan, true
		patch := repository.DetailPatch{
			Quantity:        &qty,
			QuantityRemain:  &remain,
			QuantityScan:    &scan,
			StockInStatus:   &status,
			StockInLocation: &loc,
		}
		if err := st.Receivings.PatchDetail(ctx, line.ID, patch); err != nil {
			logger.Error().Err(err).Str("part_no", line.PartNo).Msg("storage: patch stock-in failed")
			rep.Errors++
			continue
		}
		line.StockInStatus = true
		line.StockInLocation = &loc
		rep.LinesPatched++
		logger.Debug().Str("part_no", line.PartNo).Str("location", loc).Msg("storage: line stocked in")
	}

	if rec.IsCompleted && allStockedIn(persisted) {
		if err := st.Receivings.UpdateStored(ctx, rec.ID, true); err != nil {
			logger.Error().Err(err).Msg("storage: mark stored failed")
			rep.Errors++
			return
		}
		rep.Stored++
		logger.Info().Int("lines", len(persisted)).Msg("storage: record fully stocked in")
	}
}

// matchExact finds the persisted line with the same part number, quantities
// and owner as ext.
func matchExact(persisted []model.ReceivingDetail, recordID uuid.UUID, ext infra.ShipmentDetailLine) *model.ReceivingDetail {
	for i := range persisted {
		p := &persisted[i]
		if p.ReceivingRecordID == recordID &&
			p.PartNo == ext.PartNo &&
			p.Quantity == ext.Quantity &&
			p.QuantityScan == ext.QuantityScan &&
			p.QuantityRemain == ext.QuantityRemain {
			return p
		}
	}
	return nil
}

func allStockedIn(lines []model.ReceivingDetail) bool {
	if len(lines) == 0 {
		return false
	}
	for i := range lines {
		if !lines[i].StockedIn() {
			return false
		}
	}
	return true
}

// ── helpers ──────────────────────────────────────────────────────────────────

// emitRecord reloads the record and emits its projection.
func (s *receivingService) emitRecord(ctx context.Context, st repository.Store, t events.Type, id uuid.UUID, rep *dto.CycleReport) {
	rec, err := st.Receivings.FindByID(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("record_id", id.String()).Str("event", string(t)).Msg("reconcile: reload for event failed")
		rep.Errors++
		return
	}
	s.emit(ctx, events.New(t, id, dto.NewReceivingResponse(rec)), rep)
}

// emit never fails the caller: the mutation already happened.
func (s *receivingService) emit(ctx context.Context, e events.Event, rep *dto.CycleReport) {
	if err := s.sink.Emit(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", string(e.Type)).Str("record_id", e.RecordID.String()).Msg("reconcile: event dropped")
		return
	}
	rep.Events++
}

// tagRules loads the supplier→tag map on first use within a cycle.
type tagRules struct {
	plans  repository.PlanRepository
	loaded bool
	byCode map[string]string
}

func (t *tagRules) lookup(ctx context.Context, supplierCode string) (string, error) {
	if !t.loaded {
		rules, err := t.plans.ListTagRules(ctx)
		if err != nil {
			return "", err
		}
		t.byCode = make(map[string]string, len(rules))
		for _, r := range rules {
			t.byCode[r.SupplierCode] = r.TagName
		}
		t.loaded = true
	}
	if tag, ok := t.byCode[supplierCode]; ok && tag != "" {
		return tag, nil
	}
	return supplierCode, nil
}
