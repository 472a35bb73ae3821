// Package testutil holds in-memory stand-ins for the ledger, the feed and the
// realtime channel, shared by the service and worker tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
)

// MemReceivings is an in-memory ReceivingRepository. Mutations counts every
// write so tests can assert that a pass changed nothing.
type MemReceivings struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*model.ReceivingRecord
	details   map[uuid.UUID]*model.ReceivingDetail
	suppliers map[string]model.Supplier
	History   []model.HistoryReceiving
	Mutations int

	// FailCreate, when set, is consulted before every Create.
	FailCreate func(r *model.ReceivingRecord) error
	// FailPatch makes PatchDetail return this error once set.
	FailPatch error
	// FailDetail, when set, is consulted before every CreateDetail.
	FailDetail func(d *model.ReceivingDetail) error
	// FailCompletion makes UpdateCompletion return this error once set.
	FailCompletion error

	RolledBack int
}

func NewMemReceivings() *MemReceivings {
	return &MemReceivings{
		records:   map[uuid.UUID]*model.ReceivingRecord{},
		details:   map[uuid.UUID]*model.ReceivingDetail{},
		suppliers: map[string]model.Supplier{},
	}
}

// Seed stores rec (and its Details) as-is, assigning ids when missing.
func (m *MemReceivings) Seed(rec model.ReceivingRecord) *model.ReceivingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	for _, d := range rec.Details {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.ReceivingRecordID = rec.ID
		dc := d
		m.details[d.ID] = &dc
	}
	rec.Details = nil
	rc := rec
	m.records[rec.ID] = &rc
	return m.cloneLocked(rec.ID)
}

// Records returns copies of every record, oldest delivery first.
func (m *MemReceivings) Records() []model.ReceivingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReceivingRecord, 0, len(m.records))
	for id := range m.records {
		out = append(out, *m.cloneLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActualDeliveryTime.Before(out[j].ActualDeliveryTime) })
	return out
}

// Record returns a copy of one record with its details.
func (m *MemReceivings) Record(id uuid.UUID) *model.ReceivingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneLocked(id)
}

func (m *MemReceivings) cloneLocked(id uuid.UUID) *model.ReceivingRecord {
	r, ok := m.records[id]
	if !ok {
		return nil
	}
	c := *r
	if s, ok := m.suppliers[c.SupplierCode]; ok {
		sc := s
		c.Supplier = &sc
	}
	c.Details = m.detailsLocked(id)
	return &c
}

func (m *MemReceivings) detailsLocked(recordID uuid.UUID) []model.ReceivingDetail {
	var out []model.ReceivingDetail
	for _, d := range m.details {
		if d.ReceivingRecordID == recordID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNo < out[j].PartNo })
	return out
}

func (m *MemReceivings) FindByIdentity(_ context.Context, supplierCode string, key model.IdentityTriple) (*model.ReceivingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.SupplierCode == supplierCode && r.Triple() == key {
			c := m.cloneLocked(id)
			c.Details = nil
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MemReceivings) FindByID(_ context.Context, id uuid.UUID) (*model.ReceivingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.cloneLocked(id); c != nil {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MemReceivings) Create(_ context.Context, r *model.ReceivingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		if err := m.FailCreate(r); err != nil {
			return err
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	c := *r
	c.Details, c.Supplier = nil, nil
	m.records[r.ID] = &c
	m.Mutations++
	return nil
}

func (m *MemReceivings) UpsertSupplier(_ context.Context, s *model.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[s.SupplierCode] = *s
	return nil
}

func (m *MemReceivings) CreateDetail(_ context.Context, d *model.ReceivingDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDetail != nil {
		if err := m.FailDetail(d); err != nil {
			return err
		}
	}
	for _, e := range m.details {
		if e.ReceivingRecordID == d.ReceivingRecordID && e.PartNo == d.PartNo {
			return errors.New("duplicate key idx_detail_record_part")
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	c := *d
	m.details[d.ID] = &c
	m.Mutations++
	return nil
}

func (m *MemReceivings) DeleteDetailsByRecord(_ context.Context, recordID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.details {
		if d.ReceivingRecordID == recordID {
			delete(m.details, id)
		}
	}
	m.Mutations++
	return nil
}

func (m *MemReceivings) ListDetails(_ context.Context, recordID uuid.UUID) ([]model.ReceivingDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detailsLocked(recordID), nil
}

func (m *MemReceivings) PatchDetail(_ context.Context, detailID uuid.UUID, p repository.DetailPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPatch != nil {
		return m.FailPatch
	}
	d, ok := m.details[detailID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.Quantity != nil {
		d.Quantity = *p.Quantity
	}
	if p.QuantityRemain != nil {
		d.QuantityRemain = *p.QuantityRemain
	}
	if p.QuantityScan != nil {
		d.QuantityScan = *p.QuantityScan
	}
	if p.StockInStatus != nil {
		d.StockInStatus = *p.StockInStatus
	}
	if p.StockInLocation != nil {
		d.StockInLocation = model.OptionalString(*p.StockInLocation)
	}
	m.Mutations++
	return nil
}

func (m *MemReceivings) update(id uuid.UUID, fn func(r *model.ReceivingRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	fn(r)
	m.Mutations++
	return nil
}

func (m *MemReceivings) UpdateCompletion(_ context.Context, id uuid.UUID, completed bool) error {
	if m.FailCompletion != nil {
		return m.FailCompletion
	}
	return m.update(id, func(r *model.ReceivingRecord) { r.IsCompleted = completed })
}

func (m *MemReceivings) UpdateLeadTime(_ context.Context, id uuid.UUID, lead time.Duration) error {
	return m.update(id, func(r *model.ReceivingRecord) { r.ActualLeadTime = &lead })
}

func (m *MemReceivings) UpdateStorageTime(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(r *model.ReceivingRecord) { r.StorageTime = &at })
}

func (m *MemReceivings) UpdateStored(_ context.Context, id uuid.UUID, stored bool) error {
	return m.update(id, func(r *model.ReceivingRecord) { r.IsStored = stored })
}

// list mirrors the gorm queries: details are attached only when withDetails.
func (m *MemReceivings) list(withDetails bool, keep func(r *model.ReceivingRecord) bool) []model.ReceivingRecord {
	var out []model.ReceivingRecord
	for _, r := range m.Records() {
		if keep(&r) {
			if !withDetails {
				r.Details = nil
			}
			out = append(out, r)
		}
	}
	return out
}

func (m *MemReceivings) ListIncomplete(_ context.Context) ([]model.ReceivingRecord, error) {
	return m.list(true, func(r *model.ReceivingRecord) bool { return !r.IsCompleted }), nil
}

func (m *MemReceivings) ListUnstored(_ context.Context) ([]model.ReceivingRecord, error) {
	return m.list(false, func(r *model.ReceivingRecord) bool { return r.IsCompleted && !r.IsStored }), nil
}

func (m *MemReceivings) ListDeliveredBetween(_ context.Context, from, to time.Time) ([]model.ReceivingRecord, error) {
	var out []model.ReceivingRecord
	for _, r := range m.Records() {
		if !r.ActualDeliveryTime.Before(from) && r.ActualDeliveryTime.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemReceivings) ArchiveToHistory(_ context.Context, r *model.ReceivingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.History = append(m.History, model.HistoryReceiving{
		ID:                 uuid.New(),
		ReceivingRecordID:  r.ID,
		SupplierCode:       r.SupplierCode,
		AsnNumber:          r.AsnNumber,
		DoNumber:           r.DoNumber,
		Invoice:            r.Invoice,
		IsCompleted:        r.IsCompleted,
		ActualDeliveryTime: r.ActualDeliveryTime,
		TagName:            r.TagName,
		PlanID:             r.PlanID,
	})
	m.Mutations++
	return nil
}

type memState struct {
	records   map[uuid.UUID]*model.ReceivingRecord
	details   map[uuid.UUID]*model.ReceivingDetail
	suppliers map[string]model.Supplier
	history   []model.HistoryReceiving
	mutations int
}

func (m *MemReceivings) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := memState{
		records:   make(map[uuid.UUID]*model.ReceivingRecord, len(m.records)),
		details:   make(map[uuid.UUID]*model.ReceivingDetail, len(m.details)),
		suppliers: make(map[string]model.Supplier, len(m.suppliers)),
		history:   append([]model.HistoryReceiving(nil), m.History...),
		mutations: m.Mutations,
	}
	for id, r := range m.records {
		c := *r
		st.records[id] = &c
	}
	for id, d := range m.details {
		c := *d
		st.details[id] = &c
	}
	for code, s := range m.suppliers {
		st.suppliers[code] = s
	}
	return st
}

func (m *MemReceivings) restore(st memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records, m.details, m.suppliers = st.records, st.details, st.suppliers
	m.History, m.Mutations = st.history, st.mutations
	m.RolledBack++
}

// Transaction runs fn and puts the ledger back as it was when fn fails.
func (m *MemReceivings) Transaction(ctx context.Context, st repository.Store, fn func(tx repository.Store) error) error {
	before := m.snapshot()
	if err := fn(st); err != nil {
		m.restore(before)
		return err
	}
	return nil
}

// MemPlans is an in-memory PlanRepository.
type MemPlans struct {
	mu       sync.Mutex
	Rules    []model.TagRule
	Current  *model.Plan
	Details  map[uuid.UUID]*model.PlanDetail
	Delays   []model.PlanDetailDelay
	Archived map[string]int64

	// FailArchive makes ArchivePlanDetails return this error.
	FailArchive error
}

func NewMemPlans() *MemPlans {
	return &MemPlans{Details: map[uuid.UUID]*model.PlanDetail{}, Archived: map[string]int64{}}
}

// AddDetail registers a plan detail under the current plan.
func (p *MemPlans) AddDetail(d model.PlanDetail) *model.PlanDetail {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if p.Current != nil && d.PlanID == uuid.Nil {
		d.PlanID = p.Current.ID
	}
	dc := d
	p.Details[d.ID] = &dc
	return &dc
}

func (p *MemPlans) ListTagRules(_ context.Context) ([]model.TagRule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.TagRule(nil), p.Rules...), nil
}

func (p *MemPlans) FindCurrentPlan(_ context.Context) (*model.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Current == nil {
		return nil, gorm.ErrRecordNotFound
	}
	c := *p.Current
	return &c, nil
}

func (p *MemPlans) ArchivePlanDetails(_ context.Context, day time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailArchive != nil {
		return 0, p.FailArchive
	}
	key := day.UTC().Format("2006-01-02")
	if _, done := p.Archived[key]; done {
		return 0, nil
	}
	n := int64(len(p.Details))
	p.Archived[key] = n
	return n, nil
}

func (p *MemPlans) FindPlanDetail(_ context.Context, id uuid.UUID) (*model.PlanDetail, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.Details[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *d
	return &c, nil
}

func (p *MemPlans) Reschedule(_ context.Context, delay *model.PlanDetailDelay) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.Details[delay.PlanDetailID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if delay.ID == uuid.Nil {
		delay.ID = uuid.New()
	}
	delay.CreatedAt = time.Now()
	d.DeliveryTime = delay.NewDate
	p.Delays = append(p.Delays, *delay)
	return nil
}

// MemScope implements repository.Scope over the in-memory repositories.
type MemScope struct {
	Receivings *MemReceivings
	Plans      *MemPlans
	Opened     int
	Released   int
}

func NewMemScope() *MemScope {
	return &MemScope{Receivings: NewMemReceivings(), Plans: NewMemPlans()}
}

func (s *MemScope) Store() repository.Store {
	st := repository.Store{Receivings: s.Receivings, Plans: s.Plans}
	st.Tx = func(ctx context.Context, fn func(tx repository.Store) error) error {
		return s.Receivings.Transaction(ctx, st, fn)
	}
	return st
}

func (s *MemScope) Do(ctx context.Context, fn func(ctx context.Context, st repository.Store) error) error {
	s.Opened++
	defer func() { s.Released++ }()
	return fn(ctx, s.Store())
}
