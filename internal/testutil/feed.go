package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// FakeFeed serves canned advices per day and detail lines per identity.
type FakeFeed struct {
	mu      sync.Mutex
	advices map[string][]infra.ShipmentAdvice
	details map[model.Identity][]infra.ShipmentDetailLine

	AdviceErr   error
	DetailErr   error
	AdviceCalls []string
	DetailCalls int
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		advices: map[string][]infra.ShipmentAdvice{},
		details: map[model.Identity][]infra.ShipmentDetailLine{},
	}
}

// SetAdvices replaces the advices returned for day.
func (f *FakeFeed) SetAdvices(day time.Time, advices ...infra.ShipmentAdvice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advices[day.Format("2006-01-02")] = advices
}

// SetDetails replaces the lines returned for key's identity.
func (f *FakeFeed) SetDetails(key model.IdentityTriple, lines ...infra.ShipmentDetailLine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[key.Identity()] = lines
}

func (f *FakeFeed) FetchAdvice(_ context.Context, date time.Time) ([]infra.ShipmentAdvice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	day := date.Format("2006-01-02")
	f.AdviceCalls = append(f.AdviceCalls, day)
	if f.AdviceErr != nil {
		return nil, f.AdviceErr
	}
	return append([]infra.ShipmentAdvice(nil), f.advices[day]...), nil
}

func (f *FakeFeed) FetchDetail(_ context.Context, key model.IdentityTriple) ([]infra.ShipmentDetailLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DetailCalls++
	if f.DetailErr != nil {
		return nil, f.DetailErr
	}
	return append([]infra.ShipmentDetailLine(nil), f.details[key.Identity()]...), nil
}
