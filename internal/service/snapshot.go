package service

import (
	"context"
	"fmt"
	"time"

	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// Feed is the external shipment advice source.
type Feed interface {
	FetchAdvice(ctx context.Context, date time.Time) ([]infra.ShipmentAdvice, error)
	FetchDetail(ctx context.Context, key model.IdentityTriple) ([]infra.ShipmentDetailLine, error)
}

// Snapshot is the immutable set of advices fetched by one cycle. The scheduler
// hands it to the next cycle as the "previous" state.
type Snapshot struct {
	items   []infra.ShipmentAdvice
	takenAt time.Time
}

// NewSnapshot copies items so later changes to the slice do not leak in.
func NewSnapshot(items []infra.ShipmentAdvice, takenAt time.Time) Snapshot {
	cp := make([]infra.ShipmentAdvice, len(items))
	copy(cp, items)
	return Snapshot{items: cp, takenAt: takenAt}
}

func (s Snapshot) Len() int           { return len(s.items) }
func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// Items returns a copy of the advices in fetch order.
func (s Snapshot) Items() []infra.ShipmentAdvice {
	cp := make([]infra.ShipmentAdvice, len(s.items))
	copy(cp, s.items)
	return cp
}

// Match finds the advice in s with the same identity as a. The first match in
// fetch order wins; an advice with no key never matches.
func (s Snapshot) Match(a infra.ShipmentAdvice) (infra.ShipmentAdvice, bool) {
	id := a.Identity()
	if id.IsZero() {
		return infra.ShipmentAdvice{}, false
	}
	for _, prev := range s.items {
		if id.Matches(prev.Identity()) {
			return prev, true
		}
	}
	return infra.ShipmentAdvice{}, false
}

// FetchSnapshot queries the feed once per day from lookbackDays days ago up to
// today and concatenates the results, oldest day first. Any failed day
// fails the whole fetch so a partial window is never diffed.
func FetchSnapshot(ctx context.Context, feed Feed, today time.Time, lookbackDays int) (Snapshot, error) {
	if lookbackDays < 0 {
		lookbackDays = 0
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	var items []infra.ShipmentAdvice
	for i := lookbackDays; i >= 0; i-- {
		date := day.AddDate(0, 0, -i)
		advices, err := feed.FetchAdvice(ctx, date)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetch advice %s: %w", date.Format("2006-01-02"), err)
		}
		items = append(items, advices...)
	}
	return Snapshot{items: items, takenAt: today}, nil
}
