package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
)

var (
	ErrPlanDetailNotFound = errors.New("plan detail not found")
	ErrSameDate           = errors.New("new date equals the current delivery time")
)

// PlanService covers the plan side of the ledger: daily history archival and
// operator reschedules of expected deliveries.
type PlanService interface {
	ArchiveDay(ctx context.Context, day time.Time) (int64, error)
	DelayDetail(ctx context.Context, id uuid.UUID, req dto.DelayPlanDetailRequest, requestedBy string) (*dto.PlanDetailDelayResponse, error)
}

type planService struct {
	repo repository.PlanRepository
}

func NewPlanService(repo repository.PlanRepository) PlanService {
	return &planService{repo: repo}
}

func (s *planService) ArchiveDay(ctx context.Context, day time.Time) (int64, error) {
	n, err := s.repo.ArchivePlanDetails(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("archive plan details: %w", err)
	}
	log.Info().Str("day", day.Format("2006-01-02")).Int64("rows", n).Msg("plan: details archived")
	return n, nil
}

func (s *planService) DelayDetail(ctx context.Context, id uuid.UUID, req dto.DelayPlanDetailRequest, requestedBy string) (*dto.PlanDetailDelayResponse, error) {
	detail, err := s.repo.FindPlanDetail(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanDetailNotFound
	}
	if err != nil {
		return nil, err
	}
	if detail.DeliveryTime.Equal(req.NewDate) {
		return nil, ErrSameDate
	}

	delay := &model.PlanDetailDelay{
		PlanDetailID: detail.ID,
		OldDate:      detail.DeliveryTime,
		NewDate:      req.NewDate,
		RequestedBy:  requestedBy,
	}
	if err := s.repo.Reschedule(ctx, delay); err != nil {
		return nil, fmt.Errorf("reschedule: %w", err)
	}

	log.Info().
		Str("plan_detail_id", detail.ID.String()).
		Time("old", delay.OldDate).
		Time("new", delay.NewDate).
		Str("by", requestedBy).
		Msg("plan: delivery rescheduled")

	return &dto.PlanDetailDelayResponse{
		ID:           delay.ID.String(),
		PlanDetailID: delay.PlanDetailID.String(),
		OldDate:      delay.OldDate,
		NewDate:      delay.NewDate,
		RequestedBy:  delay.RequestedBy,
		CreatedAt:    delay.CreatedAt,
	}, nil
}

// ArchiveRollover is what the scheduler calls on the first cycle of a new UTC
// date. It archives on a scoped store so it shares the cycle's connection.
func ArchiveRollover(ctx context.Context, st repository.Store, day time.Time) (int64, error) {
	return NewPlanService(st.Plans).ArchiveDay(ctx, day)
}
