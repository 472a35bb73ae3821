package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LougLynx/RIG-SYSTEM/internal/dto"
	"github.com/LougLynx/RIG-SYSTEM/internal/model"
	"github.com/LougLynx/RIG-SYSTEM/internal/repository"
)

var ErrReceivingNotFound = errors.New("receiving record not found")

// ReceivingQueryService is the read side used by the ops API.
type ReceivingQueryService interface {
	ListByDay(ctx context.Context, day time.Time) (*dto.ReceivingListResponse, error)
	ListOpen(ctx context.Context) (*dto.ReceivingListResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*dto.ReceivingResponse, error)
}

type receivingQueryService struct {
	repo repository.ReceivingRepository
}

func NewReceivingQueryService(repo repository.ReceivingRepository) ReceivingQueryService {
	return &receivingQueryService{repo: repo}
}

func (s *receivingQueryService) ListByDay(ctx context.Context, day time.Time) (*dto.ReceivingListResponse, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	recs, err := s.repo.ListDeliveredBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return toList(recs), nil
}

// ListOpen returns records still waiting for completion, oldest delivery first.
func (s *receivingQueryService) ListOpen(ctx context.Context) (*dto.ReceivingListResponse, error) {
	recs, err := s.repo.ListIncomplete(ctx)
	if err != nil {
		return nil, err
	}
	return toList(recs), nil
}

func toList(recs []model.ReceivingRecord) *dto.ReceivingListResponse {
	out := &dto.ReceivingListResponse{Data: make([]dto.ReceivingResponse, 0, len(recs)), Total: len(recs)}
	for i := range recs {
		out.Data = append(out.Data, dto.NewReceivingResponse(&recs[i]))
	}
	return out
}

func (s *receivingQueryService) Get(ctx context.Context, id uuid.UUID) (*dto.ReceivingResponse, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReceivingNotFound
	}
	if err != nil {
		return nil, err
	}
	resp := dto.NewReceivingResponse(rec)
	return &resp, nil
}
