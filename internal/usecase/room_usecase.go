package usecase

import (
	"context"
	"fmt"

	"github.com/qrave1/meshroom/internal/domain/models"
	"github.com/qrave1/meshroom/internal/infra/adapters/memory"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// CallHistoryRepository - хранилище истории входов и выходов
type CallHistoryRepository interface {
	Create(ctx context.Context, event *models.CallEvent) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]*models.CallEvent, error)
}

type RoomUsecase interface {
	ListRooms(ctx context.Context) []models.RoomSummary
	History(ctx context.Context, roomID string, limit int) ([]*models.CallEvent, error)
}

type roomUsecase struct {
	registry    memory.SessionRegistry
	historyRepo CallHistoryRepository
}

func NewRoomUsecase(registry memory.SessionRegistry, historyRepo CallHistoryRepository) RoomUsecase {
	return &roomUsecase{
		registry:    registry,
		historyRepo: historyRepo,
	}
}

func (uc *roomUsecase) ListRooms(ctx context.Context) []models.RoomSummary {
	return uc.registry.Rooms()
}

func (uc *roomUsecase) History(ctx context.Context, roomID string, limit int) ([]*models.CallEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	history, err := uc.historyRepo.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list call history: %w", err)
	}

	return history, nil
}
