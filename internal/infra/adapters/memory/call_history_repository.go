package memory

import (
	"context"
	"sync"

	"github.com/qrave1/meshroom/internal/domain/models"
)

const defaultHistoryPerRoom = 256

// callHistoryRepository хранит последние события по каждой комнате.
// Используется, когда Postgres выключен
type callHistoryRepository struct {
	events  map[string][]*models.CallEvent
	perRoom int
	mu      sync.RWMutex
}

func NewCallHistoryRepository() *callHistoryRepository {
	return &callHistoryRepository{
		events:  make(map[string][]*models.CallEvent),
		perRoom: defaultHistoryPerRoom,
	}
}

func (r *callHistoryRepository) Create(ctx context.Context, event *models.CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.events[event.RoomID], event)
	if len(list) > r.perRoom {
		list = list[len(list)-r.perRoom:]
	}

	r.events[event.RoomID] = list

	return nil
}

// ListByRoom возвращает до limit последних событий, новые первыми
func (r *callHistoryRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]*models.CallEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.events[roomID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}

	out := make([]*models.CallEvent, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}

	return out, nil
}
