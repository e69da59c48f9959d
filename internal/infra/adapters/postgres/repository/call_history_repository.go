package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/qrave1/meshroom/internal/domain/models"
)

type callHistoryRepo struct {
	db *sqlx.DB
}

func NewCallHistoryRepo(db *sqlx.DB) *callHistoryRepo {
	return &callHistoryRepo{db: db}
}

func (r *callHistoryRepo) Create(ctx context.Context, event *models.CallEvent) error {
	_, err := r.db.NamedExecContext(
		ctx,
		`INSERT INTO call_events (id, room_id, participant_id, display_name, kind, occurred_at)
		VALUES (:id, :room_id, :participant_id, :display_name, :kind, :occurred_at)`,
		event,
	)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}

	return nil
}

func (r *callHistoryRepo) ListByRoom(ctx context.Context, roomID string, limit int) ([]*models.CallEvent, error) {
	var callEvents []*models.CallEvent

	query := `
		SELECT id, room_id, participant_id, display_name, kind, occurred_at
		FROM call_events
		WHERE room_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = 100
	}

	err := r.db.SelectContext(ctx, &callEvents, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("select call events: %w", err)
	}

	return callEvents, nil
}
