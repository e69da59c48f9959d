package models

import (
	"time"

	"github.com/google/uuid"
)

type CallEventKind string

const (
	CallEventJoined CallEventKind = "joined"
	CallEventLeft   CallEventKind = "left"
)

// CallEvent - запись истории звонков: вход или выход участника
type CallEvent struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	RoomID        string        `json:"room_id" db:"room_id"`
	ParticipantID string        `json:"participant_id" db:"participant_id"`
	DisplayName   string        `json:"display_name" db:"display_name"`
	Kind          CallEventKind `json:"kind" db:"kind"`
	OccurredAt    time.Time     `json:"occurred_at" db:"occurred_at"`
}

func NewCallEvent(roomID string, p Participant, kind CallEventKind) *CallEvent {
	return &CallEvent{
		ID:            uuid.New(),
		RoomID:        roomID,
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Kind:          kind,
		OccurredAt:    time.Now().UTC(),
	}
}
