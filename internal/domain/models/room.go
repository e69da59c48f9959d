package models

import "time"

// RoomSummary - публичная информация о комнате без пароля
type RoomSummary struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"created_at"`
}
