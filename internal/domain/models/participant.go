package models

import "time"

// MediaFlags - состояние локальных треков участника
type MediaFlags struct {
	VideoEnabled bool `json:"videoEnabled"`
	AudioEnabled bool `json:"audioEnabled"`
}

// Participant - участник комнаты. ID живёт столько же, сколько websocket соединение
type Participant struct {
	ID          string
	DisplayName string
	MediaFlags  MediaFlags
	JoinedAt    time.Time
}

func NewParticipant(id, displayName string, flags MediaFlags) Participant {
	return Participant{
		ID:          id,
		DisplayName: displayName,
		MediaFlags:  flags,
		JoinedAt:    time.Now().UTC(),
	}
}
