package events

import (
	"encoding/json"
	"time"

	"github.com/qrave1/meshroom/internal/domain/models"
)

type Type string

const (
	TypeJoinRoom          Type = "join-room"
	TypeJoinSuccess       Type = "join-success"
	TypeJoinError         Type = "join-error"
	TypeRoomParticipants  Type = "room-participants"
	TypeUserJoined        Type = "user-joined"
	TypeUserLeft          Type = "user-left"
	TypeOffer             Type = "offer"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
	TypeParticipantUpdate Type = "participant-update"
	TypeChatMessage       Type = "chat-message"
	TypeSystemMessage     Type = "system-message"
)

// Message - конверт любого события на проводе
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event - закрытое множество событий сигналинга. Реализуется только типами этого пакета
type Event interface {
	EventType() Type
	sealed()
}

// User - участник, как его описывает клиент в join-room
type User struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ParticipantInfo - публичная информация об участнике для ростера
type ParticipantInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	VideoEnabled bool      `json:"videoEnabled"`
	AudioEnabled bool      `json:"audioEnabled"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func NewParticipantInfo(p models.Participant) ParticipantInfo {
	return ParticipantInfo{
		ID:           p.ID,
		Name:         p.DisplayName,
		VideoEnabled: p.MediaFlags.VideoEnabled,
		AudioEnabled: p.MediaFlags.AudioEnabled,
		JoinedAt:     p.JoinedAt,
	}
}

func (p ParticipantInfo) MediaFlags() models.MediaFlags {
	return models.MediaFlags{VideoEnabled: p.VideoEnabled, AudioEnabled: p.AudioEnabled}
}

// JoinRoom - запрос на вход в комнату (C→S)
type JoinRoom struct {
	RoomID     string             `json:"roomId"`
	User       User               `json:"user"`
	Password   string             `json:"password,omitempty"`
	MediaFlags *models.MediaFlags `json:"mediaFlags,omitempty"`
}

// JoinSuccess - вход принят (S→C, только вошедшему)
type JoinSuccess struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
}

// JoinError - вход отклонён, на проводе это просто строка с причиной
type JoinError struct {
	Reason string
}

func (e JoinError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Reason)
}

func (e *JoinError) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.Reason)
}

// RoomParticipants - ростер до входа, на проводе это массив
type RoomParticipants struct {
	Participants []ParticipantInfo
}

func (r RoomParticipants) MarshalJSON() ([]byte, error) {
	if r.Participants == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(r.Participants)
}

func (r *RoomParticipants) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &r.Participants)
}

// UserJoined - новый участник (S→C, существующим участникам)
type UserJoined struct {
	UserID string          `json:"userId"`
	User   ParticipantInfo `json:"user"`
}

// UserLeft - участник вышел (S→C, оставшимся)
type UserLeft struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Offer, Answer и ICECandidate пересылаются 1:1, полезная нагрузка непрозрачна для сервера.
// FromUserID проставляет сервер.

type Offer struct {
	RoomID     string          `json:"roomId"`
	ToUserID   string          `json:"toUserId"`
	FromUserID string          `json:"fromUserId,omitempty"`
	Offer      json.RawMessage `json:"offer"`
}

type Answer struct {
	RoomID     string          `json:"roomId"`
	ToUserID   string          `json:"toUserId"`
	FromUserID string          `json:"fromUserId,omitempty"`
	Answer     json.RawMessage `json:"answer"`
}

type ICECandidate struct {
	RoomID     string          `json:"roomId"`
	ToUserID   string          `json:"toUserId"`
	FromUserID string          `json:"fromUserId,omitempty"`
	Candidate  json.RawMessage `json:"candidate"`
}

// ParticipantUpdate рассылается всей комнате. UserID проставляет сервер
type ParticipantUpdate struct {
	RoomID  string          `json:"roomId"`
	UserID  string          `json:"userId,omitempty"`
	Updates json.RawMessage `json:"updates"`
}

// ChatMessage рассылается всей комнате. UserID, UserName и SentAt проставляет сервер
type ChatMessage struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId,omitempty"`
	UserName string    `json:"userName,omitempty"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt,omitzero"`
}

// SystemMessage - информационное сообщение, на проводе это строка
type SystemMessage struct {
	Text string
}

func (m SystemMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Text)
}

func (m *SystemMessage) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &m.Text)
}

func (JoinRoom) EventType() Type          { return TypeJoinRoom }
func (JoinSuccess) EventType() Type       { return TypeJoinSuccess }
func (JoinError) EventType() Type         { return TypeJoinError }
func (RoomParticipants) EventType() Type  { return TypeRoomParticipants }
func (UserJoined) EventType() Type        { return TypeUserJoined }
func (UserLeft) EventType() Type          { return TypeUserLeft }
func (Offer) EventType() Type             { return TypeOffer }
func (Answer) EventType() Type            { return TypeAnswer }
func (ICECandidate) EventType() Type      { return TypeICECandidate }
func (ParticipantUpdate) EventType() Type { return TypeParticipantUpdate }
func (ChatMessage) EventType() Type       { return TypeChatMessage }
func (SystemMessage) EventType() Type     { return TypeSystemMessage }

func (JoinRoom) sealed()          {}
func (JoinSuccess) sealed()       {}
func (JoinError) sealed()         {}
func (RoomParticipants) sealed()  {}
func (UserJoined) sealed()        {}
func (UserLeft) sealed()          {}
func (Offer) sealed()             {}
func (Answer) sealed()            {}
func (ICECandidate) sealed()      {}
func (ParticipantUpdate) sealed() {}
func (ChatMessage) sealed()       {}
func (SystemMessage) sealed()     {}
