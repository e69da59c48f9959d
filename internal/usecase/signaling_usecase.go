package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/application/metric"
	"github.com/qrave1/meshroom/internal/domain/events"
	"github.com/qrave1/meshroom/internal/domain/models"
	"github.com/qrave1/meshroom/internal/infra/adapters/memory"
)

const historyTimeout = 3 * time.Second

var (
	ErrNotInRoom       = errors.New("participant is not in a room")
	ErrUnexpectedEvent = errors.New("unexpected event")
)

// EventWriter - доставка события конкретному участнику
type EventWriter interface {
	Write(participantID string, ev events.Event) bool
}

type SignalingUsecase interface {
	HandleJoin(ctx context.Context, participantID string, join events.JoinRoom) error

	// HandleRelay пересылает offer, answer и ice-candidate одному получателю
	HandleRelay(ctx context.Context, participantID string, ev events.Event) error

	// HandleBroadcast рассылает chat-message и participant-update всей комнате
	HandleBroadcast(ctx context.Context, participantID string, ev events.Event) error

	HandleDisconnect(ctx context.Context, participantID string)
}

type signalingUsecase struct {
	registry    memory.SessionRegistry
	writer      EventWriter
	historyRepo CallHistoryRepository

	// roomLocks сериализует вход и выход в одной комнате вместе с их рассылкой,
	// иначе новичок может получить user-left раньше ростера, в котором этот участник есть.
	// Разные комнаты друг друга не ждут
	roomLocks *roomLocks
}

func NewSignalingUsecase(
	registry memory.SessionRegistry,
	writer EventWriter,
	historyRepo CallHistoryRepository,
) SignalingUsecase {
	return &signalingUsecase{
		registry:    registry,
		writer:      writer,
		historyRepo: historyRepo,
		roomLocks:   newRoomLocks(),
	}
}

func (s *signalingUsecase) HandleJoin(ctx context.Context, participantID string, join events.JoinRoom) error {
	flags := models.MediaFlags{VideoEnabled: true, AudioEnabled: true}
	if join.MediaFlags != nil {
		flags = *join.MediaFlags
	}

	// id из запроса клиента игнорируется, участник идентифицируется соединением
	participant := models.NewParticipant(participantID, join.User.Name, flags)

	if !s.admitAndAnnounce(participantID, join.RoomID, join.Password, participant) {
		return nil
	}

	s.recordHistory(ctx, join.RoomID, participant, models.CallEventJoined)

	return nil
}

// admitAndAnnounce впускает участника и рассылает события под блокировкой комнаты.
// false - отказ, join-error уже отправлен
func (s *signalingUsecase) admitAndAnnounce(
	participantID, roomID, password string,
	participant models.Participant,
) bool {
	unlock := s.roomLocks.lock(roomID)
	defer unlock()

	roster, err := s.registry.Admit(roomID, password, participant)
	if err != nil {
		reason := memory.Reason(err)

		slog.Warn(
			"join rejected",
			slog.Any(constant.Error, err),
			slog.String(constant.ParticipantID, participantID),
			slog.String(constant.RoomID, roomID),
			slog.String(constant.Reason, reason),
		)

		metric.IncrementJoinRejections(reason)
		s.writer.Write(participantID, events.JoinError{Reason: reason})

		return false
	}

	metric.SetActiveRooms(s.registry.RoomCount())

	slog.Info(
		"participant joined room",
		slog.String(constant.ParticipantID, participantID),
		slog.String(constant.UserName, participant.DisplayName),
		slog.String(constant.RoomID, roomID),
		slog.Int("roster_size", len(roster)+1),
	)

	// Сначала новичку, потом остальным: offer от старых участников
	// не должен обогнать ростер
	s.writer.Write(participantID, events.JoinSuccess{RoomID: roomID, ParticipantID: participantID})
	s.writer.Write(participantID, events.RoomParticipants{Participants: participantInfos(roster)})

	joined := events.UserJoined{UserID: participantID, User: events.NewParticipantInfo(participant)}
	notice := events.SystemMessage{Text: fmt.Sprintf("%s joined the room", participant.DisplayName)}

	for _, member := range roster {
		s.writer.Write(member.ID, joined)
		s.writer.Write(member.ID, notice)
	}

	return true
}

func (s *signalingUsecase) HandleRelay(ctx context.Context, participantID string, ev events.Event) error {
	roomID, ok := s.registry.RoomOf(participantID)
	if !ok {
		return fmt.Errorf("relay %s: %w", ev.EventType(), ErrNotInRoom)
	}

	var (
		to  string
		out events.Event
	)

	switch e := ev.(type) {
	case events.Offer:
		to = e.ToUserID
		e.RoomID, e.FromUserID = roomID, participantID
		out = e
	case events.Answer:
		to = e.ToUserID
		e.RoomID, e.FromUserID = roomID, participantID
		out = e
	case events.ICECandidate:
		to = e.ToUserID
		e.RoomID, e.FromUserID = roomID, participantID
		out = e
	default:
		return fmt.Errorf("relay: %w: %s", ErrUnexpectedEvent, ev.EventType())
	}

	// Получатель мог уже выйти - это не ошибка для отправителя
	if to == participantID {
		return nil
	}
	if _, ok = s.registry.Member(roomID, to); !ok {
		slog.Debug(
			"drop signal for absent recipient",
			slog.String(constant.EventType, string(ev.EventType())),
			slog.String(constant.ParticipantID, participantID),
			slog.String(constant.RemoteID, to),
		)
		return nil
	}

	s.writer.Write(to, out)

	return nil
}

func (s *signalingUsecase) HandleBroadcast(ctx context.Context, participantID string, ev events.Event) error {
	roomID, ok := s.registry.RoomOf(participantID)
	if !ok {
		return fmt.Errorf("broadcast %s: %w", ev.EventType(), ErrNotInRoom)
	}

	sender, ok := s.registry.Member(roomID, participantID)
	if !ok {
		return fmt.Errorf("broadcast %s: %w", ev.EventType(), ErrNotInRoom)
	}

	var out events.Event

	switch e := ev.(type) {
	case events.ChatMessage:
		e.RoomID = roomID
		e.UserID = participantID
		e.UserName = sender.DisplayName
		e.SentAt = time.Now().UTC()
		out = e
	case events.ParticipantUpdate:
		e.RoomID = roomID
		e.UserID = participantID
		s.mirrorMediaFlags(sender, e.Updates)
		out = e
	default:
		return fmt.Errorf("broadcast: %w: %s", ErrUnexpectedEvent, ev.EventType())
	}

	for _, member := range s.registry.Roster(roomID) {
		if member.ID == participantID {
			continue
		}

		s.writer.Write(member.ID, out)
	}

	return nil
}

// mediaFlagsPatch - частичное обновление, отсутствующие поля не трогаем
type mediaFlagsPatch struct {
	VideoEnabled *bool `json:"videoEnabled"`
	AudioEnabled *bool `json:"audioEnabled"`
}

// mirrorMediaFlags запоминает флаги для ростера будущих участников.
// Обновление не валидируется: непонятный payload просто пересылается дальше
func (s *signalingUsecase) mirrorMediaFlags(sender models.Participant, updates json.RawMessage) {
	var patch mediaFlagsPatch
	if err := json.Unmarshal(updates, &patch); err != nil {
		return
	}

	flags := sender.MediaFlags
	if patch.VideoEnabled != nil {
		flags.VideoEnabled = *patch.VideoEnabled
	}
	if patch.AudioEnabled != nil {
		flags.AudioEnabled = *patch.AudioEnabled
	}

	s.registry.UpdateMediaFlags(sender.ID, flags)
}

func (s *signalingUsecase) HandleDisconnect(ctx context.Context, participantID string) {
	// Вход и выход одного участника не пересекаются: оба идут из одного сокета
	roomID, ok := s.registry.RoomOf(participantID)
	if !ok {
		return
	}

	removed, ok := s.removeAndAnnounce(roomID, participantID)
	if !ok {
		return
	}

	s.recordHistory(ctx, roomID, removed, models.CallEventLeft)
}

func (s *signalingUsecase) removeAndAnnounce(roomID, participantID string) (models.Participant, bool) {
	unlock := s.roomLocks.lock(roomID)
	defer unlock()

	removed, remaining, ok := s.registry.Remove(roomID, participantID)
	if !ok {
		return models.Participant{}, false
	}

	metric.SetActiveRooms(s.registry.RoomCount())

	slog.Info(
		"participant left room",
		slog.String(constant.ParticipantID, participantID),
		slog.String(constant.RoomID, roomID),
		slog.Int("remaining", len(remaining)),
	)

	left := events.UserLeft{UserID: removed.ID, UserName: removed.DisplayName}
	notice := events.SystemMessage{Text: fmt.Sprintf("%s left the room", removed.DisplayName)}

	for _, member := range remaining {
		s.writer.Write(member.ID, left)
		s.writer.Write(member.ID, notice)
	}

	return removed, true
}

// recordHistory вызывается вне блокировки комнаты и не влияет на вход и маршрутизацию:
// ошибки только логируются
func (s *signalingUsecase) recordHistory(ctx context.Context, roomID string, p models.Participant, kind models.CallEventKind) {
	historyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	if err := s.historyRepo.Create(historyCtx, models.NewCallEvent(roomID, p, kind)); err != nil {
		slog.Error(
			"record call history",
			slog.Any(constant.Error, err),
			slog.String(constant.RoomID, roomID),
			slog.String(constant.ParticipantID, p.ID),
		)
	}
}

func participantInfos(roster []models.Participant) []events.ParticipantInfo {
	infos := make([]events.ParticipantInfo, 0, len(roster))

	for _, p := range roster {
		infos = append(infos, events.NewParticipantInfo(p))
	}

	return infos
}
