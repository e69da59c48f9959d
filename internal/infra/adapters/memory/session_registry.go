package memory

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/qrave1/meshroom/internal/domain/models"
)

// Причины отказа, как они уходят клиенту в join-error
const (
	ReasonInvalidPassword = "invalid-password"
	ReasonRoomError       = "room-error"
)

var (
	ErrInvalidPassword = errors.New(ReasonInvalidPassword)
	ErrRoomError       = errors.New(ReasonRoomError)
)

// Reason переводит ошибку Admit в строку для join-error
func Reason(err error) string {
	if errors.Is(err, ErrInvalidPassword) {
		return ReasonInvalidPassword
	}

	return ReasonRoomError
}

// SessionRegistry - владелец состава комнат. Комната создаётся первым входом и
// удаляется вместе с последним участником.
type SessionRegistry interface {
	// Admit добавляет участника и возвращает ростер без него
	Admit(roomID, password string, participant models.Participant) ([]models.Participant, error)

	// Remove убирает участника и возвращает его и оставшийся ростер
	Remove(roomID, participantID string) (models.Participant, []models.Participant, bool)

	RoomOf(participantID string) (string, bool)
	Member(roomID, participantID string) (models.Participant, bool)
	Roster(roomID string) []models.Participant
	UpdateMediaFlags(participantID string, flags models.MediaFlags) bool

	Rooms() []models.RoomSummary
	RoomCount() int
}

type room struct {
	id           string
	passwordHash []byte
	createdAt    time.Time

	// order - порядок входа, participants - индекс по id
	order        []string
	participants map[string]models.Participant
}

func (r *room) roster() []models.Participant {
	out := make([]models.Participant, 0, len(r.order))

	for _, id := range r.order {
		out = append(out, r.participants[id])
	}

	return out
}

type sessionRegistry struct {
	rooms map[string]*room

	// membership хранит map[participant_id]room_id
	membership map[string]string

	maxParticipants int
	passwordCost    int

	mu sync.RWMutex
}

type RegistryOption func(*sessionRegistry)

// WithMaxParticipants ограничивает размер комнаты, 0 - без ограничений
func WithMaxParticipants(n int) RegistryOption {
	return func(r *sessionRegistry) {
		r.maxParticipants = n
	}
}

// WithPasswordCost задаёт стоимость bcrypt для паролей комнат
func WithPasswordCost(cost int) RegistryOption {
	return func(r *sessionRegistry) {
		r.passwordCost = cost
	}
}

func NewSessionRegistry(opts ...RegistryOption) SessionRegistry {
	r := &sessionRegistry{
		rooms:        make(map[string]*room),
		membership:   make(map[string]string),
		passwordCost: bcrypt.DefaultCost,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Admit не держит блокировку во время bcrypt: хеш считается заранее, а после
// проверки пароля комната перечитывается под блокировкой. Если комнату за это
// время создали или удалили, попытка повторяется
func (r *sessionRegistry) Admit(roomID, password string, participant models.Participant) ([]models.Participant, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: empty room id", ErrRoomError)
	}
	if participant.ID == "" || participant.DisplayName == "" {
		return nil, fmt.Errorf("%w: participant id and display name are required", ErrRoomError)
	}

	for {
		seen, err := r.lookupForAdmit(roomID, participant.ID)
		if err != nil {
			return nil, err
		}

		if seen == nil {
			// Первый вошедший задаёт пароль комнаты
			hash, err := r.hashPassword(password)
			if err != nil {
				return nil, err
			}

			roster, created, err := r.create(roomID, hash, participant)
			if err != nil || created {
				return roster, err
			}
			continue
		}

		if err = checkPassword(seen.passwordHash, password); err != nil {
			return nil, err
		}

		roster, joined, err := r.join(seen, participant)
		if err != nil || joined {
			return roster, err
		}
	}
}

// lookupForAdmit возвращает существующую комнату или nil
func (r *sessionRegistry) lookupForAdmit(roomID, participantID string) (*room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if current, ok := r.membership[participantID]; ok {
		return nil, fmt.Errorf("%w: participant already in room %s", ErrRoomError, current)
	}

	return r.rooms[roomID], nil
}

// create заводит комнату, если её всё ещё нет. false - комнату успели создать
func (r *sessionRegistry) create(roomID string, hash []byte, participant models.Participant) ([]models.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.membership[participant.ID]; ok {
		return nil, false, fmt.Errorf("%w: participant already in room %s", ErrRoomError, current)
	}
	if _, exists := r.rooms[roomID]; exists {
		return nil, false, nil
	}

	rm := &room{
		id:           roomID,
		passwordHash: hash,
		createdAt:    time.Now().UTC(),
		participants: make(map[string]models.Participant),
	}
	r.rooms[roomID] = rm

	return r.insert(rm, participant), true, nil
}

// join добавляет в комнату, пароль которой уже проверен.
// false - комнату удалили или пересоздали после проверки
func (r *sessionRegistry) join(checked *room, participant models.Participant) ([]models.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.membership[participant.ID]; ok {
		return nil, false, fmt.Errorf("%w: participant already in room %s", ErrRoomError, current)
	}
	if r.rooms[checked.id] != checked {
		return nil, false, nil
	}

	if r.maxParticipants > 0 && len(checked.order) >= r.maxParticipants {
		return nil, false, fmt.Errorf("%w: room %s is full", ErrRoomError, checked.id)
	}

	return r.insert(checked, participant), true, nil
}

func (r *sessionRegistry) insert(rm *room, participant models.Participant) []models.Participant {
	roster := rm.roster()

	rm.order = append(rm.order, participant.ID)
	rm.participants[participant.ID] = participant
	r.membership[participant.ID] = rm.id

	return roster
}

func (r *sessionRegistry) hashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", ErrRoomError, err)
	}

	return hash, nil
}

func checkPassword(hash []byte, password string) error {
	// Пароль никогда не задавался
	if hash == nil {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}

	return nil
}

func (r *sessionRegistry) Remove(roomID, participantID string) (models.Participant, []models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return models.Participant{}, nil, false
	}

	removed, ok := rm.participants[participantID]
	if !ok {
		return models.Participant{}, nil, false
	}

	delete(rm.participants, participantID)
	rm.order = slices.DeleteFunc(rm.order, func(id string) bool { return id == participantID })
	delete(r.membership, participantID)

	remaining := rm.roster()

	if len(remaining) == 0 {
		delete(r.rooms, roomID)
	}

	return removed, remaining, true
}

func (r *sessionRegistry) RoomOf(participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.membership[participantID]
	return roomID, ok
}

func (r *sessionRegistry) Member(roomID, participantID string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return models.Participant{}, false
	}

	p, ok := rm.participants[participantID]
	return p, ok
}

func (r *sessionRegistry) Roster(roomID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}

	return rm.roster()
}

func (r *sessionRegistry) UpdateMediaFlags(participantID string, flags models.MediaFlags) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.membership[participantID]
	if !ok {
		return false
	}

	rm := r.rooms[roomID]
	p := rm.participants[participantID]
	p.MediaFlags = flags
	rm.participants[participantID] = p

	return true
}

func (r *sessionRegistry) Rooms() []models.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]models.RoomSummary, 0, len(r.rooms))

	for _, rm := range r.rooms {
		summaries = append(summaries, models.RoomSummary{
			ID:           rm.id,
			Participants: len(rm.order),
			Protected:    rm.passwordHash != nil,
			CreatedAt:    rm.createdAt,
		})
	}

	slices.SortFunc(summaries, func(a, b models.RoomSummary) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return summaries
}

func (r *sessionRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
