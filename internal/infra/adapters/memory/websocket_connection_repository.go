package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/application/metric"
	"github.com/qrave1/meshroom/internal/domain/events"
)

const writeWait = 10 * time.Second

// WebsocketConnectionRepository интерфейс для работы с активными сокетами в памяти
type WebsocketConnectionRepository interface {
	Add(participantID string, conn *websocket.Conn)
	Remove(participantID string)

	// Write отправляет событие участнику. false - участника нет или запись не удалась
	Write(participantID string, ev events.Event) bool
	Count() int
}

// safeWS сериализует запись в один сокет, поэтому порядок сообщений
// от одного отправителя к одному получателю сохраняется
type safeWS struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsConnectionRepository struct {
	// wsConns хранит map[participant_id]*safeWS
	wsConns map[string]*safeWS

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return &wsConnectionRepository{
		wsConns: make(map[string]*safeWS, 10),
	}
}

func (w *wsConnectionRepository) Add(participantID string, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.wsConns[participantID] = &safeWS{conn: conn}

	metric.IncrementWSActiveConnections()
}

func (w *wsConnectionRepository) Remove(participantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.wsConns[participantID]; exists {
		delete(w.wsConns, participantID)

		metric.DecrementWSActiveConnections()
	}
}

func (w *wsConnectionRepository) Write(participantID string, ev events.Event) bool {
	safews, ok := w.getSafeWS(participantID)
	if !ok {
		return false
	}

	msg, err := events.Encode(ev)
	if err != nil {
		slog.Error(
			"encode event",
			slog.Any(constant.Error, err),
			slog.String(constant.EventType, string(ev.EventType())),
		)
		return false
	}

	safews.mu.Lock()
	defer safews.mu.Unlock()

	_ = safews.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err = safews.conn.WriteJSON(msg); err != nil {
		slog.Error(
			"write to websocket",
			slog.Any(constant.Error, err),
			slog.String(constant.ParticipantID, participantID),
		)
		return false
	}

	metric.IncrementSignalingMessages(string(ev.EventType()))

	return true
}

func (w *wsConnectionRepository) getSafeWS(participantID string) (*safeWS, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	conn, ok := w.wsConns[participantID]
	return conn, ok
}

func (w *wsConnectionRepository) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.wsConns)
}
