package room

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
	"github.com/qrave1/meshroom/internal/client/media"
	"github.com/qrave1/meshroom/internal/client/peer"
	"github.com/qrave1/meshroom/internal/client/signaling"
	"github.com/qrave1/meshroom/internal/domain/events"
	"github.com/qrave1/meshroom/internal/domain/models"
)

var (
	ErrNotJoined      = errors.New("not joined to a room")
	ErrAlreadyJoined  = errors.New("controller has already been used to join")
	ErrAlreadySharing = errors.New("screen share already active")
	ErrRelayLost      = errors.New("signaling connection lost")
	ErrEmptyMessage   = errors.New("empty chat message")
)

// JoinError - сервер отклонил вход
type JoinError struct {
	Reason string
}

func (e *JoinError) Error() string {
	return "join rejected: " + e.Reason
}

// Hooks вызываются из цикла событий. Синхронно вызывать из них методы
// Controller нельзя
type Hooks struct {
	OnParticipantJoined  func(p events.ParticipantInfo)
	OnParticipantLeft    func(p events.ParticipantInfo)
	OnParticipantUpdated func(p events.ParticipantInfo, updates json.RawMessage)
	OnChat               func(msg events.ChatMessage)
	OnSystemMessage      func(text string)

	// OnLinkFailed - соединение с участником разорвано сбоем, участник убран из ростера
	OnLinkFailed func(remoteID string, err error)

	// OnScreenShareEnded - захват экрана завершился извне, видео вернулось на камеру
	OnScreenShareEnded func(failed map[string]error)

	// OnDisconnected - потеряно соединение с сервером, звонок завершён
	OnDisconnected func(err error)
}

type Config struct {
	SignalingURL string
	Source       media.Source
	NewTransport peer.NewTransportFunc
	Hooks        Hooks
}

// Controller - один участник в одной комнате. Всё состояние комнаты
// принадлежит циклу событий, публичные методы ставят в него задачи.
// Controller одноразовый: новый вход - новый Controller
type Controller struct {
	cfg Config

	used    atomic.Bool
	started atomic.Bool

	mailbox    *mailbox
	joinResult chan error
	done       chan struct{}
	leaveOnce  sync.Once

	// Ниже - только из цикла событий
	client  *signaling.Client
	manager *peer.Manager
	stream  *media.Stream
	screen  *media.Track

	roomID      string
	displayName string
	selfID      string
	roster      map[string]events.ParticipantInfo

	joined      bool
	joinPending bool
	stopped     bool
}

func New(cfg Config) *Controller {
	return &Controller{
		cfg:        cfg,
		mailbox:    newMailbox(),
		joinResult: make(chan error, 1),
		done:       make(chan struct{}),
		roster:     make(map[string]events.ParticipantInfo),
	}
}

// Join получает локальные медиа, подключается к серверу и ждёт решения о входе.
// Отказ сервера - *JoinError
func (c *Controller) Join(ctx context.Context, roomID, displayName, password string) error {
	if !c.used.CompareAndSwap(false, true) {
		return ErrAlreadyJoined
	}

	stream, err := c.cfg.Source.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}

	client, err := signaling.Dial(ctx, c.cfg.SignalingURL)
	if err != nil {
		stream.Stop()
		return err
	}

	c.client = client
	c.stream = stream
	c.roomID = roomID
	c.displayName = displayName
	c.joinPending = true

	c.manager = peer.NewManager(peer.ManagerConfig{
		NewTransport: c.cfg.NewTransport,
		Signaler:     relaySignaler{c: c},
		Dispatch:     c.mailbox.post,
		Tracks: peer.Tracks{
			Audio: stream.Audio.Local(),
			Video: stream.Video.Local(),
		},
		OnClosed: c.dropParticipant,
	})

	c.started.Store(true)
	go c.loop()

	err = client.Send(events.JoinRoom{
		RoomID:   roomID,
		User:     events.User{Name: displayName},
		Password: password,
		MediaFlags: &models.MediaFlags{
			VideoEnabled: stream.Video.Enabled(),
			AudioEnabled: stream.Audio.Enabled(),
		},
	})
	if err != nil {
		c.Leave()
		return fmt.Errorf("send join: %w", err)
	}

	select {
	case err = <-c.joinResult:
		if err != nil {
			c.Leave()
			return err
		}

		slog.Info(
			"joined room",
			slog.String(constant.RoomID, roomID),
			slog.String(constant.UserName, displayName),
		)

		return nil

	case <-ctx.Done():
		c.Leave()
		return ctx.Err()
	}
}

func (c *Controller) loop() {
	defer close(c.done)

	incoming := c.client.Incoming()

	for !c.stopped {
		select {
		case ev, ok := <-incoming:
			if !ok {
				c.teardown(ErrRelayLost)
				continue
			}
			c.handleEvent(ev)

		case <-c.mailbox.wake:
			for _, fn := range c.mailbox.drain() {
				fn()
			}

		case <-c.screenEnded():
			slog.Info("screen capture ended")

			failed := c.stopScreenShare()
			if c.cfg.Hooks.OnScreenShareEnded != nil {
				c.cfg.Hooks.OnScreenShareEnded(failed)
			}
		}
	}
}

// screenEnded - nil канал, пока демонстрации нет, select его просто пропускает
func (c *Controller) screenEnded() <-chan struct{} {
	if c.screen == nil {
		return nil
	}

	return c.screen.Ended()
}

func (c *Controller) handleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.JoinSuccess:
		c.selfID = e.ParticipantID

	case events.JoinError:
		c.resolveJoin(&JoinError{Reason: e.Reason})
		c.teardown(nil)

	case events.RoomParticipants:
		// Новичок отвечает всем, кто уже в комнате
		for _, p := range e.Participants {
			if p.ID != c.selfID {
				c.addParticipant(p, peer.RoleAnswering)
			}
		}

		c.joined = true
		c.resolveJoin(nil)

	case events.UserJoined:
		if !c.joined || e.UserID == c.selfID {
			return
		}

		info := e.User
		info.ID = e.UserID

		if c.addParticipant(info, peer.RoleOffering) && c.cfg.Hooks.OnParticipantJoined != nil {
			c.cfg.Hooks.OnParticipantJoined(info)
		}

	case events.UserLeft:
		p, ok := c.roster[e.UserID]
		if !ok {
			return
		}

		delete(c.roster, e.UserID)
		c.manager.Close(e.UserID)

		if c.cfg.Hooks.OnParticipantLeft != nil {
			c.cfg.Hooks.OnParticipantLeft(p)
		}

	case events.Offer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(e.Offer, &desc); err != nil {
			c.logSignalError(ev, e.FromUserID, err)
			return
		}
		c.logSignalError(ev, e.FromUserID, c.manager.HandleOffer(e.FromUserID, desc))

	case events.Answer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(e.Answer, &desc); err != nil {
			c.logSignalError(ev, e.FromUserID, err)
			return
		}
		c.logSignalError(ev, e.FromUserID, c.manager.HandleAnswer(e.FromUserID, desc))

	case events.ICECandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(e.Candidate, &candidate); err != nil {
			c.logSignalError(ev, e.FromUserID, err)
			return
		}
		c.logSignalError(ev, e.FromUserID, c.manager.HandleCandidate(e.FromUserID, candidate))

	case events.ParticipantUpdate:
		p, ok := c.roster[e.UserID]
		if !ok {
			return
		}

		p = applyMediaPatch(p, e.Updates)
		c.roster[e.UserID] = p

		if c.cfg.Hooks.OnParticipantUpdated != nil {
			c.cfg.Hooks.OnParticipantUpdated(p, e.Updates)
		}

	case events.ChatMessage:
		if c.cfg.Hooks.OnChat != nil {
			c.cfg.Hooks.OnChat(e)
		}

	case events.SystemMessage:
		if c.cfg.Hooks.OnSystemMessage != nil {
			c.cfg.Hooks.OnSystemMessage(e.Text)
		}

	case events.JoinRoom:
		slog.Warn("unexpected join-room from server")
	}
}

// addParticipant добавляет участника в ростер вместе с соединением.
// Без соединения участник в ростере не остаётся
func (c *Controller) addParticipant(p events.ParticipantInfo, role peer.Role) bool {
	if _, ok := c.roster[p.ID]; ok {
		return false
	}

	c.roster[p.ID] = p

	if _, err := c.manager.Open(p.ID, role); err != nil {
		// Сбой после создания уже пришёл через OnClosed
		if _, exists := c.roster[p.ID]; exists {
			c.dropParticipant(p.ID, err)
		}
		return false
	}

	return true
}

// dropParticipant - соединение разорвано сбоем, участник уходит из ростера
func (c *Controller) dropParticipant(remoteID string, err error) {
	if _, ok := c.roster[remoteID]; !ok {
		return
	}

	delete(c.roster, remoteID)
	c.manager.Close(remoteID)

	slog.Warn(
		"participant link failed",
		slog.Any(constant.Error, err),
		slog.String(constant.RemoteID, remoteID),
	)

	if c.cfg.Hooks.OnLinkFailed != nil {
		c.cfg.Hooks.OnLinkFailed(remoteID, err)
	}
}

func (c *Controller) logSignalError(ev events.Event, remoteID string, err error) {
	if err == nil {
		return
	}

	slog.Warn(
		"handle signal",
		slog.Any(constant.Error, err),
		slog.String(constant.EventType, string(ev.EventType())),
		slog.String(constant.RemoteID, remoteID),
	)
}

func (c *Controller) resolveJoin(err error) {
	if !c.joinPending {
		return
	}
	c.joinPending = false

	c.joinResult <- err
}

// teardown закрывает все соединения, дорожки и канал к серверу
func (c *Controller) teardown(cause error) {
	if c.stopped {
		return
	}
	c.stopped = true

	c.manager.CloseAll()

	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	c.stream.Stop()

	c.client.Close()

	clear(c.roster)
	c.joined = false

	if cause == nil {
		c.resolveJoin(ErrNotJoined)
		return
	}

	c.resolveJoin(cause)

	slog.Warn("left room", slog.Any(constant.Error, cause), slog.String(constant.RoomID, c.roomID))

	if c.cfg.Hooks.OnDisconnected != nil {
		c.cfg.Hooks.OnDisconnected(cause)
	}
}

// Leave завершает звонок. Повторный вызов ничего не делает
func (c *Controller) Leave() error {
	if !c.started.Load() {
		return nil
	}

	c.leaveOnce.Do(func() {
		c.mailbox.post(func() {
			c.teardown(nil)
		})
	})

	<-c.done

	return nil
}

// Done закрывается, когда звонок завершён: Leave, отказ во входе или потеря сервера
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// call выполняет fn в цикле событий и ждёт её завершения
func (c *Controller) call(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrNotJoined
	}

	finished := make(chan struct{})
	c.mailbox.post(func() {
		fn()
		close(finished)
	})

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrNotJoined
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ToggleVideo включает или выключает камеру и сообщает об этом комнате
func (c *Controller) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggle(ctx, func(s *media.Stream) *media.Track { return s.Video }, "videoEnabled")
}

func (c *Controller) ToggleAudio(ctx context.Context) (bool, error) {
	return c.toggle(ctx, func(s *media.Stream) *media.Track { return s.Audio }, "audioEnabled")
}

func (c *Controller) toggle(ctx context.Context, pick func(*media.Stream) *media.Track, field string) (bool, error) {
	var (
		enabled bool
		opErr   error
	)

	err := c.call(ctx, func() {
		if !c.joined {
			opErr = ErrNotJoined
			return
		}

		track := pick(c.stream)
		enabled = !track.Enabled()
		track.SetEnabled(enabled)

		opErr = c.broadcastUpdate(map[string]bool{field: enabled})
	})
	if err != nil {
		return false, err
	}

	return enabled, opErr
}

// StartScreenShare отправляет экран вместо камеры на все соединения.
// Ошибки отдельных соединений возвращаются по remote id
func (c *Controller) StartScreenShare(ctx context.Context) (map[string]error, error) {
	screen, err := c.cfg.Source.CaptureScreen(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}

	var (
		failed    map[string]error
		installed bool
		opErr     error
	)

	err = c.call(ctx, func() {
		switch {
		case !c.joined:
			opErr = ErrNotJoined
		case c.screen != nil:
			opErr = ErrAlreadySharing
		default:
			c.screen = screen
			installed = true

			failed = c.manager.ReplaceVideoAll(screen.Local(), peer.VideoScreen)
			opErr = c.broadcastUpdate(map[string]bool{"screenSharing": true})
		}
	})
	if err != nil {
		// Если задача всё же выполнится, остановка дорожки вернёт камеру
		screen.Stop()
		return nil, err
	}

	if !installed {
		screen.Stop()
	}

	return failed, opErr
}

// StopScreenShare возвращает камеру. Без активной демонстрации ничего не делает
func (c *Controller) StopScreenShare(ctx context.Context) (map[string]error, error) {
	var failed map[string]error

	err := c.call(ctx, func() {
		failed = c.stopScreenShare()
	})
	if err != nil {
		return nil, err
	}

	return failed, nil
}

func (c *Controller) stopScreenShare() map[string]error {
	screen := c.screen
	if screen == nil {
		return nil
	}
	c.screen = nil

	failed := c.manager.ReplaceVideoAll(c.stream.Video.Local(), peer.VideoCamera)
	screen.Stop()

	if err := c.broadcastUpdate(map[string]bool{"screenSharing": false}); err != nil {
		slog.Warn("broadcast screen share stop", slog.Any(constant.Error, err))
	}

	return failed
}

func (c *Controller) SendChat(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}

	var opErr error

	err := c.call(ctx, func() {
		if !c.joined {
			opErr = ErrNotJoined
			return
		}

		opErr = c.client.Send(events.ChatMessage{RoomID: c.roomID, Message: text})
	})
	if err != nil {
		return err
	}

	return opErr
}

func (c *Controller) broadcastUpdate(patch map[string]bool) error {
	updates, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	return c.client.Send(events.ParticipantUpdate{RoomID: c.roomID, Updates: updates})
}

// ParticipantID - id, выданный сервером. Пустой до входа
func (c *Controller) ParticipantID() string {
	var id string

	_ = c.call(context.Background(), func() {
		id = c.selfID
	})

	return id
}

// Roster - известные участники кроме себя в порядке входа
func (c *Controller) Roster() []events.ParticipantInfo {
	var roster []events.ParticipantInfo

	_ = c.call(context.Background(), func() {
		roster = make([]events.ParticipantInfo, 0, len(c.roster))
		for _, p := range c.roster {
			roster = append(roster, p)
		}
	})

	slices.SortFunc(roster, func(a, b events.ParticipantInfo) int {
		if n := a.JoinedAt.Compare(b.JoinedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return roster
}

// LinkStates - состояние соединения с каждым участником
func (c *Controller) LinkStates() map[string]peer.State {
	states := map[string]peer.State{}

	_ = c.call(context.Background(), func() {
		states = c.manager.States()
	})

	return states
}

// mediaPatch - те же поля, что зеркалит сервер
type mediaPatch struct {
	VideoEnabled *bool `json:"videoEnabled"`
	AudioEnabled *bool `json:"audioEnabled"`
}

func applyMediaPatch(p events.ParticipantInfo, updates json.RawMessage) events.ParticipantInfo {
	var patch mediaPatch
	if err := json.Unmarshal(updates, &patch); err != nil {
		return p
	}

	if patch.VideoEnabled != nil {
		p.VideoEnabled = *patch.VideoEnabled
	}
	if patch.AudioEnabled != nil {
		p.AudioEnabled = *patch.AudioEnabled
	}

	return p
}

// relaySignaler отправляет описания и кандидаты через сервер
type relaySignaler struct {
	c *Controller
}

func (s relaySignaler) SendOffer(remoteID string, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	return s.c.client.Send(events.Offer{RoomID: s.c.roomID, ToUserID: remoteID, Offer: raw})
}

func (s relaySignaler) SendAnswer(remoteID string, desc webrtc.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	return s.c.client.Send(events.Answer{RoomID: s.c.roomID, ToUserID: remoteID, Answer: raw})
}

func (s relaySignaler) SendCandidate(remoteID string, candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return err
	}

	return s.c.client.Send(events.ICECandidate{RoomID: s.c.roomID, ToUserID: remoteID, Candidate: raw})
}
