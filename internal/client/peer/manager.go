package peer

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
)

type ManagerConfig struct {
	NewTransport NewTransportFunc
	Signaler     Signaler

	// Dispatch переносит колбэки транспорта в цикл событий владельца.
	// Не должен блокироваться
	Dispatch func(fn func())

	Tracks Tracks

	// OnClosed вызывается, когда соединение закрылось само (сбой транспорта)
	OnClosed func(remoteID string, err error)
}

// Manager - таблица соединений по remote id. Как и Link, живёт в одном цикле событий
type Manager struct {
	links map[string]*Link

	newTransport NewTransportFunc
	signaler     Signaler
	dispatch     func(fn func())
	onClosed     func(remoteID string, err error)

	tracks Tracks
	video  VideoSource
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		links:        make(map[string]*Link),
		newTransport: cfg.NewTransport,
		signaler:     cfg.Signaler,
		dispatch:     cfg.Dispatch,
		onClosed:     cfg.OnClosed,
		tracks:       cfg.Tracks,
		video:        VideoCamera,
	}

	if m.dispatch == nil {
		m.dispatch = func(fn func()) { fn() }
	}
	if m.onClosed == nil {
		m.onClosed = func(string, error) {}
	}

	return m
}

// Open создаёт соединение. Сторона, которая предлагает, сразу отправляет offer
func (m *Manager) Open(remoteID string, role Role) (*Link, error) {
	if _, ok := m.links[remoteID]; ok {
		return nil, newLinkError("open", remoteID, ErrLinkExists)
	}

	var link *Link

	transport, err := m.newTransport(remoteID, m.tracks, Callbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.dispatch(func() {
				if link == nil || m.links[remoteID] != link {
					return
				}
				if err := link.LocalCandidate(c); err != nil {
					m.fail(link, err)
				}
			})
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			m.dispatch(func() {
				if link == nil || m.links[remoteID] != link {
					return
				}
				if link.HandleConnectionState(state) {
					delete(m.links, remoteID)
					m.onClosed(remoteID, fmt.Errorf("transport %s", state))
				}
			})
		},
	})
	if err != nil {
		return nil, newLinkError("open", remoteID, err)
	}

	link = newLink(remoteID, role, transport, m.signaler)
	link.video = m.video
	m.links[remoteID] = link

	slog.Info(
		"link opened",
		slog.String(constant.RemoteID, remoteID),
		slog.String("role", role.String()),
	)

	if role == RoleOffering {
		if err = link.Start(); err != nil {
			m.fail(link, err)
			return nil, err
		}
	}

	return link, nil
}

func (m *Manager) HandleOffer(remoteID string, offer webrtc.SessionDescription) error {
	link, err := m.lookup("handle offer", remoteID)
	if err != nil {
		return err
	}

	return m.check(link, link.HandleOffer(offer))
}

func (m *Manager) HandleAnswer(remoteID string, answer webrtc.SessionDescription) error {
	link, err := m.lookup("handle answer", remoteID)
	if err != nil {
		return err
	}

	return m.check(link, link.HandleAnswer(answer))
}

func (m *Manager) HandleCandidate(remoteID string, candidate webrtc.ICECandidateInit) error {
	link, err := m.lookup("handle candidate", remoteID)
	if err != nil {
		return err
	}

	return m.check(link, link.HandleCandidate(candidate))
}

// ReplaceVideoAll меняет видео на каждом соединении независимо.
// Возвращает ошибки по remote id, сбой одного не останавливает остальные
func (m *Manager) ReplaceVideoAll(track webrtc.TrackLocal, source VideoSource) map[string]error {
	m.tracks.Video = track
	m.video = source

	failed := make(map[string]error)

	for _, id := range m.RemoteIDs() {
		if err := m.links[id].ReplaceVideo(track, source); err != nil {
			slog.Warn(
				"replace video",
				slog.Any(constant.Error, err),
				slog.String(constant.RemoteID, id),
				slog.String("source", string(source)),
			)
			failed[id] = err
		}
	}

	return failed
}

// Close закрывает соединение по решению владельца, OnClosed не вызывается
func (m *Manager) Close(remoteID string) bool {
	link, ok := m.links[remoteID]
	if !ok {
		return false
	}

	delete(m.links, remoteID)
	link.Close()

	slog.Info("link closed", slog.String(constant.RemoteID, remoteID))

	return true
}

func (m *Manager) CloseAll() {
	for _, id := range m.RemoteIDs() {
		m.Close(id)
	}
}

func (m *Manager) Link(remoteID string) (*Link, bool) {
	link, ok := m.links[remoteID]
	return link, ok
}

func (m *Manager) Len() int {
	return len(m.links)
}

// RemoteIDs - отсортированный список, чтобы обход был детерминированным
func (m *Manager) RemoteIDs() []string {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (m *Manager) States() map[string]State {
	states := make(map[string]State, len(m.links))
	for id, link := range m.links {
		states[id] = link.State()
	}

	return states
}

func (m *Manager) lookup(op, remoteID string) (*Link, error) {
	link, ok := m.links[remoteID]
	if !ok {
		return nil, newLinkError(op, remoteID, ErrUnknownLink)
	}

	return link, nil
}

// check закрывает соединение при неустранимой ошибке согласования
func (m *Manager) check(link *Link, err error) error {
	if IsFatal(err) {
		m.fail(link, err)
	}

	return err
}

func (m *Manager) fail(link *Link, err error) {
	if m.links[link.RemoteID()] != link {
		return
	}

	delete(m.links, link.RemoteID())
	link.Close()

	slog.Error(
		"link failed",
		slog.Any(constant.Error, err),
		slog.String(constant.RemoteID, link.RemoteID()),
	)

	m.onClosed(link.RemoteID(), err)
}
