package peer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
)

// Link - соединение с одним удалённым участником.
// Методы вызываются только из цикла событий владельца, блокировок нет
type Link struct {
	remoteID string
	role     Role
	state    State

	transport Transport
	signaler  Signaler

	// Кандидаты удалённой стороны до установки remote description
	pendingRemote []webrtc.ICECandidateInit
	remoteSet     bool

	// Свои кандидаты до отправки offer/answer
	pendingLocal []webrtc.ICECandidateInit
	localSent    bool

	video VideoSource
}

func newLink(remoteID string, role Role, transport Transport, signaler Signaler) *Link {
	return &Link{
		remoteID:  remoteID,
		role:      role,
		state:     StateNew,
		transport: transport,
		signaler:  signaler,
		video:     VideoCamera,
	}
}

func (l *Link) RemoteID() string {
	return l.remoteID
}

func (l *Link) Role() Role {
	return l.role
}

func (l *Link) State() State {
	return l.state
}

func (l *Link) Video() VideoSource {
	return l.video
}

// PendingCandidates - сколько удалённых кандидатов ждут remote description
func (l *Link) PendingCandidates() int {
	return len(l.pendingRemote)
}

func (l *Link) setState(next State) {
	slog.Debug(
		"link state",
		slog.String(constant.RemoteID, l.remoteID),
		slog.String("from", l.state.String()),
		slog.String(constant.State, next.String()),
	)

	l.state = next
}

// Start - сторона, которая предлагает: New → Offering → AwaitingAnswer
func (l *Link) Start() error {
	if l.state != StateNew || l.role != RoleOffering {
		return newLinkError("start", l.remoteID, fmt.Errorf("%w: start in state %s as %s", ErrUnexpectedSignal, l.state, l.role))
	}

	l.setState(StateOffering)

	offer, err := l.transport.CreateOffer()
	if err != nil {
		return newLinkError("create offer", l.remoteID, err)
	}

	if err = l.signaler.SendOffer(l.remoteID, offer); err != nil {
		return newLinkError("send offer", l.remoteID, err)
	}

	l.markLocalSent()
	l.setState(StateAwaitingAnswer)

	return nil
}

// HandleOffer отвечает на offer. Для нового соединения это первичное
// согласование, для установленного - повторное на месте
func (l *Link) HandleOffer(offer webrtc.SessionDescription) error {
	switch l.state {
	case StateNew:
		if l.role != RoleAnswering {
			return newLinkError("handle offer", l.remoteID, fmt.Errorf("%w: offer to offering side", ErrUnexpectedSignal))
		}

		l.setState(StateAnswering)

		if err := l.answer(offer); err != nil {
			return err
		}

		l.setState(StateConnecting)

		return nil

	case StateConnected:
		l.setState(StateRenegotiating)

		if err := l.answer(offer); err != nil {
			return err
		}

		l.setState(StateConnected)

		return nil

	case StateClosed:
		return newLinkError("handle offer", l.remoteID, ErrLinkClosed)

	default:
		// Offering/AwaitingAnswer - встречный offer (glare)
		return newLinkError("handle offer", l.remoteID, fmt.Errorf("%w: offer in state %s", ErrUnexpectedSignal, l.state))
	}
}

func (l *Link) answer(offer webrtc.SessionDescription) error {
	if err := l.applyRemote(offer); err != nil {
		return err
	}

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		return newLinkError("create answer", l.remoteID, err)
	}

	if err = l.signaler.SendAnswer(l.remoteID, answer); err != nil {
		return newLinkError("send answer", l.remoteID, err)
	}

	l.markLocalSent()

	return nil
}

// HandleAnswer: AwaitingAnswer → Connecting
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	switch l.state {
	case StateAwaitingAnswer:
	case StateClosed:
		return newLinkError("handle answer", l.remoteID, ErrLinkClosed)
	default:
		return newLinkError("handle answer", l.remoteID, fmt.Errorf("%w: answer in state %s", ErrUnexpectedSignal, l.state))
	}

	if err := l.applyRemote(answer); err != nil {
		return err
	}

	l.setState(StateConnecting)

	return nil
}

// applyRemote ставит remote description и применяет накопленные кандидаты
// в порядке поступления. Неудачный кандидат не мешает остальным
func (l *Link) applyRemote(desc webrtc.SessionDescription) error {
	if err := l.transport.SetRemoteDescription(desc); err != nil {
		return newLinkError("set remote description", l.remoteID, err)
	}

	if l.remoteSet {
		return nil
	}
	l.remoteSet = true

	pending := l.pendingRemote
	l.pendingRemote = nil

	var errs []error
	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		slog.Warn(
			"apply pending ice candidates",
			slog.Any(constant.Error, errors.Join(errs...)),
			slog.String(constant.RemoteID, l.remoteID),
		)
	}

	return nil
}

// HandleCandidate применяет кандидат или откладывает его до remote description
func (l *Link) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	if l.state == StateClosed {
		return newLinkError("handle candidate", l.remoteID, ErrLinkClosed)
	}

	if !l.remoteSet {
		l.pendingRemote = append(l.pendingRemote, candidate)
		return nil
	}

	if err := l.transport.AddICECandidate(candidate); err != nil {
		return newLinkError("add ice candidate", l.remoteID, fmt.Errorf("%w: %v", ErrBadCandidate, err))
	}

	return nil
}

// LocalCandidate отправляет свой кандидат, но не раньше offer/answer
func (l *Link) LocalCandidate(candidate webrtc.ICECandidateInit) error {
	if l.state == StateClosed {
		return nil
	}

	if !l.localSent {
		l.pendingLocal = append(l.pendingLocal, candidate)
		return nil
	}

	if err := l.signaler.SendCandidate(l.remoteID, candidate); err != nil {
		return newLinkError("send candidate", l.remoteID, err)
	}

	return nil
}

func (l *Link) markLocalSent() {
	if l.localSent {
		return
	}
	l.localSent = true

	pending := l.pendingLocal
	l.pendingLocal = nil

	for _, c := range pending {
		if err := l.signaler.SendCandidate(l.remoteID, c); err != nil {
			slog.Warn(
				"send held ice candidate",
				slog.Any(constant.Error, err),
				slog.String(constant.RemoteID, l.remoteID),
			)
		}
	}
}

// HandleConnectionState возвращает true, если соединение закрылось
func (l *Link) HandleConnectionState(state webrtc.PeerConnectionState) bool {
	if l.state == StateClosed {
		return true
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if l.state == StateConnecting {
			l.setState(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		l.Close()
		return true
	}

	return false
}

// ReplaceVideo меняет исходящее видео без нового offer.
// У установленного соединения это Connected → Renegotiating → Connected
func (l *Link) ReplaceVideo(track webrtc.TrackLocal, source VideoSource) error {
	if l.state == StateClosed {
		return newLinkError("replace video", l.remoteID, ErrLinkClosed)
	}

	established := l.state == StateConnected
	if established {
		l.setState(StateRenegotiating)
	}

	err := l.transport.ReplaceVideoTrack(track)

	if established {
		l.setState(StateConnected)
	}

	if err != nil {
		return newLinkError("replace video", l.remoteID, err)
	}

	l.video = source

	return nil
}

// Close освобождает транспорт. Повторный вызов ничего не делает
func (l *Link) Close() {
	if l.state == StateClosed {
		return
	}

	l.setState(StateClosed)
	l.pendingRemote = nil
	l.pendingLocal = nil

	if err := l.transport.Close(); err != nil {
		slog.Warn(
			"close transport",
			slog.Any(constant.Error, err),
			slog.String(constant.RemoteID, l.remoteID),
		)
	}
}
