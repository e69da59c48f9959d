package peer

import (
	"github.com/pion/webrtc/v4"
)

// Transport - одно WebRTC соединение. Offer и answer сразу ставятся
// локальным описанием
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// ReplaceVideoTrack меняет источник видео без повторного offer
	ReplaceVideoTrack(track webrtc.TrackLocal) error

	Close() error
}

// Callbacks вызываются из горутин транспорта
type Callbacks struct {
	OnICECandidate    func(candidate webrtc.ICECandidateInit)
	OnConnectionState func(state webrtc.PeerConnectionState)
}

// Tracks - локальные дорожки, которые получает каждое новое соединение
type Tracks struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

type NewTransportFunc func(remoteID string, tracks Tracks, cb Callbacks) (Transport, error)

// Signaler отправляет описания и кандидаты удалённой стороне через relay
type Signaler interface {
	SendOffer(remoteID string, desc webrtc.SessionDescription) error
	SendAnswer(remoteID string, desc webrtc.SessionDescription) error
	SendCandidate(remoteID string, candidate webrtc.ICECandidateInit) error
}
