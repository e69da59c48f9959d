package peer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/application/constant"
)

type pionTransport struct {
	remoteID string

	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender
}

// NewPionTransportFunc создаёт транспорты на pion. Удалённые дорожки уходят в sink
func NewPionTransportFunc(iceServers []webrtc.ICEServer, sink *RTPSink) NewTransportFunc {
	return func(remoteID string, tracks Tracks, cb Callbacks) (Transport, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: iceServers,
		})
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		t := &pionTransport{remoteID: remoteID, pc: pc}

		if tracks.Audio != nil {
			sender, err := pc.AddTrack(tracks.Audio)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("add audio track: %w", err), pc.Close())
			}
			go drainRTCP(sender)
		}

		if tracks.Video != nil {
			t.videoSender, err = pc.AddTrack(tracks.Video)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("add video track: %w", err), pc.Close())
			}
			go drainRTCP(t.videoSender)
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			// nil - сбор кандидатов закончен
			if c == nil || cb.OnICECandidate == nil {
				return
			}
			cb.OnICECandidate(c.ToJSON())
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			if cb.OnConnectionState != nil {
				cb.OnConnectionState(state)
			}
		})

		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			slog.Info(
				"remote track",
				slog.String(constant.RemoteID, remoteID),
				slog.String("kind", remote.Kind().String()),
				slog.String("codec", remote.Codec().MimeType),
			)

			if sink != nil {
				sink.Consume(remoteID, remote)
			}
		})

		return t, nil
	}
}

// drainRTCP - без чтения RTCP не работают interceptor'ы (NACK, отчёты)
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *pionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	if err = t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	return offer, nil
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	if err = t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	return answer, nil
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *pionTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if t.videoSender == nil {
		return errors.New("no video sender")
	}

	return t.videoSender.ReplaceTrack(track)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
