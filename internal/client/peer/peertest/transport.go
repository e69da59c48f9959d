// Package peertest - транспорт в памяти для тестов соединений и контроллера комнаты
package peertest

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/qrave1/meshroom/internal/client/peer"
)

type Transport struct {
	RemoteID string

	// Ошибки для сценариев сбоя, задаются через Factory.Configure
	FailCreate    error
	FailSetRemote error
	FailReplace   error

	// LocalCandidates отдаются сразу после установки local description
	LocalCandidates []webrtc.ICECandidateInit

	cb          peer.Callbacks
	autoConnect bool

	mu         sync.Mutex
	ops        []string
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	video      webrtc.TrackLocal
	connected  bool
	closed     bool
	sdpSeq     int
}

func (t *Transport) record(op string) {
	t.ops = append(t.ops, op)
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.describe(webrtc.SDPTypeOffer)
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.describe(webrtc.SDPTypeAnswer)
}

func (t *Transport) describe(typ webrtc.SDPType) (webrtc.SessionDescription, error) {
	t.mu.Lock()

	t.record("create-" + typ.String())

	if t.FailCreate != nil {
		t.mu.Unlock()
		return webrtc.SessionDescription{}, t.FailCreate
	}

	t.sdpSeq++
	desc := webrtc.SessionDescription{
		Type: typ,
		SDP:  fmt.Sprintf("%s-%s-%d", typ, t.RemoteID, t.sdpSeq),
	}
	t.local = &desc

	candidates := t.LocalCandidates
	t.LocalCandidates = nil

	t.mu.Unlock()

	for _, c := range candidates {
		t.cb.OnICECandidate(c)
	}

	t.maybeConnect()

	return desc, nil
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()

	t.record("set-remote-" + desc.Type.String())

	if t.FailSetRemote != nil {
		t.mu.Unlock()
		return t.FailSetRemote
	}

	t.remote = &desc
	t.mu.Unlock()

	t.maybeConnect()

	return nil
}

func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record("add-candidate " + candidate.Candidate)

	if t.remote == nil {
		return fmt.Errorf("candidate %q before remote description", candidate.Candidate)
	}

	t.candidates = append(t.candidates, candidate)

	return nil
}

func (t *Transport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record("replace-video")

	if t.FailReplace != nil {
		return t.FailReplace
	}

	t.video = track

	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record("close")
	t.closed = true

	return nil
}

// maybeConnect имитирует успешный ICE, когда обе стороны описаны
func (t *Transport) maybeConnect() {
	t.mu.Lock()
	fire := t.autoConnect && !t.connected && !t.closed && t.local != nil && t.remote != nil
	if fire {
		t.connected = true
	}
	t.mu.Unlock()

	if fire {
		t.cb.OnConnectionState(webrtc.PeerConnectionStateConnected)
	}
}

// SetFailReplace задаёт ошибку ReplaceVideoTrack уже после создания
func (t *Transport) SetFailReplace(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.FailReplace = err
}

// SetState сообщает владельцу о смене состояния транспорта
func (t *Transport) SetState(state webrtc.PeerConnectionState) {
	t.cb.OnConnectionState(state)
}

// EmitCandidate - транспорт нашёл свой кандидат
func (t *Transport) EmitCandidate(candidate webrtc.ICECandidateInit) {
	t.cb.OnICECandidate(candidate)
}

func (t *Transport) Ops() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.ops...)
}

func (t *Transport) Candidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]webrtc.ICECandidateInit(nil), t.candidates...)
}

func (t *Transport) Remote() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remote
}

func (t *Transport) Local() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.local
}

func (t *Transport) Video() webrtc.TrackLocal {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.video
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// Factory создаёт Transport и запоминает их по remote id
type Factory struct {
	// AutoConnect - сообщать Connected, как только заданы оба описания
	AutoConnect bool

	// Configure вызывается для каждого нового транспорта до возврата
	Configure func(t *Transport)

	mu      sync.Mutex
	created map[string][]*Transport
}

func (f *Factory) New(remoteID string, tracks peer.Tracks, cb peer.Callbacks) (peer.Transport, error) {
	t := &Transport{
		RemoteID:    remoteID,
		cb:          cb,
		autoConnect: f.AutoConnect,
		video:       tracks.Video,
	}

	if f.Configure != nil {
		f.Configure(t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.created == nil {
		f.created = make(map[string][]*Transport)
	}
	f.created[remoteID] = append(f.created[remoteID], t)

	return t, nil
}

// Transport - последний созданный транспорт к remoteID
func (f *Factory) Transport(remoteID string) *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := f.created[remoteID]
	if len(list) == 0 {
		return nil
	}

	return list[len(list)-1]
}

// Count - сколько транспортов было создано к remoteID за всё время
func (f *Factory) Count(remoteID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created[remoteID])
}

// Total - сколько транспортов создано всего
func (f *Factory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, list := range f.created {
		total += len(list)
	}

	return total
}
