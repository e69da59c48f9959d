package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/meshroom/internal/client/media"
	"github.com/qrave1/meshroom/internal/client/peer"
	"github.com/qrave1/meshroom/internal/client/peer/peertest"
	"github.com/qrave1/meshroom/internal/domain/events"
	"github.com/qrave1/meshroom/internal/infra/ports/http/server/servertest"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type recordingSource struct {
	*media.Synthetic

	mu      sync.Mutex
	screens []*media.Track
}

func (s *recordingSource) CaptureScreen(ctx context.Context) (*media.Track, error) {
	screen, err := s.Synthetic.CaptureScreen(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.screens = append(s.screens, screen)
	s.mu.Unlock()

	return screen, nil
}

func (s *recordingSource) lastScreen() *media.Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.screens[len(s.screens)-1]
}

type failingSource struct{}

func (failingSource) Acquire(context.Context) (*media.Stream, error) {
	return nil, media.ErrUnavailable
}

func (failingSource) CaptureScreen(context.Context) (*media.Track, error) {
	return nil, media.ErrUnavailable
}

type hookLog struct {
	mu      sync.Mutex
	entries []string
}

func (h *hookLog) add(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, fmt.Sprintf(format, args...))
}

func (h *hookLog) has(entry string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Contains(h.entries, entry)
}

type participant struct {
	*Controller

	factory *peertest.Factory
	source  *recordingSource
	hooks   *hookLog
}

func newParticipant(t *testing.T, signalingURL string) *participant {
	t.Helper()

	p := &participant{
		factory: &peertest.Factory{AutoConnect: true},
		source:  &recordingSource{Synthetic: media.NewSynthetic("test")},
		hooks:   &hookLog{},
	}

	// Каждый транспорт находит по одному своему кандидату
	p.factory.Configure = func(tr *peertest.Transport) {
		tr.LocalCandidates = []webrtc.ICECandidateInit{{Candidate: "candidate:" + tr.RemoteID}}
	}

	p.Controller = New(Config{
		SignalingURL: signalingURL,
		Source:       p.source,
		NewTransport: p.factory.New,
		Hooks: Hooks{
			OnParticipantJoined: func(info events.ParticipantInfo) { p.hooks.add("joined:%s", info.Name) },
			OnParticipantLeft:   func(info events.ParticipantInfo) { p.hooks.add("left:%s", info.Name) },
			OnParticipantUpdated: func(info events.ParticipantInfo, _ json.RawMessage) {
				p.hooks.add("updated:%s", info.Name)
			},
			OnChat:             func(msg events.ChatMessage) { p.hooks.add("chat:%s:%s", msg.UserName, msg.Message) },
			OnSystemMessage:    func(text string) { p.hooks.add("system:%s", text) },
			OnLinkFailed:       func(remoteID string, _ error) { p.hooks.add("failed:%s", remoteID) },
			OnScreenShareEnded: func(map[string]error) { p.hooks.add("screen-ended") },
			OnDisconnected:     func(error) { p.hooks.add("disconnected") },
		},
	})

	t.Cleanup(func() { _ = p.Leave() })

	return p
}

func (p *participant) join(t *testing.T, roomID, name, password string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	require.NoError(t, p.Join(ctx, roomID, name, password))

	id := p.ParticipantID()
	require.NotEmpty(t, id)

	return id
}

// connectedTo проверяет, что соединения ровно с этими участниками и все установлены
func (p *participant) connectedTo(ids ...string) bool {
	states := p.LinkStates()
	if len(states) != len(ids) {
		return false
	}

	for _, id := range ids {
		if states[id] != peer.StateConnected {
			return false
		}
	}

	return true
}

func rosterIDs(roster []events.ParticipantInfo) []string {
	ids := make([]string, 0, len(roster))
	for _, p := range roster {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestTwoParticipantsConnectAndLeave(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	aliceID := alice.join(t, "r1", "Alice", "")
	require.Empty(t, alice.LinkStates())

	bob := newParticipant(t, srv.WSURL())
	bobID := bob.join(t, "r1", "Bob", "")

	// Новичок создал отвечающее соединение по ростеру ещё до возврата из Join
	require.Contains(t, bob.LinkStates(), aliceID)
	require.Equal(t, []string{aliceID}, rosterIDs(bob.Roster()))

	require.Eventually(t, func() bool {
		return alice.connectedTo(bobID) && bob.connectedTo(aliceID)
	}, waitFor, tick)

	// Предлагает тот, кто был в комнате раньше
	require.Equal(t, "create-offer", alice.factory.Transport(bobID).Ops()[0])
	require.Equal(t, "set-remote-offer", bob.factory.Transport(aliceID).Ops()[0])

	// Кандидаты прошли через relay в обе стороны
	require.Eventually(t, func() bool {
		return len(alice.factory.Transport(bobID).Candidates()) == 1 &&
			len(bob.factory.Transport(aliceID).Candidates()) == 1
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return alice.hooks.has("joined:Bob") && alice.hooks.has("system:Bob joined the room")
	}, waitFor, tick)

	require.NoError(t, alice.Leave())
	require.NoError(t, alice.Leave())
	require.True(t, alice.factory.Transport(bobID).Closed())

	require.Eventually(t, func() bool {
		return len(bob.LinkStates()) == 0 && len(bob.Roster()) == 0
	}, waitFor, tick)

	require.True(t, bob.factory.Transport(aliceID).Closed())
	require.True(t, bob.hooks.has("left:Alice"))
	require.Eventually(t, func() bool { return len(srv.Registry.Roster("r1")) == 1 }, waitFor, tick)
}

func TestWrongPasswordCreatesNoLinks(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	alice.join(t, "r1", "Alice", "pw1")

	carol := newParticipant(t, srv.WSURL())
	err := carol.Join(context.Background(), "r1", "Carol", "wrong")

	var joinErr *JoinError
	require.ErrorAs(t, err, &joinErr)
	require.Equal(t, "invalid-password", joinErr.Reason)

	select {
	case <-carol.Done():
	case <-time.After(waitFor):
		t.Fatal("controller is still running after rejection")
	}

	require.Zero(t, carol.factory.Total())
	require.Empty(t, carol.LinkStates())

	require.Len(t, srv.Registry.Roster("r1"), 1)
	require.Empty(t, alice.Roster())
	require.Zero(t, alice.factory.Total())

	require.ErrorIs(t, carol.Join(context.Background(), "r1", "Carol", "pw1"), ErrAlreadyJoined)
}

func TestMeshHasOneLinkPerRemote(t *testing.T) {
	srv := servertest.Start(t)

	names := []string{"Alice", "Bob", "Carol", "Dave"}
	parts := make([]*participant, 0, len(names))
	ids := make([]string, 0, len(names))

	for _, name := range names {
		p := newParticipant(t, srv.WSURL())
		ids = append(ids, p.join(t, "mesh", name, ""))
		parts = append(parts, p)
	}

	others := func(i int) []string {
		return slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == ids[i] })
	}

	require.Eventually(t, func() bool {
		for i, p := range parts {
			if !p.connectedTo(others(i)...) {
				return false
			}
		}
		return true
	}, waitFor, tick)

	for i, p := range parts {
		require.ElementsMatch(t, others(i), rosterIDs(p.Roster()))

		// Ровно один транспорт к каждому участнику за всё время
		for _, id := range others(i) {
			require.Equal(t, 1, p.factory.Count(id))
		}
	}

	// Уход одного не трогает остальные соединения
	require.NoError(t, parts[1].Leave())

	require.Eventually(t, func() bool {
		return parts[0].connectedTo(ids[2], ids[3]) &&
			parts[2].connectedTo(ids[0], ids[3]) &&
			parts[3].connectedTo(ids[0], ids[2])
	}, waitFor, tick)
}

func TestToggleMediaBroadcastsUpdates(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	aliceID := alice.join(t, "r1", "Alice", "")

	bob := newParticipant(t, srv.WSURL())
	bob.join(t, "r1", "Bob", "")

	enabled, err := alice.ToggleVideo(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)
	require.False(t, alice.stream.Video.Enabled())

	enabled, err = alice.ToggleAudio(context.Background())
	require.NoError(t, err)
	require.False(t, enabled)

	require.Eventually(t, func() bool {
		roster := bob.Roster()
		return len(roster) == 1 && !roster[0].VideoEnabled && !roster[0].AudioEnabled
	}, waitFor, tick)
	require.True(t, bob.hooks.has("updated:Alice"))

	// Без пересогласования: у Боба по-прежнему одно соединение и один offer
	require.Equal(t, 1, bob.factory.Count(aliceID))

	// Поздний участник получает актуальные флаги из ростера сервера
	carol := newParticipant(t, srv.WSURL())
	carol.join(t, "r1", "Carol", "")

	for _, p := range carol.Roster() {
		if p.ID == aliceID {
			require.False(t, p.VideoEnabled)
			require.False(t, p.AudioEnabled)
		}
	}

	enabled, err = alice.ToggleVideo(context.Background())
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestScreenShareIsAppliedPerLinkAndRevertsOnEnd(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	alice.join(t, "r1", "Alice", "")

	bob := newParticipant(t, srv.WSURL())
	bobID := bob.join(t, "r1", "Bob", "")

	carol := newParticipant(t, srv.WSURL())
	carolID := carol.join(t, "r1", "Carol", "")

	require.Eventually(t, func() bool { return alice.connectedTo(bobID, carolID) }, waitFor, tick)

	alice.factory.Transport(carolID).SetFailReplace(errors.New("sender gone"))

	failed, err := alice.StartScreenShare(context.Background())
	require.NoError(t, err)
	screen := alice.source.lastScreen()
	require.Equal(t, []string{carolID}, slices.Collect(maps.Keys(failed)))

	require.Equal(t, "screen", alice.factory.Transport(bobID).Video().ID())
	require.Equal(t, "video", alice.factory.Transport(carolID).Video().ID())
	require.True(t, alice.connectedTo(bobID, carolID), "a failed replacement keeps the link")

	_, err = alice.StartScreenShare(context.Background())
	require.ErrorIs(t, err, ErrAlreadySharing)

	// Захват закончился извне: все соединения возвращаются на камеру
	alice.factory.Transport(carolID).SetFailReplace(nil)
	screen.Stop()

	require.Eventually(t, func() bool {
		return alice.hooks.has("screen-ended") &&
			alice.factory.Transport(bobID).Video().ID() == "video"
	}, waitFor, tick)

	failed, err = alice.StopScreenShare(context.Background())
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestStopScreenShareRevertsToCamera(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	alice.join(t, "r1", "Alice", "")

	bob := newParticipant(t, srv.WSURL())
	bobID := bob.join(t, "r1", "Bob", "")

	require.Eventually(t, func() bool { return alice.connectedTo(bobID) }, waitFor, tick)

	_, err := alice.StartScreenShare(context.Background())
	require.NoError(t, err)
	screen := alice.source.lastScreen()

	failed, err := alice.StopScreenShare(context.Background())
	require.NoError(t, err)
	require.Empty(t, failed)

	require.Equal(t, "video", alice.factory.Transport(bobID).Video().ID())

	select {
	case <-screen.Ended():
	default:
		t.Fatal("screen track was not stopped")
	}

	require.False(t, alice.hooks.has("screen-ended"))
}

func TestChatAndSystemMessages(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	alice.join(t, "r1", "Alice", "")

	bob := newParticipant(t, srv.WSURL())
	bob.join(t, "r1", "Bob", "")

	require.NoError(t, alice.SendChat(context.Background(), "hello"))
	require.ErrorIs(t, alice.SendChat(context.Background(), ""), ErrEmptyMessage)

	require.Eventually(t, func() bool { return bob.hooks.has("chat:Alice:hello") }, waitFor, tick)
	require.False(t, alice.hooks.has("chat:Alice:hello"), "no echo to the sender")
}

func TestLinkFailureDropsOnlyThatParticipant(t *testing.T) {
	srv := servertest.Start(t)

	alice := newParticipant(t, srv.WSURL())
	alice.join(t, "r1", "Alice", "")

	bob := newParticipant(t, srv.WSURL())
	bobID := bob.join(t, "r1", "Bob", "")

	carol := newParticipant(t, srv.WSURL())
	carolID := carol.join(t, "r1", "Carol", "")

	require.Eventually(t, func() bool { return alice.connectedTo(bobID, carolID) }, waitFor, tick)

	alice.factory.Transport(bobID).SetState(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool {
		return alice.hooks.has("failed:"+bobID) && alice.connectedTo(carolID)
	}, waitFor, tick)

	require.Equal(t, []string{carolID}, rosterIDs(alice.Roster()))
	require.True(t, alice.factory.Transport(bobID).Closed())

	// Канал к серверу жив
	require.NoError(t, alice.SendChat(context.Background(), "still here"))
	require.Eventually(t, func() bool { return carol.hooks.has("chat:Alice:still here") }, waitFor, tick)
}

func TestMediaFailureIsFatalBeforeRelay(t *testing.T) {
	srv := servertest.Start(t)

	ctl := New(Config{
		SignalingURL: srv.WSURL(),
		Source:       failingSource{},
		NewTransport: (&peertest.Factory{}).New,
	})

	err := ctl.Join(context.Background(), "r1", "Alice", "")
	require.ErrorIs(t, err, media.ErrUnavailable)
	require.Zero(t, srv.Registry.RoomCount())

	require.NoError(t, ctl.Leave())

	_, err = ctl.ToggleVideo(context.Background())
	require.ErrorIs(t, err, ErrNotJoined)
}

// droppingServer принимает вход, отдаёт ростер из одного участника и рвёт соединение по сигналу
func droppingServer(t *testing.T, drop <-chan struct{}) string {
	t.Helper()

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg events.Message
		if err = conn.ReadJSON(&msg); err != nil {
			return
		}

		for _, ev := range []events.Event{
			events.JoinSuccess{RoomID: "r1", ParticipantID: "self"},
			events.RoomParticipants{Participants: []events.ParticipantInfo{{ID: "peer-x", Name: "X"}}},
		} {
			out, err := events.Encode(ev)
			if err != nil {
				return
			}
			if err = conn.WriteJSON(out); err != nil {
				return
			}
		}

		<-drop
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRelayLossActsAsLeave(t *testing.T) {
	drop := make(chan struct{})
	p := newParticipant(t, droppingServer(t, drop))

	p.join(t, "r1", "Alice", "")
	require.Equal(t, map[string]peer.State{"peer-x": peer.StateNew}, p.LinkStates())

	close(drop)

	select {
	case <-p.Done():
	case <-time.After(waitFor):
		t.Fatal("controller did not stop after relay loss")
	}

	require.True(t, p.hooks.has("disconnected"))
	require.True(t, p.factory.Transport("peer-x").Closed())
	require.Empty(t, p.Roster())

	_, err := p.ToggleAudio(context.Background())
	require.ErrorIs(t, err, ErrNotJoined)
}
