package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/meshroom/internal/domain/events"
	"github.com/qrave1/meshroom/internal/domain/models"
	"github.com/qrave1/meshroom/internal/infra/ports/http/server/servertest"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, srv *servertest.Server) *wsClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(srv.WSURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(ev events.Event) {
	c.t.Helper()

	msg, err := events.Encode(ev)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *wsClient) read() events.Event {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg events.Message
	require.NoError(c.t, c.conn.ReadJSON(&msg))

	ev, err := events.Decode(msg)
	require.NoError(c.t, err)

	return ev
}

func (c *wsClient) join(roomID, name, password string) events.JoinSuccess {
	c.t.Helper()

	c.send(events.JoinRoom{RoomID: roomID, User: events.User{Name: name}, Password: password})

	success, ok := c.read().(events.JoinSuccess)
	require.True(c.t, ok)
	require.Equal(c.t, roomID, success.RoomID)
	require.NotEmpty(c.t, success.ParticipantID)

	return success
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestTwoParticipantsJoinSignalAndLeave(t *testing.T) {
	srv := servertest.Start(t)

	alice := dial(t, srv)
	bob := dial(t, srv)

	a := alice.join("r1", "Alice", "")
	require.Empty(t, alice.read().(events.RoomParticipants).Participants)

	b := bob.join("r1", "Bob", "")
	roster := bob.read().(events.RoomParticipants).Participants
	require.Len(t, roster, 1)
	require.Equal(t, a.ParticipantID, roster[0].ID)
	require.Equal(t, "Alice", roster[0].Name)

	joined := alice.read().(events.UserJoined)
	require.Equal(t, b.ParticipantID, joined.UserID)
	require.Equal(t, "Bob", joined.User.Name)
	require.Equal(t, events.SystemMessage{Text: "Bob joined the room"}, alice.read())

	// Существующий участник предлагает соединение новичку
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	alice.send(events.Offer{RoomID: "r1", ToUserID: b.ParticipantID, Offer: offer})

	gotOffer := bob.read().(events.Offer)
	require.Equal(t, a.ParticipantID, gotOffer.FromUserID)
	require.JSONEq(t, string(offer), string(gotOffer.Offer))

	bob.send(events.Answer{RoomID: "r1", ToUserID: a.ParticipantID, Answer: json.RawMessage(`{"type":"answer","sdp":"v=0"}`)})
	require.Equal(t, b.ParticipantID, alice.read().(events.Answer).FromUserID)

	bob.send(events.ChatMessage{RoomID: "r1", Message: "hi"})
	chat := alice.read().(events.ChatMessage)
	require.Equal(t, "Bob", chat.UserName)
	require.Equal(t, "hi", chat.Message)

	require.NoError(t, alice.conn.Close())

	require.Equal(t, events.UserLeft{UserID: a.ParticipantID, UserName: "Alice"}, bob.read())
	require.Equal(t, events.SystemMessage{Text: "Alice left the room"}, bob.read())

	var rooms []models.RoomSummary
	getJSON(t, srv.URL+"/api/rooms", &rooms)
	require.Len(t, rooms, 1)
	require.Equal(t, 1, rooms[0].Participants)

	// История пишется после рассылки, вне блокировки комнаты
	require.Eventually(t, func() bool {
		recorded, err := srv.History.ListByRoom(context.Background(), "r1", 10)
		return err == nil && len(recorded) == 3
	}, 2*time.Second, 10*time.Millisecond)

	var history []models.CallEvent
	getJSON(t, srv.URL+"/api/rooms/r1/history", &history)
	require.Len(t, history, 3)
	require.Equal(t, models.CallEventLeft, history[0].Kind)
	require.Equal(t, a.ParticipantID, history[0].ParticipantID)
}

func TestWrongPasswordIsRejectedWithoutSideEffects(t *testing.T) {
	srv := servertest.Start(t)

	alice := dial(t, srv)
	carol := dial(t, srv)

	alice.join("r1", "Alice", "pw1")
	alice.read()

	carol.send(events.JoinRoom{RoomID: "r1", User: events.User{Name: "Carol"}, Password: "wrong"})
	require.Equal(t, events.JoinError{Reason: "invalid-password"}, carol.read())

	require.Len(t, srv.Registry.Roster("r1"), 1)

	// После отказа можно повторить попытку с верным паролем. Первое, что
	// увидит Alice, это вход Carol: про неудачную попытку ей не сообщали
	c := carol.join("r1", "Carol", "pw1")
	require.Len(t, carol.read().(events.RoomParticipants).Participants, 1)
	require.Equal(t, c.ParticipantID, alice.read().(events.UserJoined).UserID)
}

func TestServerToClientEventsAreIgnored(t *testing.T) {
	srv := servertest.Start(t)

	alice := dial(t, srv)
	alice.join("r1", "Alice", "")
	alice.read()

	alice.send(events.UserLeft{UserID: "x", UserName: "x"})
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","data":{}}`)))
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	// Соединение живо и обслуживается дальше
	bob := dial(t, srv)
	bob.join("r1", "Bob", "")
	require.Equal(t, events.TypeUserJoined, alice.read().EventType())
}

func TestHistoryLimitValidation(t *testing.T) {
	srv := servertest.Start(t)

	resp, err := http.Get(srv.URL + "/api/rooms/r1/history?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var health map[string]string
	getJSON(t, srv.URL+"/health", &health)
	require.Equal(t, "ok", health["status"])
}
