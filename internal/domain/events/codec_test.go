package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJoinRoomFromWire(t *testing.T) {
	raw := `{"type":"join-room","data":{"roomId":"r1","user":{"id":"u1","name":"Alice"},"password":"pw1"}}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	ev, err := Decode(msg)
	require.NoError(t, err)

	join, ok := ev.(JoinRoom)
	require.True(t, ok)
	require.Equal(t, "r1", join.RoomID)
	require.Equal(t, "Alice", join.User.Name)
	require.Equal(t, "pw1", join.Password)
	require.Nil(t, join.MediaFlags)
}

func TestStringPayloadsOnWire(t *testing.T) {
	msg, err := Encode(JoinError{Reason: "invalid-password"})
	require.NoError(t, err)
	require.JSONEq(t, `"invalid-password"`, string(msg.Data))

	msg, err = Encode(SystemMessage{Text: "Bob joined"})
	require.NoError(t, err)
	require.JSONEq(t, `"Bob joined"`, string(msg.Data))

	ev, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, SystemMessage{Text: "Bob joined"}, ev)
}

func TestRoomParticipantsIsArray(t *testing.T) {
	msg, err := Encode(RoomParticipants{})
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(msg.Data))

	msg, err = Encode(RoomParticipants{Participants: []ParticipantInfo{{ID: "a", Name: "A", VideoEnabled: true}}})
	require.NoError(t, err)

	var wire []map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &wire))
	require.Len(t, wire, 1)
	require.Equal(t, "A", wire[0]["name"])

	ev, err := Decode(msg)
	require.NoError(t, err)
	require.Len(t, ev.(RoomParticipants).Participants, 1)
}

func TestOfferPayloadStaysOpaque(t *testing.T) {
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n","extra":[1,2,3]}`)

	msg, err := Encode(Offer{RoomID: "r1", ToUserID: "b", Offer: payload})
	require.NoError(t, err)

	ev, err := Decode(msg)
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(ev.(Offer).Offer))
	require.Empty(t, ev.(Offer).FromUserID)
}

func TestDecodeRejectsUnknownAndEmpty(t *testing.T) {
	_, err := Decode(Message{Type: "mute", Data: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode(Message{Type: TypeOffer})
	require.Error(t, err)

	_, err = Decode(Message{Type: TypeUserLeft, Data: json.RawMessage(`"nope"`)})
	require.Error(t, err)
}
