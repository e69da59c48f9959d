package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown event type")

// Encode упаковывает событие в конверт
func Encode(ev Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}

	return Message{Type: ev.EventType(), Data: data}, nil
}

// Decode распаковывает конверт в конкретное событие
func Decode(msg Message) (Event, error) {
	switch msg.Type {
	case TypeJoinRoom:
		return decodeAs[JoinRoom](msg)
	case TypeJoinSuccess:
		return decodeAs[JoinSuccess](msg)
	case TypeJoinError:
		return decodeAs[JoinError](msg)
	case TypeRoomParticipants:
		return decodeAs[RoomParticipants](msg)
	case TypeUserJoined:
		return decodeAs[UserJoined](msg)
	case TypeUserLeft:
		return decodeAs[UserLeft](msg)
	case TypeOffer:
		return decodeAs[Offer](msg)
	case TypeAnswer:
		return decodeAs[Answer](msg)
	case TypeICECandidate:
		return decodeAs[ICECandidate](msg)
	case TypeParticipantUpdate:
		return decodeAs[ParticipantUpdate](msg)
	case TypeChatMessage:
		return decodeAs[ChatMessage](msg)
	case TypeSystemMessage:
		return decodeAs[SystemMessage](msg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

func decodeAs[T Event](msg Message) (Event, error) {
	var ev T

	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("unmarshal %s: empty data", msg.Type)
	}

	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", msg.Type, err)
	}

	return ev, nil
}
