package constant

// Ключи атрибутов slog
const (
	Error         = "error"
	ParticipantID = "participant_id"
	RemoteID      = "remote_id"
	RoomID        = "room_id"
	UserName      = "user_name"
	EventType     = "event_type"
	State         = "state"
	Reason        = "reason"
	Addr          = "addr"
)
