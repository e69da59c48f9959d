package peer

type State int

const (
	StateNew State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnecting
	StateConnected
	StateRenegotiating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role определяется тем, кто был в комнате раньше: старый участник
// предлагает, новичок отвечает
type Role int

const (
	RoleOffering Role = iota
	RoleAnswering
)

func (r Role) String() string {
	if r == RoleOffering {
		return "offering"
	}
	return "answering"
}

// VideoSource - что сейчас уходит в видео sender
type VideoSource string

const (
	VideoCamera VideoSource = "camera"
	VideoScreen VideoSource = "screen"
)
