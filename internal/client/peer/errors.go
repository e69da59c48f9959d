package peer

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrLinkClosed       = errors.New("link closed")
	ErrLinkExists       = errors.New("link already exists")
	ErrUnknownLink      = errors.New("no link for participant")
	ErrBadCandidate     = errors.New("bad ice candidate")
)

// LinkError - сбой операции на одном соединении
type LinkError struct {
	Op       string
	RemoteID string
	Err      error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s (remote %s): %v", e.Op, e.RemoteID, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func newLinkError(op, remoteID string, err error) *LinkError {
	return &LinkError{Op: op, RemoteID: remoteID, Err: err}
}

// IsFatal - после такой ошибки соединение не восстановить, его нужно закрыть.
// Сигнал не к месту, плохой кандидат и закрытое соединение к этому не относятся
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	return !errors.Is(err, ErrUnexpectedSignal) &&
		!errors.Is(err, ErrBadCandidate) &&
		!errors.Is(err, ErrLinkClosed) &&
		!errors.Is(err, ErrUnknownLink) &&
		!errors.Is(err, ErrLinkExists)
}
