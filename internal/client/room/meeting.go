package room

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const meetingPathPrefix = "meeting-room"

var ErrInvalidMeetingURL = errors.New("invalid meeting url")

// ParseMeetingURL разбирает ссылку вида /meeting-room/{roomId}?password=...
// Принимает как полный URL, так и только путь
func ParseMeetingURL(raw string) (roomID, password string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidMeetingURL, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	for i, part := range parts {
		if part == meetingPathPrefix && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], u.Query().Get("password"), nil
		}
	}

	return "", "", fmt.Errorf("%w: no /%s/{roomId} in %q", ErrInvalidMeetingURL, meetingPathPrefix, raw)
}
