package media

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

type Kind string

const (
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
	KindScreen Kind = "screen"
)

// Track - локальная дорожка. Выключенная дорожка остаётся привязанной
// к соединениям, но не отдаёт сэмплы
type Track struct {
	kind  Kind
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	written atomic.Uint64

	ended   chan struct{}
	endOnce sync.Once
}

func newTrack(kind Kind, mimeType, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		string(kind),
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &Track{
		kind:  kind,
		local: local,
		ended: make(chan struct{}),
	}
	t.enabled.Store(true)

	return t, nil
}

func (t *Track) Kind() Kind {
	return t.kind
}

// Local - то, что привязывается к RTPSender
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

func (t *Track) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Samples - сколько сэмплов записано, для отчётов и тестов
func (t *Track) Samples() uint64 {
	return t.written.Load()
}

// WriteSample пишет кадр во все привязанные соединения
func (t *Track) WriteSample(data []byte, duration time.Duration) error {
	if !t.Enabled() || t.isEnded() {
		return nil
	}

	if err := t.local.WriteSample(pionmedia.Sample{Data: data, Duration: duration}); err != nil {
		return fmt.Errorf("write %s sample: %w", t.kind, err)
	}

	t.written.Add(1)

	return nil
}

// Ended закрывается после Stop, в том числе когда захват завершён извне
func (t *Track) Ended() <-chan struct{} {
	return t.ended
}

func (t *Track) Stop() {
	t.endOnce.Do(func() {
		close(t.ended)
	})
}

func (t *Track) isEnded() bool {
	select {
	case <-t.ended:
		return true
	default:
		return false
	}
}
